package telemetry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Sentinel errors for the two non-fatal intake failure modes. Events
// failing with either are logged and skipped, never retried.
var (
	// ErrMissingPayload indicates the inbound event carried no payload at all.
	ErrMissingPayload = errors.New("inbound event has no payload")
	// ErrMalformedPayload indicates the payload could not be decoded into a record.
	ErrMalformedPayload = errors.New("payload could not be decoded")
)

// InboundEvent is one unit of work delivered by the messaging transport.
// Data holds the base64-encoded payload, the same envelope format push
// delivery uses. Ack and Nack are supplied by the consumer that produced
// the event; either may be nil in tests.
type InboundEvent struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Data is the base64-encoded payload. Empty when the event has no payload.
	Data []byte
	// Attributes carries broker-level message attributes.
	Attributes map[string]string
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Ack acknowledges the message with the broker.
	Ack func()
	// Nack signals the broker to redeliver the message.
	Nack func()
}

// Payload returns the base64-decoded payload bytes. It fails with
// ErrMissingPayload when the event carries no data and ErrMalformedPayload
// when the envelope is not valid base64.
func (ev InboundEvent) Payload() ([]byte, error) {
	if len(ev.Data) == 0 {
		return nil, ErrMissingPayload
	}
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(ev.Data)))
	n, err := base64.StdEncoding.Decode(decoded, ev.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedPayload, err)
	}
	return decoded[:n], nil
}

// WrapMessage builds an InboundEvent around a raw message payload,
// base64-encoding it the way push delivery would.
func WrapMessage(id string, payload []byte) InboundEvent {
	return InboundEvent{
		ID:   id,
		Data: []byte(base64.StdEncoding.EncodeToString(payload)),
	}
}

// Record is one decoded sensor reading: field names mapped to their JSON
// values. Fields beyond the configured ranges are permitted and pass
// through untouched. A Record is never mutated after decoding.
type Record map[string]any

// EncodeRecord serializes a record to the JSON wire format published by
// producers. It round-trips with DecodeRecord.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

// DecodeRecord turns an inbound event into a Record. The payload is
// base64-decoded, checked for valid UTF-8, and parsed as JSON. The decoded
// text is returned even when JSON parsing fails so callers can log the
// raw message for diagnosis.
func DecodeRecord(ev InboundEvent) (Record, string, error) {
	decoded, err := ev.Payload()
	if err != nil {
		return nil, "", err
	}

	if !utf8.Valid(decoded) {
		return nil, "", fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedPayload)
	}
	raw := string(decoded)

	var rec Record
	if err := json.Unmarshal(decoded, &rec); err != nil {
		return nil, raw, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// "null" unmarshals without error but is not a field mapping.
	if rec == nil {
		return nil, raw, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedPayload)
	}
	return rec, raw, nil
}
