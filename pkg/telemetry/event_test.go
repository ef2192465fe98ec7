package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

func TestDecodeRecord_RoundTrip(t *testing.T) {
	rec := telemetry.Record{
		"temperature":   23.0,
		"humidity":      55.0,
		"soil_moisture": 48.0,
		"site":          "greenhouse-7", // extra fields must survive decoding
	}

	data, err := telemetry.EncodeRecord(rec)
	require.NoError(t, err)

	ev := telemetry.WrapMessage("msg-1", data)
	got, raw, err := telemetry.DecodeRecord(ev)
	require.NoError(t, err)

	assert.Equal(t, rec, got)
	assert.JSONEq(t, string(data), raw, "raw text should be the decoded payload")
}

func TestDecodeRecord_MissingPayload(t *testing.T) {
	ev := telemetry.InboundEvent{ID: "msg-2"}

	_, _, err := telemetry.DecodeRecord(ev)
	assert.ErrorIs(t, err, telemetry.ErrMissingPayload)
}

func TestDecodeRecord_InvalidBase64(t *testing.T) {
	ev := telemetry.InboundEvent{ID: "msg-3", Data: []byte("%%% not base64 %%%")}

	_, _, err := telemetry.DecodeRecord(ev)
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
}

func TestDecodeRecord_MalformedJSON(t *testing.T) {
	ev := telemetry.WrapMessage("msg-4", []byte("this is not json"))

	_, raw, err := telemetry.DecodeRecord(ev)
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
	assert.Equal(t, "this is not json", raw, "raw text should be available even when parsing fails")
}

func TestDecodeRecord_NonUTF8Payload(t *testing.T) {
	ev := telemetry.WrapMessage("msg-5", []byte{0xff, 0xfe, 0xfd})

	_, _, err := telemetry.DecodeRecord(ev)
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
}

func TestDecodeRecord_JSONNullPayload(t *testing.T) {
	ev := telemetry.WrapMessage("msg-6", []byte("null"))

	_, _, err := telemetry.DecodeRecord(ev)
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
}

func TestPayload_StripsEnvelope(t *testing.T) {
	ev := telemetry.WrapMessage("msg-8", []byte("{broken json"))

	payload, err := ev.Payload()
	require.NoError(t, err, "payload extraction must not depend on JSON validity")
	assert.Equal(t, []byte("{broken json"), payload)
}

func TestPayload_InvalidEnvelope(t *testing.T) {
	ev := telemetry.InboundEvent{ID: "msg-9", Data: []byte("%%% not base64 %%%")}

	_, err := ev.Payload()
	assert.ErrorIs(t, err, telemetry.ErrMalformedPayload)
}

func TestDecodeRecord_NonNumericValuesPassThrough(t *testing.T) {
	ev := telemetry.WrapMessage("msg-7", []byte(`{"temperature": 21.5, "status": "ok"}`))

	rec, _, err := telemetry.DecodeRecord(ev)
	require.NoError(t, err)
	assert.Equal(t, 21.5, rec["temperature"])
	assert.Equal(t, "ok", rec["status"])
}
