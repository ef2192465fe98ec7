package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/verdantiq/sensor-pipeline/pkg/sink"
	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// Status classifies the terminal state of one pipeline invocation.
type Status int

const (
	// StatusProcessed means the record was decoded and handed to the sink,
	// regardless of anomaly or write outcome.
	StatusProcessed Status = iota
	// StatusSkipped means the event had no decodable payload and was skipped.
	StatusSkipped
	// StatusDropped means an unexpected failure occurred and the event was
	// dropped after logging.
	StatusDropped
)

// Result is the typed outcome of processing one inbound event. Every
// failure mode is represented here; nothing escapes Process as an error
// or panic.
type Result struct {
	Status Status
	// SkipReason is set when Status is StatusSkipped; it matches either
	// telemetry.ErrMissingPayload or telemetry.ErrMalformedPayload.
	SkipReason error
	Record     telemetry.Record
	Anomalies  telemetry.Anomalies
	Write      sink.WriteOutcome
	// Err is set when Status is StatusDropped.
	Err error
}

// AlertFunc is an optional hook invoked when a record has anomalies.
// Delivery (email, webhook) is outside this pipeline's scope.
type AlertFunc func(ctx context.Context, ev telemetry.InboundEvent, anomalies telemetry.Anomalies)

// Archiver stores the raw payload of skipped events for later inspection.
type Archiver interface {
	ArchiveSkipped(ctx context.Context, ev telemetry.InboundEvent, reason string) error
}

// Pipeline runs the decode, validate and persist stages for each inbound
// event. It holds no per-event state, so one instance is safe under
// concurrent overlapping invocations from the hosting runtime.
type Pipeline struct {
	ranges   telemetry.RangeTable
	writer   sink.Writer
	alert    AlertFunc // optional, may be nil
	archiver Archiver  // optional, may be nil
	logger   zerolog.Logger
}

// New creates a Pipeline. alert and archiver may be nil.
func New(ranges telemetry.RangeTable, writer sink.Writer, alert AlertFunc, archiver Archiver, logger zerolog.Logger) (*Pipeline, error) {
	if writer == nil {
		return nil, errors.New("sink writer cannot be nil")
	}
	if err := ranges.Validate(); err != nil {
		return nil, fmt.Errorf("invalid range table: %w", err)
	}
	return &Pipeline{
		ranges:   ranges,
		writer:   writer,
		alert:    alert,
		archiver: archiver,
		logger:   logger.With().Str("component", "Pipeline").Logger(),
	}, nil
}

// Process runs the stages for one event, strictly ordered and
// non-retrying. It never returns an error and never panics past its
// boundary: decode failures skip the event, sink row errors are logged
// with the event still counted as processed, and anything unexpected is
// caught, logged and dropped.
func (p *Pipeline) Process(ctx context.Context, ev telemetry.InboundEvent) (res Result) {
	logger := p.logger.With().Str("msg_id", ev.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusDropped, Err: fmt.Errorf("panic while processing event: %v", r)}
			logger.Error().Err(res.Err).Msg("Unexpected failure, dropping event.")
		}
	}()

	rec, raw, err := telemetry.DecodeRecord(ev)
	if errors.Is(err, telemetry.ErrMissingPayload) {
		logger.Warn().Msg("No payload found in event, skipping.")
		return Result{Status: StatusSkipped, SkipReason: err}
	}
	if err != nil {
		logger.Error().Err(err).Str("raw_message", raw).Msg("Payload is not a valid record, skipping.")
		p.archiveSkipped(ctx, ev, err)
		return Result{Status: StatusSkipped, SkipReason: err}
	}
	logger.Debug().Str("raw_message", raw).Msg("Decoded sensor record.")

	anomalies := telemetry.Detect(rec, p.ranges)
	if len(anomalies) > 0 {
		logger.Warn().Interface("anomalies", anomalies).Msg("Anomalies detected.")
		if p.alert != nil {
			p.alert(ctx, ev, anomalies)
		}
	} else {
		logger.Debug().Msg("Record passed validation.")
	}

	// Anomalous records are still written: detection flags, it does not filter.
	outcome, err := p.writer.WriteRow(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reach sink, dropping event.")
		return Result{Status: StatusDropped, Record: rec, Anomalies: anomalies, Err: err}
	}
	if !outcome.OK() {
		for _, rowErr := range outcome.RowErrors {
			logger.Error().Int("row_index", rowErr.RowIndex).Str("reason", rowErr.Reason).Msg("Sink reported row-level insert error.")
		}
	} else {
		logger.Info().Msg("Row inserted.")
	}

	return Result{Status: StatusProcessed, Record: rec, Anomalies: anomalies, Write: outcome}
}

// archiveSkipped hands the raw payload to the archiver, if one is
// configured. Archive failures are logged and swallowed: archival is a
// diagnostic aid, never a reason to fail the invocation.
func (p *Pipeline) archiveSkipped(ctx context.Context, ev telemetry.InboundEvent, reason error) {
	if p.archiver == nil {
		return
	}
	if err := p.archiver.ArchiveSkipped(ctx, ev, reason.Error()); err != nil {
		p.logger.Error().Err(err).Str("msg_id", ev.ID).Msg("Failed to archive skipped payload.")
	}
}
