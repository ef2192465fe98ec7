package sink

import (
	"context"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// RowError describes one row-level failure reported by the sink.
type RowError struct {
	// RowIndex is the position of the failed row within the insert request.
	RowIndex int
	// Reason is the sink's description of why the row was rejected.
	Reason string
}

// WriteOutcome reports the result of appending one record to the sink.
// Row-level errors are surfaced for logging; they are never retried here.
type WriteOutcome struct {
	RowErrors []RowError
}

// OK reports whether every row was accepted.
func (o WriteOutcome) OK() bool {
	return len(o.RowErrors) == 0
}

// Writer appends sensor records to an external tabular store, one row per
// event. Row-level failures come back in the outcome with a nil error; a
// non-nil error means the store could not be reached at all and the event
// should be dropped by the caller.
type Writer interface {
	WriteRow(ctx context.Context, rec telemetry.Record) (WriteOutcome, error)
}
