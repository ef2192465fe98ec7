package sink

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// BigQueryWriterConfig holds configuration for the BigQuery writer. The
// destination is fixed at construction time, never derived per-event.
type BigQueryWriterConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: for production if not using ADC
}

// NewProductionBigQueryClient creates a BigQuery client suitable for
// production environments. The client is a long-lived resource: construct
// it once per process, share it across invocations, and close it on
// shutdown.
func NewProductionBigQueryClient(ctx context.Context, cfg *BigQueryWriterConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	if cfg == nil {
		return nil, errors.New("BigQueryWriterConfig cannot be nil")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("cfg.ProjectID is required for NewProductionBigQueryClient")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// rowInserter is the slice of *bigquery.Inserter the writer needs.
type rowInserter interface {
	Put(ctx context.Context, src any) error
}

// BigQueryWriter implements Writer over BigQuery streaming inserts.
// It is safe for concurrent use by overlapping pipeline invocations.
type BigQueryWriter struct {
	inserter  rowInserter
	logger    zerolog.Logger
	datasetID string
	tableID   string
}

// NewBigQueryWriter creates a writer appending rows to the configured
// table using an injected, externally managed client.
func NewBigQueryWriter(client *bigquery.Client, cfg *BigQueryWriterConfig, logger zerolog.Logger) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryWriterConfig cannot be nil")
	}
	if cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("DatasetID and TableID must be provided in BigQueryWriterConfig")
	}

	return &BigQueryWriter{
		inserter:  client.Dataset(cfg.DatasetID).Table(cfg.TableID).Inserter(),
		logger:    logger.With().Str("component", "BigQueryWriter").Str("dataset", cfg.DatasetID).Str("table", cfg.TableID).Logger(),
		datasetID: cfg.DatasetID,
		tableID:   cfg.TableID,
	}, nil
}

// rowSaver adapts a telemetry.Record to the bigquery.ValueSaver interface.
// The insert ID gives BigQuery a best-effort dedup key under at-least-once
// redelivery from the transport.
type rowSaver struct {
	rec      telemetry.Record
	insertID string
}

func (s rowSaver) Save() (map[string]bigquery.Value, string, error) {
	row := make(map[string]bigquery.Value, len(s.rec))
	for field, value := range s.rec {
		row[field] = value
	}
	return row, s.insertID, nil
}

// WriteRow appends one record as a single row. Row-level insert errors are
// mapped into the outcome and do not produce an error; any other failure
// (network, auth, schema mismatch at the request level) is returned as an
// error for the caller to handle.
func (w *BigQueryWriter) WriteRow(ctx context.Context, rec telemetry.Record) (WriteOutcome, error) {
	err := w.inserter.Put(ctx, rowSaver{rec: rec, insertID: uuid.NewString()})
	if err == nil {
		return WriteOutcome{}, nil
	}

	var multiErr bigquery.PutMultiError
	if errors.As(err, &multiErr) {
		outcome := WriteOutcome{}
		for _, rowErr := range multiErr {
			outcome.RowErrors = append(outcome.RowErrors, RowError{
				RowIndex: rowErr.RowIndex,
				Reason:   rowErr.Errors.Error(),
			})
		}
		w.logger.Debug().Int("row_errors", len(outcome.RowErrors)).Msg("BigQuery reported row-level insert errors")
		return outcome, nil
	}

	return WriteOutcome{}, fmt.Errorf("bigquery Inserter.Put: %w", err)
}

// CountRows returns the number of rows currently in a table. Used by
// operational checks and integration tests to verify inserts landed.
func CountRows(ctx context.Context, client *bigquery.Client, datasetID, tableID string) (int64, error) {
	q := client.Query(fmt.Sprintf("SELECT COUNT(*) FROM `%s.%s`", datasetID, tableID))
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return firstCount(it)
}

// countIterator is the slice of *bigquery.RowIterator firstCount needs.
type countIterator interface {
	Next(dst any) error
}

func firstCount(it countIterator) (int64, error) {
	var row []bigquery.Value
	err := it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count query iteration failed: %w", err)
	}
	if len(row) == 0 {
		return 0, nil
	}
	count, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count column type %T", row[0])
	}
	return count, nil
}
