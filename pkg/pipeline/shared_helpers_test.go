package pipeline_test

import (
	"context"
	"sync"

	"github.com/verdantiq/sensor-pipeline/pkg/sink"
	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// --- Mock Implementations ---

// mockWriter is a hand-rolled sink.Writer recording every row it receives.
type mockWriter struct {
	mu       sync.Mutex
	outcome  sink.WriteOutcome
	err      error
	panicMsg string
	rows     []telemetry.Record
}

func (m *mockWriter) WriteRow(_ context.Context, rec telemetry.Record) (sink.WriteOutcome, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
	return m.outcome, m.err
}

func (m *mockWriter) Rows() []telemetry.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]telemetry.Record, len(m.rows))
	copy(rows, m.rows)
	return rows
}

// mockArchiver records skipped payloads handed to it.
type mockArchiver struct {
	mu     sync.Mutex
	err    error
	events []telemetry.InboundEvent
}

func (m *mockArchiver) ArchiveSkipped(_ context.Context, ev telemetry.InboundEvent, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockArchiver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// mockConsumer is a channel-backed pipeline.MessageConsumer.
type mockConsumer struct {
	mu       sync.Mutex
	eventsCh chan telemetry.InboundEvent
	doneCh   chan struct{}
	stopped  bool
}

func newMockConsumer(bufferSize int) *mockConsumer {
	return &mockConsumer{
		eventsCh: make(chan telemetry.InboundEvent, bufferSize),
		doneCh:   make(chan struct{}),
	}
}

func (m *mockConsumer) Events() <-chan telemetry.InboundEvent { return m.eventsCh }
func (m *mockConsumer) Start(ctx context.Context) error       { return nil }
func (m *mockConsumer) Done() <-chan struct{}                 { return m.doneCh }

func (m *mockConsumer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		close(m.eventsCh)
		close(m.doneCh)
		m.stopped = true
	}
	return nil
}

func (m *mockConsumer) Push(ev telemetry.InboundEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.eventsCh <- ev
	}
}
