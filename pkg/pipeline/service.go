package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// MessageConsumer defines the interface for an event source (e.g. a
// Pub/Sub subscription). It is responsible for fetching events from the
// broker and wiring up their Ack/Nack callbacks.
type MessageConsumer interface {
	// Events returns a read-only channel of inbound events.
	Events() <-chan telemetry.InboundEvent
	// Start initiates consumption.
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// ServiceConfig holds configuration for the hosting Service.
type ServiceConfig struct {
	NumWorkers int
}

// Service is the hosting runtime for the Pipeline: it consumes events and
// invokes Process once per event from a pool of workers. Each invocation
// is stateless with respect to the others; parallelism comes entirely
// from the worker pool.
type Service struct {
	config       ServiceConfig
	consumer     MessageConsumer
	pipeline     *Pipeline
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewService creates a Service wiring a consumer to a pipeline.
func NewService(config ServiceConfig, consumer MessageConsumer, pipeline *Pipeline, logger zerolog.Logger) (*Service, error) {
	if consumer == nil {
		return nil, errors.New("MessageConsumer cannot be nil")
	}
	if pipeline == nil {
		return nil, errors.New("Pipeline cannot be nil")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 5
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())

	return &Service{
		config:       config,
		consumer:     consumer,
		pipeline:     pipeline,
		logger:       logger.With().Str("service", "PipelineService").Logger(),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}, nil
}

// Start begins consumption and spins up the processing workers.
func (s *Service) Start() error {
	s.logger.Info().Msg("Starting pipeline service...")

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.config.NumWorkers).Msg("Starting processing workers...")
	for i := 0; i < s.config.NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info().Msg("Pipeline service started successfully.")
	return nil
}

// worker is the main loop for each concurrent worker.
func (s *Service) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Processing worker shutting down.")
			return
		case ev, ok := <-s.consumer.Events():
			if !ok {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handleEvent(ev, workerID)
		}
	}
}

// handleEvent runs the pipeline for one event and acknowledges it. Every
// event is acked regardless of outcome: skipped events are not retried,
// and redelivery of dropped events is the transport's contract, not ours.
func (s *Service) handleEvent(ev telemetry.InboundEvent, workerID int) {
	res := s.pipeline.Process(s.shutdownCtx, ev)

	switch res.Status {
	case StatusProcessed:
		s.logger.Debug().Int("worker_id", workerID).Str("msg_id", ev.ID).Msg("Event processed.")
	case StatusSkipped:
		s.logger.Debug().Int("worker_id", workerID).Str("msg_id", ev.ID).Msg("Event skipped.")
	case StatusDropped:
		s.logger.Warn().Int("worker_id", workerID).Str("msg_id", ev.ID).Msg("Event dropped after unexpected failure.")
	}

	if ev.Ack != nil {
		ev.Ack()
	}
}

// Stop gracefully shuts the service down: stop the consumer, then wait
// for the workers to drain in-flight events.
func (s *Service) Stop() {
	s.logger.Info().Msg("Stopping pipeline service...")

	s.shutdownFunc()

	if err := s.consumer.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping message consumer.")
	}
	s.logger.Info().Msg("Waiting for message consumer to stop...")
	<-s.consumer.Done()
	s.logger.Info().Msg("Message consumer stopped.")

	s.logger.Info().Msg("Waiting for processing workers to complete...")
	s.wg.Wait()
	s.logger.Info().Msg("All processing workers completed.")

	s.logger.Info().Msg("Pipeline service stopped gracefully.")
}
