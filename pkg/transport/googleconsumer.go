package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// GooglePubSubConsumerConfig holds configuration for the Pub/Sub consumer.
type GooglePubSubConsumerConfig struct {
	ProjectID      string
	SubscriptionID string
	// Optional: CredentialsFile for a specific service account, otherwise ADC are used.
	CredentialsFile        string
	MaxOutstandingMessages int
	NumGoroutines          int
}

// GooglePubSubConsumer implements pipeline.MessageConsumer for Google
// Cloud Pub/Sub. It owns its client for the life of the process.
type GooglePubSubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	config             *GooglePubSubConsumerConfig
	logger             zerolog.Logger
	outputChan         chan telemetry.InboundEvent
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubSubConsumer creates a new consumer for Google Cloud Pub/Sub.
func NewGooglePubSubConsumer(ctx context.Context, cfg *GooglePubSubConsumerConfig, logger zerolog.Logger) (*GooglePubSubConsumer, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("ProjectID is required for Pub/Sub consumer")
	}
	if cfg.SubscriptionID == "" {
		return nil, errors.New("SubscriptionID is required for Pub/Sub consumer")
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 2
	}

	var opts []option.ClientOption
	pubsubEmulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST")
	if pubsubEmulatorHost != "" {
		logger.Info().Str("emulator_host", pubsubEmulatorHost).Str("subscription_id", cfg.SubscriptionID).Msg("Using Pub/Sub emulator for consumer.")
		opts = append(opts, option.WithEndpoint(pubsubEmulatorHost), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Str("subscription_id", cfg.SubscriptionID).Msg("Using specified credentials file for Pub/Sub consumer")
	} else {
		logger.Info().Str("subscription_id", cfg.SubscriptionID).Msg("Using Application Default Credentials (ADC) for Pub/Sub consumer")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &GooglePubSubConsumer{
		client:       client,
		subscription: sub,
		config:       cfg,
		logger:       logger.With().Str("component", "GooglePubSubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan telemetry.InboundEvent, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Events returns the output channel of inbound events.
func (c *GooglePubSubConsumer) Events() <-chan telemetry.InboundEvent {
	return c.outputChan
}

// Start begins consuming messages from the Pub/Sub subscription.
func (c *GooglePubSubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")

	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	go func() {
		defer close(c.outputChan)
		defer close(c.doneChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			c.logger.Debug().Str("msg_id", msg.ID).Msg("Received Pub/Sub message")

			// Pull messages carry raw bytes; wrap them in the same base64
			// envelope push delivery uses so the decoder sees one payload format.
			ev := telemetry.WrapMessage(msg.ID, msg.Data)
			ev.Attributes = msg.Attributes
			ev.PublishTime = msg.PublishTime
			ev.Ack = msg.Ack
			ev.Nack = msg.Nack

			select {
			case c.outputChan <- ev:
			case <-receiveCtx.Done():
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop gracefully stops the Pub/Sub consumer and closes its client.
func (c *GooglePubSubConsumer) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
		}

		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-time.After(30 * time.Second):
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}

		if err := c.client.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
		}
	})
	return nil
}

// Done returns a channel closed once the receive loop has exited.
func (c *GooglePubSubConsumer) Done() <-chan struct{} {
	return c.doneChan
}
