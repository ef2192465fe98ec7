package transport

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GooglePubSubPublisherConfig holds configuration for the Pub/Sub publisher.
type GooglePubSubPublisherConfig struct {
	ProjectID string
	TopicID   string
	// Optional: CredentialsFile for a specific service account, otherwise ADC are used.
	CredentialsFile string
}

// GooglePubSubPublisher publishes raw payloads to a Google Cloud Pub/Sub
// topic. Publish blocks until the broker acknowledges the message.
type GooglePubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePubSubPublisher creates a new publisher for Google Cloud Pub/Sub.
// The client library honours PUBSUB_EMULATOR_HOST automatically.
func NewGooglePubSubPublisher(ctx context.Context, cfg *GooglePubSubPublisherConfig, logger zerolog.Logger) (*GooglePubSubPublisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("ProjectID and TopicID are required for Pub/Sub publisher")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Pub/Sub publisher")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Pub/Sub publisher")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pub/sub topic %s does not exist in project %s", cfg.TopicID, cfg.ProjectID)
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("topic_id", cfg.TopicID).Msg("GooglePubSubPublisher initialized successfully")
	return &GooglePubSubPublisher{
		client: client,
		topic:  topic,
		logger: logger,
	}, nil
}

// Publish sends one payload and blocks until the publish is acknowledged,
// returning the broker-assigned message ID.
func (p *GooglePubSubPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("cannot publish an empty payload")
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	// Get blocks until the message is published or the context is done.
	msgID, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish Get: %w", err)
	}

	p.logger.Debug().Str("message_id", msgID).Msg("Message published successfully to Pub/Sub")
	return msgID, nil
}

// Stop flushes pending messages and closes the Pub/Sub client.
func (p *GooglePubSubPublisher) Stop() {
	p.logger.Info().Msg("Stopping GooglePubSubPublisher...")
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
		}
	}
}
