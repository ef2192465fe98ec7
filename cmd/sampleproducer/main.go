// sampleproducer publishes one synthetic sensor reading to the ingestion
// topic and waits for the broker acknowledgement. It exists to exercise
// the pipeline end-to-end and is not part of the production data path.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
	"github.com/verdantiq/sensor-pipeline/pkg/transport"
)

var (
	projectID    string
	topicID      string
	temperature  float64
	humidity     float64
	soilMoisture float64
)

var rootCmd = &cobra.Command{
	Use:          "sampleproducer",
	Short:        "Publish one synthetic sensor reading to the ingestion topic",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&projectID, "project-id", "", "GCP Project ID (required)")
	rootCmd.Flags().StringVar(&topicID, "topic-id", "sensor-data", "Pub/Sub topic to publish to")
	rootCmd.Flags().Float64Var(&temperature, "temperature", 23, "temperature value for the sample record")
	rootCmd.Flags().Float64Var(&humidity, "humidity", 55, "humidity value for the sample record")
	rootCmd.Flags().Float64Var(&soilMoisture, "soil-moisture", 48, "soil moisture value for the sample record")
	rootCmd.MarkFlagRequired("project-id")
}

func run(cmd *cobra.Command, _ []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: zerolog.TimeFieldFormat})

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rec := telemetry.Record{
		"temperature":   temperature,
		"humidity":      humidity,
		"soil_moisture": soilMoisture,
	}
	data, err := telemetry.EncodeRecord(rec)
	if err != nil {
		return err
	}

	publisher, err := transport.NewGooglePubSubPublisher(ctx, &transport.GooglePubSubPublisherConfig{
		ProjectID: projectID,
		TopicID:   topicID,
	}, log.Logger)
	if err != nil {
		return err
	}
	defer publisher.Stop()

	msgID, err := publisher.Publish(ctx, data, map[string]string{
		"source":   "sampleproducer",
		"trace_id": uuid.NewString(),
	})
	if err != nil {
		return err
	}

	log.Info().Str("message_id", msgID).RawJSON("payload", data).Msg("Published sample reading.")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
