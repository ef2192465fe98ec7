package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verdantiq/sensor-pipeline/pkg/app"
	"github.com/verdantiq/sensor-pipeline/pkg/archive"
	"github.com/verdantiq/sensor-pipeline/pkg/pipeline"
	"github.com/verdantiq/sensor-pipeline/pkg/sink"
	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
	"github.com/verdantiq/sensor-pipeline/pkg/transport"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// --- 2. Set up Logger ---
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Invalid log level, defaulting to 'info'")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: zerolog.TimeFieldFormat})
	log.Info().Msg("Logger configured.")

	// --- 3. Build Pipeline Components ---
	ctx := context.Background()

	// Long-lived clients are constructed once here and reused across
	// invocations; they are closed on shutdown below.
	bqClient, err := sink.NewProductionBigQueryClient(ctx, &sink.BigQueryWriterConfig{
		ProjectID:       cfg.ProjectID,
		CredentialsFile: cfg.BigQuery.CredentialsFile,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer bqClient.Close()

	writer, err := sink.NewBigQueryWriter(bqClient, &sink.BigQueryWriterConfig{
		ProjectID: cfg.ProjectID,
		DatasetID: cfg.BigQuery.DatasetID,
		TableID:   cfg.BigQuery.TableID,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery writer")
	}

	ranges := telemetry.DefaultRangeTable()
	if cfg.Pipeline.RangeTableFile != "" {
		ranges, err = telemetry.LoadRangeTable(cfg.Pipeline.RangeTableFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Pipeline.RangeTableFile).Msg("Failed to load range table")
		}
		log.Info().Str("path", cfg.Pipeline.RangeTableFile).Int("fields", len(ranges)).Msg("Loaded range table from file.")
	}

	var archiver pipeline.Archiver
	if cfg.Archive.Bucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS client")
		}
		defer gcsClient.Close()

		archiver, err = archive.NewGCSArchiver(gcsClient, archive.GCSArchiverConfig{
			BucketName:   cfg.Archive.Bucket,
			ObjectPrefix: cfg.Archive.ObjectPrefix,
		}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create skipped-payload archiver")
		}
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Skipped-payload archival enabled.")
	}

	pipe, err := pipeline.New(ranges, writer, nil, archiver, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pipeline")
	}

	consumer, err := transport.NewGooglePubSubConsumer(ctx, &transport.GooglePubSubConsumerConfig{
		ProjectID:       cfg.ProjectID,
		SubscriptionID:  cfg.Consumer.SubscriptionID,
		CredentialsFile: cfg.Consumer.CredentialsFile,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Pub/Sub consumer")
	}

	service, err := pipeline.NewService(pipeline.ServiceConfig{
		NumWorkers: cfg.Pipeline.NumWorkers,
	}, consumer, pipe, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pipeline service")
	}

	// --- 4. Create and Run the Server ---
	server := app.NewServer(cfg, service, log.Logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-stop
	log.Warn().Msg("Shutdown signal received")
	server.Shutdown()
	log.Info().Msg("Server shut down gracefully.")
}
