package app

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the ingestion service, grouped by
// component. Everything is fixed at process start; nothing is derived
// per-event.
type Config struct {
	// LogLevel for the application-wide logger (e.g. "debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`

	// HTTPPort is the port for the health check server.
	HTTPPort string `mapstructure:"http_port"`

	// GCP project ID, used by the Pub/Sub, BigQuery and Storage clients.
	ProjectID string `mapstructure:"project_id"`

	// Consumer holds settings for the Pub/Sub subscriber.
	Consumer struct {
		SubscriptionID  string `mapstructure:"subscription_id"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"consumer"`

	// BigQuery holds settings for the sink writer.
	BigQuery struct {
		DatasetID       string `mapstructure:"dataset_id"`
		TableID         string `mapstructure:"table_id"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"bigquery"`

	// Archive holds settings for the optional skipped-payload archive.
	// Archival is disabled when Bucket is empty.
	Archive struct {
		Bucket       string `mapstructure:"bucket"`
		ObjectPrefix string `mapstructure:"object_prefix"`
	} `mapstructure:"archive"`

	// Pipeline holds settings for the processing workers and validation.
	Pipeline struct {
		NumWorkers int `mapstructure:"num_workers"`
		// RangeTableFile optionally overrides the compiled-in expected ranges.
		RangeTableFile string `mapstructure:"range_table_file"`
	} `mapstructure:"pipeline"`
}

// LoadConfig initializes and loads the application configuration.
// It sets defaults, binds command-line flags, reads an optional config
// file and allows APP_* environment overrides. Precedence, highest
// first: explicit flags, environment, config file, defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", ":8080")
	v.SetDefault("pipeline.num_workers", 5)
	v.SetDefault("archive.object_prefix", "sensor-pipeline")

	flags := pflag.NewFlagSet("ingestor", pflag.ContinueOnError)
	flags.String("config", "config.yaml", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("project-id", "", "GCP Project ID")
	flags.String("subscription-id", "", "Pub/Sub Subscription ID")
	flags.String("bq-dataset-id", "", "BigQuery Dataset ID")
	flags.String("bq-table-id", "", "BigQuery Table ID")
	flags.String("archive-bucket", "", "GCS bucket for skipped payloads (empty disables archival)")
	flags.String("range-table", "", "Path to a YAML expected-range table (empty uses compiled-in defaults)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Bind each dash-named flag to its underscore config key so flag
	// values land on the right struct fields during Unmarshal.
	for key, name := range map[string]string{
		"log_level":                 "log-level",
		"project_id":                "project-id",
		"consumer.subscription_id":  "subscription-id",
		"bigquery.dataset_id":       "bq-dataset-id",
		"bigquery.table_id":         "bq-table-id",
		"archive.bucket":            "archive-bucket",
		"pipeline.range_table_file": "range-table",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, err
		}
	}

	configFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; flags and env can carry everything.
		// With SetConfigFile a missing file surfaces as a path error, not
		// as viper.ConfigFileNotFoundError, so check for both.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
