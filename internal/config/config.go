package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServiceName     string
	LogLevel        string
	DatabaseURL     string
	TemporalAddress string
	HTTPListenAddr  string
	MetricsAddr     string

	// AdmissionPolicy selects how a second trigger for an in-flight
	// (project, branch) is handled: "supersede" or "join".
	AdmissionPolicy string

	// ReplicationLagCeiling is the lag above which a pair is marked error;
	// ReplicationFreshness is how recent a sync must be to count as fresh.
	ReplicationLagCeiling time.Duration
	ReplicationFreshness  time.Duration

	// Builder fleet.
	BuilderURL         string
	BuilderCallbackURL string

	// Notification webhook. Empty URL disables notifications.
	NotifyWebhookURL string
	NotifyTemplate   string

	// Artifact store (S3-compatible).
	S3Endpoint         string
	S3Bucket           string
	S3AccessKey        string
	S3SecretKey        string
	ArtifactPublicBase string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		TemporalAddress: getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),

		AdmissionPolicy:       getEnv("ADMISSION_POLICY", "supersede"),
		ReplicationLagCeiling: getDuration("REPLICATION_LAG_CEILING", 5*time.Minute),
		ReplicationFreshness:  getDuration("REPLICATION_FRESHNESS", time.Minute),

		BuilderURL:         getEnv("BUILDER_URL", ""),
		BuilderCallbackURL: getEnv("BUILDER_CALLBACK_URL", ""),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTemplate:   getEnv("NOTIFY_TEMPLATE", "generic"),

		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Bucket:           getEnv("S3_BUCKET", "shipyard-artifacts"),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),
		ArtifactPublicBase: getEnv("ARTIFACT_PUBLIC_BASE", ""),
	}

	return cfg, nil
}

// Validate checks the settings a given process actually needs. "api" is the
// release API, "worker" the Temporal worker.
func (c *Config) Validate(process string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AdmissionPolicy != "supersede" && c.AdmissionPolicy != "join" {
		return fmt.Errorf("ADMISSION_POLICY must be supersede or join, got %q", c.AdmissionPolicy)
	}

	switch process {
	case "api":
		if c.HTTPListenAddr == "" {
			return fmt.Errorf("HTTP_LISTEN_ADDR is required")
		}
	case "worker":
		if c.BuilderURL == "" {
			return fmt.Errorf("BUILDER_URL is required for the worker")
		}
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for the worker")
		}
	default:
		return fmt.Errorf("unknown process %q", process)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Accept a bare number of seconds too.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
