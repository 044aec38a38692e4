package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "supersede", cfg.AdmissionPolicy)
	assert.Equal(t, 5*time.Minute, cfg.ReplicationLagCeiling)
	assert.Equal(t, time.Minute, cfg.ReplicationFreshness)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/shipyard")
	t.Setenv("ADMISSION_POLICY", "join")
	t.Setenv("REPLICATION_LAG_CEILING", "2m")
	t.Setenv("REPLICATION_FRESHNESS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/shipyard", cfg.DatabaseURL)
	assert.Equal(t, "join", cfg.AdmissionPolicy)
	assert.Equal(t, 2*time.Minute, cfg.ReplicationLagCeiling)
	// Bare numbers are read as seconds.
	assert.Equal(t, 30*time.Second, cfg.ReplicationFreshness)
}

func TestValidate_API(t *testing.T) {
	cfg := &Config{
		DatabaseURL:     "postgres://localhost/shipyard",
		HTTPListenAddr:  ":8090",
		AdmissionPolicy: "supersede",
	}
	assert.NoError(t, cfg.Validate("api"))

	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate("api"))
}

func TestValidate_Worker(t *testing.T) {
	cfg := &Config{
		DatabaseURL:     "postgres://localhost/shipyard",
		AdmissionPolicy: "supersede",
		BuilderURL:      "http://builder:9000",
		S3Endpoint:      "http://minio:9000",
		S3AccessKey:     "key",
		S3SecretKey:     "secret",
	}
	assert.NoError(t, cfg.Validate("worker"))

	cfg.BuilderURL = ""
	assert.Error(t, cfg.Validate("worker"))
}

func TestValidate_BadAdmissionPolicy(t *testing.T) {
	cfg := &Config{
		DatabaseURL:     "postgres://localhost/shipyard",
		HTTPListenAddr:  ":8090",
		AdmissionPolicy: "queue",
	}
	err := cfg.Validate("api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMISSION_POLICY")
}

func TestValidate_UnknownProcess(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", AdmissionPolicy: "supersede"}
	assert.Error(t, cfg.Validate("mailer"))
}
