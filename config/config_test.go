package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("RATE_LIMIT_BASE_DELAY_MS", "")
	t.Setenv("LISTING_WORKERS", "")
	t.Setenv("RATE_LIMIT_MAX_DELAY_MS", "")
	t.Setenv("SHUTDOWN_GRACE_SECONDS", "")

	cfg := Load()
	assert.Equal(t, "https://new.land.naver.com/api", cfg.APIBaseURL)
	assert.Equal(t, time.Second, cfg.RateLimitBaseDelay())
	assert.Equal(t, 30*time.Second, cfg.RateLimitMaxDelay())
	assert.Equal(t, 3, cfg.ListingWorkers)
	assert.Equal(t, 15*time.Second, cfg.ShutdownGrace())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_BASE_DELAY_MS", "250")
	t.Setenv("REQUESTS_PER_SECOND", "0.5")
	t.Setenv("LISTING_WORKERS", "not-a-number")
	t.Setenv("SINK", "csv")

	cfg := Load()
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimitBaseDelay())
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	assert.Equal(t, 3, cfg.ListingWorkers, "unparsable ints fall back to the default")
	assert.Equal(t, "csv", cfg.Sink)
}

func validConfig() *Config {
	return &Config{
		APIBaseURL:            "https://example.test/api",
		APIToken:              "tok",
		TokenSource:           "static",
		MaxConcurrentRequests: 2,
		RateLimitBaseDelayMs:  100,
		ListingWorkers:        1,
		Sink:                  "csv",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.TokenSource = "http"
	assert.ErrorContains(t, cfg.Validate(), "API_AUTH_URL")

	cfg = validConfig()
	cfg.APIToken = ""
	assert.ErrorContains(t, cfg.Validate(), "API_TOKEN")

	cfg = validConfig()
	cfg.TokenSource = "browser"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sink = "s3"
	cfg.ListingWorkers = 0
	err := cfg.Validate()
	assert.ErrorContains(t, err, "SINK")
	assert.ErrorContains(t, err, "LISTING_WORKERS")
}

func TestDSN(t *testing.T) {
	cfg := &Config{PostgresHost: "db", PostgresPort: "5432", PostgresUser: "u",
		PostgresPassword: "p", PostgresDB: "land", PostgresSSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=land sslmode=disable", cfg.DSN())
}
