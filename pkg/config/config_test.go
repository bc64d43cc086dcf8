package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "livetrains.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(DefaultPath)
	require.NoError(t, err)

	assert.Equal(t, portalpasazera.DefaultBaseURL, cfg.Feed.BaseURL)
	assert.Equal(t, "alltrainshub", cfg.Feed.HubPath)
	assert.Equal(t, portalpasazera.DefaultRegion, cfg.Feed.Region)
	assert.Equal(t, time.Hour, cfg.Details.TokenTTL.Duration)
	assert.Equal(t, 20, cfg.History.MaxFixes)
	assert.Nil(t, cfg.Feed.ReconnectBackOff())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
feed:
  gps_filter: true
  cookie: "session=abc"
  filter: 'Carrier == "IC"'
  region:
    zoom: 8
    south: 49
    west: 14
    north: 55
    east: 24
  receive_timeout: PT45S
  reconnect_backoff: true
  reconnect_max_interval: 30s
history:
  window: 5m
  max_speed: 250
details:
  token_ttl: PT2H
  cache: redis
sinks:
  mongodb: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Feed.GPSFilter)
	assert.Equal(t, "session=abc", cfg.Feed.Cookie)
	assert.Equal(t, portalpasazera.DefaultHeaders.UserAgent, cfg.Feed.UserAgent)
	assert.Equal(t, `Carrier == "IC"`, cfg.Feed.Filter)
	assert.Equal(t, 8.0, cfg.Feed.Region.Zoom)
	assert.Equal(t, "PL", cfg.Feed.Region.Country)
	assert.Equal(t, 45*time.Second, cfg.Feed.ReceiveTimeout.Duration)
	assert.Equal(t, 2*time.Hour, cfg.Details.TokenTTL.Duration)
	assert.Equal(t, "redis", cfg.Details.Cache)
	assert.True(t, cfg.Sinks.MongoDB)
	assert.False(t, cfg.Sinks.Queue)

	tracker := cfg.History.TrackerConfig()
	assert.Equal(t, 5*time.Minute, tracker.Window)
	assert.Equal(t, 250.0, tracker.MaxSpeedKMH)
	assert.Equal(t, 20, tracker.MaxFixes)

	backOff := cfg.Feed.ReconnectBackOff()
	require.NotNil(t, backOff)
	assert.Greater(t, backOff.NextBackOff(), time.Duration(0))
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVETRAINS_API_LISTEN", ":9090")
	t.Setenv("LIVETRAINS_FEED_GPS_FILTER", "true")
	t.Setenv("LIVETRAINS_REDIS_DATABASE", "3")
	t.Setenv("LIVETRAINS_DETAILS_TOKEN_TTL", "PT30M")
	t.Setenv("LIVETRAINS_SINKS", "queue, NATS")
	t.Setenv("LIVETRAINS_POSTGRES_CONNECTION", "postgres://db:5432/trains")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.True(t, cfg.Feed.GPSFilter)
	assert.Equal(t, 3, cfg.Redis.Database)
	assert.Equal(t, "postgres://db:5432/trains", cfg.Postgres.Connection)
	assert.Equal(t, 30*time.Minute, cfg.Details.TokenTTL.Duration)
	assert.Equal(t, SinksConfig{Queue: true, NATS: true}, cfg.Sinks)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "feed: ["))
		assert.Error(t, err)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := Load(writeConfig(t, "history:\n  window: soon\n"))
		assert.Error(t, err)
	})

	t.Run("failed validation", func(t *testing.T) {
		_, err := Load(writeConfig(t, "history:\n  max_fixes: 1\n"))
		assert.Error(t, err)
	})

	t.Run("inverted region", func(t *testing.T) {
		_, err := Load(writeConfig(t, "feed:\n  region:\n    south: 56\n"))
		assert.Error(t, err)
	})

	t.Run("unknown cache", func(t *testing.T) {
		_, err := Load(writeConfig(t, "details:\n  cache: disk\n"))
		assert.Error(t, err)
	})

	t.Run("unknown sink", func(t *testing.T) {
		t.Setenv("LIVETRAINS_SINKS", "kafka")

		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{input: "", expected: 0},
		{input: "30s", expected: 30 * time.Second},
		{input: "1h30m", expected: 90 * time.Minute},
		{input: "PT1H", expected: time.Hour},
		{input: "PT45S", expected: 45 * time.Second},
		{input: "P1D", expected: 24 * time.Hour},
	}

	for _, test := range tests {
		parsed, err := ParseDuration(test.input)
		require.NoError(t, err, test.input)
		assert.Equal(t, test.expected, parsed.Duration, test.input)
	}

	_, err := ParseDuration("bogus")
	assert.Error(t, err)
}
