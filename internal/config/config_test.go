package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/roach88/loopbridge/internal/notify"
)

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, notify.ZeroBased, cfg.Base())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultTimeout, cfg.RunTimeout())

	limit, burst := cfg.FailureLogLimit()
	assert.Equal(t, notify.DefaultFailureLogRate, limit)
	assert.Equal(t, notify.DefaultFailureLogBurst, burst)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
database: /tmp/app.db
index_base: one
log:
  level: debug
notify:
  failure_log_rate: 2.5
  failure_log_burst: 5
workers: 8
timeout: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/app.db", cfg.Database)
	assert.Equal(t, notify.OneBased, cfg.Base())
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.RunTimeout())

	limit, burst := cfg.FailureLogLimit()
	assert.Equal(t, rate.Limit(2.5), limit)
	assert.Equal(t, 5, burst)
}

func TestParse_UnlimitedFailureLogs(t *testing.T) {
	cfg, err := Parse([]byte("notify:\n  failure_log_rate: -1\n"))
	require.NoError(t, err)

	limit, _ := cfg.FailureLogLimit()
	assert.Equal(t, rate.Inf, limit)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"index base", "index_base: two\n"},
		{"log level", "log:\n  level: loud\n"},
		{"workers", "workers: -1\n"},
		{"burst", "notify:\n  failure_log_burst: -2\n"},
		{"timeout", "timeout: soon\n"},
		{"negative timeout", "timeout: -5s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("databse: typo.db\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databse")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loopbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index_base: one\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, notify.OneBased, cfg.Base())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}
