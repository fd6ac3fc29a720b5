package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestEffectiveRespectRobots(t *testing.T) {
	tests := []struct {
		name     string
		cfg      AppConfig
		expected bool
	}{
		{"unset defaults to true", AppConfig{}, true},
		{"explicit true", AppConfig{RespectRobots: boolPtr(true)}, true},
		{"explicit false", AppConfig{RespectRobots: boolPtr(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.EffectiveRespectRobots())
		})
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
user_agent: "my-bot/1.0"
queue_capacity: 500
spill_dir: /tmp/spill
resolver_pool_size: 8
robots_fetch_timeout: 5s
respect_robots: false
max_urls_per_server: 20
scorer: path_depth
http_client_settings:
  timeout: 30s
  force_attempt_http2: true
`)

	cfg, err := Parse(data)

	require.NoError(t, err)
	assert.Equal(t, "my-bot/1.0", cfg.UserAgent)
	assert.Equal(t, 500, cfg.QueueCapacity)
	assert.Equal(t, "/tmp/spill", cfg.SpillDir)
	assert.Equal(t, 8, cfg.ResolverPoolSize)
	assert.Equal(t, 5*time.Second, cfg.RobotsFetchTimeout)
	assert.False(t, cfg.EffectiveRespectRobots())
	assert.Equal(t, 20, cfg.MaxURLsPerServer)
	assert.Equal(t, ScorerPathDepth, cfg.Scorer)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.Timeout)
	require.NotNil(t, cfg.HTTPClientSettings.ForceAttemptHTTP2)
	assert.True(t, *cfg.HTTPClientSettings.ForceAttemptHTTP2)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("queue_capacity: 10\nqueue_capactiy: 20\n"))

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)

	require.NoError(t, err)
	assert.Equal(t, 0, cfg.QueueCapacity)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue_capacity: 42\n"), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 42, cfg.QueueCapacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}
