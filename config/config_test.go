package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Timeline.MaxSize)
	assert.EqualValues(t, 10000, cfg.Fanout.CelebrityThreshold)
	assert.Equal(t, 720*time.Hour, cfg.Fanout.InactiveSkipWindow)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 2*time.Second, cfg.Reader.RebuildTimeout)
	assert.EqualValues(t, 3, cfg.Fanout.Retry.MaxTries)
	assert.True(t, cfg.Consumer.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("timeline:\n  max_size: 100\ncache:\n  driver: memory\nfanout:\n  celebrity_threshold: 50\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("TIMELINE_FANOUT_CELEBRITY_THRESHOLD", "75")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Timeline.MaxSize)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.EqualValues(t, 75, cfg.Fanout.CelebrityThreshold)
}

func TestValidate(t *testing.T) {
	base, err := Load(t.TempDir())
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"max size":  func(c *Config) { c.Timeline.MaxSize = 0 },
		"threshold": func(c *Config) { c.Fanout.CelebrityThreshold = -1 },
		"pool":      func(c *Config) { c.Fanout.Concurrency = 0 },
		"cache":     func(c *Config) { c.Cache.Driver = "memcached" },
		"database":  func(c *Config) { c.Database.Driver = "mysql" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
