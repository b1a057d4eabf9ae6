package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	level, err := cfg.EncoderLevel()
	require.NoError(t, err)
	assert.Equal(t, zstd.SpeedDefault, level)
	assert.Equal(t, logrus.InfoLevel, cfg.Logger().GetLevel())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("BOXGRAPH_DATA", "/var/lib/boxgraph")
	t.Setenv("BOXGRAPH_MAX_PACK_SIZE", "1024")
	t.Setenv("BOXGRAPH_DEBUG", "true")
	t.Setenv("BOXGRAPH_UNDO_LIMIT", "not a number")
	t.Setenv("BOXGRAPH_FOLLOW_INTERVAL", "250ms")

	cfg := FromEnv()
	assert.Equal(t, "/var/lib/boxgraph", cfg.DataDir)
	assert.Equal(t, int64(1024), cfg.MaxPackSize)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 0, cfg.UndoLimit, "unparsable values keep the default")
	assert.Equal(t, 250*time.Millisecond, cfg.FollowInterval)
	assert.Equal(t, logrus.DebugLevel, cfg.Logger().GetLevel())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/studio
document: album
compression: best
undo_limit: 50
follow_interval: 2s
log_level: warn
`), 0644))
	t.Setenv("BOXGRAPH_DOCUMENT", "single")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/studio", cfg.DataDir)
	assert.Equal(t, "single", cfg.Document)
	assert.Equal(t, 50, cfg.UndoLimit)
	assert.Equal(t, 2*time.Second, cfg.FollowInterval)
	assert.Equal(t, "local", cfg.Actor)
	level, err := cfg.EncoderLevel()
	require.NoError(t, err)
	assert.Equal(t, zstd.SpeedBestCompression, level)
	assert.Equal(t, logrus.WarnLevel, cfg.Logger().GetLevel())
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("undo_limit: [1, 2]\n"), 0644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty data dir":  func(c *Config) { c.DataDir = "" },
		"empty document":  func(c *Config) { c.Document = "" },
		"bad log level":   func(c *Config) { c.LogLevel = "loud" },
		"bad compression": func(c *Config) { c.Compression = "max" },
		"zero pack size":  func(c *Config) { c.MaxPackSize = 0 },
		"negative undo":   func(c *Config) { c.UndoLimit = -1 },
		"zero interval":   func(c *Config) { c.FollowInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
