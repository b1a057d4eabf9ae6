// Package config provides configuration for the boxgraph tools.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds tool configuration.
type Config struct {
	// DataDir is the directory holding the store database.
	DataDir string `yaml:"data_dir"`
	// Document is the default document name in the store.
	Document string `yaml:"document"`
	// Schema is a schema YAML file. Empty selects the built-in studio schema.
	Schema string `yaml:"schema"`
	// Actor is recorded on journal entries.
	Actor string `yaml:"actor"`
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
	// Debug forces the debug log level.
	Debug bool `yaml:"debug"`
	// Compression is a zstd level: fastest, default, better or best.
	Compression string `yaml:"compression"`
	// MaxPackSize is the maximum decompressed pack size in bytes.
	MaxPackSize int64 `yaml:"max_pack_size"`
	// UndoLimit caps undo history. Zero keeps everything.
	UndoLimit int `yaml:"undo_limit"`
	// FollowInterval is how often replicas poll the journal.
	FollowInterval time.Duration `yaml:"follow_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		Document:       "main",
		Actor:          "local",
		LogLevel:       "info",
		Compression:    "default",
		MaxPackSize:    256 * 1024 * 1024,
		FollowInterval: 1 * time.Second,
	}
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "parsing %s: %v", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("BOXGRAPH_DATA", c.DataDir)
	c.Document = getEnv("BOXGRAPH_DOCUMENT", c.Document)
	c.Schema = getEnv("BOXGRAPH_SCHEMA", c.Schema)
	c.Actor = getEnv("BOXGRAPH_ACTOR", c.Actor)
	c.LogLevel = getEnv("BOXGRAPH_LOG_LEVEL", c.LogLevel)
	c.Debug = getEnvBool("BOXGRAPH_DEBUG", c.Debug)
	c.Compression = getEnv("BOXGRAPH_COMPRESSION", c.Compression)
	c.MaxPackSize = getEnvInt64("BOXGRAPH_MAX_PACK_SIZE", c.MaxPackSize)
	c.UndoLimit = getEnvInt("BOXGRAPH_UNDO_LIMIT", c.UndoLimit)
	c.FollowInterval = getEnvDuration("BOXGRAPH_FOLLOW_INTERVAL", c.FollowInterval)
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.Wrap(ErrInvalidConfig, "data_dir is empty")
	}
	if c.Document == "" {
		return errors.Wrap(ErrInvalidConfig, "document is empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "log_level: %v", err)
	}
	if _, err := c.EncoderLevel(); err != nil {
		return err
	}
	if c.MaxPackSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_pack_size %d", c.MaxPackSize)
	}
	if c.UndoLimit < 0 {
		return errors.Wrapf(ErrInvalidConfig, "undo_limit %d", c.UndoLimit)
	}
	if c.FollowInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "follow_interval %s", c.FollowInterval)
	}
	return nil
}

// EncoderLevel maps Compression to a zstd level.
func (c *Config) EncoderLevel() (zstd.EncoderLevel, error) {
	ok, level := zstd.EncoderLevelFromString(c.Compression)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidConfig, "compression %q", c.Compression)
	}
	return level, nil
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if c.Debug {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	return log
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
