// Package config loads AstralDB configuration files.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full on-disk configuration. Every field has a working
// default; a config file is optional.
type Config struct {
	Database struct {
		// Path of the encrypted snapshot file.
		Path string `mapstructure:"path"`
		// FlushDelay is how long the flusher batches mutations before
		// rewriting the snapshot.
		FlushDelay time.Duration `mapstructure:"flush_delay"`
		// IdleDelay is the flusher poll interval while the store is clean.
		IdleDelay time.Duration `mapstructure:"idle_delay"`
		// IndexBranching is the B+ tree branching factor for new indexes.
		IndexBranching int `mapstructure:"index_branching"`
	} `mapstructure:"database"`

	Log struct {
		File    string `mapstructure:"file"`
		Verbose bool   `mapstructure:"verbose"`
	} `mapstructure:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Database.Path = "astral.db"
	cfg.Database.FlushDelay = 50 * time.Millisecond
	cfg.Database.IdleDelay = 10 * time.Millisecond
	cfg.Database.IndexBranching = 4
	cfg.Log.File = "astraldb.log"
	return &cfg
}

// Load reads a YAML config file into a Config, applying defaults for any
// missing field.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
