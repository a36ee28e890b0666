// Package config handles studiobones tool configuration.
package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// FileName is the config file looked up in the working and config dirs.
const FileName = "studiobones.yaml"

// ErrInvalid is matched by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config holds all tool settings.
type Config struct {
	Assets  AssetsConfig  `yaml:"assets"`
	Cache   CacheConfig   `yaml:"cache"`
	IK      IKConfig      `yaml:"ik"`
	Logging LoggingConfig `yaml:"logging"`
}

// AssetsConfig holds where model files and their dependencies are found.
type AssetsConfig struct {
	SearchPaths      []string `yaml:"search_paths"`        // Loose file roots, searched in order
	Archives         []string `yaml:"archives"`            // VPK _dir files, searched after loose files
	MaxSharedModelMB int      `yaml:"max_shared_model_mb"` // Cap for shared animation files
}

// CacheConfig sizes the bone matrix cache.
type CacheConfig struct {
	ModelSlots  int `yaml:"model_slots"`
	BoneEntries int `yaml:"bone_entries"`
}

// IKConfig holds pose evaluation settings.
type IKConfig struct {
	LatchLifetime float32 `yaml:"latch_lifetime"` // seconds
	MaxLayerDepth int     `yaml:"max_layer_depth"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Assets: AssetsConfig{
			SearchPaths:      []string{"."},
			MaxSharedModelMB: 16,
		},
		Cache: CacheConfig{
			ModelSlots:  16,
			BoneEntries: 512,
		},
		IK: IKConfig{
			LatchLifetime: 0.1,
			MaxLayerDepth: 8,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.Assets.MaxSharedModelMB > 0, "assets.max_shared_model_mb must be positive, got %d", c.Assets.MaxSharedModelMB)
	check(c.Cache.ModelSlots > 0, "cache.model_slots must be positive, got %d", c.Cache.ModelSlots)
	check(c.Cache.BoneEntries > 0, "cache.bone_entries must be positive, got %d", c.Cache.BoneEntries)
	check(c.IK.LatchLifetime > 0, "ik.latch_lifetime must be positive, got %v", c.IK.LatchLifetime)
	check(c.IK.MaxLayerDepth > 0, "ik.max_layer_depth must be positive, got %d", c.IK.MaxLayerDepth)
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return err
}
