// Package config loads the storage core configuration from an optional
// YAML file with MNEMO_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CacheConfig configures the tiered artifact cache.
type CacheConfig struct {
	Dir              string        `yaml:"dir" mapstructure:"dir" env:"MNEMO_CACHE_DIR"`
	MaxMemoryItems   int           `yaml:"max_memory_items" mapstructure:"max_memory_items" env:"MNEMO_CACHE_MAX_MEMORY_ITEMS"`
	MaxMemoryMB      int           `yaml:"max_memory_mb" mapstructure:"max_memory_mb" env:"MNEMO_CACHE_MAX_MEMORY_MB"`
	MaxDurableMB     int           `yaml:"max_durable_mb" mapstructure:"max_durable_mb" env:"MNEMO_CACHE_MAX_DURABLE_MB"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level" env:"MNEMO_CACHE_COMPRESSION_LEVEL"`
	SweepInterval    time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" env:"MNEMO_CACHE_SWEEP_INTERVAL"`
}

// AudioConfig configures the recording lifecycle manager.
type AudioConfig struct {
	Dir              string        `yaml:"dir" mapstructure:"dir" env:"MNEMO_AUDIO_DIR"`
	LowStorageMB     int           `yaml:"low_storage_mb" mapstructure:"low_storage_mb" env:"MNEMO_AUDIO_LOW_STORAGE_MB"`
	CriticalMB       int           `yaml:"critical_storage_mb" mapstructure:"critical_storage_mb" env:"MNEMO_AUDIO_CRITICAL_STORAGE_MB"`
	CompressAgeDays  int           `yaml:"compress_age_days" mapstructure:"compress_age_days" env:"MNEMO_AUDIO_COMPRESS_AGE_DAYS"`
	DeleteAgeDays    int           `yaml:"delete_age_days" mapstructure:"delete_age_days" env:"MNEMO_AUDIO_DELETE_AGE_DAYS"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level" env:"MNEMO_AUDIO_COMPRESSION_LEVEL"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval" env:"MNEMO_AUDIO_CLEANUP_INTERVAL"`
	CleanupCooldown  time.Duration `yaml:"cleanup_cooldown" mapstructure:"cleanup_cooldown" env:"MNEMO_AUDIO_CLEANUP_COOLDOWN"`
}

// PressureConfig configures the system pressure monitor.
type PressureConfig struct {
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval" env:"MNEMO_PRESSURE_CHECK_INTERVAL"`
}

// Config is the storage core configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Audio    AudioConfig    `yaml:"audio" mapstructure:"audio"`
	Pressure PressureConfig `yaml:"pressure" mapstructure:"pressure"`
}

// Default returns the default configuration rooted under the user cache
// directory.
func Default() *Config {
	root := ""
	if dir, err := os.UserCacheDir(); err == nil {
		root = dir + "/mnemo"
	}

	return &Config{
		Cache: CacheConfig{
			Dir:              root + "/artifacts",
			MaxMemoryItems:   100,
			MaxMemoryMB:      50,
			MaxDurableMB:     1024,
			CompressionLevel: 3,
			SweepInterval:    time.Hour,
		},
		Audio: AudioConfig{
			Dir:              root + "/recordings",
			LowStorageMB:     500,
			CriticalMB:       100,
			CompressAgeDays:  30,
			DeleteAgeDays:    90,
			CompressionLevel: 3,
			CleanupInterval:  30 * time.Second,
			CleanupCooldown:  time.Hour,
		},
		Pressure: PressureConfig{
			CheckInterval: 15 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// it exists, then environment overrides. A missing file is not an error;
// a malformed one is.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Debug("config file not found, using defaults", "path", path)
		} else if err := v.Unmarshal(config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// WriteDefault writes the default configuration as YAML to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug("wrote default config", "path", path)
	return nil
}

// Validate checks the configuration for values the components cannot run
// with.
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	if c.Audio.Dir == "" {
		return fmt.Errorf("audio.dir must be set")
	}
	if c.Cache.MaxMemoryItems <= 0 {
		return fmt.Errorf("cache.max_memory_items must be positive")
	}
	if c.Cache.MaxMemoryMB <= 0 || c.Cache.MaxDurableMB <= 0 {
		return fmt.Errorf("cache capacities must be positive")
	}
	if c.Audio.CriticalMB > c.Audio.LowStorageMB {
		return fmt.Errorf("audio.critical_storage_mb must not exceed audio.low_storage_mb")
	}
	if c.Audio.CompressAgeDays > c.Audio.DeleteAgeDays {
		return fmt.Errorf("audio.compress_age_days must not exceed audio.delete_age_days")
	}
	return nil
}
