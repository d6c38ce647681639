package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Cache.MaxMemoryItems != 100 {
		t.Errorf("max memory items = %d, want 100", cfg.Cache.MaxMemoryItems)
	}
	if cfg.Cache.MaxMemoryMB != 50 {
		t.Errorf("max memory MB = %d, want 50", cfg.Cache.MaxMemoryMB)
	}
	if cfg.Cache.MaxDurableMB != 1024 {
		t.Errorf("max durable MB = %d, want 1024", cfg.Cache.MaxDurableMB)
	}
	if cfg.Audio.LowStorageMB != 500 || cfg.Audio.CriticalMB != 100 {
		t.Errorf("audio thresholds = %d/%d, want 500/100",
			cfg.Audio.LowStorageMB, cfg.Audio.CriticalMB)
	}
	if cfg.Audio.CompressAgeDays != 30 || cfg.Audio.DeleteAgeDays != 90 {
		t.Errorf("age policy = %d/%d days, want 30/90",
			cfg.Audio.CompressAgeDays, cfg.Audio.DeleteAgeDays)
	}
	if cfg.Pressure.CheckInterval != 15*time.Second {
		t.Errorf("check interval = %v, want 15s", cfg.Pressure.CheckInterval)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	content := `
cache:
  max_memory_items: 25
  max_memory_mb: 10
  sweep_interval: 5m
audio:
  low_storage_mb: 200
  compress_age_days: 14
pressure:
  check_interval: 5s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.MaxMemoryItems != 25 {
		t.Errorf("max memory items = %d, want 25", cfg.Cache.MaxMemoryItems)
	}
	if cfg.Cache.SweepInterval != 5*time.Minute {
		t.Errorf("sweep interval = %v, want 5m", cfg.Cache.SweepInterval)
	}
	if cfg.Audio.LowStorageMB != 200 {
		t.Errorf("low storage = %d, want 200", cfg.Audio.LowStorageMB)
	}
	if cfg.Pressure.CheckInterval != 5*time.Second {
		t.Errorf("check interval = %v, want 5s", cfg.Pressure.CheckInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Cache.MaxDurableMB != 1024 {
		t.Errorf("max durable MB = %d, want default 1024", cfg.Cache.MaxDurableMB)
	}
	if cfg.Audio.DeleteAgeDays != 90 {
		t.Errorf("delete age = %d, want default 90", cfg.Audio.DeleteAgeDays)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("a missing config file must not be an error: %v", err)
	}
	if cfg.Cache.MaxMemoryItems != 100 {
		t.Errorf("max memory items = %d, want default 100", cfg.Cache.MaxMemoryItems)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("cache: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("malformed YAML must fail loudly")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MNEMO_CACHE_MAX_MEMORY_MB", "16")
	t.Setenv("MNEMO_AUDIO_DELETE_AGE_DAYS", "120")
	t.Setenv("MNEMO_PRESSURE_CHECK_INTERVAL", "1m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.MaxMemoryMB != 16 {
		t.Errorf("max memory MB = %d, want 16 from env", cfg.Cache.MaxMemoryMB)
	}
	if cfg.Audio.DeleteAgeDays != 120 {
		t.Errorf("delete age = %d, want 120 from env", cfg.Audio.DeleteAgeDays)
	}
	if cfg.Pressure.CheckInterval != time.Minute {
		t.Errorf("check interval = %v, want 1m from env", cfg.Pressure.CheckInterval)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  max_memory_mb: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MNEMO_CACHE_MAX_MEMORY_MB", "32")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.MaxMemoryMB != 32 {
		t.Errorf("max memory MB = %d, want env override 32", cfg.Cache.MaxMemoryMB)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mnemo.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	// The written file loads back to the defaults.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written config: %v", err)
	}
	if *cfg != *Default() {
		t.Error("written config does not round-trip to the defaults")
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault must refuse to overwrite an existing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }},
		{"empty audio dir", func(c *Config) { c.Audio.Dir = "" }},
		{"zero memory items", func(c *Config) { c.Cache.MaxMemoryItems = 0 }},
		{"negative memory cap", func(c *Config) { c.Cache.MaxMemoryMB = -1 }},
		{"critical above low", func(c *Config) { c.Audio.CriticalMB = 600 }},
		{"compress after delete", func(c *Config) { c.Audio.CompressAgeDays = 120 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
