// Package storage is the composition root of the storage core. It builds
// one pressure monitor, one tiered cache and one audio lifecycle manager
// per application context and wires pressure transitions to eviction and
// cleanup — explicit dependency injection, no package-level singletons.
package storage

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mnemo-app/mnemo/internal/audiostore"
	"github.com/mnemo-app/mnemo/internal/cache"
	"github.com/mnemo-app/mnemo/internal/config"
	"github.com/mnemo-app/mnemo/internal/pressure"
)

// Storage bundles the storage core components. The cache and the audio
// manager are independent of each other; both react only to the monitor's
// published pressure level.
type Storage struct {
	Monitor *pressure.Monitor
	Cache   *cache.Store
	Audio   *audiostore.Manager

	logger *log.Logger
}

// Open constructs and starts the storage core. A nil source selects the
// OS-backed one; tests inject a pressure.FakeSource to drive eviction
// deterministically.
func Open(cfg *config.Config, source pressure.Source, logger *log.Logger) (*Storage, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}

	store, err := cache.NewStore(cacheConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	audio, err := audiostore.NewManager(audioConfig(cfg), logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open audio store: %w", err)
	}

	if source == nil {
		source, err = pressure.NewSystemSource(cfg.Audio.Dir)
		if err != nil {
			audio.Close()
			store.Close()
			return nil, fmt.Errorf("failed to create pressure source: %w", err)
		}
	}
	monitor := pressure.NewMonitor(source, cfg.Pressure.CheckInterval, logger)

	// Pressure fan-out: the cache sheds memory, the audio manager runs an
	// immediate cleanup. Both ignore the return to normal.
	monitor.Subscribe(func(level pressure.Level) {
		if level == pressure.LevelNormal {
			return
		}
		store.HandlePressure()
		audio.HandlePressure(level)
	})

	monitor.StartMonitoring()
	audio.Start()

	return &Storage{
		Monitor: monitor,
		Cache:   store,
		Audio:   audio,
		logger:  logger,
	}, nil
}

// Close shuts the components down in reverse dependency order.
func (s *Storage) Close() error {
	s.Monitor.StopMonitoring()

	if err := s.Audio.Close(); err != nil {
		s.logger.Warn("audio store close failed", "error", err)
	}

	return s.Cache.Close()
}

func cacheConfig(cfg *config.Config) *cache.Config {
	return &cache.Config{
		Dir:              cfg.Cache.Dir,
		MaxMemoryItems:   cfg.Cache.MaxMemoryItems,
		MaxMemoryBytes:   int64(cfg.Cache.MaxMemoryMB) * 1024 * 1024,
		MaxDurableBytes:  int64(cfg.Cache.MaxDurableMB) * 1024 * 1024,
		CompressionLevel: cfg.Cache.CompressionLevel,
		SweepInterval:    cfg.Cache.SweepInterval,
	}
}

func audioConfig(cfg *config.Config) *audiostore.Config {
	return &audiostore.Config{
		Dir:                       cfg.Audio.Dir,
		LowStorageBytes:           uint64(cfg.Audio.LowStorageMB) * 1024 * 1024,
		CriticalStorageBytes:      uint64(cfg.Audio.CriticalMB) * 1024 * 1024,
		CompressAge:               time.Duration(cfg.Audio.CompressAgeDays) * 24 * time.Hour,
		DeleteAge:                 time.Duration(cfg.Audio.DeleteAgeDays) * 24 * time.Hour,
		MaxConcurrentCompressions: 2,
		CompressionLevel:          cfg.Audio.CompressionLevel,
		CleanupInterval:           cfg.Audio.CleanupInterval,
		CleanupCooldown:           cfg.Audio.CleanupCooldown,
		TempSuffixes:              audiostore.DefaultConfig().TempSuffixes,
	}
}
