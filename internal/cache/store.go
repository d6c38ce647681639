package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// pressureEvictFraction is the share of memory-tier entries shed when the
// system reports pressure. The durable tier is untouched; disk pressure is
// the audio lifecycle manager's job.
const pressureEvictFraction = 0.30

// Store coordinates the memory and durable tiers. Every public operation
// funnels through one lock so concurrent callers queue instead of racing;
// reads never surface I/O or decode errors, they just report absence.
type Store struct {
	memory  *MemoryTier
	durable *DurableTier

	config *Config
	logger *log.Logger

	// Serialized-access boundary for tier coordination and counters
	mu sync.Mutex

	// Counters (guarded by mu)
	memoryHits  int64
	durableHits int64
	misses      int64
	writes      int64
	errorCount  int64

	// Background sweep control
	sweepStop chan struct{}
	sweepWg   sync.WaitGroup

	// Clock, swappable in tests
	now func() time.Time
}

// NewStore creates a tiered cache from the configuration. A background TTL
// sweep starts when SweepInterval is positive.
func NewStore(config *Config, logger *log.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("cache directory not configured")
	}
	if logger == nil {
		logger = log.Default()
	}

	durable, err := NewDurableTier(config.Dir, config.MaxDurableBytes, config.CompressionLevel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create durable tier: %w", err)
	}

	s := &Store{
		memory:    NewMemoryTier(config.MaxMemoryItems, config.MaxMemoryBytes),
		durable:   durable,
		config:    config,
		logger:    logger,
		sweepStop: make(chan struct{}),
		now:       time.Now,
	}

	if config.SweepInterval > 0 {
		s.startSweepRoutine()
	}

	return s, nil
}

// Set stores a payload under key. The entry is always durably persisted;
// it additionally lands in the memory tier when admission fits the caps.
// Failures are logged and counted, never surfaced: callers treat a failed
// set as "not yet cached" and may retry later.
func (s *Store) Set(key string, category Category, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !category.valid() {
		s.errorCount++
		s.logger.Error("set with unknown category", "key", key, "category", int(category))
		return
	}

	now := s.now()
	entry := &Entry{
		Key:          key,
		Category:     category,
		Payload:      payload,
		Size:         int64(len(payload)),
		CreatedAt:    now,
		ExpiresAt:    now.Add(category.TTL()),
		LastAccessed: now,
	}

	if err := s.durable.Put(entry); err != nil {
		s.errorCount++
		s.logger.Warn("durable cache write failed",
			"key", key, "category", category.String(),
			"size", humanize.Bytes(uint64(entry.Size)), "error", err)
		return
	}

	s.memory.Put(entry)
	s.writes++
}

// Get retrieves a payload. The memory tier is checked first; a durable hit
// promotes the entry back into memory at the most-recently-used position.
// Expired entries are deleted on access and reported as misses, and a
// corrupt durable record is deleted and treated the same way.
func (s *Store) Get(key string, category Category) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if entry, ok := s.memory.Get(category, key, now); ok {
		s.memoryHits++
		return entry.Payload, true
	}

	entry, ok := s.durable.Get(category, key)
	if !ok {
		s.misses++
		return nil, false
	}
	if entry.Expired(now) {
		s.durable.Remove(category, key)
		s.misses++
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessed = now
	s.memory.Put(entry)
	s.durableHits++

	return entry.Payload, true
}

// Remove deletes the key from both tiers. Idempotent.
func (s *Store) Remove(key string, category Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory.Remove(category, key)
	s.durable.Remove(category, key)
}

// ClearCategory removes every entry tagged with the category from both
// tiers and recreates the category's durable directory.
func (s *Store) ClearCategory(category Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory.RemoveCategory(category)
	if err := s.durable.ClearCategory(category); err != nil {
		s.errorCount++
		s.logger.Warn("failed to clear category", "category", category.String(), "error", err)
	}
}

// SweepExpired scans both tiers and deletes every entry past its TTL,
// returning the total removed. Corrupt durable records found along the way
// are deleted as a side effect.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := s.memory.SweepExpired(now) + s.durable.SweepExpired(now)
	if removed > 0 {
		s.logger.Debug("swept expired cache entries", "removed", removed)
	}
	return removed
}

// HandlePressure sheds roughly 30% of the memory tier's least-recently-used
// entries. The durable tier is left alone.
func (s *Store) HandlePressure() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := s.memory.EvictFraction(pressureEvictFraction)
	if evicted > 0 {
		s.logger.Info("evicted memory-tier entries under pressure",
			"evicted", evicted, "remaining", s.memory.Items())
	}
	return evicted
}

// Statistics recomputes cache statistics from live tier state.
func (s *Store) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		MemoryHits:   s.memoryHits,
		DurableHits:  s.durableHits,
		Misses:       s.misses,
		Writes:       s.writes,
		Errors:       s.errorCount,
		MemoryItems:  int64(s.memory.Items()),
		MemoryBytes:  s.memory.Bytes(),
		DurableItems: int64(s.durable.Items()),
		DurableBytes: s.durable.Bytes(),
		ComputedAt:   s.now(),
	}

	lookups := stats.MemoryHits + stats.DurableHits + stats.Misses
	if lookups > 0 {
		stats.HitRate = float64(stats.MemoryHits+stats.DurableHits) / float64(lookups)
	}

	return stats
}

// Close stops the background sweep and releases tier resources.
func (s *Store) Close() error {
	if s.config.SweepInterval > 0 {
		close(s.sweepStop)
		s.sweepWg.Wait()
	}

	return s.durable.Close()
}

// startSweepRoutine starts the background TTL sweep goroutine.
func (s *Store) startSweepRoutine() {
	ticker := time.NewTicker(s.config.SweepInterval)
	s.sweepWg.Add(1)

	go func() {
		defer s.sweepWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.SweepExpired()
			case <-s.sweepStop:
				return
			}
		}
	}()
}
