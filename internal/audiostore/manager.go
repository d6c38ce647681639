package audiostore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/zstd"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/mnemo-app/mnemo/internal/pressure"
)

// Manager owns the recording storage root. Cleanup runs on a periodic
// timer gated by a cooldown, and immediately on pressure transitions to
// warning or critical (pressure overrides the cooldown). Concurrent
// cleanup requests short-circuit rather than queue.
type Manager struct {
	config *Config
	logger *log.Logger

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// freeSpace measures free bytes at the storage root; swappable in tests
	freeSpace func() (uint64, error)

	// Re-entrancy guard for cleanup passes
	cleanupInFlight atomic.Bool

	// State guarded by mu
	mu          sync.Mutex
	lastCleanup time.Time
	totalFiles  int
	totalBytes  int64
	totalsValid bool

	// Storage-root watcher; invalidates cached totals on outside changes
	watcher *fsnotify.Watcher

	// Background loop control
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a lifecycle manager over the configured storage root,
// creating it if needed.
func NewManager(config *Config, logger *log.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("audio storage directory not configured")
	}
	if logger == nil {
		logger = log.Default()
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio storage directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.CompressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	m := &Manager{
		config:  config,
		logger:  logger,
		encoder: encoder,
		decoder: decoder,
	}
	m.freeSpace = func() (uint64, error) {
		usage, err := disk.Usage(config.Dir)
		if err != nil {
			return 0, err
		}
		return usage.Free, nil
	}

	// A failed watcher is not fatal; totals just fall back to rescans.
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(config.Dir); err == nil {
			m.watcher = watcher
		} else {
			watcher.Close()
			logger.Debug("cannot watch audio storage root", "error", err)
		}
	}

	return m, nil
}

// Start begins the periodic cleanup loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
}

// Stop cancels the loop and the storage watcher. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// Close releases the watcher and compression codecs after Stop.
func (m *Manager) Close() error {
	m.Stop()
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.decoder.Close()
	return m.encoder.Close()
}

// HandlePressure runs an immediate cleanup on a warning or critical
// transition, bypassing the cooldown: pressure is by definition urgent.
func (m *Manager) HandlePressure(level pressure.Level) {
	if level == pressure.LevelNormal {
		return
	}
	go func() {
		if _, err := m.PerformCleanup(context.Background()); err != nil && err != ErrCleanupRunning {
			m.logger.Warn("pressure-triggered cleanup failed", "error", err)
		}
	}()
}

// PerformCleanup runs one full cleanup pass: temporary-file purge, then
// compression of old recordings when storage is low, then deletion of the
// oldest recordings when storage is still critical, finishing with a
// recompute of the aggregate totals. It returns a hard error only when the
// storage root cannot be enumerated at all; every per-file failure is
// logged and skipped.
func (m *Manager) PerformCleanup(ctx context.Context) (*CleanupReport, error) {
	if !m.cleanupInFlight.CompareAndSwap(false, true) {
		return nil, ErrCleanupRunning
	}
	defer m.cleanupInFlight.Store(false)

	report := &CleanupReport{}

	removed, freed, err := m.RemoveTemporaryFiles()
	if err != nil {
		return nil, err
	}
	report.TempFilesRemoved = removed
	report.TempBytesFreed = freed

	free, err := m.freeSpace()
	if err != nil {
		m.logger.Warn("cannot measure free storage, skipping compression", "error", err)
	} else if free < m.config.LowStorageBytes {
		compressed := m.compressUntilComfortable(ctx)
		report.FilesCompressed = compressed
		free, err = m.freeSpace()
	}

	if err == nil && free < m.config.CriticalStorageBytes {
		deleted, bytes := m.deleteOldRecordings(ctx)
		report.FilesDeleted = deleted
		report.BytesDeleted = bytes
	}

	files, bytes := m.recomputeTotals()
	report.TotalFiles = files
	report.TotalBytes = bytes

	m.mu.Lock()
	m.lastCleanup = time.Now()
	m.mu.Unlock()

	m.logger.Debug("cleanup pass finished",
		"temp_removed", report.TempFilesRemoved,
		"compressed", report.FilesCompressed,
		"deleted", report.FilesDeleted,
		"total", humanize.Bytes(uint64(report.TotalBytes)))

	return report, nil
}

// RemoveTemporaryFiles deletes every file in the storage root whose name
// matches a known incomplete-write suffix, unconditionally, and returns
// the count and bytes freed.
func (m *Manager) RemoveTemporaryFiles() (int, int64, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return 0, 0, fmt.Errorf("cannot enumerate audio storage: %w", err)
	}

	removed := 0
	var freed int64
	for _, entry := range entries {
		if entry.IsDir() || !m.isTempName(entry.Name()) {
			continue
		}

		path := filepath.Join(m.config.Dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// File vanished mid-scan; move on.
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove temporary file", "path", path, "error", err)
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		m.invalidateTotals()
		m.logger.Info("removed temporary audio files",
			"count", removed, "freed", humanize.Bytes(uint64(freed)))
	}

	return removed, freed, nil
}

// Totals returns the aggregate recording count and bytes, rescanning only
// when the cached value has been invalidated.
func (m *Manager) Totals() (int, int64) {
	m.drainWatcher()

	m.mu.Lock()
	if m.totalsValid {
		files, bytes := m.totalFiles, m.totalBytes
		m.mu.Unlock()
		return files, bytes
	}
	m.mu.Unlock()

	return m.recomputeTotals()
}

// deleteOldRecordings removes recordings older than the delete age,
// oldest first, stopping as soon as free storage crosses back above the
// low-storage threshold.
func (m *Manager) deleteOldRecordings(ctx context.Context) (int, int64) {
	files, err := m.scanRecordings()
	if err != nil {
		m.logger.Warn("cannot scan recordings for deletion", "error", err)
		return 0, 0
	}

	cutoff := time.Now().Add(-m.config.DeleteAge)
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})

	deleted := 0
	var bytes int64
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if !f.CreatedAt.Before(cutoff) {
			break // Sorted oldest-first; nothing later qualifies either.
		}

		if err := os.Remove(f.Path); err != nil {
			m.logger.Warn("failed to delete old recording", "path", f.Path, "error", err)
			continue
		}
		deleted++
		bytes += f.Size
		m.invalidateTotals()
		m.logger.Info("deleted old recording under storage pressure",
			"path", f.Path, "size", humanize.Bytes(uint64(f.Size)))

		if free, err := m.freeSpace(); err == nil && free > m.config.LowStorageBytes {
			break
		}
	}

	return deleted, bytes
}

// loop runs periodic cleanups gated by the cooldown.
func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			due := time.Since(m.lastCleanup) >= m.config.CleanupCooldown
			m.mu.Unlock()
			if !due {
				continue
			}
			if _, err := m.PerformCleanup(context.Background()); err != nil && err != ErrCleanupRunning {
				m.logger.Warn("periodic cleanup failed", "error", err)
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) isTempName(name string) bool {
	for _, suffix := range m.config.TempSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (m *Manager) invalidateTotals() {
	m.mu.Lock()
	m.totalsValid = false
	m.mu.Unlock()
}

// drainWatcher consumes pending filesystem events; any event means the
// cached totals may be stale.
func (m *Manager) drainWatcher() {
	if m.watcher == nil {
		return
	}
	for {
		select {
		case _, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.invalidateTotals()
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// recomputeTotals rescans the storage root and refreshes the aggregate.
func (m *Manager) recomputeTotals() (int, int64) {
	files, err := m.scanRecordings()
	if err != nil {
		m.logger.Warn("cannot recompute storage totals", "error", err)
		return 0, 0
	}

	count := len(files)
	var bytes int64
	for _, f := range files {
		bytes += f.Size
	}

	m.mu.Lock()
	m.totalFiles = count
	m.totalBytes = bytes
	m.totalsValid = true
	m.mu.Unlock()

	return count, bytes
}
