package audiostore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// CompressOldRecordings selects up to the concurrency cap of eligible
// recordings (older than the compress age, not already compressed) and
// re-encodes each in place through a temp file and an atomic rename. One
// file's failure is logged and skipped; it never aborts the rest of the
// batch. Returns the number of recordings compressed.
func (m *Manager) CompressOldRecordings(ctx context.Context) (int, error) {
	candidates, err := m.compressionCandidates()
	if err != nil {
		return 0, err
	}

	limit := m.config.MaxConcurrentCompressions
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		compressed int
	)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(f FileInfo) {
			defer wg.Done()
			replaced, err := m.compressFile(ctx, f)
			if err != nil {
				m.logger.Warn("failed to compress recording", "path", f.Path, "error", err)
				return
			}
			if replaced {
				mu.Lock()
				compressed++
				mu.Unlock()
			}
		}(candidate)
	}
	wg.Wait()

	if compressed > 0 {
		m.invalidateTotals()
	}
	return compressed, nil
}

// compressUntilComfortable repeats small compression batches while free
// storage stays under the low threshold, re-measuring freed space after
// each batch. Returns the total number of recordings compressed.
func (m *Manager) compressUntilComfortable(ctx context.Context) int {
	total := 0
	for {
		if ctx.Err() != nil {
			return total
		}

		n, err := m.CompressOldRecordings(ctx)
		if err != nil {
			m.logger.Warn("compression pass failed", "error", err)
			return total
		}
		total += n
		if n == 0 {
			return total // No eligible candidates remain.
		}

		free, err := m.freeSpace()
		if err != nil || free >= m.config.LowStorageBytes {
			return total
		}
	}
}

// compressionCandidates returns eligible recordings, oldest first.
func (m *Manager) compressionCandidates() ([]FileInfo, error) {
	files, err := m.scanRecordings()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-m.config.CompressAge)
	eligible := files[:0]
	for _, f := range files {
		if !f.Compressed && f.CreatedAt.Before(cutoff) {
			eligible = append(eligible, f)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible, nil
}

// compressFile re-encodes one recording in place and reports whether the
// original was replaced. The compressed bytes go to a temp file first and
// atomically replace the original, so a crash or cancellation mid-write
// never leaves a partial file under the recording's name. Recordings that
// do not shrink are left as they were.
func (m *Manager) compressFile(ctx context.Context, f FileInfo) (bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return false, err
	}

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	compressed := m.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		m.logger.Debug("recording does not shrink, leaving uncompressed", "path", f.Path)
		return false, nil
	}

	tempPath := f.Path + ".zst.tmp"
	if err := os.WriteFile(tempPath, compressed, 0644); err != nil {
		os.Remove(tempPath)
		return false, err
	}

	if ctx.Err() != nil {
		// Cancelled after the temp write: abort, keep the original.
		os.Remove(tempPath)
		return false, ctx.Err()
	}

	if err := os.Rename(tempPath, f.Path); err != nil {
		os.Remove(tempPath)
		return false, fmt.Errorf("failed to replace recording: %w", err)
	}

	// Preserve the original timestamp so age-based policies still see the
	// recording's true age.
	os.Chtimes(f.Path, f.CreatedAt, f.CreatedAt)

	m.logger.Info("compressed old recording",
		"path", f.Path,
		"before", humanize.Bytes(uint64(len(data))),
		"after", humanize.Bytes(uint64(len(compressed))))

	return true, nil
}
