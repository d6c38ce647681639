package audiostore

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const mb = 1024 * 1024

func newTestManager(t *testing.T, config *Config) *Manager {
	t.Helper()
	if config == nil {
		config = DefaultConfig()
	}
	if config.Dir == "" {
		config.Dir = t.TempDir()
	}

	m, err := NewManager(config, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func writeRecording(t *testing.T, dir, name string, data []byte, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	if age > 0 {
		stamp := time.Now().Add(-age)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("aging %s: %v", name, err)
		}
	}
	return path
}

// compressibleAudio produces bytes that zstd shrinks well.
func compressibleAudio(size int) []byte {
	return bytes.Repeat([]byte("waveform-frame-"), size/15+1)[:size]
}

// incompressibleAudio produces bytes zstd cannot shrink.
func incompressibleAudio(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("generating noise: %v", err)
	}
	return data
}

func TestManager_RemoveTemporaryFiles(t *testing.T) {
	m := newTestManager(t, nil)

	keep := writeRecording(t, m.config.Dir, "memo.wav", []byte("audio data"), 0)
	writeRecording(t, m.config.Dir, "upload.tmp", make([]byte, 100), 0)
	writeRecording(t, m.config.Dir, "rec.partial", make([]byte, 200), 0)
	writeRecording(t, m.config.Dir, "chunk.part", make([]byte, 300), 0)

	removed, freed, err := m.RemoveTemporaryFiles()
	if err != nil {
		t.Fatalf("RemoveTemporaryFiles: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if freed != 600 {
		t.Errorf("freed = %d, want 600", freed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("real recording must not be touched")
	}
}

func TestManager_CompressOldRecordings(t *testing.T) {
	m := newTestManager(t, nil)

	original := compressibleAudio(64 * 1024)
	oldPath := writeRecording(t, m.config.Dir, "old.wav", original, 40*24*time.Hour)
	fresh := writeRecording(t, m.config.Dir, "fresh.wav", compressibleAudio(4096), time.Hour)

	compressed, err := m.CompressOldRecordings(context.Background())
	if err != nil {
		t.Fatalf("CompressOldRecordings: %v", err)
	}
	if compressed != 1 {
		t.Errorf("compressed = %d, want 1", compressed)
	}

	// The old recording is replaced in place with a zstd frame.
	data, err := os.ReadFile(oldPath)
	if err != nil {
		t.Fatalf("reading compressed recording: %v", err)
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		t.Error("compressed recording missing zstd frame magic")
	}
	if len(data) >= len(original) {
		t.Errorf("compressed size %d not smaller than original %d", len(data), len(original))
	}

	// Round trip: the payload decodes back to the original audio.
	decoded, err := m.decoder.DecodeAll(data, nil)
	if err != nil {
		t.Fatalf("decoding recording: %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Error("decoded audio differs from the original")
	}

	// Age policy preserved: the replacement keeps the original timestamp.
	info, err := os.Stat(oldPath)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) < 39*24*time.Hour {
		t.Error("compressed recording lost its original age")
	}

	// Young recordings are never touched.
	if data, _ := os.ReadFile(fresh); bytes.HasPrefix(data, zstdMagic) {
		t.Error("fresh recording should not have been compressed")
	}
}

func TestManager_CompressSkipsAlreadyCompressed(t *testing.T) {
	m := newTestManager(t, nil)

	frame := m.encoder.EncodeAll(compressibleAudio(32*1024), nil)
	writeRecording(t, m.config.Dir, "done.wav", frame, 60*24*time.Hour)

	compressed, err := m.CompressOldRecordings(context.Background())
	if err != nil {
		t.Fatalf("CompressOldRecordings: %v", err)
	}
	if compressed != 0 {
		t.Errorf("compressed = %d, want 0: file already carries a zstd frame", compressed)
	}
}

func TestManager_CompressFailureDoesNotAbortBatch(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores permission bits")
	}
	m := newTestManager(t, nil)

	writeRecording(t, m.config.Dir, "ok.wav", compressibleAudio(32*1024), 40*24*time.Hour)
	unreadable := writeRecording(t, m.config.Dir, "broken.wav", compressibleAudio(32*1024), 45*24*time.Hour)
	if err := os.Chmod(unreadable, 0000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(unreadable, 0644) })

	compressed, err := m.CompressOldRecordings(context.Background())
	if err != nil {
		t.Fatalf("CompressOldRecordings: %v", err)
	}
	if compressed != 1 {
		t.Errorf("compressed = %d, want 1: the readable file must still be processed", compressed)
	}
}

func TestManager_CancelledCompressionLeavesOriginal(t *testing.T) {
	m := newTestManager(t, nil)

	original := compressibleAudio(32 * 1024)
	path := writeRecording(t, m.config.Dir, "keep.wav", original, 40*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.CompressOldRecordings(ctx); err != nil {
		t.Fatalf("CompressOldRecordings: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, original) {
		t.Error("cancelled compression must leave the original untouched")
	}
	if _, err := os.Stat(path + ".zst.tmp"); !os.IsNotExist(err) {
		t.Error("cancelled compression left a temp file behind")
	}
}

// The critical-storage scenario: free storage below the critical
// threshold with two ancient recordings. Cleanup deletes the oldest
// first and stops as soon as free storage crosses the low threshold,
// here after a single deletion.
func TestManager_CleanupDeletesOldestUntilComfortable(t *testing.T) {
	config := DefaultConfig()
	config.Dir = t.TempDir()
	config.LowStorageBytes = 4 * mb
	config.CriticalStorageBytes = 2 * mb
	m := newTestManager(t, config)

	oldest := writeRecording(t, config.Dir, "ancient.wav",
		incompressibleAudio(t, 4*mb), 100*24*time.Hour)
	younger := writeRecording(t, config.Dir, "old.wav",
		incompressibleAudio(t, 4*mb), 99*24*time.Hour)

	// Free space starts at 1MB and grows by whatever cleanup removes.
	initial := dirSize(t, config.Dir)
	m.freeSpace = func() (uint64, error) {
		return uint64(1*mb + (initial - dirSize(t, config.Dir))), nil
	}

	report, err := m.PerformCleanup(context.Background())
	if err != nil {
		t.Fatalf("PerformCleanup: %v", err)
	}

	if report.FilesDeleted != 1 {
		t.Errorf("deleted = %d, want 1", report.FilesDeleted)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("the oldest recording should have been deleted first")
	}
	if _, err := os.Stat(younger); err != nil {
		t.Error("deletion must stop once free storage is comfortable")
	}
	if report.TotalFiles != 1 {
		t.Errorf("total files = %d, want 1", report.TotalFiles)
	}
}

func TestManager_CleanupCompressesBeforeDeleting(t *testing.T) {
	config := DefaultConfig()
	config.Dir = t.TempDir()
	config.LowStorageBytes = 4 * mb
	config.CriticalStorageBytes = 1 * mb
	m := newTestManager(t, config)

	// One highly compressible old recording: compression alone frees
	// enough space that the deletion stage never runs.
	path := writeRecording(t, config.Dir, "verbose.wav",
		compressibleAudio(6*mb), 50*24*time.Hour)

	initial := dirSize(t, config.Dir)
	m.freeSpace = func() (uint64, error) {
		return uint64(2*mb + (initial - dirSize(t, config.Dir))), nil
	}

	report, err := m.PerformCleanup(context.Background())
	if err != nil {
		t.Fatalf("PerformCleanup: %v", err)
	}

	if report.FilesCompressed != 1 {
		t.Errorf("compressed = %d, want 1", report.FilesCompressed)
	}
	if report.FilesDeleted != 0 {
		t.Errorf("deleted = %d, want 0: compression freed enough", report.FilesDeleted)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("recording should survive as a compressed file")
	}
}

func TestManager_CleanupShortCircuitsWhenRunning(t *testing.T) {
	m := newTestManager(t, nil)

	m.cleanupInFlight.Store(true)
	defer m.cleanupInFlight.Store(false)

	if _, err := m.PerformCleanup(context.Background()); err != ErrCleanupRunning {
		t.Errorf("err = %v, want ErrCleanupRunning", err)
	}
}

func TestManager_CleanupFailsWhenRootUnreadable(t *testing.T) {
	config := DefaultConfig()
	config.Dir = filepath.Join(t.TempDir(), "audio")
	m := newTestManager(t, config)

	if err := os.RemoveAll(config.Dir); err != nil {
		t.Fatal(err)
	}

	if _, err := m.PerformCleanup(context.Background()); err == nil {
		t.Error("cleanup must propagate a hard failure when the root cannot be enumerated")
	}
}

func TestManager_Totals(t *testing.T) {
	m := newTestManager(t, nil)

	writeRecording(t, m.config.Dir, "a.wav", make([]byte, 100), 0)
	writeRecording(t, m.config.Dir, "b.wav", make([]byte, 250), 0)
	writeRecording(t, m.config.Dir, "junk.tmp", make([]byte, 999), 0)

	files, bytes := m.Totals()
	if files != 2 {
		t.Errorf("files = %d, want 2 (temp files excluded)", files)
	}
	if bytes != 350 {
		t.Errorf("bytes = %d, want 350", bytes)
	}

	// A new recording invalidates the cached aggregate.
	writeRecording(t, m.config.Dir, "c.wav", make([]byte, 50), 0)
	m.invalidateTotals()

	files, bytes = m.Totals()
	if files != 3 || bytes != 400 {
		t.Errorf("totals = %d/%d, want 3/400", files, bytes)
	}
}

func TestManager_StartStopIdempotent(t *testing.T) {
	config := DefaultConfig()
	config.Dir = t.TempDir()
	config.CleanupInterval = 10 * time.Millisecond
	m := newTestManager(t, config)

	m.Start()
	m.Start() // No-op.
	m.Stop()
	m.Stop() // Safe to repeat.
}

func dirSize(t *testing.T, dir string) int64 {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			total += info.Size()
		}
	}
	return total
}
