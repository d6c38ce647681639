package audiostore

import (
	"errors"
	"time"
)

var (
	// ErrCleanupRunning is returned when a cleanup pass is already in
	// flight; concurrent requests short-circuit instead of queueing
	ErrCleanupRunning = errors.New("cleanup already in progress")
)

// FileInfo describes one durable recording. It is recomputed by directory
// scan and never persisted as metadata.
type FileInfo struct {
	Path       string
	Size       int64
	CreatedAt  time.Time
	Compressed bool
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	TempFilesRemoved int
	TempBytesFreed   int64
	FilesCompressed  int
	FilesDeleted     int
	BytesDeleted     int64
	TotalFiles       int
	TotalBytes       int64
}

// Config holds configuration for the audio lifecycle manager.
type Config struct {
	// Dir is the storage root holding recordings
	Dir string

	// Storage thresholds
	LowStorageBytes      uint64 // Below this, compress old recordings
	CriticalStorageBytes uint64 // Below this, delete old recordings

	// Age policies
	CompressAge time.Duration // Recordings older than this are compressible
	DeleteAge   time.Duration // Recordings older than this are deletable

	// MaxConcurrentCompressions bounds the compression worker pool
	MaxConcurrentCompressions int

	// CompressionLevel is the zstd level for re-encoded recordings
	CompressionLevel int

	// Cleanup cadence
	CleanupInterval time.Duration // Periodic timer
	CleanupCooldown time.Duration // Minimum gap between timed cleanups

	// TempSuffixes are filename patterns indicating incomplete writes
	TempSuffixes []string
}

// DefaultConfig returns the default audio lifecycle configuration.
func DefaultConfig() *Config {
	return &Config{
		LowStorageBytes:           500 * 1024 * 1024,
		CriticalStorageBytes:      100 * 1024 * 1024,
		CompressAge:               30 * 24 * time.Hour,
		DeleteAge:                 90 * 24 * time.Hour,
		MaxConcurrentCompressions: 2,
		CompressionLevel:          3,
		CleanupInterval:           30 * time.Second,
		CleanupCooldown:           time.Hour,
		TempSuffixes:              []string{".tmp", ".partial", ".part"},
	}
}
