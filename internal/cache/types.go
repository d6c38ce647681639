package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds a tier's capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrEntryCorrupted is returned when a durable record cannot be decoded
	ErrEntryCorrupted = errors.New("cache entry corrupted")

	// ErrUnknownCategory is returned for a category outside the closed set
	ErrUnknownCategory = errors.New("unknown cache category")
)

// Category identifies the kind of artifact a cache entry holds. It is part
// of the durable-tier storage path, so a whole category can be cleared at
// once. The set is closed; each member carries a fixed default TTL.
type Category int

const (
	// CategoryTranscription holds speech-to-text results (TTL 7 days)
	CategoryTranscription Category = iota

	// CategoryAnalysis holds AI analysis results (TTL 24 hours)
	CategoryAnalysis

	// CategoryAudioMetadata holds recording metadata (TTL 30 days)
	CategoryAudioMetadata

	// CategoryUserPreferences holds user settings (TTL 1 year)
	CategoryUserPreferences
)

// Categories returns every member of the closed category set.
func Categories() []Category {
	return []Category{
		CategoryTranscription,
		CategoryAnalysis,
		CategoryAudioMetadata,
		CategoryUserPreferences,
	}
}

// String returns the durable-tier namespace for the category.
func (c Category) String() string {
	switch c {
	case CategoryTranscription:
		return "transcription"
	case CategoryAnalysis:
		return "analysis"
	case CategoryAudioMetadata:
		return "audio_metadata"
	case CategoryUserPreferences:
		return "user_preferences"
	default:
		return "unknown"
	}
}

// TTL returns the category's fixed default time-to-live. Changing a TTL
// does not invalidate already-cached items until their original expiry.
func (c Category) TTL() time.Duration {
	switch c {
	case CategoryTranscription:
		return 7 * 24 * time.Hour
	case CategoryAnalysis:
		return 24 * time.Hour
	case CategoryAudioMetadata:
		return 30 * 24 * time.Hour
	case CategoryUserPreferences:
		return 365 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func (c Category) valid() bool {
	return c >= CategoryTranscription && c <= CategoryUserPreferences
}

// Entry is one cached artifact together with its lifecycle metadata.
type Entry struct {
	Key          string
	Category     Category
	Payload      []byte
	Size         int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Expired reports whether the entry's TTL has passed at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats holds cache performance metrics. It is a point-in-time projection
// recomputed from live tier scans, never authoritative state.
type Stats struct {
	// Performance counters
	MemoryHits  int64
	DurableHits int64
	Misses      int64
	Writes      int64
	Errors      int64
	HitRate     float64 // (memory + durable hits) / total lookups

	// Current tier state
	MemoryItems  int64
	MemoryBytes  int64
	DurableItems int64
	DurableBytes int64

	// Timing
	ComputedAt time.Time
}

// Config holds configuration for a tiered cache instance.
type Config struct {
	// Durable tier
	Dir             string // Root directory; one subdirectory per category
	MaxDurableBytes int64  // Durable capacity in bytes

	// Memory tier
	MaxMemoryItems int   // Item cap for the memory tier
	MaxMemoryBytes int64 // Byte cap for the memory tier

	// CompressionLevel is the zstd level for durable payloads (0 disables)
	CompressionLevel int

	// SweepInterval controls the background TTL sweep (0 disables)
	SweepInterval time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxDurableBytes:  1024 * 1024 * 1024, // 1GB
		MaxMemoryItems:   100,
		MaxMemoryBytes:   50 * 1024 * 1024, // 50MB
		CompressionLevel: 3,                // Balanced compression
		SweepInterval:    time.Hour,
	}
}
