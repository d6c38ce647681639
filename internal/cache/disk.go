package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

// entryFileExt is the suffix of durable record files.
const entryFileExt = ".entry"

// DurableTier implements the filesystem-backed cache tier. Entries are
// stored one gob record per key, namespaced by a directory per category.
// Each record carries the payload plus its TTL and access metadata, so a
// cold process restart rehydrates expiry correctly without a separate
// index file.
type DurableTier struct {
	basePath string
	maxBytes int64
	size     int64 // Bytes on disk across all records

	// Compression
	enableCompression bool
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder

	// In-memory index rebuilt from a category scan at open
	index map[string]*durableEntry

	// Synchronization
	mu sync.Mutex

	// Metrics
	hits      int64
	misses    int64
	evictions int64

	logger *log.Logger
}

// durableEntry is the index view of one on-disk record.
type durableEntry struct {
	Key          string
	Category     Category
	FilePath     string
	DiskSize     int64 // Size of the record file (post-compression)
	PayloadSize  int64 // Original payload size
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// entryRecord is the gob envelope written to disk for each key.
type entryRecord struct {
	Key          string
	Category     Category
	Payload      []byte
	Compressed   bool
	PayloadSize  int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// NewDurableTier opens (or creates) a durable tier rooted at basePath and
// rebuilds its index by scanning every category directory. Corrupt records
// found during the scan are deleted.
func NewDurableTier(basePath string, maxBytes int64, compressionLevel int, logger *log.Logger) (*DurableTier, error) {
	if logger == nil {
		logger = log.Default()
	}

	dt := &DurableTier{
		basePath:          basePath,
		maxBytes:          maxBytes,
		enableCompression: compressionLevel > 0,
		index:             make(map[string]*durableEntry),
		logger:            logger,
	}

	for _, category := range Categories() {
		if err := os.MkdirAll(dt.categoryDir(category), 0755); err != nil {
			return nil, fmt.Errorf("failed to create category directory: %w", err)
		}
	}

	if dt.enableCompression {
		var err error
		dt.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}

		dt.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	dt.rebuildIndex()

	return dt, nil
}

// Get retrieves an entry from disk. A corrupt record is deleted and
// reported as absent; expiry is the caller's decision so the store can
// record it as a distinct miss.
func (dt *DurableTier) Get(category Category, key string) (*Entry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	idx, ok := dt.index[tierKey(category, key)]
	if !ok {
		dt.misses++
		return nil, false
	}

	rec, err := dt.readRecord(idx.FilePath)
	if err != nil {
		// File vanished or corrupted; self-heal by dropping the entry.
		dt.logger.Debug("dropping unreadable cache record",
			"category", category.String(), "key", key, "error", err)
		dt.removeIndexed(idx)
		dt.misses++
		return nil, false
	}

	// Access metadata is tracked in the index only; the on-disk record
	// keeps the creation and expiry times that matter across restarts.
	idx.AccessCount++
	idx.LastAccessed = time.Now()

	dt.hits++
	return recordToEntry(rec, idx), true
}

// Put writes an entry as one atomic record, evicting the oldest entries by
// last access if the tier would exceed its capacity.
func (dt *DurableTier) Put(entry *Entry) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	rec := &entryRecord{
		Key:          entry.Key,
		Category:     entry.Category,
		Payload:      entry.Payload,
		PayloadSize:  entry.Size,
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.ExpiresAt,
		AccessCount:  entry.AccessCount,
		LastAccessed: entry.LastAccessed,
	}

	// Compress payloads over 1KB, and only when it actually shrinks them.
	if dt.enableCompression && entry.Size > 1024 {
		compressed := dt.encoder.EncodeAll(entry.Payload, nil)
		if len(compressed) < len(entry.Payload) {
			rec.Payload = compressed
			rec.Compressed = true
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	diskSize := int64(buf.Len())
	if diskSize > dt.maxBytes {
		return ErrItemTooLarge
	}

	k := tierKey(entry.Category, entry.Key)
	if existing, ok := dt.index[k]; ok {
		dt.size -= existing.DiskSize
		delete(dt.index, k)
	}

	for dt.size+diskSize > dt.maxBytes && len(dt.index) > 0 {
		dt.evictOldest()
	}

	filePath := dt.entryPath(entry.Category, entry.Key)
	if err := writeFileAtomic(filePath, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write cache record: %w", err)
	}

	dt.index[k] = &durableEntry{
		Key:          entry.Key,
		Category:     entry.Category,
		FilePath:     filePath,
		DiskSize:     diskSize,
		PayloadSize:  entry.Size,
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.ExpiresAt,
		AccessCount:  entry.AccessCount,
		LastAccessed: entry.LastAccessed,
	}
	dt.size += diskSize

	return nil
}

// Contains checks presence without reading the record.
func (dt *DurableTier) Contains(category Category, key string) bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	_, ok := dt.index[tierKey(category, key)]
	return ok
}

// Remove deletes an entry's record; absent keys are a no-op.
func (dt *DurableTier) Remove(category Category, key string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if idx, ok := dt.index[tierKey(category, key)]; ok {
		dt.removeIndexed(idx)
	}
}

// ClearCategory deletes every record in the category and recreates its
// directory so subsequent writes succeed.
func (dt *DurableTier) ClearCategory(category Category) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for k, idx := range dt.index {
		if idx.Category == category {
			dt.size -= idx.DiskSize
			delete(dt.index, k)
		}
	}

	dir := dt.categoryDir(category)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear category directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to recreate category directory: %w", err)
	}

	return nil
}

// SweepExpired deletes every record whose TTL has passed and returns the
// number removed. Unreadable records encountered on the way are deleted
// as a side effect.
func (dt *DurableTier) SweepExpired(now time.Time) int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	removed := 0
	for _, idx := range dt.index {
		if !now.Before(idx.ExpiresAt) {
			dt.removeIndexed(idx)
			removed++
		}
	}
	return removed
}

// Items returns the current record count.
func (dt *DurableTier) Items() int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return len(dt.index)
}

// Bytes returns the current size on disk.
func (dt *DurableTier) Bytes() int64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	return dt.size
}

// Close releases the compression codecs.
func (dt *DurableTier) Close() error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if dt.encoder != nil {
		if err := dt.encoder.Close(); err != nil {
			return err
		}
	}
	if dt.decoder != nil {
		dt.decoder.Close()
	}
	return nil
}

// Private helper methods

func (dt *DurableTier) categoryDir(category Category) string {
	return filepath.Join(dt.basePath, category.String())
}

func (dt *DurableTier) entryPath(category Category, key string) string {
	// Use SHA256 hash of key for filename; the key itself lives in the record.
	hash := sha256.Sum256([]byte(key))
	filename := hex.EncodeToString(hash[:16]) + entryFileExt
	return filepath.Join(dt.categoryDir(category), filename)
}

// readRecord reads and decodes one record file, decompressing the payload.
func (dt *DurableTier) readRecord(path string) (*entryRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec entryRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntryCorrupted, err)
	}

	if rec.Compressed {
		if dt.decoder == nil {
			return nil, ErrEntryCorrupted
		}
		payload, err := dt.decoder.DecodeAll(rec.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntryCorrupted, err)
		}
		rec.Payload = payload
	}

	return &rec, nil
}

func recordToEntry(rec *entryRecord, idx *durableEntry) *Entry {
	return &Entry{
		Key:          rec.Key,
		Category:     rec.Category,
		Payload:      rec.Payload,
		Size:         rec.PayloadSize,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		AccessCount:  idx.AccessCount,
		LastAccessed: idx.LastAccessed,
	}
}

// removeIndexed drops an entry from index and disk (lock must be held).
func (dt *DurableTier) removeIndexed(idx *durableEntry) {
	os.Remove(idx.FilePath)
	dt.size -= idx.DiskSize
	delete(dt.index, tierKey(idx.Category, idx.Key))
}

// evictOldest removes the entry with the oldest last access (lock held).
func (dt *DurableTier) evictOldest() {
	var oldest *durableEntry
	for _, idx := range dt.index {
		if oldest == nil || idx.LastAccessed.Before(oldest.LastAccessed) {
			oldest = idx
		}
	}
	if oldest != nil {
		dt.removeIndexed(oldest)
		dt.evictions++
	}
}

// rebuildIndex scans every category directory and decodes each record's
// metadata. Records that fail to decode are deleted.
func (dt *DurableTier) rebuildIndex() {
	dt.size = 0
	for _, category := range Categories() {
		dir := dt.categoryDir(category)
		files, err := os.ReadDir(dir)
		if err != nil {
			dt.logger.Warn("cannot scan category directory",
				"dir", dir, "error", err)
			continue
		}

		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != entryFileExt {
				continue
			}
			path := filepath.Join(dir, f.Name())

			rec, err := dt.readRecord(path)
			if err != nil {
				dt.logger.Debug("deleting unreadable cache record",
					"path", path, "error", err)
				os.Remove(path)
				continue
			}

			info, err := f.Info()
			if err != nil {
				continue
			}

			dt.index[tierKey(rec.Category, rec.Key)] = &durableEntry{
				Key:          rec.Key,
				Category:     rec.Category,
				FilePath:     path,
				DiskSize:     info.Size(),
				PayloadSize:  rec.PayloadSize,
				CreatedAt:    rec.CreatedAt,
				ExpiresAt:    rec.ExpiresAt,
				AccessCount:  rec.AccessCount,
				LastAccessed: rec.LastAccessed,
			}
			dt.size += info.Size()
		}
	}
}

// writeFileAtomic writes to a temp file first, then renames into place.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
