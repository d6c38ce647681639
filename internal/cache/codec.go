package cache

import (
	"bytes"
	"encoding/gob"
)

// The store itself is payload-agnostic: it moves opaque bytes. These
// helpers form the serialization boundary for callers with typed values.

// PutValue gob-encodes v and stores the bytes under key. An encode failure
// follows the store's silent-degrade policy: it is counted and logged, and
// the value is simply not cached.
func PutValue[T any](s *Store, key string, category Category, v T) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		s.mu.Lock()
		s.errorCount++
		s.mu.Unlock()
		s.logger.Warn("failed to encode cache value", "key", key, "error", err)
		return
	}
	s.Set(key, category, buf.Bytes())
}

// GetValue retrieves and gob-decodes a value stored with PutValue. A decode
// failure is a corrupt-entry condition: the entry is removed from both
// tiers and the call reports absence.
func GetValue[T any](s *Store, key string, category Category) (T, bool) {
	var v T

	data, ok := s.Get(key, category)
	if !ok {
		return v, false
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		s.logger.Warn("failed to decode cache value, removing entry",
			"key", key, "category", category.String(), "error", err)
		s.Remove(key, category)
		s.mu.Lock()
		s.errorCount++
		s.mu.Unlock()
		return v, false
	}

	return v, true
}
