package audiostore

import (
	"bytes"
	"os"
	"path/filepath"
)

// zstdMagic starts every zstd frame; it marks already-compressed
// recordings during a scan.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// scanRecordings enumerates the storage root and describes every
// recording, skipping temporary files. A file that vanishes mid-scan is
// skipped, not an error; only a failure to enumerate the root propagates.
func (m *Manager) scanRecordings() ([]FileInfo, error) {
	entries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || m.isTempName(entry.Name()) {
			continue
		}

		path := filepath.Join(m.config.Dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:       path,
			Size:       info.Size(),
			CreatedAt:  info.ModTime(),
			Compressed: isCompressedFile(path),
		})
	}

	return files, nil
}

// isCompressedFile sniffs the zstd frame magic. Unreadable files report
// as compressed so they are never re-encoded.
func isCompressedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	header := make([]byte, len(zstdMagic))
	n, err := f.Read(header)
	if err != nil || n < len(zstdMagic) {
		return false
	}
	return bytes.Equal(header, zstdMagic)
}
