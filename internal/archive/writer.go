// Package archive keeps raw model responses that could not be decoded, so
// they can be inspected or repaired offline.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer saves raw responses under a single directory.
// Safe for concurrent use: file names carry a timestamp and a random suffix.
type Writer struct {
	dir    string
	mu     sync.Mutex
	hashes []FileHash
}

// FileHash records the SHA-256 hash of a saved response.
type FileHash struct {
	File    string    `json:"file"`
	SHA256  string    `json:"sha256"`
	Size    int       `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// Manifest lists every response saved by a Writer.
type Manifest struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Files       []FileHash `json:"files"`
}

// NewWriter creates a Writer, creating dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the archive directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes raw to response_<UTC timestamp>_<id>.txt and returns its path.
func (w *Writer) Save(raw string) (string, error) {
	now := time.Now().UTC()
	name := fmt.Sprintf("response_%s_%s.txt", now.Format("20060102T150405Z"), uuid.NewString()[:8])
	path := filepath.Join(w.dir, name)

	data := []byte(raw)
	// O_EXCL: never overwrite another pipeline's dump.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	w.mu.Lock()
	w.hashes = append(w.hashes, FileHash{
		File:    name,
		SHA256:  sha256Hex(data),
		Size:    len(data),
		SavedAt: now,
	})
	w.mu.Unlock()
	return path, nil
}

// SaveManifest writes manifest.json listing the responses saved so far.
func (w *Writer) SaveManifest() error {
	manifest := Manifest{
		GeneratedAt: time.Now().UTC(),
		Files:       w.Hashes(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(w.dir, "manifest.json"), data, 0644)
}

// Hashes returns the accumulated file hashes.
func (w *Writer) Hashes() []FileHash {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]FileHash, len(w.hashes))
	copy(cp, w.hashes)
	return cp
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
