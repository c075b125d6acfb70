// Package mediastore persists media blobs a gadget produces during a run,
// replacing an inline byte payload in a gadget result with an opaque id the
// model can reference in later turns without the bytes ever entering the
// conversation history.
package mediastore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an id the store never issued (or
// that has been evicted).
var ErrNotFound = errors.New("mediastore: id not found")

// Store is the interface the loop's S6 append_results step consults to
// persist gadget media outputs and render a reference in the result text.
// A disk-backed Store is the default; a host may substitute an
// object-storage-backed implementation behind the same interface.
type Store interface {
	Put(gadgetName, mediaType string, data []byte) (id string, err error)
	Get(id string) (data []byte, mediaType string, err error)
}

// diskStore is a session-scoped directory of media blobs, one file per
// Put call, named "<gadget>_<seq><ext>" and looked up by an opaque id
// unrelated to the filename.
type diskStore struct {
	dir string

	mu    sync.Mutex
	seq   map[string]int
	index map[string]entry
}

type entry struct {
	path      string
	mediaType string
}

// New creates (if absent) a "media-<runID>" directory under sessionDir and
// returns a Store scoped to it.
func New(sessionDir, runID string) (Store, error) {
	dir := filepath.Join(sessionDir, "media-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mediastore: create session dir: %w", err)
	}
	return &diskStore{dir: dir, seq: make(map[string]int), index: make(map[string]entry)}, nil
}

// Put writes data to a new file under the store's session directory and
// returns an opaque id referencing it. Safe for concurrent callers across
// different gadget names and invocations; writes never target the same
// path twice since each call allocates the next sequence number for its
// sanitized gadget name.
func (s *diskStore) Put(gadgetName, mediaType string, data []byte) (string, error) {
	name := sanitizeGadgetName(gadgetName)
	s.mu.Lock()
	s.seq[name]++
	seq := s.seq[name]
	s.mu.Unlock()

	filename := fmt.Sprintf("%s_%d%s", name, seq, extensionFor(mediaType))
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("mediastore: write %s: %w", filename, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.index[id] = entry{path: path, mediaType: mediaType}
	s.mu.Unlock()
	return id, nil
}

// Get reads back the bytes and media type for a previously issued id.
func (s *diskStore) Get(id string) ([]byte, string, error) {
	s.mu.Lock()
	e, ok := s.index[id]
	s.mu.Unlock()
	if !ok {
		return nil, "", ErrNotFound
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, "", fmt.Errorf("mediastore: read %s: %w", e.path, err)
	}
	return data, e.mediaType, nil
}

func sanitizeGadgetName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "gadget"
	}
	return sb.String()
}

var extensionByMediaType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"text/plain": ".txt",
	"application/pdf": ".pdf",
	"application/json": ".json",
}

func extensionFor(mediaType string) string {
	if ext, ok := extensionByMediaType[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return ".bin"
}
