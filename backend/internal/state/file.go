package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// fileDocument is the on-disk layout of the file backend: one JSON document
// holding every record, rewritten atomically on each mutation.
type fileDocument struct {
	States map[string]json.RawMessage `json:"states"`
}

// FileStore is the default backend: a single-file JSON document store. All
// reads are served from memory; every mutation rewrites the file through an
// atomic rename so a crash never leaves a torn document behind.
type FileStore struct {
	path string
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewFileStore opens (or creates) the document at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	s := &FileStore{path: path, data: make(map[string]json.RawMessage)}

	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if doc.States != nil {
		s.data = doc.States
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	s.data[key] = stored
	return s.flushLocked()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

func (s *FileStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []Entry
	for key, raw := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		value := make([]byte, len(raw))
		copy(value, raw)
		entries = append(entries, Entry{Key: key, Value: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flushLocked() error {
	buf, err := json.MarshalIndent(fileDocument{States: s.data}, "", "  ")
	if err != nil {
		return err
	}
	// renameio writes a temp file, fsyncs and renames it over the target, so
	// readers never observe a half-written document.
	return renameio.WriteFile(s.path, buf, 0o644)
}
