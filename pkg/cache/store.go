package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// storeVersion is bumped whenever the persisted layout changes.
const storeVersion = 1

// ErrStale is returned when a persisted store was written for another
// configuration or layout version.
var ErrStale = errors.New("cache: stale store")

// Store is a persisted key to value map. It is written as a zstd compressed
// msgpack document tagged with a configuration fingerprint, so a store written
// under another configuration is discarded on open.
type Store[V any] struct {
	path        string
	fingerprint uint64

	mu      sync.RWMutex
	entries map[string]V
	dirty   bool
}

type storeFile[V any] struct {
	Version     int          `msgpack:"version"`
	Fingerprint uint64       `msgpack:"fingerprint"`
	Entries     map[string]V `msgpack:"entries"`
}

// OpenStore loads the store at path. A missing or stale file yields an empty
// store. Corrupt files are reported.
func OpenStore[V any](path string, fingerprint uint64) (*Store[V], error) {
	s := &Store[V]{
		path:        path,
		fingerprint: fingerprint,
		entries:     make(map[string]V),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	entries, err := readStore[V](f, fingerprint)
	if errors.Is(err, ErrStale) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to decode cache %s: %w", path, err)
	}
	s.entries = entries
	return s, nil
}

func readStore[V any](r io.Reader, fingerprint uint64) (map[string]V, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var file storeFile[V]
	if err := msgpack.NewDecoder(dec).Decode(&file); err != nil {
		return nil, err
	}
	if file.Version != storeVersion || file.Fingerprint != fingerprint {
		return nil, ErrStale
	}
	if file.Entries == nil {
		file.Entries = make(map[string]V)
	}
	return file.Entries, nil
}

// Path returns the file backing the store.
func (s *Store[V]) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stores value under key.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	s.dirty = true
}

// Delete removes key.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.dirty = true
	}
}

// Retain drops every entry whose key is not accepted by keep.
func (s *Store[V]) Retain(keep func(key string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.entries {
		if !keep(key) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the sorted keys.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the store if it changed since it was opened or last saved.
// The file is replaced atomically.
func (s *Store[V]) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *Store[V]) write(w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	file := storeFile[V]{
		Version:     storeVersion,
		Fingerprint: s.fingerprint,
		Entries:     s.entries,
	}
	if err := msgpack.NewEncoder(enc).Encode(&file); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}
