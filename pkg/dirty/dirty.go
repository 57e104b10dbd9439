// Package dirty remembers file fingerprints between watch polls.
//
// A file counts as changed only when its content digest differs from the one
// recorded, so touching or re-saving a file without editing it is not a
// change. Size and modification time gate the hashing: a file whose stat is
// unchanged is never read.
package dirty

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// StateFile is the name of the persisted fingerprint file inside a cache dir.
const StateFile = "watch.state"

const stateVersion = 3

// Digest is a truncated blake3 sum of file content.
type Digest [16]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

type fingerprint struct {
	Digest  Digest `msgpack:"d"`
	Size    int64  `msgpack:"s"`
	ModTime int64  `msgpack:"m"` // Unix nanoseconds
}

type state struct {
	Version int                    `msgpack:"v"`
	Files   map[string]fingerprint `msgpack:"f"`
}

// Tracker maps absolute paths to fingerprints. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	files map[string]fingerprint
	path  string // state file, "" when not persisted
}

// New returns an empty tracker that is never persisted.
func New() *Tracker {
	return &Tracker{files: make(map[string]fingerprint)}
}

// Open returns a tracker persisted under dir, loaded with the state saved by
// a previous run. The tracker is always usable: a missing state file leaves
// it empty, and an unreadable one leaves it empty and is reported as the
// error.
func Open(dir string) (*Tracker, error) {
	t := New()
	t.path = filepath.Join(dir, StateFile)

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("opening watch state: %w", err)
	}
	defer f.Close()
	if err := t.Decode(f); err != nil {
		return t, err
	}
	return t, nil
}

// HashFile returns the content digest of the file at path.
func HashFile(path string) (Digest, error) {
	var d Digest
	f, err := os.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return d, fmt.Errorf("hashing %s: %w", path, err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Observe records the stat of path and reports whether its content changed
// since the last observation. A path seen for the first time is a change.
func (t *Tracker) Observe(path string, size int64, modTime time.Time) (bool, error) {
	path = filepath.Clean(path)
	mtime := modTime.UnixNano()

	t.mu.RLock()
	prev, known := t.files[path]
	t.mu.RUnlock()
	if known && prev.Size == size && prev.ModTime == mtime {
		return false, nil
	}

	d, err := HashFile(path)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	t.files[path] = fingerprint{Digest: d, Size: size, ModTime: mtime}
	t.mu.Unlock()
	return !known || prev.Digest != d, nil
}

// Refresh re-reads path regardless of its stat. It backs explicit change
// notifications, which are reported even when nothing differs.
func (t *Tracker) Refresh(path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	d, err := HashFile(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.files[path] = fingerprint{Digest: d, Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	t.mu.Unlock()
	return nil
}

// Digest returns the recorded digest of path.
func (t *Tracker) Digest(path string) (Digest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fp, ok := t.files[filepath.Clean(path)]
	return fp.Digest, ok
}

// Paths returns every tracked path, sorted.
func (t *Tracker) Paths() []string {
	t.mu.RLock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	t.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Forget drops path and reports whether it was tracked.
func (t *Tracker) Forget(path string) bool {
	path = filepath.Clean(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[path]
	delete(t.files, path)
	return ok
}

// Len returns the number of tracked paths.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// Save writes the state file atomically. It does nothing for a tracker
// created by New.
func (t *Tracker) Save() error {
	if t.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".watch-*")
	if err != nil {
		return fmt.Errorf("creating watch state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := t.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing watch state: %w", err)
	}
	return os.Rename(tmp.Name(), t.path)
}

// Encode writes the tracked fingerprints to w.
func (t *Tracker) Encode(w io.Writer) error {
	t.mu.RLock()
	s := state{Version: stateVersion, Files: make(map[string]fingerprint, len(t.files))}
	for p, fp := range t.files {
		s.Files[p] = fp
	}
	t.mu.RUnlock()

	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&s); err != nil {
		return fmt.Errorf("encoding watch state: %w", err)
	}
	return nil
}

// Decode replaces the tracked fingerprints with those read from r. State
// written by another format version is discarded.
func (t *Tracker) Decode(r io.Reader) error {
	var s state
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("decoding watch state: %w", err)
	}
	if s.Version != stateVersion {
		return fmt.Errorf("watch state version %d, want %d", s.Version, stateVersion)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.files = make(map[string]fingerprint, len(s.Files))
	for p, fp := range s.Files {
		t.files[p] = fp
	}
	return nil
}
