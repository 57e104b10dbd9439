// Package chunk partitions the module graph into output chunks and keeps
// the chunk graph: which chunk must be loaded before which.
package chunk

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"lukechampine.com/blake3"
)

// Type is the kind of a chunk.
type Type int

const (
	TypeEntry Type = iota
	TypeAsync
	// TypeSync is a non-dynamic dependency of an async chunk split out into
	// its own file. Partition never creates one, but code generation still
	// loads sync chunks ahead of the async chunk that depends on them.
	TypeSync
	TypeWorker
	TypeRuntime
)

func (t Type) String() string {
	switch t {
	case TypeEntry:
		return "entry"
	case TypeAsync:
		return "async"
	case TypeSync:
		return "sync"
	case TypeWorker:
		return "worker"
	case TypeRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// RuntimeID is the id of the runtime chunk.
var RuntimeID = types.ModuleID{Path: "runtime"}

// Chunk is one output file: an insertion ordered set of modules.
type Chunk struct {
	// ID is the id of the seed module.
	ID   types.ModuleID
	Type Type
	// Name is the output name of an entry chunk.
	Name string
	// Shared marks an entry chunk holding modules shared by other entries.
	Shared bool

	modules []types.ModuleID
	index   map[types.ModuleID]int
}

// New creates an empty chunk.
func New(id types.ModuleID, typ Type) *Chunk {
	return &Chunk{ID: id, Type: typ, index: make(map[types.ModuleID]int)}
}

// NewEntry creates an empty entry chunk named name.
func NewEntry(id types.ModuleID, name string) *Chunk {
	c := New(id, TypeEntry)
	c.Name = name
	return c
}

// AddModule appends id unless the chunk already holds it.
func (c *Chunk) AddModule(id types.ModuleID) bool {
	if _, ok := c.index[id]; ok {
		return false
	}
	c.index[id] = len(c.modules)
	c.modules = append(c.modules, id)
	return true
}

// RemoveModule removes id, keeping the order of the others.
func (c *Chunk) RemoveModule(id types.ModuleID) {
	i, ok := c.index[id]
	if !ok {
		return
	}
	c.modules = append(c.modules[:i], c.modules[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.modules); j++ {
		c.index[c.modules[j]] = j
	}
}

// HasModule reports whether the chunk holds id.
func (c *Chunk) HasModule(id types.ModuleID) bool {
	_, ok := c.index[id]
	return ok
}

// Modules returns the member modules in insertion order.
func (c *Chunk) Modules() []types.ModuleID {
	out := make([]types.ModuleID, len(c.modules))
	copy(out, c.modules)
	return out
}

// Len returns the number of modules.
func (c *Chunk) Len() int {
	return len(c.modules)
}

// Filename returns the output file name derived from the chunk identity.
func (c *Chunk) Filename() string {
	switch c.Type {
	case TypeRuntime:
		return "runtime.js"
	case TypeEntry:
		return c.Name + ".js"
	case TypeAsync, TypeSync, TypeWorker:
		name := slug(c.ID.Path)
		if c.ID.Query != "" {
			sum := blake3.Sum256([]byte(c.ID.Query))
			name += "_q_" + base64.RawURLEncoding.EncodeToString(sum[:])[:4]
		}
		if c.Type == TypeWorker {
			return name + "-worker.js"
		}
		return name + "-async.js"
	}
	return c.ID.String() + ".js"
}

// HashedFilename inserts the first eight characters of hash before the
// extension of filename.
func HashedFilename(filename, hash string) string {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	ext := path.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "." + hash + ext
}

// slug turns a module path into a file name: foo/bar.tsx -> foo_bar_tsx.
func slug(p string) string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			parts = append(parts, "pd_")
		default:
			parts = append(parts, strings.NewReplacer(".", "_", "?", "_", "@", "_").Replace(seg))
		}
	}
	return strings.Join(parts, "_")
}

// Hash combines the raw hashes of the member modules in id order, so the
// result does not depend on discovery order.
func (c *Chunk) Hash(g *modulegraph.ModuleGraph) string {
	ids := c.Modules()
	types.SortModuleIDs(ids)

	h := blake3.New(32, nil)
	for _, id := range ids {
		if m, ok := g.Lookup(id); ok {
			h.Write([]byte(m.RawHash()))
		} else {
			h.Write([]byte(id.String()))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s#%d(%s)", c.ID, len(c.modules), c.Type)
}

// EmptyChunkError reports a chunk left without emittable content.
type EmptyChunkError struct {
	Chunk string
}

func (e *EmptyChunkError) Error() string {
	return fmt.Sprintf("chunk %s has no modules to emit", e.Chunk)
}

func sortedIDs(set map[types.ModuleID]struct{}) []types.ModuleID {
	ids := make([]types.ModuleID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	types.SortModuleIDs(ids)
	return ids
}
