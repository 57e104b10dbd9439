package chunk

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"lukechampine.com/blake3"
)

// Graph holds chunks and the load-order edges between them. An edge
// from -> to means from depends on to being loaded first.
type Graph struct {
	chunks map[types.ModuleID]*Chunk
	order  []types.ModuleID
	out    map[types.ModuleID]map[types.ModuleID]struct{}
	in     map[types.ModuleID]map[types.ModuleID]struct{}
}

// NewGraph creates an empty chunk graph.
func NewGraph() *Graph {
	return &Graph{
		chunks: make(map[types.ModuleID]*Chunk),
		out:    make(map[types.ModuleID]map[types.ModuleID]struct{}),
		in:     make(map[types.ModuleID]map[types.ModuleID]struct{}),
	}
}

// Clear removes every chunk and edge.
func (g *Graph) Clear() {
	*g = *NewGraph()
}

// AddChunk inserts c, replacing a chunk with the same id.
func (g *Graph) AddChunk(c *Chunk) {
	if _, ok := g.chunks[c.ID]; !ok {
		g.order = append(g.order, c.ID)
		g.out[c.ID] = make(map[types.ModuleID]struct{})
		g.in[c.ID] = make(map[types.ModuleID]struct{})
	}
	g.chunks[c.ID] = c
}

// HasChunk reports whether id is in the graph.
func (g *Graph) HasChunk(id types.ModuleID) bool {
	_, ok := g.chunks[id]
	return ok
}

// Chunk returns the chunk with the given id.
func (g *Graph) Chunk(id types.ModuleID) (*Chunk, bool) {
	c, ok := g.chunks[id]
	return c, ok
}

// AllChunks returns every chunk in insertion order.
func (g *Graph) AllChunks() []*Chunk {
	out := make([]*Chunk, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.chunks[id])
	}
	return out
}

// Chunks returns the chunks that have modules, plus the runtime chunk.
func (g *Graph) Chunks() []*Chunk {
	var out []*Chunk
	for _, c := range g.AllChunks() {
		if c.Len() > 0 || c.Type == TypeRuntime {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of chunks.
func (g *Graph) Len() int {
	return len(g.chunks)
}

// ChunkByName returns the chunk whose filename is name.
func (g *Graph) ChunkByName(name string) (*Chunk, bool) {
	for _, c := range g.AllChunks() {
		if c.Filename() == name {
			return c, true
		}
	}
	return nil, false
}

// ChunkForModule returns the first chunk, in insertion order, holding id.
func (g *Graph) ChunkForModule(id types.ModuleID) (*Chunk, bool) {
	for _, c := range g.AllChunks() {
		if c.HasModule(id) {
			return c, true
		}
	}
	return nil, false
}

// AsyncChunkForModule returns the first async chunk holding id.
func (g *Graph) AsyncChunkForModule(id types.ModuleID) (*Chunk, bool) {
	for _, c := range g.AllChunks() {
		if c.Type == TypeAsync && c.HasModule(id) {
			return c, true
		}
	}
	return nil, false
}

// ChunksForModule returns every chunk holding id, in insertion order.
func (g *Graph) ChunksForModule(id types.ModuleID) []*Chunk {
	var out []*Chunk
	for _, c := range g.AllChunks() {
		if c.HasModule(id) {
			out = append(out, c)
		}
	}
	return out
}

// AddEdge records that from depends on to. Both chunks must exist.
func (g *Graph) AddEdge(from, to types.ModuleID) {
	g.mustHave(from)
	g.mustHave(to)
	g.out[from][to] = struct{}{}
	g.in[to][from] = struct{}{}
}

// RemoveEdge deletes the edge from -> to if present.
func (g *Graph) RemoveEdge(from, to types.ModuleID) {
	delete(g.out[from], to)
	delete(g.in[to], from)
}

// HasEdge reports whether from depends on to.
func (g *Graph) HasEdge(from, to types.ModuleID) bool {
	_, ok := g.out[from][to]
	return ok
}

// Dependencies returns the chunks id depends on, sorted.
func (g *Graph) Dependencies(id types.ModuleID) []types.ModuleID {
	g.mustHave(id)
	return sortedIDs(g.out[id])
}

// DependentsChunk returns the chunks depending on id, sorted.
func (g *Graph) DependentsChunk(id types.ModuleID) []types.ModuleID {
	g.mustHave(id)
	return sortedIDs(g.in[id])
}

// EntryDependentsChunk returns the entry chunks depending on id.
func (g *Graph) EntryDependentsChunk(id types.ModuleID) []types.ModuleID {
	var out []types.ModuleID
	for _, dep := range g.DependentsChunk(id) {
		if g.chunks[dep].Type == TypeEntry {
			out = append(out, dep)
		}
	}
	return out
}

// EntryAncestorsChunk returns every entry chunk from which id can be
// reached, id itself included when it is an entry.
func (g *Graph) EntryAncestorsChunk(id types.ModuleID) []types.ModuleID {
	g.mustHave(id)
	visited := map[types.ModuleID]bool{}
	stack := []types.ModuleID{id}
	var out []types.ModuleID
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if g.chunks[cur].Type == TypeEntry {
			out = append(out, cur)
		}
		stack = append(stack, sortedIDs(g.in[cur])...)
	}
	types.SortModuleIDs(out)
	return out
}

// SyncDependenciesChunk returns the sync chunks id depends on.
func (g *Graph) SyncDependenciesChunk(id types.ModuleID) []types.ModuleID {
	var out []types.ModuleID
	for _, dep := range g.Dependencies(id) {
		if g.chunks[dep].Type == TypeSync {
			out = append(out, dep)
		}
	}
	return out
}

// InstallableDescendantsChunk returns the non-empty async and sync chunks
// reachable from id, id included, in depth-first order.
func (g *Graph) InstallableDescendantsChunk(id types.ModuleID) []types.ModuleID {
	g.mustHave(id)
	visited := map[types.ModuleID]bool{}
	var out []types.ModuleID
	var visit func(types.ModuleID)
	visit = func(cur types.ModuleID) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		c := g.chunks[cur]
		if c.Len() > 0 && (c.Type == TypeAsync || c.Type == TypeSync) {
			out = append(out, cur)
		}
		for _, next := range sortedIDs(g.out[cur]) {
			visit(next)
		}
	}
	visit(id)
	return out
}

// RemoveChunk deletes the chunk and its edges.
func (g *Graph) RemoveChunk(id types.ModuleID) {
	if _, ok := g.chunks[id]; !ok {
		return
	}
	for to := range g.out[id] {
		delete(g.in[to], id)
	}
	for from := range g.in[id] {
		delete(g.out[from], id)
	}
	delete(g.out, id)
	delete(g.in, id)
	delete(g.chunks, id)
	for i, cur := range g.order {
		if cur == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// ChunkNames returns the filenames of every chunk.
func (g *Graph) ChunkNames() map[string]bool {
	names := make(map[string]bool, len(g.chunks))
	for _, c := range g.chunks {
		names[c.Filename()] = true
	}
	return names
}

// FullHash combines the hashes of every chunk in id order.
func (g *Graph) FullHash(mg *modulegraph.ModuleGraph) string {
	ids := make([]types.ModuleID, 0, len(g.chunks))
	for id := range g.chunks {
		ids = append(ids, id)
	}
	types.SortModuleIDs(ids)

	h := blake3.New(32, nil)
	for _, id := range ids {
		h.Write([]byte(g.chunks[id].Hash(mg)))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (g *Graph) String() string {
	ids := make([]string, 0, len(g.chunks))
	for _, c := range g.AllChunks() {
		ids = append(ids, c.String())
	}
	return "chunks [" + strings.Join(ids, ", ") + "]"
}

func (g *Graph) mustHave(id types.ModuleID) {
	if _, ok := g.chunks[id]; !ok {
		panic(fmt.Sprintf("chunk: chunk %s not found", id))
	}
}
