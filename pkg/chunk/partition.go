package chunk

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Options configures partitioning.
type Options struct {
	// EntryNames maps entry module ids to output names. Unnamed entries are
	// called "index".
	EntryNames map[types.ModuleID]string
	// RuntimeChunk moves the runtime into its own chunk.
	RuntimeChunk bool
	// Parallelism bounds the entries partitioned at once.
	Parallelism int
}

// seedSet is the set of chunk seeds already claimed, shared by the
// per-entry traversals.
type seedSet struct {
	mu    sync.Mutex
	seeds map[types.ModuleID]bool
}

func (s *seedSet) claim(id types.ModuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeds[id] {
		return false
	}
	s.seeds[id] = true
	return true
}

// reference is a dynamic or worker edge from a chunk to a seed module.
type reference struct {
	from   types.ModuleID
	target types.ModuleID
}

type partial struct {
	chunks []*Chunk
	refs   []reference
}

// Partition splits mg into chunks. Each entry is traversed over its static
// edges into an entry chunk; dynamic imports and workers seed new chunks
// the same way. A seed already claimed by another traversal only gets an
// edge. Modules reachable from several seeds are duplicated.
func Partition(ctx context.Context, mg *modulegraph.ModuleGraph, opts Options, logger log.Logger) (*Graph, error) {
	if logger == nil {
		logger = log.Nop()
	}
	entries := mg.GetEntryModules()
	seeds := &seedSet{seeds: make(map[types.ModuleID]bool, len(entries))}
	for _, entry := range entries {
		seeds.claim(entry)
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	results := make([]partial, len(entries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelism)
	for i, entry := range entries {
		i, entry := i, entry
		eg.Go(func() error {
			name := opts.EntryNames[entry]
			if name == "" {
				name = "index"
			}
			p, err := partitionEntry(egCtx, mg, entry, name, seeds)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Which traversal claims a shared seed depends on scheduling, so chunks
	// are inserted in a fixed order: entries first, then by id.
	var entryChunks, rest []*Chunk
	var refs []reference
	for _, p := range results {
		entryChunks = append(entryChunks, p.chunks[0])
		rest = append(rest, p.chunks[1:]...)
		refs = append(refs, p.refs...)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID.String() < rest[j].ID.String() })

	g := NewGraph()
	for _, c := range append(entryChunks, rest...) {
		g.AddChunk(c)
	}

	for _, ref := range refs {
		owner, ok := g.Chunk(ref.target)
		if !ok {
			owner, ok = g.ChunkForModule(ref.target)
		}
		if ok && owner.ID != ref.from {
			g.AddEdge(ref.from, owner.ID)
		}
	}

	if opts.RuntimeChunk {
		g.AddChunk(New(RuntimeID, TypeRuntime))
		for _, entry := range entries {
			g.AddEdge(entry, RuntimeID)
		}
	}

	for _, c := range g.AllChunks() {
		if c.Type != TypeRuntime && c.Len() == 0 {
			return nil, &EmptyChunkError{Chunk: c.Filename()}
		}
	}

	AssignModules(mg, g)
	logger.Debug("partitioned chunks", "entries", len(entries), "chunks", g.Len())
	return g, nil
}

// partitionEntry builds the entry chunk of entry and every chunk seeded
// from it that no other traversal claimed first.
func partitionEntry(ctx context.Context, mg *modulegraph.ModuleGraph, entry types.ModuleID, name string, seeds *seedSet) (partial, error) {
	var p partial

	type seed struct {
		id  types.ModuleID
		typ Type
	}
	queue := []seed{{id: entry, typ: TypeEntry}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return partial{}, err
		}
		next := queue[0]
		queue = queue[1:]

		var c *Chunk
		if next.typ == TypeEntry {
			c = NewEntry(next.id, name)
		} else {
			c = New(next.id, next.typ)
		}
		dynamic, workers := collect(mg, c)
		p.chunks = append(p.chunks, c)

		for _, target := range dynamic {
			p.refs = append(p.refs, reference{from: c.ID, target: target})
			if seeds.claim(target) {
				queue = append(queue, seed{id: target, typ: TypeAsync})
			}
		}
		for _, target := range workers {
			p.refs = append(p.refs, reference{from: c.ID, target: target})
			if seeds.claim(target) {
				queue = append(queue, seed{id: target, typ: TypeWorker})
			}
		}
	}
	return p, nil
}

// collect fills c with the modules statically reachable from its seed, in
// breadth-first order, and returns the dynamic and worker targets found.
func collect(mg *modulegraph.ModuleGraph, c *Chunk) (dynamic, workers []types.ModuleID) {
	if !mg.HasModule(c.ID) {
		return nil, nil
	}
	c.AddModule(c.ID)
	queue := []types.ModuleID{c.ID}
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		for _, edge := range mg.GetDependencies(head) {
			switch edge.Dependency.ResolveType {
			case types.ResolveDynamicImport:
				dynamic = append(dynamic, edge.Target)
			case types.ResolveWorker:
				workers = append(workers, edge.Target)
			case types.ResolveImport, types.ResolveExportNamed, types.ResolveExportAll,
				types.ResolveRequire, types.ResolveCSS:
				if c.AddModule(edge.Target) {
					queue = append(queue, edge.Target)
				}
			}
		}
	}
	return dynamic, workers
}

// AssignModules rebuilds the chunk back-references of every module.
func AssignModules(mg *modulegraph.ModuleGraph, g *Graph) {
	owners := make(map[types.ModuleID][]string)
	for _, c := range g.AllChunks() {
		for _, id := range c.modules {
			owners[id] = append(owners[id], c.ID.String())
		}
	}
	for _, m := range mg.Modules() {
		m.Chunks = owners[m.ID]
	}
}
