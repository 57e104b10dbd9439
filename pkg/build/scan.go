package build

import (
	"context"
	"errors"

	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	"golang.org/x/sync/semaphore"
)

// Task is a resource to load into the graph.
type Task struct {
	Resource *resolver.Resource
	Entry    bool
	// Importer and At locate the statement that pulled the resource in.
	Importer types.ModuleID
	At       types.Span
}

type resolved struct {
	dep types.Dependency
	res *resolver.Resource
}

type scanResult struct {
	task    Task
	info    *modulegraph.ModuleInfo
	deps    []resolved
	missing []MissingDependency
	err     error
}

type pendingEdge struct {
	from, to types.ModuleID
	dep      types.Dependency
}

// Scan loads tasks and everything they reach that g does not hold yet.
// Loading and resolution fan out over goroutines bounded by the configured
// parallelism. Results come back to this goroutine, the only one mutating g.
// A task for a module already in g reloads it in place and replaces its
// outgoing edges. Unresolved specifiers are returned, not failed.
func (c *Compiler) Scan(ctx context.Context, g *modulegraph.ModuleGraph, tasks []Task) ([]MissingDependency, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(c.opts.Parallelism))
	results := make(chan scanResult)
	remaining := 0
	queued := make(map[types.ModuleID]bool)

	start := func(t Task) {
		queued[t.Resource.ID] = true
		remaining++
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- scanResult{task: t, err: err}
				return
			}
			defer sem.Release(1)
			results <- c.scanModule(ctx, t)
		}()
	}
	for _, t := range tasks {
		if !queued[t.Resource.ID] {
			start(t)
		}
	}

	var loaded []scanResult
	var firstErr error
	for remaining > 0 {
		r := <-results
		remaining--
		if firstErr != nil {
			continue
		}
		if r.err != nil {
			firstErr = r.err
			cancel()
			continue
		}
		loaded = append(loaded, r)
		for _, d := range r.deps {
			if !queued[d.res.ID] && !g.HasModule(d.res.ID) {
				start(Task{Resource: d.res, Importer: r.task.Resource.ID, At: d.dep.Span})
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	// The graph is only touched once every load succeeded, so a failed scan
	// leaves it as it was.
	var edges []pendingEdge
	var missing []MissingDependency
	for _, r := range loaded {
		id := r.task.Resource.ID
		m := modulegraph.NewModule(id, r.task.Entry, r.info)
		if existing, ok := g.Lookup(id); ok {
			m.IsEntry = m.IsEntry || existing.IsEntry
			m.Chunks = existing.Chunks
			g.ReplaceModule(m)
			g.ClearDependencyEdges(id)
		} else {
			g.AddModule(m)
		}
		missing = append(missing, r.missing...)
		for _, d := range r.deps {
			edges = append(edges, pendingEdge{from: id, to: d.res.ID, dep: d.dep})
		}
	}
	for _, e := range edges {
		g.AddDependency(e.from, e.to, e.dep)
	}
	sortMissing(missing)
	c.logger.Debug("scanned modules", "tasks", len(tasks), "loaded", len(queued), "missing", len(missing))
	return missing, nil
}

// scanModule loads one resource and resolves its dependencies.
func (c *Compiler) scanModule(ctx context.Context, t Task) scanResult {
	r := scanResult{task: t}
	info, err := c.loader.Load(ctx, t.Resource)
	if err != nil {
		if ctx.Err() != nil {
			r.err = ctx.Err()
			return r
		}
		r.err = &LoadError{Module: t.Resource.ID, Importer: t.Importer, At: t.At, Err: err}
		return r
	}
	r.info = info

	for _, dep := range info.Dependencies {
		res, err := c.resolver.Resolve(ctx, t.Resource.ID, dep.Source, dep.ResolveType)
		if err != nil {
			if errors.Is(err, resolver.ErrNotFound) {
				r.missing = append(r.missing, MissingDependency{Importer: t.Resource.ID, Specifier: dep.Source, Span: dep.Span})
				continue
			}
			r.err = err
			return r
		}
		r.deps = append(r.deps, resolved{dep: dep, res: res})
	}
	return r
}
