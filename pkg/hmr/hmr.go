// Package hmr applies file changes to a live build. It reloads the changed
// modules in place, brings the chunk graph up to date and produces the
// payload pushed to connected clients.
package hmr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/generate"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	difflib "github.com/pmezard/go-difflib/difflib"
)

// UpdateResult describes what an update changed in the module graph.
type UpdateResult struct {
	// Added lists modules that entered the graph.
	Added []types.ModuleID `json:"added"`
	// Removed lists modules that left the graph, deleted or unreachable.
	Removed []types.ModuleID `json:"removed"`
	// Modified lists modules reloaded in place: changed files and the
	// importers whose dependencies resolve differently.
	Modified []types.ModuleID `json:"modified"`
	// DepChanged reports whether any dependency edge was added or removed.
	DepChanged bool `json:"dep_changed"`
	// Regrouped reports whether chunks were partitioned again.
	Regrouped bool `json:"regrouped"`
	// Affected lists the chunks whose content may have changed.
	Affected []types.ModuleID `json:"affected"`
}

// Empty reports whether the batch touched no module.
func (u *UpdateResult) Empty() bool {
	return len(u.Added) == 0 && len(u.Removed) == 0 && len(u.Modified) == 0
}

// Payload is the message sent to clients after an update.
type Payload struct {
	Hash    string                   `json:"hash"`
	Modules map[string]*ModuleUpdate `json:"modules"`
	Removed []string                 `json:"removed,omitempty"`
	// Reload asks clients to reload the page instead of applying modules.
	Reload bool `json:"reload,omitempty"`
}

// ModuleUpdate is the new body of one module and the chunk holding it.
type ModuleUpdate struct {
	Body  string `json:"body"`
	Chunk string `json:"chunk"`
}

// Driver keeps a watch build up to date. It is not safe for concurrent use;
// updates must be serialized by the caller.
type Driver struct {
	compiler *build.Compiler
	graph    *modulegraph.ModuleGraph
	chunks   *chunk.Graph
	output   *generate.Result
	missing  []build.MissingDependency
	bodies   map[types.ModuleID]string
	logger   log.Logger
}

// New creates a driver continuing from a finished watch build.
func New(compiler *build.Compiler, result *build.Result, logger log.Logger) *Driver {
	if logger == nil {
		logger = log.Nop()
	}
	return &Driver{
		compiler: compiler,
		graph:    result.Graph,
		chunks:   result.Chunks,
		output:   result.Output,
		missing:  result.Missing,
		bodies:   make(map[types.ModuleID]string),
		logger:   logger,
	}
}

// Hash returns the full hash of the current build.
func (d *Driver) Hash() string {
	return d.output.FullHash
}

// Graph returns the current module graph.
func (d *Driver) Graph() *modulegraph.ModuleGraph {
	return d.graph
}

// Chunks returns the current chunk graph.
func (d *Driver) Chunks() *chunk.Graph {
	return d.chunks
}

// Missing returns the specifiers that currently do not resolve.
func (d *Driver) Missing() []build.MissingDependency {
	return d.missing
}

// Classify sorts changed file paths into modified, removed and added
// modules. A path with modules that still exists is modified, one whose file
// is gone is removed. An existing file with no module is added; it only
// stays in the final result if something imports it.
func (d *Driver) Classify(paths []string) *UpdateResult {
	byPath := make(map[string][]types.ModuleID)
	for _, m := range d.graph.Modules() {
		if m.Info != nil && m.Info.Path != "" {
			p := filepath.Clean(m.Info.Path)
			byPath[p] = append(byPath[p], m.ID)
		}
	}

	ur := &UpdateResult{}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true

		ids := byPath[p]
		info, err := os.Stat(p)
		exists := err == nil && !info.IsDir()
		switch {
		case len(ids) > 0 && exists:
			ur.Modified = append(ur.Modified, ids...)
		case len(ids) > 0:
			ur.Removed = append(ur.Removed, ids...)
		case exists:
			ur.Added = append(ur.Added, d.compiler.Resolver().ModuleID(p, ""))
		}
	}
	types.SortModuleIDs(ur.Added)
	types.SortModuleIDs(ur.Removed)
	types.SortModuleIDs(ur.Modified)
	return ur
}

// Update applies a batch of changed paths. It returns a nil payload when the
// batch touched no module of the build. When loading fails the graph and
// chunks are left as they were before the batch. An error after loading
// leaves the driver unusable; callers start over with a full build.
func (d *Driver) Update(ctx context.Context, paths []string) (*Payload, *UpdateResult, error) {
	ur := d.Classify(paths)
	if ur.Empty() {
		return nil, ur, nil
	}
	g := d.graph
	if len(ur.Added) > 0 || len(ur.Removed) > 0 {
		// Resolution failures and hits are memoized; both may be stale now.
		d.compiler.Resolver().Reset()
	}

	before := make(map[types.ModuleID]bool, g.Len())
	for _, id := range g.ModuleIDs() {
		before[id] = true
	}
	kinds := make(map[types.ModuleID]modulegraph.Kind)

	rescan := make(map[types.ModuleID]bool)
	for _, id := range ur.Modified {
		rescan[id] = true
	}
	// Removed modules stay in the graph until the scan succeeded, so a
	// failed batch changes nothing.
	removed := make(map[types.ModuleID]bool, len(ur.Removed))
	for _, id := range ur.Removed {
		removed[id] = true
		for _, dependent := range g.GetDependents(id) {
			rescan[dependent] = true
		}
		kinds[id] = g.GetModule(id).Info.Kind
	}
	if len(ur.Added) > 0 {
		for _, m := range d.missing {
			rescan[m.Importer] = true
		}
	}
	for id := range rescan {
		if !g.HasModule(id) || removed[id] {
			delete(rescan, id)
		}
	}

	signatures := make(map[types.ModuleID]string, len(rescan))
	var tasks []build.Task
	for _, id := range sortedIDs(rescan) {
		m := g.GetModule(id)
		signatures[id] = dependencySignature(g, id)
		tasks = append(tasks, build.Task{
			Resource: &resolver.Resource{ID: id, Path: m.Info.Path, SideEffects: m.Info.SideEffects},
			Entry:    m.IsEntry,
		})
	}

	missing, err := d.compiler.Scan(ctx, g, tasks)
	if err != nil {
		return nil, ur, err
	}
	for _, id := range ur.Removed {
		g.RemoveModule(id)
	}
	d.missing = mergeMissing(d.missing, rescan, missing, g)
	for _, m := range missing {
		d.logger.Warn("module not found", "specifier", m.Specifier, "importer", m.Importer.String(), "line", m.Span.Line)
	}

	ur.DepChanged = len(ur.Removed) > 0
	ur.Modified = ur.Modified[:0]
	for _, id := range sortedIDs(rescan) {
		ur.Modified = append(ur.Modified, id)
		if dependencySignature(g, id) != signatures[id] {
			ur.DepChanged = true
		}
	}

	ur.Added = ur.Added[:0]
	for _, id := range g.ModuleIDs() {
		if !before[id] {
			ur.Added = append(ur.Added, id)
		}
	}

	for _, id := range d.prune() {
		kinds[id] = g.GetModule(id).Info.Kind
		g.RemoveModule(id)
		ur.Removed = append(ur.Removed, id)
		ur.DepChanged = true
	}
	ur.Added = filterPresent(g, ur.Added)
	types.SortModuleIDs(ur.Removed)
	if ur.Empty() {
		return nil, ur, nil
	}

	return d.regenerate(ctx, ur, kinds)
}

// regenerate brings chunks and outputs up to date and renders the payload.
func (d *Driver) regenerate(ctx context.Context, ur *UpdateResult, kinds map[types.ModuleID]modulegraph.Kind) (*Payload, *UpdateResult, error) {
	g := d.graph
	cg, regrouped, err := chunk.Regroup(ctx, g, d.chunks, ur.Modified, ur.DepChanged, d.compiler.ChunkOptions(), d.logger)
	if err != nil {
		return nil, ur, err
	}
	changed := append(append([]types.ModuleID{}, ur.Modified...), ur.Added...)
	types.SortModuleIDs(changed)
	ur.Regrouped = regrouped
	ur.Affected = chunk.Affected(d.chunks, cg, changed)

	gen := d.compiler.Generator()
	out, err := gen.Generate(ctx, g, cg)
	if err != nil {
		return nil, ur, err
	}
	if err := d.compiler.Emit(&build.Result{Output: changedOutputs(d.output, out)}); err != nil {
		return nil, ur, err
	}

	payload := &Payload{Hash: out.FullHash, Modules: make(map[string]*ModuleUpdate)}
	reload := regrouped && !sameChunks(d.chunks, cg)
	for _, id := range changed {
		owner, ok := cg.ChunkForModule(id)
		if !ok {
			continue
		}
		body, err := gen.ModuleBody(ctx, g, cg, id)
		if err != nil {
			return nil, ur, err
		}
		if prev, ok := d.bodies[id]; ok && prev != body {
			d.logger.Debug("module updated", "id", id.String(), "diff", bodyDiff{name: id.String(), a: prev, b: body})
		}
		d.bodies[id] = body
		payload.Modules[id.String()] = &ModuleUpdate{Body: body, Chunk: owner.ID.String()}
		if g.GetModule(id).Info.Kind != modulegraph.KindStyle {
			reload = true
		}
	}
	for _, id := range ur.Removed {
		delete(d.bodies, id)
		payload.Removed = append(payload.Removed, id.String())
		if kinds[id] != modulegraph.KindStyle {
			reload = true
		}
	}
	payload.Reload = reload

	d.chunks, d.output = cg, out
	d.logger.Info("hot update",
		"modified", len(ur.Modified),
		"added", len(ur.Added),
		"removed", len(ur.Removed),
		"regrouped", regrouped,
		"reload", reload,
		"hash", out.FullHash)
	return payload, ur, nil
}

// prune returns the modules no entry reaches any more.
func (d *Driver) prune() []types.ModuleID {
	order, _ := d.graph.Toposort(d.graph.GetEntryModules())
	reachable := make(map[types.ModuleID]bool, len(order))
	for _, id := range order {
		reachable[id] = true
	}
	var out []types.ModuleID
	for _, id := range d.graph.ModuleIDs() {
		if !reachable[id] {
			out = append(out, id)
		}
	}
	return out
}

// dependencySignature identifies the outgoing edges of id.
func dependencySignature(g *modulegraph.ModuleGraph, id types.ModuleID) string {
	var b strings.Builder
	for _, edge := range g.GetDependencies(id) {
		fmt.Fprintf(&b, "%s|%s|%d\n", edge.Target, edge.Dependency.Source, edge.Dependency.ResolveType)
	}
	return b.String()
}

// mergeMissing drops the records of rescanned or removed importers and adds
// the fresh ones.
func mergeMissing(prev []build.MissingDependency, rescanned map[types.ModuleID]bool, fresh []build.MissingDependency, g *modulegraph.ModuleGraph) []build.MissingDependency {
	var out []build.MissingDependency
	for _, m := range prev {
		if !rescanned[m.Importer] && g.HasModule(m.Importer) {
			out = append(out, m)
		}
	}
	return append(out, fresh...)
}

// changedOutputs keeps the outputs whose file name or content differs from
// the previous build, and every asset.
func changedOutputs(prev, next *generate.Result) *generate.Result {
	old := make(map[types.ModuleID]*generate.Output)
	if prev != nil {
		for _, o := range prev.Outputs {
			old[o.Chunk] = o
		}
	}
	res := &generate.Result{Assets: next.Assets, FullHash: next.FullHash}
	for _, o := range next.Outputs {
		if p, ok := old[o.Chunk]; ok && p.Filename == o.Filename && p.Content == o.Content {
			continue
		}
		res.Outputs = append(res.Outputs, o)
	}
	return res
}

func sameChunks(a, b *chunk.Graph) bool {
	if a == nil || a.Len() != b.Len() {
		return false
	}
	for _, c := range b.AllChunks() {
		if !a.HasChunk(c.ID) {
			return false
		}
	}
	return true
}

// bodyDiff renders a unified diff of two module bodies. The diff is only
// computed when a log entry holding it is written.
type bodyDiff struct {
	name, a, b string
}

func (d bodyDiff) String() string {
	s, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(d.a),
		B:        difflib.SplitLines(d.b),
		FromFile: d.name,
		ToFile:   d.name,
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return s
}

func sortedIDs(set map[types.ModuleID]bool) []types.ModuleID {
	ids := make([]types.ModuleID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	types.SortModuleIDs(ids)
	return ids
}

func filterPresent(g *modulegraph.ModuleGraph, ids []types.ModuleID) []types.ModuleID {
	out := ids[:0]
	for _, id := range ids {
		if g.HasModule(id) {
			out = append(out, id)
		}
	}
	return out
}

