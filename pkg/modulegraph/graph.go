// Package modulegraph implements the module graph: modules connected by
// dependency edges that remember how, and in which order, each dependency
// was declared.
//
// The graph has a single writer. The build coordinator applies every
// mutation; concurrent readers are only allowed once a build pass has
// finished mutating it. Looking up a module that was never added is an
// invariant break and panics.
package modulegraph

import (
	"fmt"
	"sort"

	"github.com/l3aro/go-bundle/pkg/types"
)

// Edge is one dependency record together with the module it resolved to.
type Edge struct {
	Target     types.ModuleID
	Dependency types.Dependency
}

// ModuleGraph is a directed graph of modules. Edges point from importer to
// imported module and carry the set of dependency records between the pair.
type ModuleGraph struct {
	modules    map[types.ModuleID]*Module
	outgoing   map[types.ModuleID]map[types.ModuleID][]types.Dependency
	incoming   map[types.ModuleID]map[types.ModuleID]struct{}
	insertions []types.ModuleID
}

// New creates an empty graph.
func New() *ModuleGraph {
	return &ModuleGraph{
		modules:  make(map[types.ModuleID]*Module),
		outgoing: make(map[types.ModuleID]map[types.ModuleID][]types.Dependency),
		incoming: make(map[types.ModuleID]map[types.ModuleID]struct{}),
	}
}

// Len returns the number of modules.
func (g *ModuleGraph) Len() int {
	return len(g.modules)
}

// AddModule inserts m. A module with the same id is replaced in place and
// keeps its edges.
func (g *ModuleGraph) AddModule(m *Module) {
	if _, ok := g.modules[m.ID]; !ok {
		g.insertions = append(g.insertions, m.ID)
		g.outgoing[m.ID] = make(map[types.ModuleID][]types.Dependency)
		g.incoming[m.ID] = make(map[types.ModuleID]struct{})
	}
	g.modules[m.ID] = m
}

// HasModule reports whether id is in the graph.
func (g *ModuleGraph) HasModule(id types.ModuleID) bool {
	_, ok := g.modules[id]
	return ok
}

// Lookup returns the module with the given id.
func (g *ModuleGraph) Lookup(id types.ModuleID) (*Module, bool) {
	m, ok := g.modules[id]
	return m, ok
}

// GetModule returns the module with the given id and panics if there is none.
func (g *ModuleGraph) GetModule(id types.ModuleID) *Module {
	m, ok := g.modules[id]
	if !ok {
		panic(fmt.Sprintf("modulegraph: module %s not found", id))
	}
	return m
}

// ReplaceModule swaps the node for an existing id, keeping its edges.
func (g *ModuleGraph) ReplaceModule(m *Module) {
	if _, ok := g.modules[m.ID]; !ok {
		panic(fmt.Sprintf("modulegraph: cannot replace unknown module %s", m.ID))
	}
	g.modules[m.ID] = m
}

// RemoveModule deletes the module and every edge touching it.
func (g *ModuleGraph) RemoveModule(id types.ModuleID) *Module {
	m, ok := g.modules[id]
	if !ok {
		return nil
	}
	for target := range g.outgoing[id] {
		delete(g.incoming[target], id)
	}
	for source := range g.incoming[id] {
		delete(g.outgoing[source], id)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.modules, id)
	for i, inserted := range g.insertions {
		if inserted == id {
			g.insertions = append(g.insertions[:i], g.insertions[i+1:]...)
			break
		}
	}
	return m
}

// AddDependency records dep on the edge from -> to. Adding the same record
// twice is a no-op. Both endpoints must exist.
func (g *ModuleGraph) AddDependency(from, to types.ModuleID, dep types.Dependency) {
	g.mustHave(from)
	g.mustHave(to)

	deps := g.outgoing[from][to]
	for _, existing := range deps {
		if sameDependency(existing, dep) {
			return
		}
	}
	g.outgoing[from][to] = append(deps, dep)
	g.incoming[to][from] = struct{}{}
}

// RemoveDependency removes one record from the edge from -> to, and the
// edge itself when no record remains.
func (g *ModuleGraph) RemoveDependency(from, to types.ModuleID, dep types.Dependency) {
	deps, ok := g.outgoing[from][to]
	if !ok {
		return
	}
	kept := deps[:0]
	for _, existing := range deps {
		if !sameDependency(existing, dep) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		g.RemoveDependencies(from, to)
		return
	}
	g.outgoing[from][to] = kept
}

// RemoveDependencies removes the whole edge from -> to.
func (g *ModuleGraph) RemoveDependencies(from, to types.ModuleID) {
	if out, ok := g.outgoing[from]; ok {
		delete(out, to)
	}
	if in, ok := g.incoming[to]; ok {
		delete(in, from)
	}
}

// ClearDependencyEdges removes every outgoing edge of id.
func (g *ModuleGraph) ClearDependencyEdges(id types.ModuleID) {
	for target := range g.outgoing[id] {
		g.RemoveDependencies(id, target)
	}
}

// EdgeDependencies returns the records on the edge from -> to.
func (g *ModuleGraph) EdgeDependencies(from, to types.ModuleID) []types.Dependency {
	deps := g.outgoing[from][to]
	out := make([]types.Dependency, len(deps))
	copy(out, deps)
	return out
}

// GetDependencies returns the outgoing dependency records of id sorted by
// declaration order, so side-effect-only imports keep source order.
func (g *ModuleGraph) GetDependencies(id types.ModuleID) []Edge {
	g.mustHave(id)

	var edges []Edge
	for target, deps := range g.outgoing[id] {
		for _, dep := range deps {
			edges = append(edges, Edge{Target: target, Dependency: dep})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Dependency.Order != b.Dependency.Order {
			return a.Dependency.Order < b.Dependency.Order
		}
		if a.Target != b.Target {
			return a.Target.String() < b.Target.String()
		}
		return a.Dependency.ResolveType < b.Dependency.ResolveType
	})
	return edges
}

// GetDependencyModules returns the distinct targets of id in declaration order.
func (g *ModuleGraph) GetDependencyModules(id types.ModuleID) []types.ModuleID {
	seen := make(map[types.ModuleID]bool)
	var ids []types.ModuleID
	for _, edge := range g.GetDependencies(id) {
		if !seen[edge.Target] {
			seen[edge.Target] = true
			ids = append(ids, edge.Target)
		}
	}
	return ids
}

// GetDependents returns the modules importing id, sorted.
func (g *ModuleGraph) GetDependents(id types.ModuleID) []types.ModuleID {
	g.mustHave(id)

	ids := make([]types.ModuleID, 0, len(g.incoming[id]))
	for source := range g.incoming[id] {
		ids = append(ids, source)
	}
	types.SortModuleIDs(ids)
	return ids
}

// GetDependencyModuleBySource returns the module a specifier of id resolved to.
func (g *ModuleGraph) GetDependencyModuleBySource(id types.ModuleID, source string) (types.ModuleID, bool) {
	for _, edge := range g.GetDependencies(id) {
		if edge.Dependency.Source == source {
			return edge.Target, true
		}
	}
	return types.ModuleID{}, false
}

// GetEntryModules returns the ids of entry modules, sorted.
func (g *ModuleGraph) GetEntryModules() []types.ModuleID {
	var ids []types.ModuleID
	for id, m := range g.modules {
		if m.IsEntry {
			ids = append(ids, id)
		}
	}
	types.SortModuleIDs(ids)
	return ids
}

// ModuleIDs returns every id, sorted.
func (g *ModuleGraph) ModuleIDs() []types.ModuleID {
	ids := make([]types.ModuleID, 0, len(g.modules))
	for id := range g.modules {
		ids = append(ids, id)
	}
	types.SortModuleIDs(ids)
	return ids
}

// Modules returns every module sorted by id.
func (g *ModuleGraph) Modules() []*Module {
	ids := g.ModuleIDs()
	modules := make([]*Module, len(ids))
	for i, id := range ids {
		modules[i] = g.modules[id]
	}
	return modules
}

// InsertionOrder returns ids in the order they were first added.
func (g *ModuleGraph) InsertionOrder() []types.ModuleID {
	out := make([]types.ModuleID, len(g.insertions))
	copy(out, g.insertions)
	return out
}

// Toposort orders the modules reachable from entries so that every module
// comes before its dependencies, following dependencies in declaration
// order. Back edges do not abort the sort; each cycle found is returned as
// the list of its members.
func (g *ModuleGraph) Toposort(entries []types.ModuleID) ([]types.ModuleID, [][]types.ModuleID) {
	const (
		white = iota
		gray
		black
	)
	state := make(map[types.ModuleID]int, len(g.modules))
	var postorder []types.ModuleID
	var cycles [][]types.ModuleID

	type frame struct {
		id   types.ModuleID
		deps []types.ModuleID
		next int
	}

	for _, entry := range entries {
		if state[entry] != white || !g.HasModule(entry) {
			continue
		}
		stack := []*frame{{id: entry, deps: g.GetDependencyModules(entry)}}
		state[entry] = gray

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next == len(top.deps) {
				state[top.id] = black
				postorder = append(postorder, top.id)
				stack = stack[:len(stack)-1]
				continue
			}

			dep := top.deps[top.next]
			top.next++
			switch state[dep] {
			case white:
				state[dep] = gray
				stack = append(stack, &frame{id: dep, deps: g.GetDependencyModules(dep)})
			case gray:
				var cycle []types.ModuleID
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append([]types.ModuleID{stack[i].id}, cycle...)
					if stack[i].id == dep {
						break
					}
				}
				cycles = append(cycles, cycle)
			}
		}
	}

	order := make([]types.ModuleID, len(postorder))
	for i, id := range postorder {
		order[len(postorder)-1-i] = id
	}
	return order, cycles
}

func (g *ModuleGraph) mustHave(id types.ModuleID) {
	if _, ok := g.modules[id]; !ok {
		panic(fmt.Sprintf("modulegraph: module %s not found", id))
	}
}

func sameDependency(a, b types.Dependency) bool {
	return a.Source == b.Source && a.ResolveType == b.ResolveType && a.Order == b.Order
}
