// Package concat merges groups of ES modules inside a chunk into a single
// module function. Inner modules are inlined in evaluation order with their
// top-level bindings renamed apart, and imports between group members become
// direct references to the renamed bindings.
package concat

import (
	"context"
	"fmt"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Group is a root module and the modules inlined into it.
type Group struct {
	Root types.ModuleID
	// Inners are the inlined modules in evaluation order.
	Inners []types.ModuleID
	// Externals are modules outside the group that members import, in the
	// order their requires are hoisted.
	Externals []types.ModuleID
	Flags     InteropFlags
	// Code is the body of the root's module function.
	Code string
}

// Members returns the inner modules followed by the root.
func (g *Group) Members() []types.ModuleID {
	out := make([]types.ModuleID, 0, len(g.Inners)+1)
	out = append(out, g.Inners...)
	return append(out, g.Root)
}

// Contains reports whether id is the root or an inner module.
func (g *Group) Contains(id types.ModuleID) bool {
	if id == g.Root {
		return true
	}
	for _, inner := range g.Inners {
		if inner == id {
			return true
		}
	}
	return false
}

// Optimizer finds and generates concatenation groups.
type Optimizer struct {
	registry *extractor.LanguageRegistry
	logger   log.Logger
}

// New creates an Optimizer.
func New(registry *extractor.LanguageRegistry, logger log.Logger) *Optimizer {
	if registry == nil {
		registry = extractor.NewLanguageRegistry()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Optimizer{registry: registry, logger: logger}
}

// Optimize returns the groups of c. A module belongs to at most one group
// and groups have at least two members.
func (o *Optimizer) Optimize(ctx context.Context, mg *modulegraph.ModuleGraph, c *chunk.Chunk) ([]*Group, error) {
	_, cycles := mg.Toposort(mg.GetEntryModules())
	cyclic := make(map[types.ModuleID]bool)
	for _, cycle := range cycles {
		for _, id := range cycle {
			cyclic[id] = true
		}
	}

	s := &selection{mg: mg, chunk: c, cyclic: cyclic, claimed: make(map[types.ModuleID]bool)}
	var groups []*Group
	for _, id := range c.Modules() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.claimed[id] || !s.rootEligible(id) {
			continue
		}
		members := s.grow(id)
		if len(members) < 2 {
			continue
		}
		g, err := o.build(ctx, mg, id, members)
		if err != nil {
			return nil, fmt.Errorf("concatenating %s: %w", id, err)
		}
		for _, m := range members {
			s.claimed[m] = true
		}
		o.logger.Debug("concatenated modules", "root", id.String(), "modules", len(members), "externals", len(g.Externals))
		groups = append(groups, g)
	}
	return groups, nil
}

type selection struct {
	mg      *modulegraph.ModuleGraph
	chunk   *chunk.Chunk
	cyclic  map[types.ModuleID]bool
	claimed map[types.ModuleID]bool
}

func (s *selection) rootEligible(id types.ModuleID) bool {
	m, ok := s.mg.Lookup(id)
	if !ok || !m.Info.IsESM() || m.Info.ComputedExports || s.cyclic[id] {
		return false
	}
	return !s.hasAsyncDependency(id) && s.resolvable(m)
}

// innerEligible checks the conditions that do not depend on the group.
func (s *selection) innerEligible(id types.ModuleID) bool {
	m, ok := s.mg.Lookup(id)
	if !ok || m.IsEntry || !s.chunk.HasModule(id) || s.claimed[id] || s.cyclic[id] {
		return false
	}
	// An inlined copy would not share state with the copy in another chunk.
	if len(m.Chunks) > 1 {
		return false
	}
	if !m.Info.IsESM() || m.Info.ComputedExports || !sideEffectFree(m.Info) {
		return false
	}
	if s.hasAsyncDependency(id) || !s.resolvable(m) {
		return false
	}
	for _, stmt := range m.Info.Statements {
		if stmt.IsExportAll() {
			return false
		}
	}
	for _, importer := range s.mg.GetDependents(id) {
		for _, dep := range s.mg.EdgeDependencies(importer, id) {
			if !dep.ResolveType.IsESM() {
				return false
			}
		}
		if s.namespaceUse(importer, id) {
			return false
		}
	}
	return true
}

// grow collects the group of root: dependencies whose importers are all
// group members join until nothing changes.
func (s *selection) grow(root types.ModuleID) []types.ModuleID {
	members := []types.ModuleID{root}
	in := map[types.ModuleID]bool{root: true}
	rejected := make(map[types.ModuleID]bool)

	for changed := true; changed; {
		changed = false
		for i := 0; i < len(members); i++ {
			for _, edge := range s.mg.GetDependencies(members[i]) {
				target := edge.Target
				if in[target] || rejected[target] || !edge.Dependency.ResolveType.IsESM() {
					continue
				}
				if !s.innerEligible(target) {
					rejected[target] = true
					continue
				}
				if !allIn(s.mg.GetDependents(target), in) {
					continue
				}
				members = append(members, target)
				in[target] = true
				changed = true
			}
		}
	}
	return members
}

func (s *selection) hasAsyncDependency(id types.ModuleID) bool {
	for _, edge := range s.mg.GetDependencies(id) {
		if edge.Dependency.ResolveType.IsAsync() {
			return true
		}
	}
	return false
}

// resolvable reports whether every import and re-export of m has an edge.
func (s *selection) resolvable(m *modulegraph.Module) bool {
	for _, stmt := range m.Info.Statements {
		if src := stmt.Source(); src != "" {
			if _, ok := s.mg.GetDependencyModuleBySource(m.ID, src); !ok {
				return false
			}
		}
	}
	return true
}

// namespaceUse reports whether importer takes the namespace object of id.
func (s *selection) namespaceUse(importer, id types.ModuleID) bool {
	m, ok := s.mg.Lookup(importer)
	if !ok {
		return false
	}
	for _, stmt := range m.Info.Statements {
		src := stmt.Source()
		if src == "" {
			continue
		}
		if target, ok := s.mg.GetDependencyModuleBySource(importer, src); !ok || target != id {
			continue
		}
		if stmt.Import != nil {
			for _, spec := range stmt.Import.Specifiers {
				if spec.Kind == types.ImportNamespace {
					return true
				}
			}
		}
		if stmt.Export != nil {
			for _, spec := range stmt.Export.Specifiers {
				if spec.Kind == types.ExportNamespace {
					return true
				}
			}
		}
	}
	return false
}

func sideEffectFree(info *modulegraph.ModuleInfo) bool {
	if info.SideEffects != nil {
		return !*info.SideEffects
	}
	for _, stmt := range info.Statements {
		if stmt.SelfExecuted {
			return false
		}
	}
	return true
}

func allIn(ids []types.ModuleID, set map[types.ModuleID]bool) bool {
	for _, id := range ids {
		if !set[id] {
			return false
		}
	}
	return true
}
