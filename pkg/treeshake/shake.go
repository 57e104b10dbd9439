// Package treeshake removes statements and modules that cannot affect the
// output: exports nobody consumes and side-effect-free code they pull in.
//
// Shaking runs in three phases. Side effects are computed per module and
// propagated to importers. Used exports are then propagated from the entries
// with a worklist until no module's set grows. Finally every ES module is
// rewritten to the statements the fixed point retained and modules nobody
// uses are removed from the graph.
package treeshake

import (
	"context"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/stmtgraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Analyzer re-analyzes module content after rewriting. *loader.Loader
// implements it.
type Analyzer interface {
	Analyze(ctx context.Context, path string, lang extractor.Language, content []byte) (*extractor.Analysis, error)
}

// Module is the shaking state of one graph module.
type Module struct {
	ID          types.ModuleID
	Used        UsedExports
	SideEffects bool
	// Pinned modules have an export shape that cannot be known statically;
	// any reference escalates them to All.
	Pinned bool

	info  *modulegraph.ModuleInfo
	graph *stmtgraph.Graph
}

func (m *Module) isESM() bool {
	return m.info.IsESM()
}

// Result reports what a shake did.
type Result struct {
	Modules           map[types.ModuleID]*Module
	Pruned            []types.ModuleID
	RemovedStatements int
}

// Used returns the final used exports of id.
func (r *Result) Used(id types.ModuleID) UsedExports {
	if m, ok := r.Modules[id]; ok {
		return m.Used
	}
	return NoneUsed()
}

// Shaker runs tree shaking over a module graph.
type Shaker struct {
	analyzer Analyzer
	logger   log.Logger
}

// New creates a Shaker.
func New(analyzer Analyzer, logger log.Logger) *Shaker {
	if logger == nil {
		logger = log.Nop()
	}
	return &Shaker{analyzer: analyzer, logger: logger}
}

type shake struct {
	*Shaker
	g       *modulegraph.ModuleGraph
	order   []types.ModuleID
	modules map[types.ModuleID]*Module
	queue   []types.ModuleID
	queued  map[types.ModuleID]bool
}

// Shake shakes g in place.
func (s *Shaker) Shake(ctx context.Context, g *modulegraph.ModuleGraph) (*Result, error) {
	st := &shake{
		Shaker:  s,
		g:       g,
		modules: make(map[types.ModuleID]*Module, g.Len()),
		queued:  make(map[types.ModuleID]bool),
	}

	cycles := st.init()
	st.computeSideEffects(cycles)

	for _, id := range st.order {
		st.enqueue(id)
	}
	for len(st.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := st.queue[0]
		st.queue = st.queue[1:]
		delete(st.queued, id)
		st.propagate(st.modules[id])
	}

	result := &Result{Modules: st.modules}
	for _, id := range st.order {
		m := st.modules[id]
		if !m.isESM() || m.Pinned || (m.Used.IsNone() && !m.SideEffects) {
			continue
		}
		removed, err := st.sweep(ctx, m)
		if err != nil {
			return nil, err
		}
		result.RemovedStatements += removed
	}
	result.Pruned = st.prune()

	s.logger.Info("tree shaking finished",
		"modules", len(st.modules),
		"pruned", len(result.Pruned),
		"removed_statements", result.RemovedStatements)
	return result, nil
}

// init builds the shaking state in topological order. Modules not reachable
// from an entry follow in id order.
func (st *shake) init() [][]types.ModuleID {
	order, cycles := st.g.Toposort(st.g.GetEntryModules())
	seen := make(map[types.ModuleID]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, id := range st.g.ModuleIDs() {
		if !seen[id] {
			order = append(order, id)
		}
	}
	st.order = order

	for _, id := range order {
		gm := st.g.GetModule(id)
		m := &Module{ID: id, info: gm.Info}
		if gm.Info.Kind == modulegraph.KindScript {
			m.graph = stmtgraph.New(gm.Info.Statements)
			m.Pinned = !gm.Info.IsESM() || gm.Info.ComputedExports
		} else {
			m.Pinned = true
		}
		if gm.IsEntry {
			m.Used = AllUsed()
		}
		st.modules[id] = m
	}
	return cycles
}

// computeSideEffects seeds each module's own side effects and propagates
// them to importers until nothing changes.
func (st *shake) computeSideEffects(cycles [][]types.ModuleID) {
	inCycle := make(map[types.ModuleID]bool)
	for _, cycle := range cycles {
		for _, id := range cycle {
			inCycle[id] = true
		}
	}

	declared := make(map[types.ModuleID]bool)
	for _, id := range st.order {
		m := st.modules[id]
		gm := st.g.GetModule(id)
		if m.info.SideEffects != nil {
			declared[id] = true
			m.SideEffects = *m.info.SideEffects
		} else {
			m.SideEffects = ownSideEffects(m.info)
		}
		if gm.IsEntry || inCycle[id] {
			m.SideEffects = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, id := range st.order {
			m := st.modules[id]
			if m.SideEffects || declared[id] {
				continue
			}
			for _, edge := range st.g.GetDependencies(id) {
				if edge.Dependency.ResolveType.IsAsync() {
					continue
				}
				if st.modules[edge.Target].SideEffects {
					m.SideEffects = true
					changed = true
					break
				}
			}
		}
	}
}

func ownSideEffects(info *modulegraph.ModuleInfo) bool {
	switch info.Kind {
	case modulegraph.KindScript:
		if !info.IsESM() {
			return true
		}
		for i := range info.Statements {
			if info.Statements[i].SelfExecuted {
				return true
			}
		}
		return false
	case modulegraph.KindStyle:
		return true
	case modulegraph.KindJSON, modulegraph.KindAsset, modulegraph.KindRaw, modulegraph.KindExternal:
		return false
	}
	return true
}

func (st *shake) enqueue(id types.ModuleID) {
	if st.queued[id] {
		return
	}
	st.queued[id] = true
	st.queue = append(st.queue, id)
}

// use applies fn to the used set of target and requeues it when it grew.
func (st *shake) use(target types.ModuleID, fn func(*UsedExports) bool) {
	t, ok := st.modules[target]
	if !ok {
		return
	}
	var grew bool
	if t.Pinned {
		grew = t.Used.Escalate()
	} else {
		grew = fn(&t.Used)
	}
	if grew {
		st.logger.Debug("used exports grew", "module", target.String(), "used", t.Used.String())
		st.enqueue(target)
	}
}

func escalate(u *UsedExports) bool { return u.Escalate() }

func reference(u *UsedExports) bool { return u.Reference() }

func addName(name string) func(*UsedExports) bool {
	return func(u *UsedExports) bool { return u.Add(name) }
}

// propagate pushes usage from m to its dependencies.
func (st *shake) propagate(m *Module) {
	if m.Used.IsNone() && !m.SideEffects {
		return
	}

	if !m.isESM() {
		for _, edge := range st.g.GetDependencies(m.ID) {
			st.use(edge.Target, escalate)
		}
		return
	}

	for _, edge := range st.g.GetDependencies(m.ID) {
		if !edge.Dependency.ResolveType.IsESM() {
			st.use(edge.Target, escalate)
		}
	}

	if !m.Used.IsNone() && !m.Used.IsAll() && st.exportsFromNonESM(m) {
		m.Used.Escalate()
	}

	retained := st.retained(m)
	usedLocals := localsUsedBy(m, retained)

	for id := range retained {
		stmt := m.graph.Statement(id)
		target, ok := st.target(m.ID, stmt.Source())
		if !ok {
			continue
		}

		switch {
		case stmt.Import != nil:
			referenced := false
			for _, spec := range stmt.Import.Specifiers {
				if !usedLocals[spec.Local] {
					continue
				}
				referenced = true
				switch spec.Kind {
				case types.ImportNamespace:
					st.use(target, escalate)
				case types.ImportDefault:
					st.use(target, addName("default"))
				case types.ImportNamed:
					st.use(target, addName(spec.Imported))
				}
			}
			if !referenced {
				st.use(target, reference)
			}

		case stmt.IsExportAll():
			if m.Used.IsAll() {
				st.use(target, escalate)
				continue
			}
			st.use(target, reference)
			for _, name := range m.Used.Names() {
				if len(m.graph.Exporters(name)) == 0 && name != "default" {
					st.use(target, addName(name))
				}
			}

		case stmt.Export.HasSource():
			for _, spec := range stmt.Export.Specifiers {
				if !m.Used.Has(spec.Exported) {
					continue
				}
				if spec.Kind == types.ExportNamespace {
					st.use(target, escalate)
				} else {
					st.use(target, addName(spec.Local))
				}
			}
		}
	}
}

// exportsFromNonESM reports whether m re-exports everything from a module
// whose export shape is unknown.
func (st *shake) exportsFromNonESM(m *Module) bool {
	for _, stmt := range m.graph.Statements() {
		if !stmt.IsExportAll() {
			continue
		}
		target, ok := st.target(m.ID, stmt.Source())
		if ok && st.modules[target].Pinned {
			return true
		}
	}
	return false
}

func (st *shake) target(from types.ModuleID, source string) (types.ModuleID, bool) {
	if source == "" {
		return types.ModuleID{}, false
	}
	return st.g.GetDependencyModuleBySource(from, source)
}

// retained returns the statements of m that must be kept for its current
// used exports and side effects.
func (st *shake) retained(m *Module) map[int]bool {
	var roots []int
	stmts := m.graph.Statements()

	if m.SideEffects {
		for i := range stmts {
			stmt := &stmts[i]
			if stmt.SelfExecuted {
				roots = append(roots, i)
				continue
			}
			if stmt.Kind == types.StmtImport {
				if target, ok := st.target(m.ID, stmt.Source()); ok && st.modules[target].SideEffects {
					roots = append(roots, i)
				}
			}
		}
	}

	if m.Used.IsAll() {
		for i := range stmts {
			if stmts[i].Kind == types.StmtExport {
				roots = append(roots, i)
			}
		}
		return m.graph.Closure(roots)
	}

	names := m.Used.Names()
	for _, name := range names {
		if len(m.graph.Exporters(name)) == 0 && name != "default" {
			for i := range stmts {
				if stmts[i].IsExportAll() {
					roots = append(roots, i)
				}
			}
			break
		}
	}
	return m.graph.Reachable(names, roots...)
}

// localsUsedBy returns the identifiers referenced by the retained statements
// of m. A local export list only references the locals of exports in use.
func localsUsedBy(m *Module, retained map[int]bool) map[string]bool {
	used := make(map[string]bool)
	for id := range retained {
		stmt := m.graph.Statement(id)
		if !m.Used.IsAll() && isLocalList(stmt) {
			for _, spec := range stmt.Export.Specifiers {
				if m.Used.Has(spec.Exported) {
					if local, ok := m.graph.ListedLocal(id, spec.Exported); ok {
						used[local] = true
					}
				}
			}
			continue
		}
		for _, name := range stmt.Used {
			used[name] = true
		}
	}
	return used
}

func isLocalList(stmt *types.Statement) bool {
	return stmt.Export != nil && !stmt.Export.HasSource() && stmt.Export.DeclarationKind == ""
}
