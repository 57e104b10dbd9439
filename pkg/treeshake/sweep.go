package treeshake

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// sweep rewrites m to its retained statements, re-analyzes the result and
// rebuilds its outgoing edges. It returns the number of statements removed.
func (st *shake) sweep(ctx context.Context, m *Module) (int, error) {
	retained := st.retained(m)
	usedLocals := localsUsedBy(m, retained)
	stmts := m.graph.Statements()

	var edits []extractor.Edit
	removed := 0
	remove := func(stmt *types.Statement) {
		edits = append(edits, extractor.Edit{Start: stmt.Span.Start, End: stmt.Span.End})
		removed++
	}
	replace := func(stmt *types.Statement, text string) {
		edits = append(edits, extractor.Edit{Start: stmt.Span.Start, End: stmt.Span.End, Text: text})
	}

	for i := range stmts {
		stmt := &stmts[i]
		if !retained[i] {
			remove(stmt)
			continue
		}

		switch {
		case stmt.Import != nil:
			specs := stmt.Import.Specifiers
			if len(specs) == 0 {
				continue
			}
			var kept []types.ImportSpecifier
			for _, spec := range specs {
				if usedLocals[spec.Local] {
					kept = append(kept, spec)
				}
			}
			switch {
			case len(kept) == len(specs):
			case len(kept) > 0:
				replace(stmt, importText(stmt.Import.SourceText, kept))
			case st.sideEffectful(m.ID, stmt.Source()):
				replace(stmt, "import "+stmt.Import.SourceText+";")
			default:
				remove(stmt)
			}

		case stmt.Export != nil && !stmt.IsExportAll() && stmt.Export.DeclarationKind == "":
			specs := stmt.Export.Specifiers
			var kept []types.ExportSpecifier
			for _, spec := range specs {
				if m.Used.Has(spec.Exported) {
					kept = append(kept, spec)
				}
			}
			switch {
			case len(kept) == len(specs):
			case len(kept) > 0:
				replace(stmt, exportText(stmt.Export.SourceText, kept))
			default:
				remove(stmt)
			}
		}
	}

	if len(edits) == 0 {
		return 0, nil
	}

	info := m.info
	content, err := extractor.Apply(info.Content, edits)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite %s: %w", m.ID, err)
	}
	analysis, err := st.analyzer.Analyze(ctx, info.Path, info.Lang, []byte(content))
	if err != nil {
		return 0, fmt.Errorf("failed to analyze shaken module %s: %w", m.ID, err)
	}

	next := *info
	next.Content = []byte(content)
	next.RawHash = loader.RawHash(next.Content)
	next.System = analysis.System
	next.Statements = analysis.Statements
	next.Dependencies = analysis.Dependencies
	next.ComputedExports = analysis.ComputedExports

	st.rebuildEdges(m.ID, next.Dependencies)

	gm := st.g.GetModule(m.ID)
	st.g.ReplaceModule(&modulegraph.Module{ID: gm.ID, IsEntry: gm.IsEntry, Info: &next, Chunks: gm.Chunks})
	m.info = &next

	st.logger.Debug("shaken module", "module", m.ID.String(), "used", m.Used.String(), "removed", removed)
	return removed, nil
}

func (st *shake) sideEffectful(from types.ModuleID, source string) bool {
	target, ok := st.target(from, source)
	return ok && st.modules[target].SideEffects
}

// rebuildEdges replaces the outgoing edges of id with deps, mapping each
// specifier to the module it resolved to before the rewrite.
func (st *shake) rebuildEdges(id types.ModuleID, deps []types.Dependency) {
	type key struct {
		source string
		rt     types.ResolveType
	}
	targets := make(map[key]types.ModuleID)
	bySource := make(map[string]types.ModuleID)
	for _, edge := range st.g.GetDependencies(id) {
		targets[key{edge.Dependency.Source, edge.Dependency.ResolveType}] = edge.Target
		bySource[edge.Dependency.Source] = edge.Target
	}

	st.g.ClearDependencyEdges(id)
	for _, dep := range deps {
		target, ok := targets[key{dep.Source, dep.ResolveType}]
		if !ok {
			target, ok = bySource[dep.Source]
		}
		if ok && st.g.HasModule(target) {
			st.g.AddDependency(id, target, dep)
		}
	}
}

// prune removes modules nothing uses, then anything no longer reachable
// from an entry. It returns the removed ids, sorted.
func (st *shake) prune() []types.ModuleID {
	var pruned []types.ModuleID
	for _, id := range st.order {
		m := st.modules[id]
		if m.Used.IsNone() && !m.SideEffects && st.g.HasModule(id) {
			st.g.RemoveModule(id)
			pruned = append(pruned, id)
		}
	}

	entries := st.g.GetEntryModules()
	if len(entries) > 0 {
		reachable := make(map[types.ModuleID]bool)
		queue := append([]types.ModuleID(nil), entries...)
		for _, id := range entries {
			reachable[id] = true
		}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, dep := range st.g.GetDependencyModules(id) {
				if !reachable[dep] {
					reachable[dep] = true
					queue = append(queue, dep)
				}
			}
		}
		for _, id := range st.g.ModuleIDs() {
			if !reachable[id] {
				st.g.RemoveModule(id)
				pruned = append(pruned, id)
			}
		}
	}

	types.SortModuleIDs(pruned)
	for _, id := range pruned {
		st.logger.Debug("pruned module", "module", id.String())
	}
	return pruned
}

func importText(source string, specs []types.ImportSpecifier) string {
	var clauses []string
	var named []string
	for _, spec := range specs {
		switch spec.Kind {
		case types.ImportDefault:
			clauses = append([]string{spec.Local}, clauses...)
		case types.ImportNamespace:
			clauses = append(clauses, "* as "+spec.Local)
		case types.ImportNamed:
			named = append(named, specifierText(spec.Imported, spec.Local))
		}
	}
	if len(named) > 0 {
		clauses = append(clauses, "{ "+strings.Join(named, ", ")+" }")
	}
	return "import " + strings.Join(clauses, ", ") + " from " + source + ";"
}

func exportText(source string, specs []types.ExportSpecifier) string {
	var parts []string
	for _, spec := range specs {
		local := spec.Local
		if local == "" {
			local = spec.Exported
		}
		parts = append(parts, specifierText(local, spec.Exported))
	}
	text := "export { " + strings.Join(parts, ", ") + " }"
	if source != "" {
		text += " from " + source
	}
	return text + ";"
}

// specifierText renders "name" or "name as alias", quoting module export
// names that are not identifiers.
func specifierText(name, alias string) string {
	quoted := name
	if !isIdentifierName(name) {
		quoted = strconv.Quote(name)
	}
	if name == alias {
		return quoted
	}
	if !isIdentifierName(alias) {
		alias = strconv.Quote(alias)
	}
	return quoted + " as " + alias
}

func isIdentifierName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r > 0x7f:
		default:
			return false
		}
	}
	return true
}
