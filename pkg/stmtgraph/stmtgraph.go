// Package stmtgraph builds the per-module statement graph: an edge S -> T
// exists when statement S uses an identifier that statement T defines. The
// closure of the statements exporting a name is the minimal set of
// statements that keeps that export working.
package stmtgraph

import (
	"sort"

	"github.com/l3aro/go-bundle/pkg/types"
)

// Graph is the statement graph of one module.
type Graph struct {
	stmts     []types.Statement
	edges     [][]int
	definedBy map[string][]int
	exportsBy map[string][]int
}

// New builds the graph for a module's top-level statements. Statement ids
// must be their positions.
func New(stmts []types.Statement) *Graph {
	g := &Graph{
		stmts:     stmts,
		edges:     make([][]int, len(stmts)),
		definedBy: make(map[string][]int),
		exportsBy: make(map[string][]int),
	}

	for i := range stmts {
		for _, name := range stmts[i].Defined {
			g.definedBy[name] = append(g.definedBy[name], i)
		}
		for _, name := range stmts[i].ExportedNames() {
			g.exportsBy[name] = append(g.exportsBy[name], i)
		}
	}

	for i := range stmts {
		seen := make(map[int]bool)
		for _, name := range stmts[i].Used {
			for _, j := range g.definedBy[name] {
				if j != i && !seen[j] {
					seen[j] = true
					g.edges[i] = append(g.edges[i], j)
				}
			}
		}
		sort.Ints(g.edges[i])
	}
	return g
}

// Len returns the number of statements.
func (g *Graph) Len() int {
	return len(g.stmts)
}

// Statement returns the statement with the given id.
func (g *Graph) Statement(id int) *types.Statement {
	return &g.stmts[id]
}

// Statements returns every statement in source order.
func (g *Graph) Statements() []types.Statement {
	return g.stmts
}

// Dependencies returns the statements id depends on, ascending.
func (g *Graph) Dependencies(id int) []int {
	return g.edges[id]
}

// Definers returns the statements defining name.
func (g *Graph) Definers(name string) []int {
	return g.definedBy[name]
}

// Exporters returns the statements exporting name.
func (g *Graph) Exporters(name string) []int {
	return g.exportsBy[name]
}

// ExportedNames returns every name the module exports itself, sorted.
// Names only reachable through `export *` are not included.
func (g *Graph) ExportedNames() []string {
	names := make([]string, 0, len(g.exportsBy))
	for name := range g.exportsBy {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closure returns the statements reachable from roots, roots included.
func (g *Graph) Closure(roots []int) map[int]bool {
	reached := make(map[int]bool, len(roots))
	queue := make([]int, 0, len(roots))
	for _, r := range roots {
		if r >= 0 && r < len(g.stmts) && !reached[r] {
			reached[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range g.edges[id] {
			if !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return reached
}

// Reachable returns the closure of the statements exporting names, plus
// extra roots. An `export { ... }` list is kept without following its
// edges: only the definitions of the listed names asked for are reached.
func (g *Graph) Reachable(names []string, roots ...int) map[int]bool {
	roots = append([]int(nil), roots...)
	var lists []int
	for _, name := range names {
		for _, id := range g.exportsBy[name] {
			local, ok := g.ListedLocal(id, name)
			if !ok {
				roots = append(roots, id)
				continue
			}
			lists = append(lists, id)
			roots = append(roots, g.definedBy[local]...)
		}
	}
	reached := g.Closure(roots)
	for _, id := range lists {
		reached[id] = true
	}
	return reached
}

// ListedLocal returns the local binding that statement id exports as name
// when id is a local `export { ... }` list.
func (g *Graph) ListedLocal(id int, name string) (string, bool) {
	exp := g.stmts[id].Export
	if exp == nil || exp.HasSource() || exp.DeclarationKind != "" {
		return "", false
	}
	for _, spec := range exp.Specifiers {
		if spec.Exported != name || spec.Local == "" {
			continue
		}
		if spec.Kind == types.ExportNamed || spec.Kind == types.ExportDefault {
			return spec.Local, true
		}
	}
	return "", false
}
