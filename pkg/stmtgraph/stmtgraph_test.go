package stmtgraph

import (
	"context"
	"testing"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, src string) *Graph {
	t.Helper()
	f, err := extractor.NewLanguageRegistry().Parse(context.Background(), "m.js", extractor.JavaScript, []byte(src))
	require.NoError(t, err)
	defer f.Close()
	return New(extractor.AnalyzeJavaScript(f).Statements)
}

func keys(m map[int]bool) []int {
	var out []int
	for i := 0; i < 64; i++ {
		if m[i] {
			out = append(out, i)
		}
	}
	return out
}

func TestEdges(t *testing.T) {
	g := build(t, `import { helper } from "./helper";
const base = 1;
function inner() { return base + helper(); }
export function a() { return inner(); }
export const b = base * 2;
`)
	require.Equal(t, 5, g.Len())

	assert.Empty(t, g.Dependencies(0))
	assert.Empty(t, g.Dependencies(1))
	assert.Equal(t, []int{0, 1}, g.Dependencies(2))
	assert.Equal(t, []int{2}, g.Dependencies(3))
	assert.Equal(t, []int{1}, g.Dependencies(4))

	assert.Equal(t, []int{1}, g.Definers("base"))
	assert.Equal(t, []int{3}, g.Exporters("a"))
	assert.Equal(t, []string{"a", "b"}, g.ExportedNames())
}

func TestReachable(t *testing.T) {
	g := build(t, `import { helper } from "./helper";
const base = 1;
function inner() { return base + helper(); }
export function a() { return inner(); }
export const b = base * 2;
`)

	assert.Equal(t, []int{0, 1, 2, 3}, keys(g.Reachable([]string{"a"})))
	assert.Equal(t, []int{1, 4}, keys(g.Reachable([]string{"b"})))
	assert.Empty(t, keys(g.Reachable([]string{"missing"})))
}

func TestClosureHandlesCycles(t *testing.T) {
	g := build(t, `function even(n) { return n === 0 || odd(n - 1); }
function odd(n) { return n !== 0 && even(n - 1); }
export { even };
`)
	assert.Equal(t, []int{0, 1, 2}, keys(g.Reachable([]string{"even"})))
	assert.Equal(t, []int{1}, g.Dependencies(0))
	assert.Equal(t, []int{0}, g.Dependencies(1))
}

func TestRenamedExport(t *testing.T) {
	g := build(t, `const impl = () => 1;
export { impl as api };
`)
	assert.Equal(t, []int{1}, g.Exporters("api"))
	assert.Equal(t, []int{0, 1}, keys(g.Reachable([]string{"api"})))
}

func TestReachableExportList(t *testing.T) {
	g := build(t, `const a = 1;
const b = 2;
console.log("init");
export { a, b as c };
`)
	assert.Equal(t, []int{0, 3}, keys(g.Reachable([]string{"a"})))
	assert.Equal(t, []int{1, 3}, keys(g.Reachable([]string{"c"})))
	assert.Equal(t, []int{0, 2, 3}, keys(g.Reachable([]string{"a"}, 2)))

	local, ok := g.ListedLocal(3, "c")
	assert.True(t, ok)
	assert.Equal(t, "b", local)
	_, ok = g.ListedLocal(0, "a")
	assert.False(t, ok)
}
