package treeshake

import (
	"context"
	"path"
	"strings"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	files       map[string]string
	sideEffects map[string]bool
}

// buildGraph loads files into a graph with index.js as the entry. Relative
// specifiers resolve to the file itself or the file with ".js" appended.
func buildGraph(t *testing.T, fx fixture) (*modulegraph.ModuleGraph, *loader.Loader) {
	t.Helper()
	ctx := context.Background()
	l := loader.New(nil, loader.Options{}, log.Nop())
	g := modulegraph.New()

	for name, src := range fx.files {
		var declared *bool
		if v, ok := fx.sideEffects[name]; ok {
			declared = &v
		}
		id := types.NewModuleID(name, "")
		info, err := l.LoadContent(ctx, id, name, []byte(src), declared)
		require.NoError(t, err, name)
		g.AddModule(modulegraph.NewModule(id, name == "index.js", info))
	}

	for _, m := range g.Modules() {
		for _, dep := range m.Info.Dependencies {
			target := path.Join(path.Dir(m.ID.Path), dep.Source)
			if _, ok := fx.files[target]; !ok {
				target += ".js"
			}
			if _, ok := fx.files[target]; ok {
				g.AddDependency(m.ID, types.NewModuleID(target, ""), dep)
			}
		}
	}
	return g, l
}

func shakeGraph(t *testing.T, fx fixture) (*modulegraph.ModuleGraph, *Result) {
	t.Helper()
	g, l := buildGraph(t, fx)
	result, err := New(l, log.Nop()).Shake(context.Background(), g)
	require.NoError(t, err)
	return g, result
}

func content(g *modulegraph.ModuleGraph, name string) string {
	return string(g.GetModule(types.NewModuleID(name, "")).Info.Content)
}

func id(name string) types.ModuleID {
	return types.NewModuleID(name, "")
}

func TestUnusedExportIsRemoved(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import { a } from \"./m\";\nconsole.log(a);\n",
		"m.js":     "export const a = 1;\nexport const b = 2;\n",
	}})

	m := content(g, "m.js")
	assert.Contains(t, m, "export const a = 1;")
	assert.NotContains(t, m, "b = 2")
	assert.Equal(t, []string{"a"}, result.Used(id("m.js")).Names())
	assert.Equal(t, 1, result.RemovedStatements)
	assert.Contains(t, content(g, "index.js"), `import { a } from "./m";`)
}

func TestNamespaceImportKeepsEverything(t *testing.T) {
	src := "export const a = 1;\nexport const b = 2;\n"
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import * as ns from \"./m\";\nconsole.log(ns.b);\n",
		"m.js":     src,
	}})

	assert.True(t, result.Used(id("m.js")).IsAll())
	assert.Equal(t, src, content(g, "m.js"))
}

func TestUnusedImportOfPureModuleIsDropped(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import { b } from \"./m\";\nconsole.log(1);\n",
		"m.js":     "export const b = 2;\n",
	}})

	assert.False(t, g.HasModule(id("m.js")))
	assert.Equal(t, []types.ModuleID{id("m.js")}, result.Pruned)
	assert.NotContains(t, content(g, "index.js"), "import")
	assert.Empty(t, g.GetDependencies(id("index.js")))
}

func TestSideEffectImportIsKept(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js":    "import { b } from \"./polyfill\";\nconsole.log(1);\n",
		"polyfill.js": "window.x = 1;\nexport const b = 2;\n",
	}})

	index := content(g, "index.js")
	assert.Contains(t, index, `import "./polyfill";`)
	assert.NotContains(t, index, "{ b }")

	polyfill := content(g, "polyfill.js")
	assert.Contains(t, polyfill, "window.x = 1;")
	assert.NotContains(t, polyfill, "b = 2")

	assert.True(t, result.Modules[id("polyfill.js")].SideEffects)
	assert.Equal(t, []types.ModuleID{id("polyfill.js")}, g.GetDependencyModules(id("index.js")))
}

func TestReexportChain(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import { x } from \"./re\";\nx();\n",
		"re.js":    "export { x, y } from \"./impl\";\n",
		"impl.js":  "export function x() {}\nexport function y() {}\n",
	}})

	assert.Equal(t, "export { x } from \"./impl\";\n", content(g, "re.js"))
	impl := content(g, "impl.js")
	assert.Contains(t, impl, "function x()")
	assert.NotContains(t, impl, "function y()")
	assert.Equal(t, []string{"x"}, result.Used(id("impl.js")).Names())
}

func TestExportListKeepsOnlyUsedBindings(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import { a } from \"./m\";\nconsole.log(a);\n",
		"m.js":     "const a = 1;\nconst b = 2;\nexport { a, b };\n",
	}})

	m := content(g, "m.js")
	assert.Contains(t, m, "const a = 1;")
	assert.NotContains(t, m, "const b")
	assert.Contains(t, m, "export { a };")
	assert.Equal(t, []string{"a"}, result.Used(id("m.js")).Names())
	assert.Equal(t, 1, result.RemovedStatements)
}

func TestExportListDropsUnusedImportedBinding(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import { local } from \"./m\";\nconsole.log(local);\n",
		"m.js":     "import { x, y } from \"./impl\";\nconst local = x;\nexport { local, y };\n",
		"impl.js":  "export const x = 1;\nexport const y = 2;\n",
	}})

	m := content(g, "m.js")
	assert.Contains(t, m, `import { x } from "./impl";`)
	assert.Contains(t, m, "export { local };")
	assert.Equal(t, []string{"x"}, result.Used(id("impl.js")).Names())
	assert.NotContains(t, content(g, "impl.js"), "y = 2")
}

func TestExportAllForwardsUsage(t *testing.T) {
	barrel := "export * from \"./zmod\";\nexport * from \"./wmod\";\n"
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js":  "import { z } from \"./barrel\";\nconsole.log(z);\n",
		"barrel.js": barrel,
		"zmod.js":   "export const z = 1;\nexport const unused = 2;\n",
		"wmod.js":   "export const w = 1;\n",
	}})

	assert.Equal(t, barrel, content(g, "barrel.js"))
	zmod := content(g, "zmod.js")
	assert.Contains(t, zmod, "z = 1")
	assert.NotContains(t, zmod, "unused")
	assert.NotContains(t, content(g, "wmod.js"), "w = 1")
	assert.Equal(t, []string{"z"}, result.Used(id("zmod.js")).Names())
}

func TestCommonJSIsPinned(t *testing.T) {
	src := "exports.a = function () {};\nexports.b = 1;\n"
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "const m = require(\"./cjs\");\nm.a();\n",
		"cjs.js":   src,
	}})

	assert.True(t, result.Used(id("cjs.js")).IsAll())
	assert.Equal(t, src, content(g, "cjs.js"))
}

func TestDynamicImportEscalates(t *testing.T) {
	src := "export const a = 1;\nexport const b = 2;\n"
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "export const load = () => import(\"./lazy\");\n",
		"lazy.js":  src,
	}})

	assert.True(t, result.Used(id("lazy.js")).IsAll())
	assert.Equal(t, src, content(g, "lazy.js"))
}

func TestDeclaredSideEffectFreePackageIsPruned(t *testing.T) {
	g, result := shakeGraph(t, fixture{
		files: map[string]string{
			"index.js": "import \"./lib\";\nconsole.log(1);\n",
			"lib.js":   "console.log(\"lib\");\nexport const a = 1;\n",
		},
		sideEffects: map[string]bool{"lib.js": false},
	})

	assert.Contains(t, result.Pruned, id("lib.js"))
	assert.False(t, g.HasModule(id("lib.js")))
	assert.NotContains(t, content(g, "index.js"), "import")
}

func TestExportAllFromCommonJSPinsBarrel(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js":  "import { a } from \"./barrel\";\nconsole.log(a);\n",
		"barrel.js": "export * from \"./cjs\";\nexport const own = 1;\n",
		"cjs.js":    "module.exports = { a: 1 };\n",
	}})

	assert.True(t, result.Used(id("barrel.js")).IsAll())
	assert.True(t, result.Used(id("cjs.js")).IsAll())
	assert.Contains(t, content(g, "barrel.js"), "own = 1")
}

func TestCycleMembersKeepSideEffects(t *testing.T) {
	g, result := shakeGraph(t, fixture{files: map[string]string{
		"index.js": "import \"./a\";\n",
		"a.js":     "import \"./b\";\nexport const a = 1;\n",
		"b.js":     "import \"./a\";\nexport const b = 1;\n",
	}})

	assert.Empty(t, result.Pruned)
	assert.True(t, g.HasModule(id("a.js")))
	assert.True(t, g.HasModule(id("b.js")))
	assert.True(t, result.Modules[id("a.js")].SideEffects)
}

func TestUsedExports(t *testing.T) {
	u := NoneUsed()
	assert.True(t, u.IsNone())
	assert.False(t, u.Has("a"))

	assert.True(t, u.Reference())
	assert.Equal(t, UsedPartial, u.Kind())
	assert.Empty(t, u.Names())
	assert.False(t, u.Reference())

	assert.True(t, u.Add("b"))
	assert.True(t, u.Add("a"))
	assert.False(t, u.Add("a"))
	assert.Equal(t, []string{"a", "b"}, u.Names())
	assert.Equal(t, "partial(a,b)", u.String())

	assert.True(t, u.Escalate())
	assert.True(t, u.Has("anything"))
	assert.False(t, u.Add("c"))
	assert.False(t, u.Escalate())
	assert.Equal(t, "all", u.String())
}

func TestSpecifierText(t *testing.T) {
	assert.Equal(t, "a", specifierText("a", "a"))
	assert.Equal(t, "a as b", specifierText("a", "b"))
	assert.Equal(t, `"a-b" as c`, specifierText("a-b", "c"))
	assert.Equal(t, `import d, { x as y } from "./m";`, importText(`"./m"`, []types.ImportSpecifier{
		{Kind: types.ImportNamed, Imported: "x", Local: "y"},
		{Kind: types.ImportDefault, Imported: "default", Local: "d"},
	}))
	assert.True(t, strings.HasPrefix(exportText("", []types.ExportSpecifier{{Local: "a", Exported: "b"}}), "export { a as b }"))
}
