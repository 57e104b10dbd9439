package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func newCompiler(t *testing.T, files map[string]string, opts Options) (*Compiler, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	if opts.Entries == nil {
		opts.Entries = map[string]string{"index": "index.js"}
	}
	if opts.OutDir == "" {
		opts.OutDir = filepath.Join(root, "dist")
	}
	res := resolver.New(resolver.DefaultOptions(root), nil, log.Nop())
	ld := loader.New(nil, loader.Options{}, log.Nop())
	return New(opts, res, ld, log.Nop()), root
}

func id(p string) types.ModuleID {
	return types.NewModuleID(p, "")
}

func TestBuildEndToEnd(t *testing.T) {
	c, root := newCompiler(t, map[string]string{
		"index.js":  "import { a } from \"./a\";\nimport { s } from \"./shared\";\nconsole.log(a, s);\nimport(\"./b\");\n",
		"a.js":      "export const a = 1;\n",
		"shared.js": "export const s = 2;\n",
		"b.js":      "import { s } from \"./shared\";\nexport const b = s;\n",
	}, Options{})

	result, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Missing)
	assert.Equal(t, 4, result.Graph.Len())

	entry, ok := result.Chunks.Chunk(id("index.js"))
	require.True(t, ok)
	assert.Equal(t, chunk.TypeEntry, entry.Type)
	assert.Equal(t, "index", entry.Name)
	assert.ElementsMatch(t, []types.ModuleID{id("index.js"), id("a.js"), id("shared.js")}, entry.Modules())

	async, ok := result.Chunks.Chunk(id("b.js"))
	require.True(t, ok)
	assert.Equal(t, chunk.TypeAsync, async.Type)
	assert.ElementsMatch(t, []types.ModuleID{id("b.js"), id("shared.js")}, async.Modules())
	assert.Equal(t, []types.ModuleID{id("b.js")}, result.Chunks.Dependencies(id("index.js")))

	for _, out := range result.Output.Outputs {
		data, err := os.ReadFile(filepath.Join(root, "dist", out.Filename))
		require.NoError(t, err, out.Filename)
		assert.Equal(t, out.Content, string(data))
	}
	assert.FileExists(t, filepath.Join(root, "dist", "b_js-async.js"))
}

func TestBuildDependencyOrder(t *testing.T) {
	c, _ := newCompiler(t, map[string]string{
		"index.js": "import \"./z\";\nimport \"./y\";\nconst x = require(\"./x\");\n",
		"z.js":     "console.log(\"z\");\n",
		"y.js":     "console.log(\"y\");\n",
		"x.js":     "module.exports = 1;\n",
	}, Options{})

	result, err := c.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ModuleID{id("z.js"), id("y.js"), id("x.js")}, result.Graph.GetDependencyModules(id("index.js")))
}

func TestBuildMissingDependencies(t *testing.T) {
	files := map[string]string{
		"index.js": "import \"./nope\";\nimport { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "import \"./gone\";\nexport const a = 1;\n",
	}

	c, _ := newCompiler(t, files, Options{})
	_, err := c.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resolver.ErrNotFound))

	var missing *MissingDependenciesError
	require.True(t, errors.As(err, &missing))
	require.Len(t, missing.Missing, 2)
	assert.Equal(t, id("a.js"), missing.Missing[0].Importer)
	assert.Equal(t, "./gone", missing.Missing[0].Specifier)
	assert.Equal(t, id("index.js"), missing.Missing[1].Importer)
	assert.Equal(t, "./nope", missing.Missing[1].Specifier)
	assert.Equal(t, 1, missing.Missing[1].Span.Line)
	assert.Contains(t, err.Error(), "2 modules not found")

	watch, _ := newCompiler(t, files, Options{Watch: true})
	result, err := watch.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Missing, 2)
	assert.Equal(t, 2, result.Graph.Len())
}

func TestBuildMissingEntry(t *testing.T) {
	c, _ := newCompiler(t, map[string]string{"index.js": "console.log(1);\n"}, Options{
		Entries: map[string]string{"main": "main.js"},
	})
	_, err := c.Build(context.Background())
	var missing *MissingDependenciesError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "main.js", missing.Missing[0].Specifier)
}

func TestBuildParseError(t *testing.T) {
	c, _ := newCompiler(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const = ;\n",
	}, Options{})

	_, err := c.Build(context.Background())
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, id("a.js"), loadErr.Module)
	assert.Equal(t, id("index.js"), loadErr.Importer)
	assert.Equal(t, 1, loadErr.At.Line)

	var parseErr *extractor.ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestBuildTreeShaking(t *testing.T) {
	files := map[string]string{
		"index.js": "import { add } from \"./math\";\nconsole.log(add(1, 2));\n",
		"math.js":  "export function add(a, b) {\n  return a + b;\n}\nexport function sub(a, b) {\n  return a - b;\n}\n",
	}

	c, _ := newCompiler(t, files, Options{TreeShaking: true})
	result, err := c.Build(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Shake)
	content := result.Output.Outputs[0].Content
	assert.Contains(t, content, "function add(a, b)")
	assert.NotContains(t, content, "function sub(a, b)")

	watch, _ := newCompiler(t, files, Options{TreeShaking: true, Watch: true})
	result, err = watch.Build(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.Shake)
	assert.Contains(t, result.Output.Outputs[0].Content, "function sub(a, b)")
}

func assertParses(t *testing.T, name, code string) {
	t.Helper()
	f, err := extractor.NewLanguageRegistry().Parse(context.Background(), name, extractor.JavaScript, []byte(code))
	require.NoError(t, err, code)
	f.Close()
}

func definedNames(stmts []types.Statement) map[string]bool {
	names := make(map[string]bool)
	for _, stmt := range stmts {
		for _, name := range stmt.Defined {
			names[name] = true
		}
	}
	return names
}

// exportedNames returns nil when the module forwards `export *`.
func exportedNames(stmts []types.Statement) map[string]bool {
	names := make(map[string]bool)
	for i := range stmts {
		if stmts[i].IsExportAll() {
			return nil
		}
		for _, name := range stmts[i].ExportedNames() {
			names[name] = true
		}
	}
	return names
}

func TestBuildTreeShakingKeepsBindingsDefined(t *testing.T) {
	files := map[string]string{
		"index.js": "import { add, total } from \"./math\";\nimport label from \"./label\";\n" +
			"console.log(add(1, 2), total, label);\nimport(\"./lazy\").then((m) => console.log(m.lazy));\n",
		"math.js": "import { scale } from \"./util\";\nconst base = 10;\n" +
			"function helper(x) { return x + base; }\nfunction add(a, b) { return helper(a) + b; }\n" +
			"function sub(a, b) { return scale(a - b); }\nconst total = base + 1;\nexport { add, sub, total };\n",
		"util.js":  "export function scale(n) { return n * 2; }\nexport function unused() { return 0; }\n",
		"label.js": "export { name as default } from \"./names\";\n",
		"names.js": "export const name = \"x\";\nexport const other = \"y\";\n",
		"lazy.js":  "import { scale } from \"./util\";\nexport const lazy = scale(2);\n",
	}
	ctx := context.Background()

	plain, _ := newCompiler(t, files, Options{TreeShaking: true, Watch: true})
	before, err := plain.Build(ctx)
	require.NoError(t, err)

	c, _ := newCompiler(t, files, Options{TreeShaking: true})
	result, err := c.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Shake)
	require.Greater(t, len(result.Output.Outputs), 1, "the dynamic import gets its own chunk")

	registry := extractor.NewLanguageRegistry()
	g := result.Graph
	for _, m := range g.Modules() {
		if m.Info.Lang != extractor.JavaScript {
			continue
		}
		orig := before.Graph.GetModule(m.ID)
		require.NotNil(t, orig, m.ID.String())

		// Nothing may reference a top-level binding that shaking removed.
		kept := definedNames(m.Info.Statements)
		removed := make(map[string]bool)
		for name := range definedNames(orig.Info.Statements) {
			if !kept[name] {
				removed[name] = true
			}
		}
		f, err := m.Info.Parse(ctx, registry)
		require.NoError(t, err, m.ID.String())
		refs := extractor.TopLevelReferences(f, removed)
		f.Close()
		assert.Empty(t, refs, "%s references removed bindings", m.ID)

		// Every named import is still exported by its target.
		for _, stmt := range m.Info.Statements {
			if stmt.Import == nil {
				continue
			}
			target, ok := g.GetDependencyModuleBySource(m.ID, stmt.Import.Source)
			require.True(t, ok, "%s lost %s", m.ID, stmt.Import.Source)
			exported := exportedNames(g.GetModule(target).Info.Statements)
			if exported == nil {
				continue
			}
			for _, spec := range stmt.Import.Specifiers {
				if spec.Kind == types.ImportNamespace {
					continue
				}
				assert.True(t, exported[spec.Imported], "%s imports %s from %s", m.ID, spec.Imported, target)
			}
		}
	}

	math := string(g.GetModule(id("math.js")).Info.Content)
	assert.NotContains(t, math, "function sub")
	assert.NotContains(t, math, "scale")
	assert.Contains(t, math, "export { add, total };")
	assert.NotContains(t, string(g.GetModule(id("util.js")).Info.Content), "unused")
	assert.NotContains(t, string(g.GetModule(id("names.js")).Info.Content), "other")

	for _, out := range result.Output.Outputs {
		assertParses(t, out.Filename, out.Content)
		assert.NotContains(t, out.Content, "function sub(")
	}
}

func TestBuildStats(t *testing.T) {
	c, root := newCompiler(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	}, Options{Stats: true})

	result, err := c.Build(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Stats)
	assert.Equal(t, []string{"index.js"}, result.Stats.Entrypoints["index"].Files)

	data, err := os.ReadFile(filepath.Join(root, "dist", "stats.json"))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, result.Output.FullHash, decoded["hash"])
	assert.Len(t, decoded["modules"], 2)
}

func TestBuildCancelled(t *testing.T) {
	c, _ := newCompiler(t, map[string]string{"index.js": "console.log(1);\n"}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Build(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestScanReloadsInPlace(t *testing.T) {
	c, root := newCompiler(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
		"b.js":     "export const b = 2;\n",
	}, Options{Watch: true})

	result, err := c.Build(context.Background())
	require.NoError(t, err)
	g := result.Graph
	require.False(t, g.HasModule(id("b.js")))

	writeFiles(t, root, map[string]string{"index.js": "import { b } from \"./b\";\nconsole.log(b);\n"})
	res := &resolver.Resource{ID: id("index.js"), Path: filepath.Join(root, "index.js")}
	missing, err := c.Scan(context.Background(), g, []Task{{Resource: res, Entry: true}})
	require.NoError(t, err)
	assert.Empty(t, missing)

	assert.True(t, g.HasModule(id("b.js")))
	assert.True(t, g.GetModule(id("index.js")).IsEntry)
	assert.Equal(t, []types.ModuleID{id("b.js")}, g.GetDependencyModules(id("index.js")))
	assert.Empty(t, g.GetDependents(id("a.js")))
}
