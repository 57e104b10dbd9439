package hmr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/generate"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root   string
	driver *Driver
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	fx := &fixture{root: root}
	fx.write(t, files)

	res := resolver.New(resolver.DefaultOptions(root), nil, log.Nop())
	ld := loader.New(nil, loader.Options{}, log.Nop())
	c := build.New(build.Options{
		Entries:  map[string]string{"index": "index.js"},
		OutDir:   filepath.Join(root, "dist"),
		Watch:    true,
		Generate: generate.Options{HMR: true},
	}, res, ld, log.Nop())
	result, err := c.Build(context.Background())
	require.NoError(t, err)
	fx.driver = New(c, result, log.Nop())
	return fx
}

func (fx *fixture) write(t *testing.T, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(fx.path(name), []byte(content), 0644))
	}
}

func (fx *fixture) path(name string) string {
	return filepath.Join(fx.root, name)
}

func (fx *fixture) update(t *testing.T, names ...string) (*Payload, *UpdateResult) {
	t.Helper()
	var paths []string
	for _, name := range names {
		paths = append(paths, fx.path(name))
	}
	payload, ur, err := fx.driver.Update(context.Background(), paths)
	require.NoError(t, err)
	return payload, ur
}

func id(p string) types.ModuleID {
	return types.NewModuleID(p, "")
}

func TestClassify(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nimport { b } from \"./b\";\nconsole.log(a, b);\n",
		"a.js":     "export const a = 1;\n",
		"b.js":     "export const b = 2;\n",
	})
	require.NoError(t, os.Remove(fx.path("b.js")))
	fx.write(t, map[string]string{"c.js": "export const c = 3;\n"})

	ur := fx.driver.Classify([]string{fx.path("a.js"), fx.path("b.js"), fx.path("c.js"), fx.path("nothing.js"), fx.path("a.js")})
	assert.Equal(t, []types.ModuleID{id("a.js")}, ur.Modified)
	assert.Equal(t, []types.ModuleID{id("b.js")}, ur.Removed)
	assert.Equal(t, []types.ModuleID{id("c.js")}, ur.Added)
}

func TestUpdateSingleModule(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	})
	before := fx.driver.Hash()
	chunks := fx.driver.Chunks()

	fx.write(t, map[string]string{"a.js": "export const a = 42;\n"})
	payload, ur := fx.update(t, "a.js")
	require.NotNil(t, payload)

	assert.Equal(t, []types.ModuleID{id("a.js")}, ur.Modified)
	assert.False(t, ur.DepChanged)
	assert.False(t, ur.Regrouped)
	assert.Same(t, chunks, fx.driver.Chunks())
	assert.Equal(t, []types.ModuleID{id("index.js")}, ur.Affected)

	assert.NotEqual(t, before, payload.Hash)
	assert.Equal(t, fx.driver.Hash(), payload.Hash)
	require.Contains(t, payload.Modules, "a.js")
	assert.Equal(t, "index.js", payload.Modules["a.js"].Chunk)
	assert.Contains(t, payload.Modules["a.js"].Body, "const a = 42;")
	assert.True(t, payload.Reload)

	data, err := os.ReadFile(filepath.Join(fx.root, "dist", "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "const a = 42;")
}

func TestUpdateStylesheetIsHot(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js":  "import \"./style.css\";\n",
		"style.css": ".a { color: red; }\n",
	})

	fx.write(t, map[string]string{"style.css": ".a { color: blue; }\n"})
	payload, _ := fx.update(t, "style.css")
	require.NotNil(t, payload)
	assert.False(t, payload.Reload)
	assert.Contains(t, payload.Modules["style.css"].Body, "__require__.css(\"style.css\", \".a { color: blue; }\");")

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"modules\":{\"style.css\":{\"body\":")
}

func TestUpdateAddsDependency(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "console.log(1);\n",
	})

	fx.write(t, map[string]string{
		"index.js": "import { c } from \"./c\";\nconsole.log(c);\n",
		"c.js":     "export const c = 3;\n",
	})
	payload, ur := fx.update(t, "index.js", "c.js")
	require.NotNil(t, payload)

	assert.Equal(t, []types.ModuleID{id("c.js")}, ur.Added)
	assert.Equal(t, []types.ModuleID{id("index.js")}, ur.Modified)
	assert.True(t, ur.DepChanged)
	assert.True(t, ur.Regrouped)
	assert.Contains(t, payload.Modules, "c.js")
	assert.Contains(t, payload.Modules, "index.js")
	assert.True(t, fx.driver.Graph().HasModule(id("c.js")))
}

func TestUpdateRemovesModule(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	})

	require.NoError(t, os.Remove(fx.path("a.js")))
	payload, ur := fx.update(t, "a.js")
	require.NotNil(t, payload)

	assert.Equal(t, []types.ModuleID{id("a.js")}, ur.Removed)
	assert.Equal(t, []types.ModuleID{id("index.js")}, ur.Modified)
	assert.True(t, ur.DepChanged)
	assert.Equal(t, []string{"a.js"}, payload.Removed)
	assert.True(t, payload.Reload)
	assert.False(t, fx.driver.Graph().HasModule(id("a.js")))
	require.Len(t, fx.driver.Missing(), 1)
	assert.Equal(t, "./a", fx.driver.Missing()[0].Specifier)
}

func TestUpdateResolvesPreviouslyMissing(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { later } from \"./later\";\nconsole.log(later);\n",
	})
	require.Len(t, fx.driver.Missing(), 1)

	fx.write(t, map[string]string{"later.js": "export const later = 1;\n"})
	payload, ur := fx.update(t, "later.js")
	require.NotNil(t, payload)

	assert.Equal(t, []types.ModuleID{id("later.js")}, ur.Added)
	assert.Equal(t, []types.ModuleID{id("index.js")}, ur.Modified)
	assert.Empty(t, fx.driver.Missing())
	assert.Contains(t, payload.Modules["index.js"].Body, "__require__(\"later.js\")")
}

func TestUpdatePrunesUnreachable(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	})

	fx.write(t, map[string]string{"index.js": "console.log(2);\n"})
	payload, ur := fx.update(t, "index.js")
	require.NotNil(t, payload)
	assert.Equal(t, []types.ModuleID{id("a.js")}, ur.Removed)
	assert.Equal(t, []string{"a.js"}, payload.Removed)
	assert.False(t, fx.driver.Graph().HasModule(id("a.js")))
}

func TestUpdateIgnoresUnrelatedFiles(t *testing.T) {
	fx := newFixture(t, map[string]string{"index.js": "console.log(1);\n"})
	fx.write(t, map[string]string{"notes.txt": "hello"})

	payload, ur := fx.update(t, "notes.txt", "gone.js")
	assert.Nil(t, payload)
	assert.True(t, ur.Empty())
}

func TestUpdateParseErrorKeepsBuild(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	})
	hash := fx.driver.Hash()

	fx.write(t, map[string]string{"a.js": "export const = ;\n"})
	_, _, err := fx.driver.Update(context.Background(), []string{fx.path("a.js")})
	require.Error(t, err)
	assert.Equal(t, hash, fx.driver.Hash())
	assert.Equal(t, "export const a = 1;\n", string(fx.driver.Graph().GetModule(id("a.js")).Info.Content))
}

func TestUpdateFailedBatchKeepsRemovedModule(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "import { b } from \"./b\";\nexport const a = b;\n",
		"b.js":     "export const b = 1;\n",
	})
	hash := fx.driver.Hash()

	require.NoError(t, os.Remove(fx.path("b.js")))
	fx.write(t, map[string]string{"a.js": "import { b } from \"./b\";\nexport const a = ;\n"})
	_, _, err := fx.driver.Update(context.Background(), []string{fx.path("b.js"), fx.path("a.js")})
	require.Error(t, err)

	g := fx.driver.Graph()
	assert.Equal(t, hash, fx.driver.Hash())
	assert.True(t, g.HasModule(id("b.js")))
	assert.Equal(t, []types.ModuleID{id("a.js")}, g.GetDependents(id("b.js")))
	for _, m := range []string{"index.js", "a.js", "b.js"} {
		_, ok := fx.driver.Chunks().ChunkForModule(id(m))
		assert.True(t, ok, "%s lost its chunk", m)
	}
	assert.Empty(t, fx.driver.Missing())

	fx.write(t, map[string]string{"a.js": "import { b } from \"./b\";\nexport const a = b;\n"})
	payload, ur := fx.update(t, "a.js")
	require.NotNil(t, payload)
	assert.Equal(t, []types.ModuleID{id("b.js")}, ur.Removed)
	assert.False(t, fx.driver.Graph().HasModule(id("b.js")))
	require.Len(t, fx.driver.Missing(), 1)
	assert.Equal(t, "./b", fx.driver.Missing()[0].Specifier)
	assert.Equal(t, id("a.js"), fx.driver.Missing()[0].Importer)
}

type debugRecorder struct {
	log.Logger
	entries [][]interface{}
}

func (r *debugRecorder) Debug(msg string, args ...interface{}) {
	r.entries = append(r.entries, append([]interface{}{msg}, args...))
}

func TestUpdateDiffIsRenderedOnDemand(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"a.js":     "export const a = 1;\n",
	})
	fx.update(t, "a.js")
	rec := &debugRecorder{Logger: log.Nop()}
	fx.driver.logger = rec

	fx.write(t, map[string]string{"a.js": "export const a = 42;\n"})
	fx.update(t, "a.js")

	var found *bodyDiff
	for _, e := range rec.entries {
		if e[0] != "module updated" {
			continue
		}
		for i := 1; i+1 < len(e); i += 2 {
			if d, ok := e[i+1].(bodyDiff); ok && e[i] == "diff" {
				found = &d
			}
		}
	}
	require.NotNil(t, found, "the diff is handed over unrendered")
	text := found.String()
	assert.Contains(t, text, "--- a.js")
	assert.Contains(t, text, "42")
}
