package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
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

func newFixture(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/index.js":          "",
		"src/util/index.js":     "",
		"src/a.mjs":             "",
		"src/styles/app.css":    "",
		"src/styles/bg.png":     "",
		"src/img.png":           "",
		"node_modules/lib/package.json": `{"name": "lib", "module": "esm/index.js", "main": "cjs/index.js", "sideEffects": false}`,
		"node_modules/lib/esm/index.js": "",
		"node_modules/lib/cjs/index.js": "",
		"node_modules/@scope/pkg/package.json": `{
			"name": "@scope/pkg",
			"exports": {
				".": {"import": "./dist/index.mjs", "default": "./dist/index.cjs"},
				"./feature/*": "./dist/features/*.js"
			},
			"sideEffects": ["*.css"]
		}`,
		"node_modules/@scope/pkg/dist/index.mjs":      "",
		"node_modules/@scope/pkg/dist/index.cjs":      "",
		"node_modules/@scope/pkg/dist/features/x.js":  "",
		"node_modules/@scope/pkg/dist/style.css":      "",
	})

	opts := DefaultOptions(root)
	opts.Alias = map[string]string{"@": "./src"}
	opts.Externals = map[string]string{"react": "React"}
	return New(opts, nil, log.Nop()), root
}

func TestResolve(t *testing.T) {
	r, _ := newFixture(t)
	ctx := context.Background()
	from := types.NewModuleID("src/index.js", "")

	tests := []struct {
		name      string
		specifier string
		rt        types.ResolveType
		want      types.ModuleID
	}{
		{"directory index", "./util", types.ResolveImport, types.NewModuleID("src/util/index.js", "")},
		{"extension probing", "./a", types.ResolveImport, types.NewModuleID("src/a.mjs", "")},
		{"query preserved", "./styles/app.css?modules", types.ResolveImport, types.NewModuleID("src/styles/app.css", "modules")},
		{"main fields", "lib", types.ResolveImport, types.NewModuleID("node_modules/lib/esm/index.js", "")},
		{"exports conditions", "@scope/pkg", types.ResolveImport, types.NewModuleID("node_modules/@scope/pkg/dist/index.mjs", "")},
		{"exports pattern", "@scope/pkg/feature/x", types.ResolveImport, types.NewModuleID("node_modules/@scope/pkg/dist/features/x.js", "")},
		{"alias", "@/util", types.ResolveImport, types.NewModuleID("src/util/index.js", "")},
		{"css relative url", "img.png", types.ResolveCSS, types.NewModuleID("src/img.png", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, from, tt.specifier, tt.rt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ID)
			assert.Equal(t, r.FilePath(tt.want), res.Path)
		})
	}
}

func TestResolveSideEffects(t *testing.T) {
	r, _ := newFixture(t)
	from := types.NewModuleID("src/index.js", "")

	res, err := r.Resolve(context.Background(), from, "lib", types.ResolveImport)
	require.NoError(t, err)
	require.NotNil(t, res.SideEffects)
	assert.False(t, *res.SideEffects)

	res, err = r.Resolve(context.Background(), from, "@scope/pkg", types.ResolveImport)
	require.NoError(t, err)
	require.NotNil(t, res.SideEffects)
	assert.False(t, *res.SideEffects)
}

func TestResolveCSSFromStylesheet(t *testing.T) {
	r, _ := newFixture(t)
	res, err := r.Resolve(context.Background(), types.NewModuleID("src/styles/app.css", ""), "bg.png", types.ResolveCSS)
	require.NoError(t, err)
	assert.Equal(t, "src/styles/bg.png", res.ID.Path)
}

func TestResolveExternal(t *testing.T) {
	r, _ := newFixture(t)
	res, err := r.Resolve(context.Background(), types.NewModuleID("src/index.js", ""), "react", types.ResolveImport)
	require.NoError(t, err)
	assert.True(t, res.IsExternal())
	assert.Equal(t, "React", res.External)
	assert.Equal(t, "external:react", res.ID.Path)
}

func TestResolveNotFound(t *testing.T) {
	r, _ := newFixture(t)
	from := types.NewModuleID("src/index.js", "")

	_, err := r.Resolve(context.Background(), from, "./missing", types.ResolveImport)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "./missing", nf.Specifier)
	assert.Equal(t, from, nf.Importer)

	_, err = r.Resolve(context.Background(), from, "not-installed", types.ResolveImport)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveIsIdempotent(t *testing.T) {
	r, _ := newFixture(t)
	from := types.NewModuleID("src/index.js", "")

	first, err := r.Resolve(context.Background(), from, "./util/index.js", types.ResolveImport)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), types.NewModuleID("src/a.mjs", ""), "./util", types.ResolveImport)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	r.Reset()
	third, err := r.Resolve(context.Background(), from, "./util", types.ResolveImport)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestResolveEntry(t *testing.T) {
	r, _ := newFixture(t)
	res, err := r.ResolveEntry(context.Background(), "src/index.js")
	require.NoError(t, err)
	assert.Equal(t, types.NewModuleID("src/index.js", ""), res.ID)
}

func TestResolveCancelled(t *testing.T) {
	r, _ := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, types.NewModuleID("src/index.js", ""), "./util", types.ResolveImport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSideEffectsEval(t *testing.T) {
	tests := []struct {
		name string
		json string
		path string
		want *bool
	}{
		{"undeclared", `null`, "a.js", nil},
		{"false", `false`, "a.js", boolPtr(false)},
		{"true", `true`, "a.js", boolPtr(true)},
		{"basename glob", `"*.css"`, "dist/deep/style.css", boolPtr(true)},
		{"basename glob miss", `"*.css"`, "dist/index.js", boolPtr(false)},
		{"path glob", `["./src/polyfills/**"]`, "src/polyfills/a.js", boolPtr(true)},
		{"path glob miss", `["./src/polyfills/**"]`, "src/a.js", boolPtr(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s SideEffects
			require.NoError(t, s.UnmarshalJSON([]byte(tt.json)))
			assert.Equal(t, tt.want, s.Eval(tt.path))
		})
	}
}

func TestResolveExportMap(t *testing.T) {
	pkg := &Package{Exports: []byte(`{
		".": [{"browser": "./b.js"}, "./main.js"],
		"./utils": {"node": "./node-utils.js", "default": "./utils.js"},
		"./icons/*": "./dist/icons/*.svg"
	}`)}
	conds := []string{"browser", "import"}

	got, ok := pkg.ResolveExport(".", conds)
	require.True(t, ok)
	assert.Equal(t, "./b.js", got)

	got, ok = pkg.ResolveExport("./utils", conds)
	require.True(t, ok)
	assert.Equal(t, "./utils.js", got)

	got, ok = pkg.ResolveExport("./icons/home", conds)
	require.True(t, ok)
	assert.Equal(t, "./dist/icons/home.svg", got)

	_, ok = pkg.ResolveExport("./private", conds)
	assert.False(t, ok)

	sugar := &Package{Exports: []byte(`"./index.js"`)}
	got, ok = sugar.ResolveExport(".", conds)
	require.True(t, ok)
	assert.Equal(t, "./index.js", got)
}

func boolPtr(b bool) *bool { return &b }
