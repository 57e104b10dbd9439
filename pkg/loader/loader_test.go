package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/cache"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestRawHash(t *testing.T) {
	a := RawHash([]byte("export const a = 1;"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, RawHash([]byte("export const a = 1;")))
	assert.NotEqual(t, a, RawHash([]byte("export const a = 2;")))
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "index.js", "import { a } from './a';\nconsole.log(a);\n")

	l := New(nil, Options{}, log.Nop())
	info, err := l.Load(context.Background(), &resolver.Resource{ID: types.NewModuleID("index.js", ""), Path: p})
	require.NoError(t, err)

	assert.Equal(t, modulegraph.KindScript, info.Kind)
	assert.Equal(t, types.ESModule, info.System)
	assert.Len(t, info.Statements, 2)
	require.Len(t, info.Dependencies, 1)
	assert.Equal(t, "./a", info.Dependencies[0].Source)
	assert.Equal(t, RawHash(info.Content), info.RawHash)
	assert.True(t, info.IsESM())
}

func TestLoadKinds(t *testing.T) {
	dir := t.TempDir()
	css := writeFile(t, dir, "app.css", `@import "./base.css";`)
	data := writeFile(t, dir, "data.json", `{"a": 1}`)
	png := writeFile(t, dir, "logo.png", "\x89PNG")
	raw := writeFile(t, dir, "notes.txt", "hello")

	l := New(nil, Options{}, log.Nop())
	ctx := context.Background()

	info, err := l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("app.css", ""), Path: css})
	require.NoError(t, err)
	assert.Equal(t, modulegraph.KindStyle, info.Kind)
	assert.Equal(t, types.Custom, info.System)
	require.Len(t, info.Dependencies, 1)
	assert.Equal(t, types.ResolveCSS, info.Dependencies[0].ResolveType)

	info, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("data.json", ""), Path: data})
	require.NoError(t, err)
	assert.Equal(t, modulegraph.KindJSON, info.Kind)

	info, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("logo.png", ""), Path: png})
	require.NoError(t, err)
	assert.Equal(t, modulegraph.KindAsset, info.Kind)
	assert.Empty(t, info.Dependencies)

	info, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("notes.txt", "raw"), Path: raw})
	require.NoError(t, err)
	assert.Equal(t, modulegraph.KindRaw, info.Kind)

	info, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("external:react", ""), External: "React"})
	require.NoError(t, err)
	assert.Equal(t, modulegraph.KindExternal, info.Kind)
	assert.Equal(t, "React", info.External)
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "bad.js", "export const = ;\n")

	l := New(nil, Options{}, log.Nop())
	_, err := l.Load(context.Background(), &resolver.Resource{ID: types.NewModuleID("bad.js", ""), Path: p})
	require.Error(t, err)

	var perr *extractor.ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestAnalysisCache(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.js", "export const x = 1;\n")
	b := writeFile(t, dir, "b.js", "export const x = 1;\n")

	store, err := cache.OpenStore[*extractor.Analysis](filepath.Join(dir, "cache.bin"), 7)
	require.NoError(t, err)

	l := New(nil, Options{CacheSize: 16, Store: store}, log.Nop())
	ctx := context.Background()

	_, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("a.js", ""), Path: a})
	require.NoError(t, err)
	_, err = l.Load(ctx, &resolver.Resource{ID: types.NewModuleID("b.js", ""), Path: b})
	require.NoError(t, err)

	stats := l.CacheStats()
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, 1, store.Len())
	require.NoError(t, store.Save())

	// A fresh loader reads the persisted analysis.
	reopened, err := cache.OpenStore[*extractor.Analysis](filepath.Join(dir, "cache.bin"), 7)
	require.NoError(t, err)
	fresh := New(nil, Options{Store: reopened}, log.Nop())
	info, err := fresh.Load(ctx, &resolver.Resource{ID: types.NewModuleID("a.js", ""), Path: a})
	require.NoError(t, err)
	require.Len(t, info.Statements, 1)
	assert.Equal(t, []string{"x"}, info.Statements[0].Defined)
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil, Options{}, log.Nop()).Load(ctx, &resolver.Resource{Path: "missing.js"})
	assert.ErrorIs(t, err, context.Canceled)
}
