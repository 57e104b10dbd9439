package generate

import (
	"context"
	"path"
	"strings"
	"testing"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type built struct {
	mg      *modulegraph.ModuleGraph
	cg      *chunk.Graph
	gen     *Generator
	result  *Result
	outputs map[string]*Output
}

// build bundles files with index.js as the entry.
func build(t *testing.T, files map[string]string, opts Options) *built {
	t.Helper()
	ctx := context.Background()
	l := loader.New(nil, loader.Options{}, log.Nop())
	mg := modulegraph.New()

	for name, src := range files {
		id := types.NewModuleID(name, "")
		info, err := l.LoadContent(ctx, id, name, []byte(src), nil)
		require.NoError(t, err, name)
		mg.AddModule(modulegraph.NewModule(id, name == "index.js", info))
	}
	for _, m := range mg.Modules() {
		for _, dep := range m.Info.Dependencies {
			target := path.Join(path.Dir(m.ID.Path), dep.Source)
			if _, ok := files[target]; !ok {
				target += ".js"
			}
			if _, ok := files[target]; ok {
				mg.AddDependency(m.ID, types.NewModuleID(target, ""), dep)
			}
		}
	}

	cg, err := chunk.Partition(ctx, mg, chunk.Options{RuntimeChunk: opts.RuntimeChunk}, log.Nop())
	require.NoError(t, err)
	gen := New(l.Registry(), opts, log.Nop())
	result, err := gen.Generate(ctx, mg, cg)
	require.NoError(t, err)

	b := &built{mg: mg, cg: cg, gen: gen, result: result, outputs: make(map[string]*Output)}
	for _, out := range result.Outputs {
		b.outputs[out.Filename] = out
		assertParses(t, out.Filename, out.Content)
	}
	return b
}

func assertParses(t *testing.T, name, code string) {
	t.Helper()
	f, err := extractor.NewLanguageRegistry().Parse(context.Background(), name, extractor.JavaScript, []byte(code))
	require.NoError(t, err, code)
	f.Close()
}

func (b *built) output(t *testing.T, name string) *Output {
	t.Helper()
	out, ok := b.outputs[name]
	require.True(t, ok, "missing output %s", name)
	return out
}

func TestGenerateESModules(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "import { add } from \"./math\";\nconsole.log(add(1, 2));\n",
		"math.js":  "export function add(a, b) {\n  return a + b;\n}\n",
	}, Options{})

	require.Len(t, b.result.Outputs, 1)
	out := b.output(t, "index.js")
	assert.Equal(t, chunk.TypeEntry, out.Type)
	assert.Equal(t, []types.ModuleID{types.NewModuleID("index.js", ""), types.NewModuleID("math.js", "")}, out.Modules)

	content := out.Content
	assert.Contains(t, content, "function __require__(id)")
	assert.Contains(t, content, "\"index.js\": function (module, exports, __require__) {\n__require__.r(exports);\nvar __import_0__ = __require__(\"math.js\");\nconsole.log(__import_0__.add(1, 2));\n}")
	assert.Contains(t, content, "\"add\": function () { return add; }")
	assert.Contains(t, content, "function add(a, b) {")
	assert.NotContains(t, content, "export function")
	assert.Contains(t, content, "function (__require__) {\n  __require__(\"index.js\");\n}")
	assert.Equal(t, b.cg.FullHash(b.mg), b.result.FullHash)
}

func TestGenerateDynamicImport(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "export const load = () => import(\"./lazy\");\n",
		"lazy.js":  "export const x = 1;\n",
	}, Options{})

	require.Len(t, b.result.Outputs, 2)
	entry := b.output(t, "index.js").Content
	assert.Contains(t, entry, "__require__.ensure(\"lazy.js\").then(function () { return __require__.w(__require__(\"lazy.js\")); })")
	assert.Contains(t, entry, `{"files":{"lazy.js":"lazy_js-async.js"}}`)

	async := b.output(t, "lazy_js-async.js")
	assert.Equal(t, chunk.TypeAsync, async.Type)
	assert.True(t, strings.HasPrefix(async.Content, "(self.__gbl_chunks__ = self.__gbl_chunks__ || []).push([\n[\"lazy.js\"],"))
	assert.NotContains(t, async.Content, "function __require__(id)")
	assert.Contains(t, async.Content, "\n},\nnull\n]);")
}

func TestGenerateSyncChunkDependency(t *testing.T) {
	b := build(t, map[string]string{
		"index.js":  "export const load = () => import(\"./lazy\");\n",
		"lazy.js":   "import { s } from \"./shared\";\nexport const x = s;\n",
		"shared.js": "export const s = 1;\n",
	}, Options{})

	lazy, ok := b.cg.Chunk(types.NewModuleID("lazy.js", ""))
	require.True(t, ok)
	shared := types.NewModuleID("shared.js", "")
	lazy.RemoveModule(shared)
	sync := chunk.New(shared, chunk.TypeSync)
	sync.AddModule(shared)
	b.cg.AddChunk(sync)
	b.cg.AddEdge(lazy.ID, sync.ID)

	result, err := b.gen.Generate(context.Background(), b.mg, b.cg)
	require.NoError(t, err)
	require.Len(t, result.Outputs, 3)
	for _, out := range result.Outputs {
		assertParses(t, out.Filename, out.Content)
		if out.Type == chunk.TypeEntry {
			assert.Contains(t, out.Content, `"deps":{"lazy.js":["shared.js"]}`)
			assert.Contains(t, out.Content, `"shared.js":"`+sync.Filename()+`"`)
		}
	}
}

func TestGenerateCommonJS(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "const a = require(\"./a\");\nmodule.exports = a;\n",
		"a.js":     "module.exports = 1;\n",
	}, Options{})

	content := b.output(t, "index.js").Content
	assert.Contains(t, content, "\"index.js\": function (module, exports, require) {\nconst a = require(\"a.js\");\nmodule.exports = a;\n}")
	assert.Contains(t, content, "\"a.js\": function (module, exports, require) {\nmodule.exports = 1;\n}")
}

func TestGenerateInteropAndExports(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "import value from \"./cjs\";\n" +
			"export * from \"./math\";\n" +
			"export { add as plus } from \"./math\";\n" +
			"export default value + 1;\n",
		"cjs.js":  "module.exports = 41;\n",
		"math.js": "export function add(a, b) {\n  return a + b;\n}\n",
	}, Options{})

	content := b.output(t, "index.js").Content
	assert.Contains(t, content, "var __import_0__ = __require__.w(__require__(\"cjs.js\"));")
	assert.Contains(t, content, "__require__.es(__require__(\"math.js\"), exports);")
	assert.Contains(t, content, "var __reexport_1__ = __require__(\"math.js\");")
	assert.Contains(t, content, "\"plus\": function () { return __reexport_1__.add; }")
	assert.Contains(t, content, "\"default\": function () { return __gbl_default__; }")
	assert.Contains(t, content, "var __gbl_default__ = __import_0__.default + 1;")
}

func TestGenerateStylesAndAssets(t *testing.T) {
	b := build(t, map[string]string{
		"index.js":  "import \"./style.css\";\nimport data from \"./data.json\";\nconsole.log(data);\n",
		"style.css": "@import \"./base.css\";\n.a { background: url(\"./img.png\"); }\n",
		"base.css":  ".b { color: red; }\n",
		"img.png":   "PNG",
		"data.json": "{\"a\": 1}\n",
	}, Options{PublicPath: "/static/"})

	require.Len(t, b.result.Assets, 1)
	asset := b.result.Assets[0]
	assert.True(t, strings.HasPrefix(asset.Filename, "assets/img."))
	assert.True(t, strings.HasSuffix(asset.Filename, ".png"))
	assert.Equal(t, []byte("PNG"), asset.Content)
	assert.Equal(t, types.NewModuleID("img.png", ""), asset.Module)

	content := b.output(t, "index.js").Content
	assert.Contains(t, content, "__require__(\"style.css\");")
	assert.Contains(t, content, "\"style.css\": function (module, exports, __require__) {\n__require__(\"base.css\");\n__require__.css(\"style.css\", "+
		quote(".a { background: url("+quote("/static/"+asset.Filename)+"); }")+");\n}")
	assert.Contains(t, content, "module.exports = __require__.p + "+quote(asset.Filename)+";")
	assert.Contains(t, content, "module.exports = {\"a\": 1};")
	assert.Contains(t, content, "__require__.p = \"/static/\";")
}

func TestGenerateWorker(t *testing.T) {
	b := build(t, map[string]string{
		"index.js":  "export const w = new Worker(new URL(\"./worker.js\", import.meta.url));\n",
		"worker.js": "self.onmessage = function () {};\n",
	}, Options{})

	entry := b.output(t, "index.js").Content
	assert.Contains(t, entry, "new Worker(__require__.p + \"worker_js-worker.js\")")

	worker := b.output(t, "worker_js-worker.js")
	assert.Equal(t, chunk.TypeWorker, worker.Type)
	assert.Contains(t, worker.Content, "function __require__(id)")
	assert.Contains(t, worker.Content, "__require__(\"worker.js\");")
}

func TestGenerateRuntimeChunkAndHashes(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "console.log(1);\n",
	}, Options{RuntimeChunk: true, FilenameHash: true})

	require.Len(t, b.result.Outputs, 2)
	names := b.gen.Filenames(b.mg, b.cg)
	entryName := names[types.NewModuleID("index.js", "")]
	runtimeName := names[chunk.RuntimeID]
	assert.Regexp(t, `^index\.[0-9a-f]{8}\.js$`, entryName)
	assert.Regexp(t, `^runtime\.[0-9a-f]{8}\.js$`, runtimeName)

	assert.NotContains(t, b.output(t, entryName).Content, "function __require__(id)")
	assert.Contains(t, b.output(t, runtimeName).Content, "function __require__(id)")
}

func TestGenerateConcatenated(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "import { add } from \"./math\";\nconsole.log(add(1, 2));\n",
		"math.js":  "export function add(a, b) {\n  return a + b;\n}\n",
	}, Options{Concatenate: true})

	content := b.output(t, "index.js").Content
	assert.Contains(t, content, "\"index.js\": function (module, exports, __require__) {\n// math.js\nfunction add(a, b) {")
	assert.NotContains(t, content, "\"math.js\":")
}

func TestModuleBody(t *testing.T) {
	b := build(t, map[string]string{
		"index.js": "import { add } from \"./math\";\nconsole.log(add(1, 2));\n",
		"math.js":  "export function add(a, b) {\n  return a + b;\n}\n",
	}, Options{})

	body, err := b.gen.ModuleBody(context.Background(), b.mg, b.cg, types.NewModuleID("math.js", ""))
	require.NoError(t, err)
	assert.Equal(t, "function (module, exports, __require__) {\n__require__.r(exports);\n__require__.d(exports, {\n  \"add\": function () { return add; }\n});\nfunction add(a, b) {\n  return a + b;\n}\n}", body)
	assertParses(t, "body.js", "("+body+");")

	_, err = b.gen.ModuleBody(context.Background(), b.mg, b.cg, types.NewModuleID("missing.js", ""))
	assert.Error(t, err)
}

func TestRuntimeWithHMR(t *testing.T) {
	gen := New(nil, Options{HMR: true, HMRURL: "ws://localhost:3000/__hmr"}, log.Nop())
	rt := gen.Runtime("abc")
	assert.Contains(t, rt, "new WebSocket(hmrURL)")
	assert.Contains(t, rt, "var hmrURL = \"ws://localhost:3000/__hmr\" ||")
	assert.Contains(t, rt, "function _interop_require_wildcard(obj)")
	assertParses(t, "runtime.js", rt)

	plain := New(nil, Options{}, log.Nop()).Runtime("abc")
	assert.NotContains(t, plain, "WebSocket")
	assertParses(t, "runtime.js", plain)
}
