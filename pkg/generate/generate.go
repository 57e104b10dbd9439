// Package generate renders a partitioned module graph into output files:
// one JavaScript file per chunk, wrapping each module in a function
// registered with a small runtime, plus the assets modules reference.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/concat"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Options configures code generation.
type Options struct {
	// PublicPath prefixes every chunk and asset URL.
	PublicPath string
	// FilenameHash inserts the chunk hash into chunk file names.
	FilenameHash bool
	// RuntimeChunk emits the runtime as runtime.js instead of inlining it
	// into entry chunks. It must match the partitioning option.
	RuntimeChunk bool
	// HMR adds the hot update client to the runtime.
	HMR bool
	// HMRURL is the websocket the client connects to. Empty means /__hmr on
	// the page's host.
	HMRURL string
	// Concatenate merges eligible ES modules inside each chunk.
	Concatenate bool
	// Parallelism bounds the chunks rendered at once.
	Parallelism int
}

// Output is one generated chunk file.
type Output struct {
	Filename string           `json:"filename"`
	Chunk    types.ModuleID   `json:"chunk"`
	Type     chunk.Type       `json:"type"`
	Hash     string           `json:"hash"`
	Modules  []types.ModuleID `json:"modules"`
	Content  string           `json:"-"`
}

// Asset is a file emitted as-is.
type Asset struct {
	Filename string         `json:"filename"`
	Module   types.ModuleID `json:"module"`
	Content  []byte         `json:"-"`
}

// Result is everything a build writes.
type Result struct {
	Outputs  []*Output
	Assets   []*Asset
	FullHash string
}

// Generator renders chunks. It is safe for concurrent use.
type Generator struct {
	registry  *extractor.LanguageRegistry
	optimizer *concat.Optimizer
	opts      Options
	logger    log.Logger
}

// New creates a Generator.
func New(registry *extractor.LanguageRegistry, opts Options, logger log.Logger) *Generator {
	if registry == nil {
		registry = extractor.NewLanguageRegistry()
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	return &Generator{
		registry:  registry,
		optimizer: concat.New(registry, logger),
		opts:      opts,
		logger:    logger,
	}
}

// Options returns the generator configuration.
func (g *Generator) Options() Options {
	return g.opts
}

// Generate renders every chunk of cg.
func (g *Generator) Generate(ctx context.Context, mg *modulegraph.ModuleGraph, cg *chunk.Graph) (*Result, error) {
	chunks := cg.Chunks()
	filenames := g.Filenames(mg, cg)
	mc := g.moduleContext(mg, cg, filenames)
	fullHash := cg.FullHash(mg)

	outputs := make([]*Output, len(chunks))
	assets := make([][]*Asset, len(chunks))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.Parallelism)
	for i, c := range chunks {
		i, c := i, c
		eg.Go(func() error {
			out, emitted, err := g.renderChunk(egCtx, mc, cg, c, filenames, fullHash)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.Filename(), err)
			}
			outputs[i] = out
			assets[i] = emitted
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Outputs: outputs, FullHash: fullHash}
	seen := make(map[string]bool)
	for _, list := range assets {
		for _, a := range list {
			if !seen[a.Filename] {
				seen[a.Filename] = true
				result.Assets = append(result.Assets, a)
			}
		}
	}
	sort.Slice(result.Assets, func(i, j int) bool { return result.Assets[i].Filename < result.Assets[j].Filename })

	g.logger.Debug("generated chunks", "chunks", len(outputs), "assets", len(result.Assets), "hash", fullHash)
	return result, nil
}

// Filenames returns the output file of every chunk.
func (g *Generator) Filenames(mg *modulegraph.ModuleGraph, cg *chunk.Graph) map[types.ModuleID]string {
	names := make(map[types.ModuleID]string, cg.Len())
	for _, c := range cg.AllChunks() {
		name := c.Filename()
		if g.opts.FilenameHash {
			name = chunk.HashedFilename(name, c.Hash(mg))
		}
		names[c.ID] = name
	}
	return names
}

// ModuleBody renders the module function of id alone, as hot updates ship it.
func (g *Generator) ModuleBody(ctx context.Context, mg *modulegraph.ModuleGraph, cg *chunk.Graph, id types.ModuleID) (string, error) {
	m, ok := mg.Lookup(id)
	if !ok {
		return "", fmt.Errorf("module %s not found", id)
	}
	body, _, err := g.render(ctx, g.moduleContext(mg, cg, g.Filenames(mg, cg)), m)
	return body, err
}

func (g *Generator) moduleContext(mg *modulegraph.ModuleGraph, cg *chunk.Graph, filenames map[types.ModuleID]string) *moduleContext {
	owner := func(id types.ModuleID) (*chunk.Chunk, bool) {
		if c, ok := cg.Chunk(id); ok {
			return c, true
		}
		return cg.ChunkForModule(id)
	}
	return &moduleContext{
		mg: mg,
		chunkOf: func(id types.ModuleID) (string, bool) {
			c, ok := owner(id)
			if !ok {
				return "", false
			}
			return c.ID.String(), true
		},
		fileOf: func(id types.ModuleID) (string, bool) {
			c, ok := owner(id)
			if !ok {
				return "", false
			}
			return filenames[c.ID], true
		},
	}
}

// manifest lists the files and sync dependencies of the chunks loadable
// from a chunk, so the runtime that runs it can fetch them.
type manifest struct {
	Files map[string]string   `json:"files"`
	Deps  map[string][]string `json:"deps,omitempty"`
}

func (g *Generator) manifest(cg *chunk.Graph, c *chunk.Chunk, filenames map[types.ModuleID]string) *manifest {
	m := &manifest{Files: make(map[string]string)}
	for _, id := range cg.InstallableDescendantsChunk(c.ID) {
		if id == c.ID {
			continue
		}
		m.Files[id.String()] = filenames[id]
		for _, dep := range cg.SyncDependenciesChunk(id) {
			if m.Deps == nil {
				m.Deps = make(map[string][]string)
			}
			m.Deps[id.String()] = append(m.Deps[id.String()], dep.String())
			m.Files[dep.String()] = filenames[dep]
		}
	}
	if len(m.Files) == 0 {
		return nil
	}
	return m
}

func (g *Generator) renderChunk(ctx context.Context, mc *moduleContext, cg *chunk.Graph, c *chunk.Chunk, filenames map[types.ModuleID]string, fullHash string) (*Output, []*Asset, error) {
	out := &Output{
		Filename: filenames[c.ID],
		Chunk:    c.ID,
		Type:     c.Type,
		Hash:     c.Hash(mc.mg),
		Modules:  c.Modules(),
	}
	if c.Type == chunk.TypeRuntime {
		out.Content = g.Runtime(fullHash)
		return out, nil, nil
	}

	var groups []*concat.Group
	if g.opts.Concatenate {
		var err error
		groups, err = g.optimizer.Optimize(ctx, mc.mg, c)
		if err != nil {
			return nil, nil, err
		}
	}
	roots := make(map[types.ModuleID]*concat.Group)
	inlined := make(map[types.ModuleID]bool)
	for _, group := range groups {
		roots[group.Root] = group
		for _, inner := range group.Inners {
			inlined[inner] = true
		}
	}

	var entries []string
	var assets []*Asset
	for _, id := range c.Modules() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if inlined[id] {
			continue
		}
		var body string
		if group, ok := roots[id]; ok {
			body = wrap("__require__", group.Code)
		} else {
			m, ok := mc.mg.Lookup(id)
			if !ok {
				return nil, nil, fmt.Errorf("module %s not found", id)
			}
			var emitted []*Asset
			var err error
			body, emitted, err = g.render(ctx, mc, m)
			if err != nil {
				return nil, nil, err
			}
			assets = append(assets, emitted...)
		}
		entries = append(entries, quote(id.String())+": "+body)
	}

	var b strings.Builder
	inlineRuntime := c.Type == chunk.TypeWorker || (c.Type == chunk.TypeEntry && !g.opts.RuntimeChunk)
	if inlineRuntime {
		b.WriteString(g.Runtime(fullHash))
	}

	run := "null"
	if c.Type == chunk.TypeEntry || c.Type == chunk.TypeWorker {
		run = "function (__require__) {\n  __require__(" + quote(c.ID.String()) + ");\n}"
	}
	b.WriteString("(" + Registry + " = " + Registry + " || []).push([\n")
	b.WriteString("[" + quote(c.ID.String()) + "],\n")
	b.WriteString("{\n" + strings.Join(entries, ",\n") + "\n},\n")
	b.WriteString(run)
	if man := g.manifest(cg, c, filenames); man != nil {
		data, err := json.Marshal(man)
		if err != nil {
			return nil, nil, err
		}
		b.WriteString(",\n" + string(data))
	}
	b.WriteString("\n]);\n")

	out.Content = b.String()
	return out, assets, nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
