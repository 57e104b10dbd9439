// Package build drives a bundle from entry files to written output: it scans
// the module graph, shakes it, partitions it into chunks, generates the
// chunk files and writes them.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/generate"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/stats"
	"github.com/l3aro/go-bundle/pkg/treeshake"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Options configures a Compiler.
type Options struct {
	// Entries maps entry names to paths relative to the resolver root.
	Entries map[string]string
	// OutDir receives the chunk files. Empty means nothing is written.
	OutDir string
	// TreeShaking removes unused exports and modules. Ignored in watch mode.
	TreeShaking bool
	// Watch builds for incremental rebuilds: missing dependencies are
	// warnings and the graph is kept unshaken so modules can be replaced.
	Watch bool
	// Stats writes stats.json next to the output.
	Stats bool
	// Parallelism bounds concurrent loads. Zero means one per CPU.
	Parallelism int
	// Generate configures code generation. Concatenation is turned off in
	// watch mode.
	Generate generate.Options
}

// Result is a finished build.
type Result struct {
	Graph  *modulegraph.ModuleGraph
	Chunks *chunk.Graph
	Output *generate.Result
	// Shake is nil when tree shaking did not run.
	Shake *treeshake.Result
	// Stats is set when Options.Stats is.
	Stats *stats.Stats
	// Missing lists unresolved specifiers. Only watch builds get here with
	// any.
	Missing  []MissingDependency
	Duration time.Duration
}

// Compiler builds bundles. Builds must not run concurrently.
type Compiler struct {
	opts       Options
	resolver   *resolver.Resolver
	loader     *loader.Loader
	shaker     *treeshake.Shaker
	generator  *generate.Generator
	entryNames map[types.ModuleID]string
	logger     log.Logger
}

// New creates a Compiler.
func New(opts Options, res *resolver.Resolver, ld *loader.Loader, logger log.Logger) *Compiler {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Watch {
		opts.TreeShaking = false
		opts.Generate.Concatenate = false
	}
	if opts.Generate.Parallelism <= 0 {
		opts.Generate.Parallelism = opts.Parallelism
	}
	return &Compiler{
		opts:       opts,
		resolver:   res,
		loader:     ld,
		shaker:     treeshake.New(ld, logger),
		generator:  generate.New(ld.Registry(), opts.Generate, logger),
		entryNames: make(map[types.ModuleID]string),
		logger:     logger,
	}
}

// Options returns the compiler configuration after defaults.
func (c *Compiler) Options() Options { return c.opts }

// Resolver returns the resolver modules are resolved with.
func (c *Compiler) Resolver() *resolver.Resolver { return c.resolver }

// Loader returns the module loader.
func (c *Compiler) Loader() *loader.Loader { return c.loader }

// Generator returns the code generator.
func (c *Compiler) Generator() *generate.Generator { return c.generator }

// Build runs a full build from scratch and writes it to OutDir.
func (c *Compiler) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	c.resolver.Reset()

	tasks, err := c.entryTasks(ctx)
	if err != nil {
		return nil, err
	}

	g := modulegraph.New()
	missing, err := c.Scan(ctx, g, tasks)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		if !c.opts.Watch {
			return nil, &MissingDependenciesError{Missing: missing}
		}
		for _, m := range missing {
			c.logger.Warn("module not found", "specifier", m.Specifier, "importer", m.Importer.String(), "line", m.Span.Line)
		}
	}

	result := &Result{Graph: g, Missing: missing}
	if c.opts.TreeShaking {
		result.Shake, err = c.shaker.Shake(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("tree shaking: %w", err)
		}
	}

	result.Chunks, err = c.Partition(ctx, g)
	if err != nil {
		return nil, err
	}
	result.Output, err = c.generator.Generate(ctx, g, result.Chunks)
	if err != nil {
		return nil, err
	}
	if c.opts.Stats {
		result.Stats = stats.Collect(g, result.Chunks, result.Output)
	}
	if err := c.Emit(result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	c.logger.Info("build finished",
		"modules", g.Len(),
		"chunks", len(result.Output.Outputs),
		"hash", result.Output.FullHash,
		"duration", result.Duration.Round(time.Millisecond).String())
	return result, nil
}

// entryTasks resolves the configured entries in name order.
func (c *Compiler) entryTasks(ctx context.Context) ([]Task, error) {
	names := make([]string, 0, len(c.opts.Entries))
	for name := range c.opts.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no entries configured")
	}

	c.entryNames = make(map[types.ModuleID]string, len(names))
	var tasks []Task
	var missing []MissingDependency
	for _, name := range names {
		res, err := c.resolver.ResolveEntry(ctx, c.opts.Entries[name])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			missing = append(missing, MissingDependency{Specifier: c.opts.Entries[name]})
			continue
		}
		c.entryNames[res.ID] = name
		tasks = append(tasks, Task{Resource: res, Entry: true})
	}
	if len(missing) > 0 {
		return nil, &MissingDependenciesError{Missing: missing}
	}
	return tasks, nil
}

// EntryNames maps entry module ids to their configured names.
func (c *Compiler) EntryNames() map[types.ModuleID]string {
	return c.entryNames
}

// ChunkOptions returns the partitioning options of the build.
func (c *Compiler) ChunkOptions() chunk.Options {
	return chunk.Options{
		EntryNames:   c.entryNames,
		RuntimeChunk: c.opts.Generate.RuntimeChunk,
		Parallelism:  c.opts.Parallelism,
	}
}

// Partition splits g into chunks with the configured entry names.
func (c *Compiler) Partition(ctx context.Context, g *modulegraph.ModuleGraph) (*chunk.Graph, error) {
	return chunk.Partition(ctx, g, c.ChunkOptions(), c.logger)
}

// Emit writes the outputs, assets and stats of result to OutDir.
func (c *Compiler) Emit(result *Result) error {
	if c.opts.OutDir == "" {
		return nil
	}
	for _, out := range result.Output.Outputs {
		if err := writeFile(c.opts.OutDir, out.Filename, []byte(out.Content)); err != nil {
			return err
		}
	}
	for _, a := range result.Output.Assets {
		if err := writeFile(c.opts.OutDir, a.Filename, a.Content); err != nil {
			return err
		}
	}
	if result.Stats != nil {
		if err := result.Stats.WriteFile(c.opts.OutDir); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(dir, name string, content []byte) error {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
