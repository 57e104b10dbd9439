// Package project wires a loaded configuration into a compiler, a persistent
// analysis cache and a file watcher. Both gbl and gbld start from here.
package project

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/devserver"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/cache"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/loader"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/watch"
)

// AnalysisCacheFile is the name of the persisted analysis store inside the
// cache directory.
const AnalysisCacheFile = "analysis.cache"

// Project is a configured build.
type Project struct {
	Config   *config.Config
	Root     string
	Compiler *build.Compiler

	store  *cache.Store[*extractor.Analysis]
	logger log.Logger
}

// Open creates the compiler described by cfg. watch selects the incremental
// build used by the dev server.
func Open(cfg *config.Config, watch bool, logger log.Logger) (*Project, error) {
	if logger == nil {
		logger = log.Nop()
	}
	root, err := cfg.AbsRoot()
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	ropts, err := cfg.ResolverOptions()
	if err != nil {
		return nil, err
	}
	bopts, err := cfg.BuildOptions(watch)
	if err != nil {
		return nil, err
	}

	p := &Project{Config: cfg, Root: root, logger: logger}
	lopts := loader.Options{CacheSize: cfg.Cache.MaxEntries}
	if cfg.Cache.Enabled {
		store, err := p.openStore()
		if err != nil {
			logger.Warn("ignoring analysis cache", "error", err)
		}
		lopts.Store = store
		p.store = store
	}

	registry := extractor.NewLanguageRegistry()
	res := resolver.New(ropts, nil, logger)
	ld := loader.New(registry, lopts, logger)
	p.Compiler = build.New(bopts, res, ld, logger)
	return p, nil
}

func (p *Project) openStore() (*cache.Store[*extractor.Analysis], error) {
	dir, err := p.Config.CacheDir()
	if err != nil {
		return nil, err
	}
	fp, err := p.Config.Fingerprint()
	if err != nil {
		return nil, err
	}
	store, err := cache.OpenStore[*extractor.Analysis](filepath.Join(dir, AnalysisCacheFile), fp)
	if err != nil && store == nil {
		return nil, err
	}
	// A corrupt store comes back empty alongside the error and is rewritten
	// on the next save.
	return store, err
}

// Store returns the analysis store, nil when caching is off.
func (p *Project) Store() *cache.Store[*extractor.Analysis] {
	return p.store
}

// SaveCache drops analyses of content no longer in g and writes the store.
func (p *Project) SaveCache(g *modulegraph.ModuleGraph) error {
	if p.store == nil {
		return nil
	}
	if g != nil {
		live := make(map[string]bool, g.Len())
		for _, m := range g.Modules() {
			if m.Info == nil || m.Info.RawHash == "" {
				continue
			}
			live[string(m.Info.Lang)+":"+m.Info.RawHash] = true
		}
		if n := p.store.Retain(func(key string) bool { return live[key] }); n > 0 {
			p.logger.Debug("pruned analysis cache", "removed", n)
		}
	}
	if err := p.store.Save(); err != nil {
		return fmt.Errorf("saving analysis cache: %w", err)
	}
	return nil
}

// Watcher creates a watcher over the project root. The output and cache
// directories are ignored so emitting a build does not trigger another.
func (p *Project) Watcher() (*watch.Watcher, error) {
	opts := watch.Options{
		Root:     p.Root,
		Interval: p.Config.Watch.PollInterval,
		Ignore:   append([]string(nil), p.Config.Watch.Ignore...),
	}
	if outDir, err := p.Config.OutDir(); err == nil {
		if rel, ok := p.relative(outDir); ok {
			opts.Ignore = append(opts.Ignore, "/"+rel+"/")
		}
	}
	if p.Config.Cache.Enabled {
		dir, err := p.Config.CacheDir()
		if err != nil {
			return nil, err
		}
		opts.CacheDir = dir
		if rel, ok := p.relative(dir); ok {
			opts.Ignore = append(opts.Ignore, "/"+rel+"/")
		}
	}
	return watch.New(opts, p.logger)
}

// DevServer creates the dev server of a project opened for watching.
// writeStatus records the PID and status files read by gbl dev status.
func (p *Project) DevServer(version string, writeStatus bool) (*devserver.Server, error) {
	if !p.Compiler.Options().Watch {
		return nil, fmt.Errorf("project was not opened for watching")
	}
	w, err := p.Watcher()
	if err != nil {
		return nil, err
	}
	return devserver.New(p.Compiler, w, devserver.Options{
		Addr:        p.Config.Addr(),
		OutDir:      p.Compiler.Options().OutDir,
		Version:     version,
		WriteStatus: writeStatus,
	}, p.logger), nil
}

// relative returns path relative to the root in slash form, false when it
// lies outside the root.
func (p *Project) relative(path string) (string, bool) {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
