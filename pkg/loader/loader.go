// Package loader reads resolved resources, hashes their content and runs the
// analysis layer. Analyses are cached by content hash in memory and,
// optionally, in a persisted store shared across runs.
package loader

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/cache"
	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
	"lukechampine.com/blake3"
)

// RawHash returns the content hash of a module source.
func RawHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:16])
}

// Options configures a Loader.
type Options struct {
	// CacheSize bounds the in-memory analysis cache.
	CacheSize int
	// Store persists analyses across runs. Optional.
	Store *cache.Store[*extractor.Analysis]
}

// Loader loads modules. It is safe for concurrent use.
type Loader struct {
	registry *extractor.LanguageRegistry
	analyses *cache.LRU[string, *extractor.Analysis]
	store    *cache.Store[*extractor.Analysis]
	logger   log.Logger
}

// New creates a loader.
func New(registry *extractor.LanguageRegistry, opts Options, logger log.Logger) *Loader {
	if registry == nil {
		registry = extractor.NewLanguageRegistry()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Loader{
		registry: registry,
		analyses: cache.New(cache.Options[string, *extractor.Analysis]{MaxSize: opts.CacheSize}),
		store:    opts.Store,
		logger:   logger,
	}
}

// Registry returns the language registry used for parsing.
func (l *Loader) Registry() *extractor.LanguageRegistry {
	return l.registry
}

// CacheStats returns the in-memory analysis cache statistics.
func (l *Loader) CacheStats() cache.Stats {
	return l.analyses.Stats()
}

// Load reads and analyzes a resource.
func (l *Loader) Load(ctx context.Context, res *resolver.Resource) (*modulegraph.ModuleInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if res.IsExternal() {
		return &modulegraph.ModuleInfo{
			Kind:     modulegraph.KindExternal,
			Lang:     extractor.Asset,
			System:   types.Custom,
			External: res.External,
			RawHash:  RawHash([]byte(res.ID.String() + "=" + res.External)),
		}, nil
	}

	content, err := os.ReadFile(res.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", res.Path, err)
	}
	return l.LoadContent(ctx, res.ID, res.Path, content, res.SideEffects)
}

// LoadContent analyzes content as the module id stored at path.
func (l *Loader) LoadContent(ctx context.Context, id types.ModuleID, path string, content []byte, sideEffects *bool) (*modulegraph.ModuleInfo, error) {
	lang := l.registry.GetLanguage(path)
	info := &modulegraph.ModuleInfo{
		Path:        path,
		Lang:        lang,
		Content:     content,
		System:      types.Custom,
		RawHash:     RawHash(content),
		SideEffects: sideEffects,
	}

	if id.Query == "raw" {
		info.Kind = modulegraph.KindRaw
		info.Lang = extractor.Asset
		return info, nil
	}

	switch lang {
	case extractor.JavaScript:
		info.Kind = modulegraph.KindScript
	case extractor.CSS:
		info.Kind = modulegraph.KindStyle
	case extractor.JSON:
		info.Kind = modulegraph.KindJSON
	default:
		info.Kind = modulegraph.KindAsset
	}

	analysis, err := l.Analyze(ctx, path, lang, content)
	if err != nil {
		return nil, err
	}
	if analysis != nil {
		info.System = analysis.System
		info.Statements = analysis.Statements
		info.Dependencies = analysis.Dependencies
		info.ComputedExports = analysis.ComputedExports
	}
	return info, nil
}

// Analyze returns the analysis of content, from cache when the same content
// was analyzed before. JSON is validated; assets have no analysis.
func (l *Loader) Analyze(ctx context.Context, path string, lang extractor.Language, content []byte) (*extractor.Analysis, error) {
	switch lang {
	case extractor.JavaScript, extractor.CSS:
	case extractor.JSON:
		f, err := l.registry.Parse(ctx, path, lang, content)
		if err != nil {
			return nil, err
		}
		f.Close()
		return &extractor.Analysis{System: types.Custom}, nil
	default:
		return nil, nil
	}

	key := string(lang) + ":" + RawHash(content)
	if analysis, ok := l.analyses.Get(key); ok {
		return analysis, nil
	}
	if l.store != nil {
		if analysis, ok := l.store.Get(key); ok {
			l.analyses.Set(key, analysis)
			return analysis, nil
		}
	}

	f, err := l.registry.Parse(ctx, path, lang, content)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var analysis *extractor.Analysis
	if lang == extractor.CSS {
		analysis = extractor.AnalyzeCSS(f)
	} else {
		analysis = extractor.AnalyzeJavaScript(f)
	}

	l.analyses.Set(key, analysis)
	if l.store != nil {
		l.store.Put(key, analysis)
	}
	l.logger.Debug("analyzed module", "path", path, "statements", len(analysis.Statements), "dependencies", len(analysis.Dependencies))
	return analysis, nil
}
