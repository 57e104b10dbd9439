package modulegraph

import (
	"context"
	"fmt"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Kind tells the code generator how to emit a module.
type Kind int

const (
	KindScript Kind = iota
	KindStyle
	KindJSON
	KindAsset
	// KindRaw exports the file content as a string ("?raw").
	KindRaw
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindStyle:
		return "style"
	case KindJSON:
		return "json"
	case KindAsset:
		return "asset"
	case KindRaw:
		return "raw"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ModuleInfo is the loaded content of a module and its analysis.
// Syntax trees are not retained: they are not safe for concurrent reads, so
// consumers that rewrite code parse Content again through Parse.
type ModuleInfo struct {
	// Path is the absolute file path, empty for externals.
	Path         string
	Kind         Kind
	Lang         extractor.Language
	Content      []byte
	System       types.ModuleSystem
	Statements   []types.Statement
	Dependencies []types.Dependency
	// ComputedExports is set when the export shape cannot be known statically.
	ComputedExports bool
	// RawHash is the content hash used for cache invalidation and chunk hashes.
	RawHash string
	// External is the global expression of an external module.
	External string
	// SideEffects is the value declared by package metadata, nil if undeclared.
	SideEffects *bool
}

// Parse parses Content. The caller must Close the returned file.
func (i *ModuleInfo) Parse(ctx context.Context, registry *extractor.LanguageRegistry) (*extractor.File, error) {
	if i.Lang != extractor.JavaScript && i.Lang != extractor.CSS {
		return nil, fmt.Errorf("module %s has no syntax tree", i.Path)
	}
	return registry.Parse(ctx, i.Path, i.Lang, i.Content)
}

// IsESM reports whether the module uses import/export syntax.
func (i *ModuleInfo) IsESM() bool {
	return i != nil && i.Kind == KindScript && i.System == types.ESModule
}

// Module is a node of the module graph.
type Module struct {
	ID      types.ModuleID
	IsEntry bool
	Info    *ModuleInfo
	// Chunks lists the chunks the module currently belongs to. It is a
	// back-reference rebuilt by every partitioning pass.
	Chunks []string
}

// NewModule creates a module node.
func NewModule(id types.ModuleID, isEntry bool, info *ModuleInfo) *Module {
	return &Module{ID: id, IsEntry: isEntry, Info: info}
}

// IsExternal reports whether the module is provided by the environment.
func (m *Module) IsExternal() bool {
	return m.Info != nil && m.Info.Kind == KindExternal
}

// RawHash returns the content hash, or the id when the module has no content.
func (m *Module) RawHash() string {
	if m.Info == nil || m.Info.RawHash == "" {
		return m.ID.String()
	}
	return m.Info.RawHash
}
