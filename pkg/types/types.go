// Package types defines the core data structures shared by the bundler packages.
// It includes module identifiers, dependency records, module systems and the
// top-level statement model produced by the analyzer.
package types

import (
	"path"
	"sort"
	"strings"
)

// ModuleID identifies a module in the graph.
// Path is canonical (slash separated, relative to the project root for files
// inside it) and Query distinguishes virtual derivations of the same file.
type ModuleID struct {
	Path  string `json:"path" msgpack:"path"`
	Query string `json:"query,omitempty" msgpack:"query,omitempty"`
}

// NewModuleID builds a canonical id from a path and an optional query.
func NewModuleID(p, query string) ModuleID {
	p = strings.ReplaceAll(p, "\\", "/")
	if p != "" {
		p = path.Clean(p)
	}
	return ModuleID{Path: p, Query: strings.TrimPrefix(query, "?")}
}

// ParseModuleID parses "path?query".
func ParseModuleID(s string) ModuleID {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return NewModuleID(s[:i], s[i+1:])
	}
	return NewModuleID(s, "")
}

// String returns "path" or "path?query".
func (id ModuleID) String() string {
	if id.Query == "" {
		return id.Path
	}
	return id.Path + "?" + id.Query
}

// IsZero reports whether the id is unset.
func (id ModuleID) IsZero() bool {
	return id.Path == "" && id.Query == ""
}

// MarshalText renders the id as its string form so ids can be map keys in JSON.
func (id ModuleID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the string form.
func (id *ModuleID) UnmarshalText(b []byte) error {
	*id = ParseModuleID(string(b))
	return nil
}

// SortModuleIDs sorts ids by their string form.
func SortModuleIDs(ids []ModuleID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

// ResolveType classifies how a dependency was referenced.
type ResolveType int

const (
	ResolveImport ResolveType = iota
	ResolveExportNamed
	ResolveExportAll
	ResolveRequire
	ResolveDynamicImport
	ResolveCSS
	ResolveWorker
)

var resolveTypeNames = [...]string{
	ResolveImport:        "import",
	ResolveExportNamed:   "export_named",
	ResolveExportAll:     "export_all",
	ResolveRequire:       "require",
	ResolveDynamicImport: "dynamic_import",
	ResolveCSS:           "css",
	ResolveWorker:        "worker",
}

func (r ResolveType) String() string {
	if int(r) < len(resolveTypeNames) {
		return resolveTypeNames[r]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (r ResolveType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ResolveType) UnmarshalText(b []byte) error {
	for i, name := range resolveTypeNames {
		if name == string(b) {
			*r = ResolveType(i)
			return nil
		}
	}
	*r = ResolveImport
	return nil
}

// IsAsync reports whether the edge splits a new chunk instead of being followed inline.
func (r ResolveType) IsAsync() bool {
	switch r {
	case ResolveDynamicImport, ResolveWorker:
		return true
	case ResolveImport, ResolveExportNamed, ResolveExportAll, ResolveRequire, ResolveCSS:
		return false
	}
	return false
}

// IsESM reports whether the edge comes from an import or export declaration.
func (r ResolveType) IsESM() bool {
	switch r {
	case ResolveImport, ResolveExportNamed, ResolveExportAll:
		return true
	case ResolveRequire, ResolveDynamicImport, ResolveCSS, ResolveWorker:
		return false
	}
	return false
}

// Span locates a syntax node in its source file.
// Start and End are byte offsets, Line and Column are 1-based.
type Span struct {
	Start  uint32 `json:"start" msgpack:"s"`
	End    uint32 `json:"end" msgpack:"e"`
	Line   int    `json:"line" msgpack:"l"`
	Column int    `json:"column" msgpack:"c"`
}

// Dependency is one reference from an importer to another module.
type Dependency struct {
	Source      string      `json:"source" msgpack:"source"`
	ResolveType ResolveType `json:"resolve_type" msgpack:"resolve_type"`
	// Order is the declaration order inside the importer.
	Order int  `json:"order" msgpack:"order"`
	Span  Span `json:"span" msgpack:"span"`
	// Expression is the code a bundle rewrites for this dependency: the whole
	// declaration, call, worker argument or CSS rule.
	Expression Span `json:"expression" msgpack:"expression"`
}

// ModuleSystem is the module format of a parsed module.
type ModuleSystem int

const (
	ESModule ModuleSystem = iota
	CommonJS
	// Custom covers CSS, JSON, assets and externals.
	Custom
)

func (m ModuleSystem) String() string {
	switch m {
	case ESModule:
		return "esm"
	case CommonJS:
		return "commonjs"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ModuleSystem) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ModuleSystem) UnmarshalText(b []byte) error {
	switch string(b) {
	case "esm":
		*m = ESModule
	case "commonjs":
		*m = CommonJS
	default:
		*m = Custom
	}
	return nil
}

// StatementKind classifies a top-level statement.
type StatementKind int

const (
	StmtPlain StatementKind = iota
	StmtImport
	StmtExport
)

// ImportKind is the shape of one import specifier.
type ImportKind int

const (
	ImportNamed ImportKind = iota
	ImportDefault
	ImportNamespace
)

// ImportSpecifier is one binding introduced by an import declaration.
type ImportSpecifier struct {
	Kind     ImportKind `json:"kind" msgpack:"kind"`
	Local    string     `json:"local" msgpack:"local"`
	Imported string     `json:"imported,omitempty" msgpack:"imported,omitempty"`
}

// ImportInfo describes an import declaration.
type ImportInfo struct {
	Source     string            `json:"source" msgpack:"source"`
	Specifiers []ImportSpecifier `json:"specifiers,omitempty" msgpack:"specifiers,omitempty"`
	// SourceText is the quoted specifier as written.
	SourceText string `json:"source_text" msgpack:"source_text"`
}

// ExportKind is the shape of one export specifier.
type ExportKind int

const (
	ExportNamed ExportKind = iota
	ExportDefault
	// ExportNamespace is `export * as ns from "m"`.
	ExportNamespace
	// ExportAll is `export * from "m"`.
	ExportAll
)

// ExportSpecifier is one exported name.
// Local is empty for anonymous default exports and for ExportAll.
type ExportSpecifier struct {
	Kind     ExportKind `json:"kind" msgpack:"kind"`
	Local    string     `json:"local,omitempty" msgpack:"local,omitempty"`
	Exported string     `json:"exported,omitempty" msgpack:"exported,omitempty"`
}

// ExportInfo describes an export declaration.
type ExportInfo struct {
	// Source is set for re-exports.
	Source     string            `json:"source,omitempty" msgpack:"source,omitempty"`
	SourceText string            `json:"source_text,omitempty" msgpack:"source_text,omitempty"`
	Specifiers []ExportSpecifier `json:"specifiers,omitempty" msgpack:"specifiers,omitempty"`
	// Declaration is the span of the exported declaration or default expression,
	// zero for export clauses.
	Declaration Span `json:"declaration" msgpack:"declaration"`
	// DeclarationKind is the syntax node type of Declaration.
	DeclarationKind string `json:"declaration_kind,omitempty" msgpack:"declaration_kind,omitempty"`
}

// HasSource reports whether the export re-exports another module.
func (e *ExportInfo) HasSource() bool {
	return e != nil && e.Source != ""
}

// Statement is one top-level item of a module.
type Statement struct {
	ID      int           `json:"id" msgpack:"id"`
	Kind    StatementKind `json:"kind" msgpack:"kind"`
	Import  *ImportInfo   `json:"import,omitempty" msgpack:"import,omitempty"`
	Export  *ExportInfo   `json:"export,omitempty" msgpack:"export,omitempty"`
	Defined []string      `json:"defined,omitempty" msgpack:"defined,omitempty"`
	Used    []string      `json:"used,omitempty" msgpack:"used,omitempty"`
	// SelfExecuted is set when evaluating the statement may have observable effects.
	SelfExecuted bool `json:"self_executed" msgpack:"self_executed"`
	Span         Span `json:"span" msgpack:"span"`
}

// ExportedNames returns the names this statement exports, excluding `export *`.
func (s *Statement) ExportedNames() []string {
	if s.Export == nil {
		return nil
	}
	var names []string
	for _, spec := range s.Export.Specifiers {
		if spec.Kind != ExportAll {
			names = append(names, spec.Exported)
		}
	}
	return names
}

// Source returns the specifier of an import or re-export statement.
func (s *Statement) Source() string {
	switch {
	case s.Import != nil:
		return s.Import.Source
	case s.Export.HasSource():
		return s.Export.Source
	}
	return ""
}

// IsExportAll reports whether the statement is `export * from "m"`.
func (s *Statement) IsExportAll() bool {
	if s.Export == nil {
		return false
	}
	for _, spec := range s.Export.Specifiers {
		if spec.Kind == ExportAll {
			return true
		}
	}
	return false
}
