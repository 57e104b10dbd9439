// Package extractor provides tree-sitter based source analysis for the bundler.
// It parses JavaScript and CSS, extracts top-level statements with their
// defined and used identifiers, discovers dependencies and computes
// scope-aware identifier references for code rewriting.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Language represents a supported source language.
type Language string

const (
	JavaScript Language = "javascript"
	CSS        Language = "css"
	JSON       Language = "json"
	// Asset is any file emitted as-is and referenced by its public URL.
	Asset Language = "asset"
)

// ParserFactory creates a new tree-sitter parser for a language.
// Parsers are not safe for concurrent use, so every parse gets its own.
type ParserFactory func() *sitter.Parser

// NewJavaScriptParser returns a parser for JavaScript sources.
func NewJavaScriptParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	return parser
}

// NewCSSParser returns a parser for CSS sources.
func NewCSSParser() *sitter.Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(css.GetLanguage())
	return parser
}

// LanguageRegistry maps file extensions to languages and parser factories.
type LanguageRegistry struct {
	parsers    map[Language]ParserFactory
	extensions map[string]Language
}

// NewLanguageRegistry creates a registry with the built-in mappings.
func NewLanguageRegistry() *LanguageRegistry {
	registry := &LanguageRegistry{
		parsers:    make(map[Language]ParserFactory),
		extensions: make(map[string]Language),
	}

	registry.RegisterLanguage(JavaScript, []string{".js", ".mjs", ".cjs"}, NewJavaScriptParser)
	registry.RegisterLanguage(CSS, []string{".css"}, NewCSSParser)
	registry.RegisterLanguage(JSON, []string{".json"}, nil)

	return registry
}

// RegisterLanguage registers a language with the registry.
// A nil parser factory marks a language that is loaded without a syntax tree.
func (r *LanguageRegistry) RegisterLanguage(lang Language, extensions []string, parserFactory ParserFactory) {
	if parserFactory != nil {
		r.parsers[lang] = parserFactory
	}
	for _, ext := range extensions {
		r.extensions[ext] = lang
	}
}

// GetLanguage returns the language for a file path. Unknown extensions are assets.
func (r *LanguageRegistry) GetLanguage(filePath string) Language {
	ext := strings.ToLower(filepath.Ext(filePath))
	if lang, ok := r.extensions[ext]; ok {
		return lang
	}
	return Asset
}

// GetParser returns a new parser for lang, or an error if lang has no grammar.
func (r *LanguageRegistry) GetParser(lang Language) (*sitter.Parser, error) {
	factory, ok := r.parsers[lang]
	if !ok {
		return nil, fmt.Errorf("no parser factory registered for language: %s", lang)
	}
	return factory(), nil
}

// IsSupported reports whether the extension maps to a non-asset language.
func (r *LanguageRegistry) IsSupported(filePath string) bool {
	return r.GetLanguage(filePath) != Asset
}

// GetSupportedExtensions returns all registered file extensions.
func (r *LanguageRegistry) GetSupportedExtensions() []string {
	extensions := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		extensions = append(extensions, ext)
	}
	return extensions
}

// File is a parsed source file. Tree is nil for languages without a grammar.
type File struct {
	Path string
	Lang Language
	Src  []byte
	Tree *sitter.Tree
}

// Root returns the root node, or nil when the file has no tree.
func (f *File) Root() *sitter.Node {
	if f == nil || f.Tree == nil {
		return nil
	}
	return f.Tree.RootNode()
}

// Close releases the syntax tree.
func (f *File) Close() {
	if f != nil && f.Tree != nil {
		f.Tree.Close()
		f.Tree = nil
	}
}

// ParseError reports a syntax error in a module.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
}

// Parse parses src as lang. A tree containing syntax errors yields a *ParseError.
func (r *LanguageRegistry) Parse(ctx context.Context, path string, lang Language, src []byte) (*File, error) {
	file := &File{Path: path, Lang: lang, Src: src}

	switch lang {
	case JavaScript, CSS:
		parser, err := r.GetParser(lang)
		if err != nil {
			return nil, err
		}
		tree, err := parser.ParseCtx(ctx, nil, src)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if tree == nil {
			return nil, fmt.Errorf("parsing %s: parser returned no tree", path)
		}
		file.Tree = tree
		if root := tree.RootNode(); root.HasError() {
			perr := syntaxError(path, src, firstErrorNode(root))
			// Nodes point into the tree; read them before it is freed.
			file.Close()
			return nil, perr
		}
	case JSON:
		if !json.Valid(src) {
			return nil, &ParseError{Path: path, Line: 1, Column: 1, Message: "invalid JSON"}
		}
	case Asset:
	}

	return file, nil
}

func syntaxError(path string, src []byte, bad *sitter.Node) *ParseError {
	perr := &ParseError{Path: path, Line: 1, Column: 1, Message: "syntax error"}
	if bad == nil {
		return perr
	}
	perr.Line = int(bad.StartPoint().Row) + 1
	perr.Column = int(bad.StartPoint().Column) + 1
	if bad.IsMissing() {
		perr.Message = fmt.Sprintf("missing %q", bad.Type())
	} else {
		perr.Message = fmt.Sprintf("unexpected %q", snippet(bad.Content(src)))
	}
	return perr
}

// firstErrorNode returns the first ERROR or MISSING node in document order.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if bad := firstErrorNode(child); bad != nil {
			return bad
		}
	}
	return nil
}

func snippet(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

// nodeText extracts the text content of a node from the source.
func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start >= uint32(len(content)) || end > uint32(len(content)) {
		return ""
	}
	return string(content[start:end])
}

// cleanModulePath removes quotes from a string literal.
func cleanModulePath(path string) string {
	if len(path) >= 2 {
		first, last := path[0], path[len(path)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return path[1 : len(path)-1]
		}
	}
	return strings.Trim(path, "\"'`")
}
