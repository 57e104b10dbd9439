package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/l3aro/go-bundle/pkg/resolver"
	"github.com/l3aro/go-bundle/pkg/types"
)

// MissingDependency is a specifier that did not resolve.
type MissingDependency struct {
	Importer  types.ModuleID `json:"importer"`
	Specifier string         `json:"specifier"`
	Span      types.Span     `json:"span"`
}

func (m MissingDependency) String() string {
	return fmt.Sprintf("%q from %s:%d:%d", m.Specifier, m.Importer, m.Span.Line, m.Span.Column)
}

// MissingDependenciesError aggregates every unresolved specifier of a
// one-shot build.
type MissingDependenciesError struct {
	Missing []MissingDependency
}

func (e *MissingDependenciesError) Error() string {
	if len(e.Missing) == 1 {
		return "module not found: " + e.Missing[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d modules not found:", len(e.Missing))
	for _, m := range e.Missing {
		b.WriteString("\n  ")
		b.WriteString(m.String())
	}
	return b.String()
}

func (e *MissingDependenciesError) Unwrap() error { return resolver.ErrNotFound }

func sortMissing(missing []MissingDependency) {
	sort.Slice(missing, func(i, j int) bool {
		a, b := missing[i], missing[j]
		if a.Importer != b.Importer {
			return a.Importer.String() < b.Importer.String()
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.Specifier < b.Specifier
	})
}

// LoadError reports a module that could not be loaded, with the location of
// the statement that imported it. It unwraps to the underlying failure, a
// *extractor.ParseError for syntax errors.
type LoadError struct {
	Module   types.ModuleID
	Importer types.ModuleID
	At       types.Span
	Err      error
}

func (e *LoadError) Error() string {
	if e.Importer.IsZero() {
		return fmt.Sprintf("failed to load %s: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("failed to load %s (imported at %s:%d:%d): %v", e.Module, e.Importer, e.At.Line, e.At.Column, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
