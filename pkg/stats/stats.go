// Package stats describes a finished build: which modules went into which
// chunk, how modules depend on each other, and which files every entry
// point needs.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/l3aro/go-bundle/pkg/chunk"
	"github.com/l3aro/go-bundle/pkg/generate"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Filename is the name stats are written under in the output directory.
const Filename = "stats.json"

// Stats is the build report.
type Stats struct {
	Hash        string                 `json:"hash"`
	Entrypoints map[string]*Entrypoint `json:"entrypoints"`
	Chunks      []*Chunk               `json:"chunks"`
	Modules     []*Module              `json:"modules"`
	Assets      []*Asset               `json:"assets,omitempty"`
}

// Entrypoint lists the files an entry needs, in load order.
type Entrypoint struct {
	Name  string         `json:"name"`
	Chunk types.ModuleID `json:"chunk"`
	Files []string       `json:"files"`
}

// Chunk is one output chunk.
type Chunk struct {
	ID       types.ModuleID   `json:"id"`
	Type     chunk.Type       `json:"type"`
	Name     string           `json:"name,omitempty"`
	Filename string           `json:"filename"`
	Hash     string           `json:"hash"`
	Size     int              `json:"size"`
	Modules  []types.ModuleID `json:"modules"`
	Children []types.ModuleID `json:"children,omitempty"`
}

// Module is one module of the graph.
type Module struct {
	ID           types.ModuleID     `json:"id"`
	Kind         modulegraph.Kind   `json:"kind"`
	System       types.ModuleSystem `json:"system"`
	Entry        bool               `json:"entry,omitempty"`
	Size         int                `json:"size"`
	Hash         string             `json:"hash"`
	Chunks       []string           `json:"chunks"`
	Dependencies []*Dependency      `json:"dependencies,omitempty"`
	Dependents   []types.ModuleID   `json:"dependents,omitempty"`
}

// Dependency is one resolved dependency record.
type Dependency struct {
	Target      types.ModuleID    `json:"target"`
	Source      string            `json:"source"`
	ResolveType types.ResolveType `json:"resolve_type"`
	Line        int               `json:"line,omitempty"`
}

// Asset is a file emitted as-is.
type Asset struct {
	Filename string         `json:"filename"`
	Module   types.ModuleID `json:"module"`
	Size     int            `json:"size"`
}

// Collect builds the report of a generated build.
func Collect(mg *modulegraph.ModuleGraph, cg *chunk.Graph, out *generate.Result) *Stats {
	s := &Stats{
		Hash:        out.FullHash,
		Entrypoints: make(map[string]*Entrypoint),
	}

	files := make(map[types.ModuleID]string, len(out.Outputs))
	for _, o := range out.Outputs {
		files[o.Chunk] = o.Filename
		c, _ := cg.Chunk(o.Chunk)
		sc := &Chunk{
			ID:       o.Chunk,
			Type:     o.Type,
			Filename: o.Filename,
			Hash:     o.Hash,
			Size:     len(o.Content),
			Modules:  o.Modules,
			Children: cg.Dependencies(o.Chunk),
		}
		if c != nil {
			sc.Name = c.Name
		}
		s.Chunks = append(s.Chunks, sc)
	}

	for _, c := range cg.Chunks() {
		if c.Type != chunk.TypeEntry {
			continue
		}
		ep := &Entrypoint{Name: c.Name, Chunk: c.ID}
		for _, dep := range cg.SyncDependenciesChunk(c.ID) {
			if f, ok := files[dep]; ok {
				ep.Files = append(ep.Files, f)
			}
		}
		ep.Files = append(ep.Files, files[c.ID])
		s.Entrypoints[c.Name] = ep
	}

	for _, m := range mg.Modules() {
		sm := &Module{
			ID:         m.ID,
			Entry:      m.IsEntry,
			Hash:       m.RawHash(),
			Chunks:     m.Chunks,
			Dependents: mg.GetDependents(m.ID),
		}
		if m.Info != nil {
			sm.Kind = m.Info.Kind
			sm.System = m.Info.System
			sm.Size = len(m.Info.Content)
		}
		for _, edge := range mg.GetDependencies(m.ID) {
			sm.Dependencies = append(sm.Dependencies, &Dependency{
				Target:      edge.Target,
				Source:      edge.Dependency.Source,
				ResolveType: edge.Dependency.ResolveType,
				Line:        edge.Dependency.Span.Line,
			})
		}
		s.Modules = append(s.Modules, sm)
	}

	for _, a := range out.Assets {
		s.Assets = append(s.Assets, &Asset{Filename: a.Filename, Module: a.Module, Size: len(a.Content)})
	}
	return s
}

// Write encodes s as indented JSON.
func (s *Stats) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFile writes s to dir/stats.json.
func (s *Stats) WriteFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, Filename))
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	if err := s.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return f.Close()
}
