package generate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

const defaultBinding = "__gbl_default__"

type getter struct {
	name string
	expr string
}

// scriptRewriter turns one script module into the body of its module
// function.
type scriptRewriter struct {
	mc      *moduleContext
	m       *modulegraph.Module
	req     string
	targets map[int]types.ModuleID
	edits   []extractor.Edit
	getters []getter
	imports map[string]string
	vars    int
}

func (g *Generator) renderScript(ctx context.Context, mc *moduleContext, m *modulegraph.Module) (string, error) {
	r := &scriptRewriter{
		mc:      mc,
		m:       m,
		req:     "__require__",
		targets: dependencyTargets(mc.mg, m.ID),
		imports: make(map[string]string),
	}
	if !m.Info.IsESM() {
		r.req = "require"
	}

	var f *extractor.File
	if m.Info.IsESM() {
		var err error
		f, err = m.Info.Parse(ctx, g.registry)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r.moduleSyntax(f)
	}
	r.dependencies()

	code, err := extractor.Apply(m.Info.Content, r.edits)
	if err != nil {
		return "", fmt.Errorf("rewriting %s: %w", m.ID, err)
	}
	if !m.Info.IsESM() {
		return code, nil
	}

	var b strings.Builder
	b.WriteString("__require__.r(exports);\n")
	if len(r.getters) > 0 {
		b.WriteString("__require__.d(exports, {\n")
		for i, gt := range r.getters {
			b.WriteString("  " + quote(gt.name) + ": function () { return " + gt.expr + "; }")
			if i < len(r.getters)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("});\n")
	}
	b.WriteString(code)
	return b.String(), nil
}

// moduleSyntax rewrites import and export declarations into requires and
// export getters.
func (r *scriptRewriter) moduleSyntax(f *extractor.File) {
	info := r.m.Info
	for _, stmt := range info.Statements {
		if stmt.Import != nil {
			r.importStatement(stmt)
		}
	}
	for _, stmt := range info.Statements {
		if stmt.Export != nil {
			r.exportStatement(stmt)
		}
	}

	names := make(map[string]bool, len(r.imports))
	for local := range r.imports {
		names[local] = true
	}
	for _, ref := range extractor.TopLevelReferences(f, names) {
		r.edits = append(r.edits, ref.Replace(r.imports[ref.Name]))
	}
}

func (r *scriptRewriter) importStatement(stmt types.Statement) {
	span := stmt.Span
	target, ok := r.mc.mg.GetDependencyModuleBySource(r.m.ID, stmt.Import.Source)
	if len(stmt.Import.Specifiers) == 0 {
		r.edits = append(r.edits, extractor.Edit{Start: span.Start, End: span.End, Text: r.require(target, ok, stmt.Import.Source) + ";"})
		return
	}

	ns := r.newVar("__import_")
	r.edits = append(r.edits, extractor.Edit{
		Start: span.Start,
		End:   span.End,
		Text:  "var " + ns + " = " + r.interop(target, ok, stmt.Import.Source) + ";",
	})
	for _, spec := range stmt.Import.Specifiers {
		switch spec.Kind {
		case types.ImportNamespace:
			r.imports[spec.Local] = ns
		case types.ImportDefault:
			r.imports[spec.Local] = property(ns, "default")
		case types.ImportNamed:
			r.imports[spec.Local] = property(ns, spec.Imported)
		}
	}
}

func (r *scriptRewriter) exportStatement(stmt types.Statement) {
	span := stmt.Span
	e := stmt.Export

	switch {
	case e.HasSource():
		target, ok := r.mc.mg.GetDependencyModuleBySource(r.m.ID, e.Source)
		if stmt.IsExportAll() {
			r.edits = append(r.edits, extractor.Edit{
				Start: span.Start,
				End:   span.End,
				Text:  "__require__.es(" + r.require(target, ok, e.Source) + ", exports);",
			})
			return
		}
		ns := r.newVar("__reexport_")
		r.edits = append(r.edits, extractor.Edit{
			Start: span.Start,
			End:   span.End,
			Text:  "var " + ns + " = " + r.interop(target, ok, e.Source) + ";",
		})
		for _, spec := range e.Specifiers {
			if spec.Kind == types.ExportNamespace {
				r.getters = append(r.getters, getter{spec.Exported, ns})
				continue
			}
			r.getters = append(r.getters, getter{spec.Exported, property(ns, spec.Local)})
		}

	case e.DeclarationKind == "":
		r.edits = append(r.edits, extractor.Edit{Start: span.Start, End: span.End})
		for _, spec := range e.Specifiers {
			r.getters = append(r.getters, getter{spec.Exported, r.local(spec.Local)})
		}

	case isDeclaration(e.DeclarationKind):
		r.edits = append(r.edits, extractor.Edit{Start: span.Start, End: e.Declaration.Start})
		for _, spec := range e.Specifiers {
			r.getters = append(r.getters, getter{spec.Exported, spec.Local})
		}

	default:
		r.edits = append(r.edits, extractor.Edit{Start: span.Start, End: e.Declaration.Start, Text: "var " + defaultBinding + " = "})
		if e.Declaration.End == span.End {
			r.edits = append(r.edits, extractor.Edit{Start: span.End, End: span.End, Text: ";"})
		}
		r.getters = append(r.getters, getter{"default", defaultBinding})
	}
}

// local returns the expression for a name exported by a clause. Imported
// bindings read through the namespace of their module.
func (r *scriptRewriter) local(name string) string {
	if expr, ok := r.imports[name]; ok {
		return expr
	}
	return name
}

// dependencies rewrites require calls, dynamic imports and worker urls.
func (r *scriptRewriter) dependencies() {
	for _, dep := range r.m.Info.Dependencies {
		target, ok := r.targets[dep.Order]
		expr := dep.Expression
		switch dep.ResolveType {
		case types.ResolveRequire:
			r.edits = append(r.edits, extractor.Edit{Start: expr.Start, End: expr.End, Text: r.require(target, ok, dep.Source)})

		case types.ResolveDynamicImport:
			load := "Promise.resolve()"
			if ok {
				if chunkID, found := r.mc.chunkOf(target); found {
					load = r.req + ".ensure(" + quote(chunkID) + ")"
				}
			}
			r.edits = append(r.edits, extractor.Edit{
				Start: expr.Start,
				End:   expr.End,
				Text:  load + ".then(function () { return " + r.req + ".w(" + r.require(target, ok, dep.Source) + "); })",
			})

		case types.ResolveWorker:
			if !ok {
				continue
			}
			if file, found := r.mc.fileOf(target); found {
				r.edits = append(r.edits, extractor.Edit{Start: expr.Start, End: expr.End, Text: r.req + ".p + " + quote(file)})
			}

		case types.ResolveImport, types.ResolveExportNamed, types.ResolveExportAll, types.ResolveCSS:
		}
	}
}

// require returns the call loading a dependency. An unresolved dependency
// keeps its specifier and fails at runtime.
func (r *scriptRewriter) require(target types.ModuleID, ok bool, source string) string {
	id := source
	if ok {
		id = target.String()
	}
	return r.req + "(" + quote(id) + ")"
}

// interop wraps the require of a module that is not an ES module so that
// default and named imports read a namespace object.
func (r *scriptRewriter) interop(target types.ModuleID, ok bool, source string) string {
	call := r.require(target, ok, source)
	if ok {
		if m, found := r.mc.mg.Lookup(target); found && m.Info.IsESM() {
			return call
		}
	}
	return r.req + ".w(" + call + ")"
}

func (r *scriptRewriter) newVar(prefix string) string {
	name := prefix + strconv.Itoa(r.vars) + "__"
	r.vars++
	return name
}

func isDeclaration(kind string) bool {
	switch kind {
	case "function_declaration", "generator_function_declaration", "class_declaration",
		"lexical_declaration", "variable_declaration":
		return true
	}
	return false
}

func property(object, name string) string {
	if isIdentifier(name) {
		return object + "." + name
	}
	return object + "[" + quote(name) + "]"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
