package concat

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// reserved names are never given to a renamed binding.
var reserved = []string{
	"module", "exports", "require", "__require__", "undefined", "arguments",
	HelperInteropDefault, HelperInteropWildcard, HelperExportStar,
}

type importBinding struct {
	target types.ModuleID
	kind   types.ImportKind
	name   string
}

type member struct {
	id          types.ModuleID
	info        *modulegraph.ModuleInfo
	file        *extractor.File
	locals      map[string]string
	imports     map[string]importBinding
	defaultName string
}

type builder struct {
	mg        *modulegraph.ModuleGraph
	members   map[types.ModuleID]*member
	order     []types.ModuleID
	externals []types.ModuleID
	extVars   map[types.ModuleID]string
	extUse    map[types.ModuleID]InteropFlags
	taken     map[string]bool
}

func (o *Optimizer) build(ctx context.Context, mg *modulegraph.ModuleGraph, root types.ModuleID, ids []types.ModuleID) (*Group, error) {
	b := &builder{
		mg:      mg,
		members: make(map[types.ModuleID]*member, len(ids)),
		extVars: make(map[types.ModuleID]string),
		extUse:  make(map[types.ModuleID]InteropFlags),
		taken:   make(map[string]bool),
	}
	defer func() {
		for _, m := range b.members {
			m.file.Close()
		}
	}()

	for _, id := range ids {
		info := mg.GetModule(id).Info
		f, err := info.Parse(ctx, o.registry)
		if err != nil {
			return nil, err
		}
		b.members[id] = &member{
			id:      id,
			info:    info,
			file:    f,
			locals:  make(map[string]string),
			imports: make(map[string]importBinding),
		}
	}
	b.order = b.evaluationOrder(root)

	for _, name := range reserved {
		b.taken[name] = true
	}
	for _, m := range b.members {
		own := topLevelNames(m.info.Statements)
		for name := range extractor.Identifiers(m.file) {
			if !own[name] {
				b.taken[name] = true
			}
		}
	}

	for _, id := range b.order {
		for _, edge := range mg.GetDependencies(id) {
			target := edge.Target
			if _, in := b.members[target]; in || !edge.Dependency.ResolveType.IsESM() {
				continue
			}
			if _, seen := b.extVars[target]; !seen {
				b.externals = append(b.externals, target)
				b.extVars[target] = b.claim("_" + identifierFrom(target.Path))
			}
		}
	}

	for _, id := range b.order {
		b.bind(b.members[id])
	}

	var body []string
	for _, id := range b.order {
		code, err := b.emit(b.members[id])
		if err != nil {
			return nil, err
		}
		body = append(body, "// "+id.String()+"\n"+strings.TrimSpace(code))
	}

	getters, stars := b.rootExports(b.members[root])

	var flags InteropFlags
	var prelude []string
	if len(getters) > 0 || len(stars) > 0 {
		prelude = append(prelude, "__require__.r(exports);")
	}
	if len(getters) > 0 {
		prelude = append(prelude, "__require__.d(exports, {\n"+strings.Join(getters, ",\n")+"\n});")
	}
	for _, ext := range b.externals {
		call := "__require__(" + quote(ext.String()) + ")"
		use := b.extUse[ext]
		flags |= use & InteropNamed
		if !b.isESM(ext) {
			switch {
			case use.Has(InteropNamespace) || use.Has(InteropDefault|InteropNamed):
				flags |= InteropNamespace
				call = HelperInteropWildcard + "(" + call + ")"
			case use.Has(InteropDefault):
				flags |= InteropDefault
				call = HelperInteropDefault + "(" + call + ")"
			}
		}
		prelude = append(prelude, "var "+b.extVars[ext]+" = "+call+";")
	}
	for _, ext := range stars {
		flags |= InteropExportAll
		prelude = append(prelude, HelperExportStar+"("+b.extVars[ext]+", exports);")
	}

	var out strings.Builder
	if helpers := Helpers(flags); helpers != "" {
		out.WriteString(helpers)
		out.WriteString("\n")
	}
	for _, line := range prelude {
		out.WriteString(line)
		out.WriteString("\n")
	}
	out.WriteString(strings.Join(body, "\n"))
	out.WriteString("\n")

	return &Group{
		Root:      root,
		Inners:    b.order[:len(b.order)-1],
		Externals: b.externals,
		Flags:     flags,
		Code:      out.String(),
	}, nil
}

// evaluationOrder is the post-order of the group from root: every module
// after the members it imports.
func (b *builder) evaluationOrder(root types.ModuleID) []types.ModuleID {
	visited := make(map[types.ModuleID]bool)
	var order []types.ModuleID
	var visit func(types.ModuleID)
	visit = func(id types.ModuleID) {
		visited[id] = true
		for _, dep := range b.mg.GetDependencyModules(id) {
			if _, in := b.members[dep]; in && !visited[dep] {
				visit(dep)
			}
		}
		order = append(order, id)
	}
	visit(root)
	return order
}

// bind renames the top-level declarations of m apart from the rest of the
// group and records where each import comes from.
func (b *builder) bind(m *member) {
	for _, stmt := range m.info.Statements {
		if stmt.Import != nil {
			target, _ := b.mg.GetDependencyModuleBySource(m.id, stmt.Import.Source)
			for _, spec := range stmt.Import.Specifiers {
				m.imports[spec.Local] = importBinding{target: target, kind: spec.Kind, name: spec.Imported}
			}
			continue
		}
		for _, name := range stmt.Defined {
			if _, ok := m.locals[name]; !ok {
				m.locals[name] = b.claim(name)
			}
		}
		if stmt.Export != nil && isDefaultExpression(stmt.Export) {
			m.defaultName = b.claim(identifierFrom(m.id.Path) + "_default")
		}
	}
}

func (b *builder) claim(name string) string {
	candidate := name
	for k := 1; b.taken[candidate]; k++ {
		candidate = name + "$" + strconv.Itoa(k)
	}
	b.taken[candidate] = true
	return candidate
}

// emit rewrites m: module syntax is stripped and references to renamed
// bindings and imports are replaced.
func (b *builder) emit(m *member) (string, error) {
	var edits []extractor.Edit
	for _, stmt := range m.info.Statements {
		span := stmt.Span
		switch {
		case stmt.Import != nil:
			edits = append(edits, extractor.Edit{Start: span.Start, End: span.End})
		case stmt.Export == nil:
		case stmt.Export.HasSource() || stmt.Export.DeclarationKind == "":
			edits = append(edits, extractor.Edit{Start: span.Start, End: span.End})
		case isDefaultExpression(stmt.Export):
			decl := stmt.Export.Declaration
			edits = append(edits, extractor.Edit{Start: span.Start, End: decl.Start, Text: "var " + m.defaultName + " = "})
			if decl.End == span.End {
				edits = append(edits, extractor.Edit{Start: span.End, End: span.End, Text: ";"})
			}
		default:
			edits = append(edits, extractor.Edit{Start: span.Start, End: stmt.Export.Declaration.Start})
		}
	}

	names := make(map[string]bool)
	for local := range m.imports {
		names[local] = true
	}
	for local, renamed := range m.locals {
		if renamed != local {
			names[local] = true
		}
	}
	for _, ref := range extractor.TopLevelReferences(m.file, names) {
		if imp, ok := m.imports[ref.Name]; ok {
			edits = append(edits, ref.Replace(b.importExpr(imp)))
			continue
		}
		edits = append(edits, ref.Replace(m.locals[ref.Name]))
	}

	targets := make(map[int]types.ModuleID)
	for _, edge := range b.mg.GetDependencies(m.id) {
		targets[edge.Dependency.Order] = edge.Target
	}
	for _, dep := range m.info.Dependencies {
		if dep.ResolveType != types.ResolveRequire {
			continue
		}
		id := dep.Source
		if target, ok := targets[dep.Order]; ok {
			id = target.String()
		}
		edits = append(edits, extractor.Edit{Start: dep.Expression.Start, End: dep.Expression.End, Text: "__require__(" + quote(id) + ")"})
	}

	return extractor.Apply(m.info.Content, edits)
}

// rootExports returns the getter entries of the root's exports and the
// externals it re-exports with export *.
func (b *builder) rootExports(root *member) ([]string, []types.ModuleID) {
	var getters []string
	var stars []types.ModuleID
	seen := make(map[string]bool)
	add := func(name, expr string) {
		if seen[name] {
			return
		}
		seen[name] = true
		getters = append(getters, "  "+quote(name)+": function () { return "+expr+"; }")
	}

	for _, name := range exportedNames(root.info.Statements) {
		if expr, ok := b.exportExpr(root.id, name); ok {
			add(name, expr)
		}
	}
	for _, stmt := range root.info.Statements {
		if !stmt.IsExportAll() {
			continue
		}
		target, _ := b.mg.GetDependencyModuleBySource(root.id, stmt.Export.Source)
		inner, ok := b.members[target]
		if !ok {
			stars = append(stars, target)
			continue
		}
		for _, name := range exportedNames(inner.info.Statements) {
			if name == "default" {
				continue
			}
			if expr, ok := b.exportExpr(inner.id, name); ok {
				add(name, expr)
			}
		}
	}
	return getters, stars
}

// exportExpr returns the expression that reads the export name of id.
func (b *builder) exportExpr(id types.ModuleID, name string) (string, bool) {
	m, ok := b.members[id]
	if !ok {
		return b.externalAccess(id, types.ImportNamed, name), true
	}
	for _, stmt := range m.info.Statements {
		if stmt.Export == nil {
			continue
		}
		for _, spec := range stmt.Export.Specifiers {
			if spec.Kind == types.ExportAll || spec.Exported != name {
				continue
			}
			if stmt.Export.HasSource() {
				target, _ := b.mg.GetDependencyModuleBySource(id, stmt.Export.Source)
				if spec.Kind == types.ExportNamespace {
					return b.externalAccess(target, types.ImportNamespace, ""), true
				}
				return b.exportExpr(target, spec.Local)
			}
			if isDefaultExpression(stmt.Export) {
				return m.defaultName, true
			}
			return b.localExpr(m, spec.Local), true
		}
	}
	return "", false
}

func (b *builder) localExpr(m *member, local string) string {
	if imp, ok := m.imports[local]; ok {
		return b.importExpr(imp)
	}
	if renamed, ok := m.locals[local]; ok {
		return renamed
	}
	return local
}

func (b *builder) importExpr(imp importBinding) string {
	if _, in := b.members[imp.target]; !in {
		return b.externalAccess(imp.target, imp.kind, imp.name)
	}
	name := imp.name
	if imp.kind == types.ImportDefault {
		name = "default"
	}
	if expr, ok := b.exportExpr(imp.target, name); ok {
		return expr
	}
	return "void 0"
}

func (b *builder) externalAccess(id types.ModuleID, kind types.ImportKind, name string) string {
	v, ok := b.extVars[id]
	if !ok {
		return "void 0"
	}
	switch kind {
	case types.ImportNamespace:
		b.extUse[id] |= InteropNamespace
		return v
	case types.ImportDefault:
		b.extUse[id] |= InteropDefault
		return v + ".default"
	}
	if name == "default" {
		b.extUse[id] |= InteropDefault
	} else {
		b.extUse[id] |= InteropNamed
	}
	return property(v, name)
}

func (b *builder) isESM(id types.ModuleID) bool {
	m, ok := b.mg.Lookup(id)
	return ok && m.Info.IsESM()
}

// isDefaultExpression reports `export default <expression>`, which needs a
// synthesized binding.
func isDefaultExpression(e *types.ExportInfo) bool {
	if e.HasSource() || e.DeclarationKind == "" {
		return false
	}
	switch e.DeclarationKind {
	case "function_declaration", "generator_function_declaration", "class_declaration",
		"lexical_declaration", "variable_declaration":
		return false
	}
	return true
}

func exportedNames(stmts []types.Statement) []string {
	var names []string
	for i := range stmts {
		names = append(names, stmts[i].ExportedNames()...)
	}
	return names
}

func topLevelNames(stmts []types.Statement) map[string]bool {
	names := make(map[string]bool)
	for _, stmt := range stmts {
		for _, name := range stmt.Defined {
			names[name] = true
		}
	}
	return names
}

// identifierFrom derives a readable identifier from a module path.
func identifierFrom(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	var sb strings.Builder
	for i, r := range base {
		switch {
		case r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "module"
	}
	return sb.String()
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

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
