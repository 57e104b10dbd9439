package extractor

import (
	"sort"

	"github.com/l3aro/go-bundle/pkg/types"
	sitter "github.com/smacker/go-tree-sitter"
)

// Analysis is the result of analyzing one JavaScript module.
type Analysis struct {
	System       types.ModuleSystem
	Statements   []types.Statement
	Dependencies []types.Dependency
	// ComputedExports is set when the module writes to exports through a
	// computed key, which makes its export shape unknowable.
	ComputedExports bool
}

// AnalyzeJavaScript extracts top-level statements and dependencies from a parsed file.
func AnalyzeJavaScript(f *File) *Analysis {
	root := f.Root()
	analysis := &Analysis{System: types.CommonJS}
	if root == nil {
		return analysis
	}

	hasModuleSyntax := false
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "comment", "empty_statement", "hash_bang_line":
			continue
		}

		stmt := types.Statement{ID: len(analysis.Statements), Span: spanOf(node)}
		switch node.Type() {
		case "import_statement":
			hasModuleSyntax = true
			analyzeImportStatement(node, f.Src, &stmt)
		case "export_statement":
			hasModuleSyntax = true
			analyzeExportStatement(node, f.Src, &stmt)
		default:
			analyzePlainStatement(node, f.Src, &stmt)
		}
		analysis.Statements = append(analysis.Statements, stmt)
	}

	if hasModuleSyntax {
		analysis.System = types.ESModule
	}
	analysis.Dependencies = collectDependencies(root, f.Src)
	analysis.ComputedExports = hasComputedExports(root, f.Src)
	return analysis
}

func spanOf(node *sitter.Node) types.Span {
	return types.Span{
		Start:  node.StartByte(),
		End:    node.EndByte(),
		Line:   int(node.StartPoint().Row) + 1,
		Column: int(node.StartPoint().Column) + 1,
	}
}

// analyzeImportStatement parses "import x, { y as z }, * as ns from 'module'".
func analyzeImportStatement(node *sitter.Node, src []byte, stmt *types.Statement) {
	stmt.Kind = types.StmtImport
	info := &types.ImportInfo{}
	if source := node.ChildByFieldName("source"); source != nil {
		info.SourceText = nodeText(source, src)
		info.Source = cleanModulePath(info.SourceText)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			child := clause.NamedChild(j)
			switch child.Type() {
			case "identifier":
				info.Specifiers = append(info.Specifiers, types.ImportSpecifier{
					Kind:     types.ImportDefault,
					Local:    nodeText(child, src),
					Imported: "default",
				})
			case "namespace_import":
				for k := 0; k < int(child.NamedChildCount()); k++ {
					if alias := child.NamedChild(k); alias.Type() == "identifier" {
						info.Specifiers = append(info.Specifiers, types.ImportSpecifier{
							Kind:  types.ImportNamespace,
							Local: nodeText(alias, src),
						})
					}
				}
			case "named_imports":
				for k := 0; k < int(child.NamedChildCount()); k++ {
					spec := child.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					imported := cleanModulePath(nodeText(spec.ChildByFieldName("name"), src))
					local := imported
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = nodeText(alias, src)
					}
					info.Specifiers = append(info.Specifiers, types.ImportSpecifier{
						Kind:     types.ImportNamed,
						Local:    local,
						Imported: imported,
					})
				}
			}
		}
	}

	for _, spec := range info.Specifiers {
		stmt.Defined = append(stmt.Defined, spec.Local)
	}
	stmt.Import = info
}

// analyzeExportStatement handles declarations, default exports, export
// clauses and re-exports.
func analyzeExportStatement(node *sitter.Node, src []byte, stmt *types.Statement) {
	stmt.Kind = types.StmtExport
	info := &types.ExportInfo{}
	if source := node.ChildByFieldName("source"); source != nil {
		info.SourceText = nodeText(source, src)
		info.Source = cleanModulePath(info.SourceText)
	}

	isDefault := false
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "default" {
			isDefault = true
		}
	}

	decl := node.ChildByFieldName("declaration")
	value := node.ChildByFieldName("value")

	switch {
	case decl != nil:
		names := declarationNames(decl, src)
		stmt.Defined = names
		info.Declaration = spanOf(decl)
		info.DeclarationKind = decl.Type()
		if isDefault {
			local := ""
			if len(names) > 0 {
				local = names[0]
			}
			info.Specifiers = append(info.Specifiers, types.ExportSpecifier{
				Kind: types.ExportDefault, Local: local, Exported: "default",
			})
		} else {
			for _, name := range names {
				info.Specifiers = append(info.Specifiers, types.ExportSpecifier{
					Kind: types.ExportNamed, Local: name, Exported: name,
				})
			}
		}
		stmt.Used = usedIdentifiers(decl, src, toSet(names))
		stmt.SelfExecuted = declarationSideEffects(decl)

	case value != nil:
		info.Declaration = spanOf(value)
		info.DeclarationKind = value.Type()
		local := ""
		if value.Type() == "identifier" {
			local = nodeText(value, src)
		}
		info.Specifiers = append(info.Specifiers, types.ExportSpecifier{
			Kind: types.ExportDefault, Local: local, Exported: "default",
		})
		stmt.Used = usedIdentifiers(value, src, nil)
		stmt.SelfExecuted = hasSideEffects(value)

	default:
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "namespace_export":
				for j := 0; j < int(child.NamedChildCount()); j++ {
					name := child.NamedChild(j)
					if name.Type() == "identifier" || name.Type() == "string" {
						info.Specifiers = append(info.Specifiers, types.ExportSpecifier{
							Kind: types.ExportNamespace, Exported: cleanModulePath(nodeText(name, src)),
						})
					}
				}
			case "export_clause":
				for j := 0; j < int(child.NamedChildCount()); j++ {
					spec := child.NamedChild(j)
					if spec.Type() != "export_specifier" {
						continue
					}
					local := cleanModulePath(nodeText(spec.ChildByFieldName("name"), src))
					exported := local
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						exported = cleanModulePath(nodeText(alias, src))
					}
					info.Specifiers = append(info.Specifiers, types.ExportSpecifier{
						Kind: types.ExportNamed, Local: local, Exported: exported,
					})
				}
			}
		}
		if isExportAllStatement(node) {
			info.Specifiers = append(info.Specifiers, types.ExportSpecifier{Kind: types.ExportAll})
		}
		if info.Source == "" {
			for _, spec := range info.Specifiers {
				stmt.Used = append(stmt.Used, spec.Local)
			}
		}
	}

	stmt.Export = info
}

func analyzePlainStatement(node *sitter.Node, src []byte, stmt *types.Statement) {
	stmt.Kind = types.StmtPlain
	names := declarationNames(node, src)
	stmt.Defined = names
	stmt.Used = usedIdentifiers(node, src, toSet(names))

	switch node.Type() {
	case "function_declaration", "generator_function_declaration",
		"class_declaration", "lexical_declaration", "variable_declaration":
		stmt.SelfExecuted = declarationSideEffects(node)
	case "expression_statement":
		stmt.SelfExecuted = hasSideEffects(node)
	default:
		stmt.SelfExecuted = true
	}
}

func declarationSideEffects(decl *sitter.Node) bool {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration":
		return false
	case "class_declaration":
		return classHasSideEffects(decl)
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			declarator := decl.NamedChild(i)
			if declarator.Type() == "variable_declarator" && hasSideEffects(declarator.ChildByFieldName("value")) {
				return true
			}
		}
		return false
	}
	return true
}

// collectDependencies walks the whole tree for import, export-from, require,
// dynamic import and worker references, in source order.
func collectDependencies(root *sitter.Node, src []byte) []types.Dependency {
	var deps []types.Dependency

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}

		switch node.Type() {
		case "import_statement":
			if source := node.ChildByFieldName("source"); source != nil {
				deps = append(deps, types.Dependency{
					Source:      cleanModulePath(nodeText(source, src)),
					ResolveType: types.ResolveImport,
					Span:        spanOf(source),
					Expression:  spanOf(node),
				})
			}
			return
		case "export_statement":
			if source := node.ChildByFieldName("source"); source != nil {
				rt := types.ResolveExportNamed
				if isExportAllStatement(node) {
					rt = types.ResolveExportAll
				}
				deps = append(deps, types.Dependency{
					Source:      cleanModulePath(nodeText(source, src)),
					ResolveType: rt,
					Span:        spanOf(source),
					Expression:  spanOf(node),
				})
				return
			}
		case "call_expression":
			if dep, ok := callDependency(node, src); ok {
				deps = append(deps, dep)
			}
		case "new_expression":
			if dep, ok := workerDependency(node, src); ok {
				deps = append(deps, dep)
			}
		}

		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)

	sort.SliceStable(deps, func(i, j int) bool {
		return deps[i].Span.Start < deps[j].Span.Start
	})
	for i := range deps {
		deps[i].Order = i
	}
	return deps
}

// isExportAllStatement reports `export * from "m"` without a namespace alias.
func isExportAllStatement(node *sitter.Node) bool {
	star := false
	for i := 0; i < int(node.ChildCount()); i++ {
		switch node.Child(i).Type() {
		case "*":
			star = true
		case "namespace_export":
			return false
		}
	}
	return star
}

// callDependency recognizes require("x") and import("x").
func callDependency(node *sitter.Node, src []byte) (types.Dependency, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return types.Dependency{}, false
	}

	var rt types.ResolveType
	switch {
	case fn.Type() == "import":
		rt = types.ResolveDynamicImport
	case fn.Type() == "identifier" && nodeText(fn, src) == "require":
		rt = types.ResolveRequire
	default:
		return types.Dependency{}, false
	}

	arg := firstArgument(node)
	specifier, ok := staticString(arg, src)
	if !ok {
		return types.Dependency{}, false
	}
	return types.Dependency{Source: specifier, ResolveType: rt, Span: spanOf(arg), Expression: spanOf(node)}, true
}

// workerDependency recognizes new Worker("x") and
// new Worker(new URL("x", import.meta.url)).
func workerDependency(node *sitter.Node, src []byte) (types.Dependency, bool) {
	ctor := node.ChildByFieldName("constructor")
	if ctor == nil || ctor.Type() != "identifier" {
		return types.Dependency{}, false
	}
	if name := nodeText(ctor, src); name != "Worker" && name != "SharedWorker" {
		return types.Dependency{}, false
	}

	arg := firstArgument(node)
	outer := arg
	if arg != nil && arg.Type() == "new_expression" {
		inner := arg.ChildByFieldName("constructor")
		if inner == nil || nodeText(inner, src) != "URL" {
			return types.Dependency{}, false
		}
		arg = firstArgument(arg)
	}
	specifier, ok := staticString(arg, src)
	if !ok {
		return types.Dependency{}, false
	}
	return types.Dependency{Source: specifier, ResolveType: types.ResolveWorker, Span: spanOf(arg), Expression: spanOf(outer)}, true
}

func firstArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}

// staticString returns the value of a string literal or a template literal
// without substitutions.
func staticString(node *sitter.Node, src []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Type() {
	case "string":
		return cleanModulePath(nodeText(node, src)), true
	case "template_string":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if node.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
		return cleanModulePath(nodeText(node, src)), true
	}
	return "", false
}

// hasComputedExports finds exports[k] = v and module.exports[k] = v.
func hasComputedExports(root *sitter.Node, src []byte) bool {
	found := false
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil || found {
			return
		}
		if node.Type() == "assignment_expression" {
			left := node.ChildByFieldName("left")
			if left != nil && left.Type() == "subscript_expression" {
				obj := nodeText(left.ChildByFieldName("object"), src)
				if obj == "exports" || obj == "module.exports" {
					found = true
					return
				}
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return found
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
