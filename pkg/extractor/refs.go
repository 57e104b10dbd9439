package extractor

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Reference is one occurrence of a top-level binding, declaration sites included.
type Reference struct {
	Name  string
	Start uint32
	End   uint32
	// Shorthand marks `{ name }` properties and patterns. Renaming one must
	// expand it to `name: replacement`.
	Shorthand bool
}

// Replace returns the edit that rewrites this occurrence to text.
func (r Reference) Replace(text string) Edit {
	if r.Shorthand {
		return Edit{Start: r.Start, End: r.End, Text: r.Name + ": " + text}
	}
	return Edit{Start: r.Start, End: r.End, Text: text}
}

type scopeChain []map[string]bool

func (s scopeChain) shadows(name string) bool {
	for _, scope := range s {
		if scope[name] {
			return true
		}
	}
	return false
}

func (s scopeChain) push(scope map[string]bool) scopeChain {
	next := make(scopeChain, len(s), len(s)+1)
	copy(next, s)
	return append(next, scope)
}

// TopLevelReferences returns every occurrence of the given top-level names
// that is not shadowed by an inner binding. Import declarations and
// re-exports are skipped, as are property names.
func TopLevelReferences(f *File, names map[string]bool) []Reference {
	root := f.Root()
	if root == nil || len(names) == 0 {
		return nil
	}

	src := f.Src
	var refs []Reference
	var visit func(node *sitter.Node, scopes scopeChain)
	visitChildren := func(node *sitter.Node, scopes scopeChain) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			visit(node.NamedChild(i), scopes)
		}
	}

	visitFunction := func(fn *sitter.Node, scopes scopeChain) {
		scope := make(map[string]bool)
		name := fn.ChildByFieldName("name")
		switch fn.Type() {
		case "function", "function_expression", "generator_function":
			if name != nil {
				scope[nodeText(name, src)] = true
			}
		default:
			visit(name, scopes)
		}
		for _, p := range paramNames(fn, src) {
			scope[p] = true
		}

		body := fn.ChildByFieldName("body")
		if body != nil && body.Type() == "statement_block" {
			collectVarNames(body, src, scope)
			for _, n := range lexicalNames(body, src) {
				scope[n] = true
			}
		}

		inner := scopes.push(scope)
		if p := fn.ChildByFieldName("parameters"); p != nil {
			visit(p, inner)
		}
		if p := fn.ChildByFieldName("parameter"); p != nil {
			visit(p, inner)
		}
		if body == nil {
			return
		}
		if body.Type() == "statement_block" {
			visitChildren(body, inner)
			return
		}
		visit(body, inner)
	}

	visit = func(node *sitter.Node, scopes scopeChain) {
		if node == nil {
			return
		}

		switch node.Type() {
		case "import_statement":
			return
		case "export_statement":
			if node.ChildByFieldName("source") != nil {
				return
			}
		case "export_specifier":
			visit(node.ChildByFieldName("name"), scopes)
			return
		case "identifier", "shorthand_property_identifier", "shorthand_property_identifier_pattern":
			name := nodeText(node, src)
			if names[name] && !scopes.shadows(name) {
				refs = append(refs, Reference{
					Name:      name,
					Start:     node.StartByte(),
					End:       node.EndByte(),
					Shorthand: node.Type() != "identifier",
				})
			}
			return
		case "class":
			if name := node.ChildByFieldName("name"); name != nil {
				inner := scopes.push(map[string]bool{nodeText(name, src): true})
				visitChildren(node, inner)
				return
			}
		case "statement_block", "class_static_block":
			visitChildren(node, scopes.push(toSet(lexicalNames(node, src))))
			return
		case "switch_body":
			scope := make(map[string]bool)
			for i := 0; i < int(node.NamedChildCount()); i++ {
				for _, n := range lexicalNames(node.NamedChild(i), src) {
					scope[n] = true
				}
			}
			visitChildren(node, scopes.push(scope))
			return
		case "for_statement":
			scope := make(map[string]bool)
			if init := node.ChildByFieldName("initializer"); init != nil && init.Type() == "lexical_declaration" {
				for _, n := range declarationNames(init, src) {
					scope[n] = true
				}
			}
			visitChildren(node, scopes.push(scope))
			return
		case "for_in_statement":
			scope := make(map[string]bool)
			if kind := node.ChildByFieldName("kind"); kind != nil && nodeText(kind, src) != "var" {
				for _, n := range patternNames(node.ChildByFieldName("left"), src) {
					scope[n] = true
				}
			}
			visitChildren(node, scopes.push(scope))
			return
		case "catch_clause":
			scope := make(map[string]bool)
			for _, n := range patternNames(node.ChildByFieldName("parameter"), src) {
				scope[n] = true
			}
			visitChildren(node, scopes.push(scope))
			return
		}

		if isFunctionLike(node) {
			visitFunction(node, scopes)
			return
		}
		visitChildren(node, scopes)
	}

	visitChildren(root, nil)
	return refs
}

// lexicalNames returns the block scoped names declared directly in node.
func lexicalNames(node *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "lexical_declaration", "class_declaration",
			"function_declaration", "generator_function_declaration":
			names = append(names, declarationNames(child, src)...)
		}
	}
	return names
}

// collectVarNames adds the var declarations hoisted to the enclosing function.
func collectVarNames(node *sitter.Node, src []byte, scope map[string]bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if isFunctionLike(child) || child.Type() == "class" || child.Type() == "class_declaration" {
			continue
		}
		if child.Type() == "variable_declaration" {
			for _, n := range declarationNames(child, src) {
				scope[n] = true
			}
		}
		collectVarNames(child, src, scope)
	}
}

// TopLevelNames returns every name declared at the top level of the file,
// imports included.
func TopLevelNames(analysis *Analysis) map[string]bool {
	names := make(map[string]bool)
	for _, stmt := range analysis.Statements {
		for _, n := range stmt.Defined {
			names[n] = true
		}
	}
	return names
}

// Identifiers returns the text of every identifier in the file, property
// names included. Import statements and re-exports from another module are
// skipped, as is the alias in `export { local as alias }`.
func Identifiers(f *File) map[string]bool {
	out := make(map[string]bool)
	root := f.Root()
	if root == nil {
		return out
	}
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "identifier", "property_identifier", "shorthand_property_identifier",
			"shorthand_property_identifier_pattern", "private_property_identifier":
			out[nodeText(node, f.Src)] = true
			return
		case "import_statement":
			return
		case "export_statement":
			if node.ChildByFieldName("source") != nil {
				return
			}
		case "export_specifier":
			if name := node.ChildByFieldName("name"); name != nil {
				walk(name)
			}
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
	return out
}
