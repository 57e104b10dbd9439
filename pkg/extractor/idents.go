package extractor

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// isFunctionLike reports whether node introduces a function scope.
func isFunctionLike(node *sitter.Node) bool {
	switch node.Type() {
	case "function_declaration", "generator_function_declaration",
		"function", "function_expression", "generator_function",
		"arrow_function", "method_definition":
		return true
	}
	return false
}

// isIdentifierRef reports whether node is an identifier occurrence that can
// refer to a binding. Property names and labels have their own node types.
func isIdentifierRef(node *sitter.Node) bool {
	switch node.Type() {
	case "identifier", "shorthand_property_identifier", "shorthand_property_identifier_pattern":
		return true
	}
	return false
}

// patternNames returns the binding names introduced by a binding pattern.
func patternNames(node *sitter.Node, src []byte) []string {
	var names []string
	collectPatternNames(node, src, &names)
	return names
}

func collectPatternNames(node *sitter.Node, src []byte, names *[]string) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		*names = append(*names, nodeText(node, src))
	case "pair_pattern":
		collectPatternNames(node.ChildByFieldName("value"), src, names)
	case "assignment_pattern", "object_assignment_pattern":
		collectPatternNames(node.ChildByFieldName("left"), src, names)
	case "object_pattern", "array_pattern", "rest_pattern", "formal_parameters":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			collectPatternNames(node.NamedChild(i), src, names)
		}
	}
}

// paramNames returns the parameter names of a function-like node.
func paramNames(fn *sitter.Node, src []byte) []string {
	if p := fn.ChildByFieldName("parameter"); p != nil {
		return patternNames(p, src)
	}
	if p := fn.ChildByFieldName("parameters"); p != nil {
		return patternNames(p, src)
	}
	return nil
}

// declarationNames returns the top-level names a declaration binds.
func declarationNames(node *sitter.Node, src []byte) []string {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			return []string{nodeText(name, src)}
		}
	case "lexical_declaration", "variable_declaration":
		var names []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			decl := node.NamedChild(i)
			if decl.Type() == "variable_declarator" {
				names = append(names, patternNames(decl.ChildByFieldName("name"), src)...)
			}
		}
		return names
	}
	return nil
}

// usedIdentifiers returns the distinct identifiers referenced inside node,
// excluding the names in skip. Inner scopes are not tracked, which over
// approximates uses and keeps the statement graph conservative.
func usedIdentifiers(node *sitter.Node, src []byte, skip map[string]bool) []string {
	seen := make(map[string]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if isIdentifierRef(n) {
			name := nodeText(n, src)
			if !skip[name] {
				seen[name] = true
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hasSideEffects reports whether evaluating node may have observable effects.
// Function bodies are not evaluated at definition time and are skipped.
func hasSideEffects(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "call_expression", "new_expression", "assignment_expression",
		"augmented_assignment_expression", "update_expression",
		"await_expression", "yield_expression", "throw_statement",
		"tagged_template_expression":
		return true
	case "unary_expression":
		if op := node.ChildByFieldName("operator"); op != nil && op.Type() == "delete" {
			return true
		}
	case "class", "class_declaration":
		return classHasSideEffects(node)
	}
	if isFunctionLike(node) {
		return false
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if hasSideEffects(node.NamedChild(i)) {
			return true
		}
	}
	return false
}

// classHasSideEffects inspects the heritage clause and static members, the
// only parts of a class evaluated when the class is defined.
func classHasSideEffects(node *sitter.Node) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_heritage":
			if hasSideEffects(child) {
				return true
			}
		case "class_body":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				member := child.NamedChild(j)
				switch member.Type() {
				case "class_static_block":
					return true
				case "field_definition":
					if isStaticMember(member) && hasSideEffects(member.ChildByFieldName("value")) {
						return true
					}
				}
			}
		}
	}
	return false
}

func isStaticMember(member *sitter.Node) bool {
	for i := 0; i < int(member.ChildCount()); i++ {
		if member.Child(i).Type() == "static" {
			return true
		}
	}
	return false
}
