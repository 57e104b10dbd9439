package extractor

import (
	"sort"
	"strings"

	"github.com/l3aro/go-bundle/pkg/types"
	sitter "github.com/smacker/go-tree-sitter"
)

// AnalyzeCSS collects @import and url() references from a stylesheet.
// External and inline urls are left to the browser.
func AnalyzeCSS(f *File) *Analysis {
	analysis := &Analysis{System: types.Custom}
	root := f.Root()
	if root == nil {
		return analysis
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			for i := 0; i < int(node.NamedChildCount()); i++ {
				child := node.NamedChild(i)
				switch child.Type() {
				case "string_value":
					addCSSDependency(analysis, cleanModulePath(nodeText(child, f.Src)), child, node)
				case "call_expression":
					if target, arg := cssURL(child, f.Src); arg != nil {
						addCSSDependency(analysis, target, arg, node)
					}
				}
			}
			return
		case "call_expression":
			if target, arg := cssURL(node, f.Src); arg != nil {
				addCSSDependency(analysis, target, arg, node)
			}
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)

	sort.SliceStable(analysis.Dependencies, func(i, j int) bool {
		return analysis.Dependencies[i].Span.Start < analysis.Dependencies[j].Span.Start
	})
	for i := range analysis.Dependencies {
		analysis.Dependencies[i].Order = i
	}
	return analysis
}

// cssURL returns the target of url(...) and the node holding it.
func cssURL(call *sitter.Node, src []byte) (string, *sitter.Node) {
	var name, args *sitter.Node
	for i := 0; i < int(call.NamedChildCount()); i++ {
		child := call.NamedChild(i)
		switch child.Type() {
		case "function_name":
			name = child
		case "arguments":
			args = child
		}
	}
	if name == nil || args == nil || nodeText(name, src) != "url" || args.NamedChildCount() == 0 {
		return "", nil
	}
	arg := args.NamedChild(0)
	return cleanModulePath(strings.TrimSpace(nodeText(arg, src))), arg
}

func addCSSDependency(analysis *Analysis, target string, node, expr *sitter.Node) {
	if !isLocalURL(target) {
		return
	}
	analysis.Dependencies = append(analysis.Dependencies, types.Dependency{
		Source:      target,
		ResolveType: types.ResolveCSS,
		Span:        spanOf(node),
		Expression:  spanOf(expr),
	})
}

func isLocalURL(target string) bool {
	if target == "" || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "//") {
		return false
	}
	lower := strings.ToLower(target)
	for _, scheme := range []string{"data:", "http:", "https:", "about:", "blob:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}
