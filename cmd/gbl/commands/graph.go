package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/project"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// GraphNode represents a module in the dependency tree for JSON output
type GraphNode struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Size         int      `json:"size"`
	Entry        bool     `json:"entry,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// GraphOutput is the scanned module graph of the requested entries.
type GraphOutput struct {
	Entries []string     `json:"entries"`
	Modules []*GraphNode `json:"modules"`
	Missing []string     `json:"missing,omitempty"`
}

var graphCmd = &cobra.Command{
	Use:   "graph [entry...]",
	Short: "Show the module graph of an entry",
	Long: `Scans the given entry files, or the configured entries when none are
given, and prints the dependency tree. Nothing is written.

Examples:
  gbl graph
  gbl graph src/admin.js --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := project.Open(cfg, true, newLogger(cfg))
		if err != nil {
			return err
		}

		entries := args
		if len(entries) == 0 {
			for _, name := range sortedKeys(cfg.Entry) {
				entries = append(entries, cfg.Entry[name])
			}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		g, roots, missing, err := scanEntries(ctx, p, entries)
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			return outputGraphJSON(g, roots, missing)
		}
		depth, _ := cmd.Flags().GetInt("depth")
		outputGraphText(g, roots, missing, depth)
		return nil
	},
}

// scanEntries builds the module graph reachable from entries.
func scanEntries(ctx context.Context, p *project.Project, entries []string) (*modulegraph.ModuleGraph, []types.ModuleID, []build.MissingDependency, error) {
	var tasks []build.Task
	var roots []types.ModuleID
	for _, entry := range entries {
		res, err := p.Compiler.Resolver().ResolveEntry(ctx, entry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolving entry %s: %w", entry, err)
		}
		tasks = append(tasks, build.Task{Resource: res, Entry: true})
		roots = append(roots, res.ID)
	}
	g := modulegraph.New()
	missing, err := p.Compiler.Scan(ctx, g, tasks)
	if err != nil {
		return nil, nil, nil, err
	}
	return g, roots, missing, nil
}

func outputGraphJSON(g *modulegraph.ModuleGraph, roots []types.ModuleID, missing []build.MissingDependency) error {
	out := GraphOutput{}
	for _, id := range roots {
		out.Entries = append(out.Entries, id.String())
	}
	for _, m := range g.Modules() {
		node := &GraphNode{
			ID:    m.ID.String(),
			Kind:  m.Info.Kind.String(),
			Size:  len(m.Info.Content),
			Entry: m.IsEntry,
		}
		for _, dep := range g.GetDependencyModules(m.ID) {
			node.Dependencies = append(node.Dependencies, dep.String())
		}
		out.Modules = append(out.Modules, node)
	}
	for _, m := range missing {
		out.Missing = append(out.Missing, m.String())
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputGraphText(g *modulegraph.ModuleGraph, roots []types.ModuleID, missing []build.MissingDependency, maxDepth int) {
	seen := make(map[types.ModuleID]bool)
	for _, root := range roots {
		printGraphNode(g, root, "", "", 0, maxDepth, seen, map[types.ModuleID]bool{})
		fmt.Println()
	}
	fmt.Printf("%d modules\n", g.Len())
	for _, m := range missing {
		fmt.Printf("Missing: %s\n", m)
	}
}

// printGraphNode prints id and its dependencies. A module printed before is
// shown once more without children; a module on the current path is marked
// as a cycle.
func printGraphNode(g *modulegraph.ModuleGraph, id types.ModuleID, prefix, branch string, depth, maxDepth int, seen, path map[types.ModuleID]bool) {
	m := g.GetModule(id)
	label := fmt.Sprintf("%s (%s, %s)", id, m.Info.Kind, humanize.Bytes(uint64(len(m.Info.Content))))
	switch {
	case path[id]:
		fmt.Printf("%s%s%s [cycle]\n", prefix, branch, id)
		return
	case seen[id]:
		fmt.Printf("%s%s%s [seen]\n", prefix, branch, id)
		return
	}
	fmt.Printf("%s%s%s\n", prefix, branch, label)
	seen[id] = true
	if maxDepth > 0 && depth >= maxDepth {
		return
	}

	path[id] = true
	defer delete(path, id)

	childPrefix := prefix
	switch branch {
	case "├── ":
		childPrefix += "│   "
	case "└── ":
		childPrefix += "    "
	}
	deps := g.GetDependencyModules(id)
	for i, dep := range deps {
		b := "├── "
		if i == len(deps)-1 {
			b = "└── "
		}
		printGraphNode(g, dep, childPrefix, b, depth+1, maxDepth, seen, path)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	graphCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	graphCmd.Flags().IntP("depth", "d", 0, "Maximum depth to print, 0 for unlimited")
	RootCmd.AddCommand(graphCmd)
}

