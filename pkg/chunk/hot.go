package chunk

import (
	"context"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// Regroup returns the chunk graph of mg after an update. A single modified
// module whose dependencies did not change cannot move between chunks, so
// prev is kept and only the module back-references are refreshed. Any other
// update partitions again. The second result reports which happened.
func Regroup(ctx context.Context, mg *modulegraph.ModuleGraph, prev *Graph, modified []types.ModuleID, depsChanged bool, opts Options, logger log.Logger) (*Graph, bool, error) {
	if prev != nil && len(modified) == 1 && !depsChanged {
		if _, ok := prev.ChunkForModule(modified[0]); ok {
			AssignModules(mg, prev)
			return prev, false, nil
		}
	}
	g, err := Partition(ctx, mg, opts, logger)
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// Affected returns the chunks of next that must be emitted again: chunks
// holding a changed module, chunks prev did not have and chunks whose member
// set changed. The runtime chunk is never affected by module changes.
func Affected(prev, next *Graph, changed []types.ModuleID) []types.ModuleID {
	set := make(map[types.ModuleID]bool, len(changed))
	for _, id := range changed {
		set[id] = true
	}

	var out []types.ModuleID
	for _, c := range next.AllChunks() {
		if c.Type == TypeRuntime {
			continue
		}
		if affected(prev, c, set) {
			out = append(out, c.ID)
		}
	}
	return out
}

func affected(prev *Graph, c *Chunk, changed map[types.ModuleID]bool) bool {
	for _, id := range c.modules {
		if changed[id] {
			return true
		}
	}
	if prev == nil {
		return true
	}
	old, ok := prev.Chunk(c.ID)
	if !ok || old.Len() != c.Len() {
		return true
	}
	for _, id := range c.modules {
		if !old.HasModule(id) {
			return true
		}
	}
	return false
}
