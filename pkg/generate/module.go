package generate

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/l3aro/go-bundle/pkg/extractor"
	"github.com/l3aro/go-bundle/pkg/modulegraph"
	"github.com/l3aro/go-bundle/pkg/types"
)

// moduleContext is what a module body needs to know about the rest of the
// build.
type moduleContext struct {
	mg *modulegraph.ModuleGraph
	// chunkOf maps async seeds to the id of the chunk holding them.
	chunkOf func(types.ModuleID) (string, bool)
	// fileOf maps worker seeds to their output file.
	fileOf func(types.ModuleID) (string, bool)
}

// render returns the module function of m and the assets it emits.
func (g *Generator) render(ctx context.Context, mc *moduleContext, m *modulegraph.Module) (string, []*Asset, error) {
	info := m.Info
	switch info.Kind {
	case modulegraph.KindScript:
		body, err := g.renderScript(ctx, mc, m)
		if err != nil {
			return "", nil, err
		}
		param := "__require__"
		if !info.IsESM() {
			param = "require"
		}
		return wrap(param, body), nil, nil

	case modulegraph.KindStyle:
		body, assets, err := g.renderStyle(ctx, mc, m)
		if err != nil {
			return "", nil, err
		}
		return wrap("__require__", body), assets, nil

	case modulegraph.KindJSON:
		return wrap("__require__", "module.exports = "+strings.TrimSpace(string(info.Content))+";"), nil, nil

	case modulegraph.KindRaw:
		return wrap("__require__", "module.exports = "+quote(string(info.Content))+";"), nil, nil

	case modulegraph.KindAsset:
		asset := g.asset(m)
		return wrap("__require__", "module.exports = __require__.p + "+quote(asset.Filename)+";"), []*Asset{asset}, nil

	case modulegraph.KindExternal:
		return wrap("__require__", "module.exports = "+info.External+";"), nil, nil
	}
	return "", nil, fmt.Errorf("module %s has unknown kind %s", m.ID, info.Kind)
}

func wrap(param, body string) string {
	body = strings.TrimRight(body, "\n")
	return "function (module, exports, " + param + ") {\n" + body + "\n}"
}

// asset returns the output of a file emitted as-is.
func (g *Generator) asset(m *modulegraph.Module) *Asset {
	return &Asset{
		Filename: assetFilename(m),
		Content:  m.Info.Content,
		Module:   m.ID,
	}
}

// assetFilename is assets/<name>.<hash8><ext>.
func assetFilename(m *modulegraph.Module) string {
	base := path.Base(m.ID.Path)
	ext := path.Ext(base)
	hash := m.RawHash()
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return "assets/" + strings.TrimSuffix(base, ext) + "." + hash + ext
}

// renderStyle turns @import rules into requires and url() references to
// emitted assets into their public URLs, then injects the sheet.
func (g *Generator) renderStyle(ctx context.Context, mc *moduleContext, m *modulegraph.Module) (string, []*Asset, error) {
	info := m.Info
	targets := dependencyTargets(mc.mg, m.ID)

	var requires []string
	var assets []*Asset
	var edits []extractor.Edit
	for _, dep := range info.Dependencies {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		target, ok := targets[dep.Order]
		expr := info.Content[dep.Expression.Start:dep.Expression.End]
		if bytes.HasPrefix(expr, []byte("@import")) {
			id := dep.Source
			if ok {
				id = target.String()
			}
			requires = append(requires, "__require__("+quote(id)+");")
			edits = append(edits, extractor.Edit{Start: dep.Expression.Start, End: dep.Expression.End})
			continue
		}
		if !ok {
			continue
		}
		tm, found := mc.mg.Lookup(target)
		if !found || tm.Info.Kind != modulegraph.KindAsset {
			continue
		}
		asset := g.asset(tm)
		assets = append(assets, asset)
		edits = append(edits, extractor.Edit{
			Start: dep.Expression.Start,
			End:   dep.Expression.End,
			Text:  "url(" + quote(g.opts.PublicPath+asset.Filename) + ")",
		})
	}

	css, err := extractor.Apply(info.Content, edits)
	if err != nil {
		return "", nil, fmt.Errorf("rewriting %s: %w", m.ID, err)
	}

	var b strings.Builder
	for _, line := range requires {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("__require__.css(" + quote(m.ID.String()) + ", " + quote(strings.TrimSpace(css)) + ");")
	return b.String(), assets, nil
}

// dependencyTargets maps the declaration order of each resolved dependency
// of id to its target.
func dependencyTargets(mg *modulegraph.ModuleGraph, id types.ModuleID) map[int]types.ModuleID {
	targets := make(map[int]types.ModuleID)
	for _, edge := range mg.GetDependencies(id) {
		targets[edge.Dependency.Order] = edge.Target
	}
	return targets
}
