package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Package is the subset of package.json the resolver understands.
type Package struct {
	Dir         string
	Name        string
	Main        string
	Module      string
	Browser     string
	Exports     json.RawMessage
	SideEffects SideEffects
}

type packageJSON struct {
	Name        string          `json:"name"`
	Main        string          `json:"main"`
	Module      string          `json:"module"`
	Browser     json.RawMessage `json:"browser"`
	Exports     json.RawMessage `json:"exports"`
	SideEffects SideEffects     `json:"sideEffects"`
}

// SideEffects is the package.json "sideEffects" field: a boolean, a glob or a
// list of globs naming the files that do have side effects.
type SideEffects struct {
	Declared bool
	Value    bool
	Patterns []string
}

// UnmarshalJSON accepts a bool, a string or a string array.
func (s *SideEffects) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = SideEffects{}
		return nil
	}

	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*s = SideEffects{Declared: true, Value: flag}
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = SideEffects{Declared: true, Patterns: []string{one}}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("sideEffects must be a boolean, string or array: %w", err)
	}
	*s = SideEffects{Declared: true, Patterns: many}
	return nil
}

// Eval reports the declared side effects of the file at rel, a slash path
// relative to the package directory. It returns nil when nothing is declared.
// Patterns without a slash match at any depth.
func (s SideEffects) Eval(rel string) *bool {
	if !s.Declared {
		return nil
	}
	if s.Patterns == nil {
		v := s.Value
		return &v
	}

	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")
	matched := false
	for _, pattern := range s.Patterns {
		pattern = strings.TrimPrefix(pattern, "./")
		if !strings.Contains(pattern, "/") {
			pattern = "**/" + pattern
		}
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			matched = true
			break
		}
	}
	return &matched
}

func readPackage(dir string) (*Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}
	var raw packageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid package.json in %s: %w", dir, err)
	}

	pkg := &Package{
		Dir:         dir,
		Name:        raw.Name,
		Main:        raw.Main,
		Module:      raw.Module,
		Exports:     raw.Exports,
		SideEffects: raw.SideEffects,
	}
	// Only the string form of "browser" names an entry point.
	var browser string
	if len(raw.Browser) > 0 && json.Unmarshal(raw.Browser, &browser) == nil {
		pkg.Browser = browser
	}
	return pkg, nil
}

// Field returns the entry named by a main field.
func (p *Package) Field(name string) string {
	switch name {
	case "browser":
		return p.Browser
	case "module":
		return p.Module
	case "main":
		return p.Main
	}
	return ""
}

// ResolveExport maps a subpath ("." or "./feature") through the "exports"
// field. ok is false when the package has no exports map or the subpath is
// not exported.
func (p *Package) ResolveExport(subpath string, conditions []string) (string, bool) {
	if len(p.Exports) == 0 {
		return "", false
	}

	var value interface{}
	if err := json.Unmarshal(p.Exports, &value); err != nil {
		return "", false
	}

	obj, isObject := value.(map[string]interface{})
	if !isObject || !hasSubpathKeys(obj) {
		if subpath != "." {
			return "", false
		}
		return exportTarget(value, conditions, "")
	}

	if target, ok := obj[subpath]; ok {
		return exportTarget(target, conditions, "")
	}

	// Longest matching "./prefix/*" pattern wins.
	keys := make([]string, 0, len(obj))
	for key := range obj {
		if strings.Count(key, "*") == 1 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		star := strings.IndexByte(key, '*')
		prefix, suffix := key[:star], key[star+1:]
		if strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) && len(subpath) >= len(prefix)+len(suffix) {
			match := subpath[len(prefix) : len(subpath)-len(suffix)]
			return exportTarget(obj[key], conditions, match)
		}
	}
	return "", false
}

func hasSubpathKeys(obj map[string]interface{}) bool {
	for key := range obj {
		if strings.HasPrefix(key, ".") {
			return true
		}
	}
	return false
}

// exportTarget picks the first target allowed by conditions, substituting
// the pattern match for "*".
func exportTarget(value interface{}, conditions []string, match string) (string, bool) {
	switch v := value.(type) {
	case string:
		return strings.ReplaceAll(v, "*", match), true
	case []interface{}:
		for _, item := range v {
			if target, ok := exportTarget(item, conditions, match); ok {
				return target, true
			}
		}
	case map[string]interface{}:
		for _, cond := range conditions {
			if item, ok := v[cond]; ok {
				if target, ok := exportTarget(item, conditions, match); ok {
					return target, true
				}
			}
		}
		if item, ok := v["default"]; ok {
			return exportTarget(item, conditions, match)
		}
	}
	return "", false
}
