// Package resolver maps import specifiers to files the way node and browser
// bundlers do: relative and absolute paths, aliases, externals and
// node_modules lookup through package.json "exports" and main fields.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/cache"
	"github.com/l3aro/go-bundle/pkg/types"
)

// ErrNotFound is matched by every resolution failure.
var ErrNotFound = errors.New("module not found")

// NotFoundError reports a specifier that could not be mapped to a resource.
type NotFoundError struct {
	Specifier string
	Importer  types.ModuleID
}

func (e *NotFoundError) Error() string {
	if e.Importer.IsZero() {
		return fmt.Sprintf("module not found: %q", e.Specifier)
	}
	return fmt.Sprintf("module not found: %q from %s", e.Specifier, e.Importer)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Resource is a resolved module.
type Resource struct {
	ID types.ModuleID
	// Path is the absolute file path. Empty for externals.
	Path string
	// External is the global expression an external module evaluates to.
	External string
	// SideEffects is the value declared by the nearest package.json, nil if none.
	SideEffects *bool
}

// IsExternal reports whether the resource is provided by the environment.
func (r *Resource) IsExternal() bool {
	return r.External != ""
}

// Options configures resolution.
type Options struct {
	Root       string
	Extensions []string
	MainFields []string
	Conditions []string
	Alias      map[string]string
	Externals  map[string]string
}

// DefaultOptions returns browser oriented defaults.
func DefaultOptions(root string) Options {
	return Options{
		Root:       root,
		Extensions: []string{".js", ".mjs", ".cjs", ".json", ".css"},
		MainFields: []string{"browser", "module", "main"},
		Conditions: []string{"browser", "import", "module"},
	}
}

// Resolver resolves specifiers. Results are memoized in the injected memo,
// which is scoped to one build generation; Reset starts a new one.
type Resolver struct {
	opts     Options
	memo     *cache.Memo[*Resource]
	packages *cache.Memo[*Package]
	logger   log.Logger
}

// New creates a resolver. memo may be shared by concurrent builds of the
// same generation; when nil a private one is created.
func New(opts Options, memo *cache.Memo[*Resource], logger log.Logger) *Resolver {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultOptions(opts.Root).Extensions
	}
	if len(opts.MainFields) == 0 {
		opts.MainFields = DefaultOptions(opts.Root).MainFields
	}
	if len(opts.Conditions) == 0 {
		opts.Conditions = DefaultOptions(opts.Root).Conditions
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	if memo == nil {
		memo = cache.NewMemo[*Resource](16, 4096)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		opts:     opts,
		memo:     memo,
		packages: cache.NewMemo[*Package](4, 1024),
		logger:   logger,
	}
}

// Root returns the absolute project root.
func (r *Resolver) Root() string {
	return r.opts.Root
}

// Reset forgets every memoized result.
func (r *Resolver) Reset() {
	r.memo.Reset()
	r.packages.Reset()
}

// ModuleID returns the id of an absolute file path.
func (r *Resolver) ModuleID(absPath, query string) types.ModuleID {
	if rel, err := filepath.Rel(r.opts.Root, absPath); err == nil && !strings.HasPrefix(rel, "..") {
		return types.NewModuleID(filepath.ToSlash(rel), query)
	}
	return types.NewModuleID(filepath.ToSlash(absPath), query)
}

// FilePath returns the absolute file path of a module id.
func (r *Resolver) FilePath(id types.ModuleID) string {
	p := filepath.FromSlash(id.Path)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.opts.Root, p)
}

// ResolveEntry resolves an entry path relative to the project root.
func (r *Resolver) ResolveEntry(ctx context.Context, entry string) (*Resource, error) {
	if !filepath.IsAbs(entry) && !strings.HasPrefix(entry, ".") {
		entry = "./" + filepath.ToSlash(entry)
	}
	return r.resolve(ctx, r.opts.Root, types.ModuleID{}, entry, types.ResolveImport)
}

// Resolve resolves specifier as referenced from module from.
func (r *Resolver) Resolve(ctx context.Context, from types.ModuleID, specifier string, rt types.ResolveType) (*Resource, error) {
	dir := filepath.Dir(r.FilePath(from))
	return r.resolve(ctx, dir, from, specifier, rt)
}

func (r *Resolver) resolve(ctx context.Context, dir string, from types.ModuleID, specifier string, rt types.ResolveType) (*Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := dir + "\x00" + specifier
	if rt == types.ResolveCSS {
		key += "\x00css"
	}
	res, err := r.memo.Do(key, func() (*Resource, error) {
		return r.lookup(ctx, dir, specifier, rt)
	})
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, &NotFoundError{Specifier: specifier, Importer: from}
		}
		return nil, err
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, dir, specifier string, rt types.ResolveType) (*Resource, error) {
	spec, query := specifier, ""
	if i := strings.IndexByte(spec, '?'); i >= 0 {
		spec, query = spec[:i], spec[i+1:]
	}

	if global, ok := r.opts.Externals[spec]; ok {
		return &Resource{
			ID:       types.NewModuleID("external:"+spec, ""),
			External: global,
		}, nil
	}

	spec = r.applyAlias(spec)

	if rt == types.ResolveCSS {
		switch {
		case strings.HasPrefix(spec, "~"):
			spec = spec[1:]
		case !isRelative(spec) && !filepath.IsAbs(spec):
			spec = "./" + spec
		}
	}

	var file string
	switch {
	case filepath.IsAbs(spec):
		file = r.resolvePath(spec)
	case isRelative(spec):
		file = r.resolvePath(filepath.Join(dir, filepath.FromSlash(spec)))
	default:
		var err error
		file, err = r.resolveBare(ctx, dir, spec)
		if err != nil {
			return nil, err
		}
	}

	if file == "" {
		r.logger.Debug("resolve failed", "specifier", specifier, "dir", dir)
		return nil, &NotFoundError{Specifier: specifier}
	}

	res := &Resource{ID: r.ModuleID(file, query), Path: file}
	if pkg := r.nearestPackage(filepath.Dir(file)); pkg != nil {
		if rel, err := filepath.Rel(pkg.Dir, file); err == nil {
			res.SideEffects = pkg.SideEffects.Eval(filepath.ToSlash(rel))
		}
	}
	return res, nil
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

// applyAlias replaces the longest alias that equals spec or prefixes it
// followed by "/". Alias targets starting with "." are relative to the
// project root.
func (r *Resolver) applyAlias(spec string) string {
	best := ""
	for from := range r.opts.Alias {
		if (spec == from || strings.HasPrefix(spec, from+"/")) && len(from) > len(best) {
			best = from
		}
	}
	if best == "" {
		return spec
	}
	to := r.opts.Alias[best]
	target := to + strings.TrimPrefix(spec, best)
	if isRelative(to) {
		return filepath.Join(r.opts.Root, filepath.FromSlash(target))
	}
	return target
}

// resolvePath tries p as a file, with each extension, then as a directory.
func (r *Resolver) resolvePath(p string) string {
	if file := r.resolveFile(p); file != "" {
		return file
	}
	return r.resolveDir(p)
}

func (r *Resolver) resolveFile(p string) string {
	if isFile(p) {
		return p
	}
	for _, ext := range r.opts.Extensions {
		if isFile(p + ext) {
			return p + ext
		}
	}
	return ""
}

func (r *Resolver) resolveDir(dir string) string {
	if !isDir(dir) {
		return ""
	}
	if pkg := r.loadPackage(dir); pkg != nil {
		if entry := r.packageEntry(pkg); entry != "" {
			return entry
		}
	}
	return r.resolveFile(filepath.Join(dir, "index"))
}

// packageEntry resolves the root entry of a package.
func (r *Resolver) packageEntry(pkg *Package) string {
	if target, ok := pkg.ResolveExport(".", r.opts.Conditions); ok {
		if file := r.resolveFile(filepath.Join(pkg.Dir, filepath.FromSlash(target))); file != "" {
			return file
		}
	}
	for _, field := range r.opts.MainFields {
		entry := pkg.Field(field)
		if entry == "" {
			continue
		}
		if file := r.resolvePathNoPackage(filepath.Join(pkg.Dir, filepath.FromSlash(entry))); file != "" {
			return file
		}
	}
	return ""
}

// resolvePathNoPackage is resolvePath without re-reading the directory's
// package.json, which would loop on "main": ".".
func (r *Resolver) resolvePathNoPackage(p string) string {
	if file := r.resolveFile(p); file != "" {
		return file
	}
	if isDir(p) {
		return r.resolveFile(filepath.Join(p, "index"))
	}
	return ""
}

// resolveBare looks up node_modules from dir upwards.
func (r *Resolver) resolveBare(ctx context.Context, dir, spec string) (string, error) {
	name, subpath := splitPackageName(spec)
	for current := dir; ; current = filepath.Dir(current) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if filepath.Base(current) != "node_modules" {
			pkgDir := filepath.Join(current, "node_modules", filepath.FromSlash(name))
			if isDir(pkgDir) {
				if file := r.resolveInPackage(pkgDir, subpath); file != "" {
					return file, nil
				}
			}
		}
		if parent := filepath.Dir(current); parent == current {
			return "", nil
		}
	}
}

func (r *Resolver) resolveInPackage(pkgDir, subpath string) string {
	pkg := r.loadPackage(pkgDir)
	if subpath == "" {
		if pkg != nil {
			if entry := r.packageEntry(pkg); entry != "" {
				return entry
			}
		}
		return r.resolveFile(filepath.Join(pkgDir, "index"))
	}

	if pkg != nil {
		if target, ok := pkg.ResolveExport("./"+subpath, r.opts.Conditions); ok {
			return r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(target)))
		}
	}
	return r.resolvePath(filepath.Join(pkgDir, filepath.FromSlash(subpath)))
}

// splitPackageName splits "@scope/pkg/sub/path" into "@scope/pkg" and "sub/path".
func splitPackageName(spec string) (string, string) {
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, parts[2]
		}
		return name, ""
	}
	name, sub, _ := strings.Cut(spec, "/")
	return name, sub
}

func (r *Resolver) loadPackage(dir string) *Package {
	pkg, err := r.packages.Do(dir, func() (*Package, error) {
		pkg, err := readPackage(dir)
		if err != nil && !os.IsNotExist(err) {
			r.logger.Warn("ignoring package.json", "dir", dir, "error", err)
		}
		return pkg, err
	})
	if err != nil {
		return nil
	}
	return pkg
}

// nearestPackage returns the closest package.json at or above dir.
func (r *Resolver) nearestPackage(dir string) *Package {
	for current := dir; ; current = filepath.Dir(current) {
		if pkg := r.loadPackage(current); pkg != nil {
			return pkg
		}
		if parent := filepath.Dir(current); parent == current {
			return nil
		}
	}
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
