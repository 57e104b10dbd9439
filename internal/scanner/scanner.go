// Package scanner walks a project tree for the watcher. It respects
// .gblignore files with gitignore-style patterns plus configured globs, and
// records what the watcher compares between polls: size and modification time.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo represents information about a discovered file.
type FileInfo struct {
	Path     string // Relative path from root, slash separated
	FullPath string // Absolute path
	Language string // Detected language from extension
	Size     int64  // File size in bytes
	ModTime  time.Time
}

// Options configures the scanner behavior.
type Options struct {
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	FollowSymlinks  bool     // Follow file symlinks that stay within root
	DefaultExcludes []string // Directory names never descended into
	IgnoreFileName  string   // Name of the ignore file (default: .gblignore)
	Ignore          []string // Extra gitignore-style patterns, e.g. from config
}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SkipHidden:     true,
		FollowSymlinks: false,
		IgnoreFileName: ".gblignore",
		DefaultExcludes: []string{
			"node_modules",
			".git",
			".gbl",
			"dist",
			".idea",
			".vscode",
			".hg",
			".svn",
			"coverage",
		},
	}
}

// scopedPattern is an ignore pattern read from a nested ignore file. It only
// applies below base.
type scopedPattern struct {
	base    string // slash path of the directory holding the ignore file, "" for root
	pattern IgnorePattern
}

// Scanner walks file trees. A Scanner is safe for concurrent use; every walk
// keeps its own pattern stack.
type Scanner struct {
	opts Options
}

// New creates a new Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.IgnoreFileName == "" {
		opts.IgnoreFileName = DefaultOptions().IgnoreFileName
	}
	return &Scanner{opts: opts}
}

// Scan walks root and returns the files that survive the hidden, default
// exclude and ignore rules, in walk order. Directories matched by an
// ignore pattern are not descended into.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	patterns, err := s.loadIgnorePatterns(absRoot, "")
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	for _, p := range s.opts.Ignore {
		patterns = append(patterns, scopedPattern{pattern: ParseIgnorePattern(p)})
	}

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped; the next poll retries them.
			if d != nil && d.IsDir() && p != absRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if (s.opts.SkipHidden && isHidden(name)) || s.isDefaultExcluded(name) {
				return filepath.SkipDir
			}
			if ignored(rel, true, patterns) {
				return filepath.SkipDir
			}
			nested, err := s.loadIgnorePatterns(p, rel)
			if err == nil {
				patterns = append(patterns, nested...)
			}
			return nil
		}

		if s.opts.SkipHidden && isHidden(name) {
			return nil
		}
		if ignored(rel, false, patterns) {
			return nil
		}

		info, ok := s.fileInfo(absRoot, p, d)
		if !ok {
			return nil
		}
		files = append(files, FileInfo{
			Path:     rel,
			FullPath: p,
			Language: DetectLanguage(filepath.Ext(name)),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

// fileInfo stats a regular file, or a symlink to a regular file inside root
// when symlinks are followed.
func (s *Scanner) fileInfo(absRoot, p string, d fs.DirEntry) (fs.FileInfo, bool) {
	if d.Type()&fs.ModeSymlink == 0 {
		info, err := d.Info()
		return info, err == nil
	}
	if !s.opts.FollowSymlinks {
		return nil, false
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return nil, false
	}
	real, err = filepath.Abs(real)
	if err != nil || !strings.HasPrefix(real, absRoot+string(filepath.Separator)) {
		return nil, false
	}
	info, err := os.Stat(real)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return info, true
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (s *Scanner) isDefaultExcluded(name string) bool {
	for _, exclude := range s.opts.DefaultExcludes {
		if strings.EqualFold(name, exclude) {
			return true
		}
	}
	return false
}

// loadIgnorePatterns reads the ignore file of dir. base is dir relative to
// the walk root.
func (s *Scanner) loadIgnorePatterns(dir, base string) ([]scopedPattern, error) {
	file, err := os.Open(filepath.Join(dir, s.opts.IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var patterns []scopedPattern
	lines := bufio.NewScanner(file)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, scopedPattern{base: base, pattern: ParseIgnorePattern(line)})
	}
	return patterns, lines.Err()
}

// ignored applies patterns in order with gitignore semantics: a later
// negation re-includes what an earlier pattern excluded.
func ignored(rel string, dir bool, patterns []scopedPattern) bool {
	result := false
	for _, sp := range patterns {
		p := rel
		if sp.base != "" {
			if !strings.HasPrefix(rel, sp.base+"/") {
				continue
			}
			p = strings.TrimPrefix(rel, sp.base+"/")
		}
		var match bool
		if dir {
			match = sp.pattern.MatchDir(p)
		} else {
			match = sp.pattern.Match(p)
		}
		if match {
			result = !sp.pattern.IsNegation()
		}
	}
	return result
}

