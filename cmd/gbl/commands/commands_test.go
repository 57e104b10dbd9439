package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/internal/project"
)

func openProject(t *testing.T, files map[string]string) *project.Project {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.Cache.Enabled = false
	p, err := project.Open(cfg, false, log.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return p
}

func TestScanEntries(t *testing.T) {
	p := openProject(t, map[string]string{
		"src/index.js": "import { a } from \"./a\";\nimport \"./missing\";\nconsole.log(a);\n",
		"src/a.js":     "import { b } from \"./b\";\nexport const a = b;\n",
		"src/b.js":     "export const b = 1;\n",
	})

	g, roots, missing, err := scanEntries(context.Background(), p, []string{"src/index.js"})
	if err != nil {
		t.Fatalf("scanEntries failed: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 modules, got %d", g.Len())
	}
	if len(missing) != 1 || missing[0].Specifier != "./missing" {
		t.Errorf("expected ./missing to be reported, got %v", missing)
	}
}

func TestScanEntriesUnknownEntry(t *testing.T) {
	p := openProject(t, map[string]string{"src/index.js": "console.log(1);\n"})
	if _, _, _, err := scanEntries(context.Background(), p, []string{"src/nope.js"}); err == nil {
		t.Error("expected error for unknown entry")
	}
}

func TestNewBuildOutput(t *testing.T) {
	p := openProject(t, map[string]string{
		"src/index.js": "import { a } from \"./a\";\nconsole.log(a);\n",
		"src/a.js":     "export const a = 1;\nexport const unused = 2;\n",
	})
	result, err := p.Compiler.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	out := newBuildOutput(p, result)
	if out.Hash == "" {
		t.Error("expected a hash")
	}
	if out.Modules != 2 {
		t.Errorf("expected 2 modules, got %d", out.Modules)
	}
	if len(out.Files) == 0 {
		t.Fatal("expected at least one file")
	}
	for _, f := range out.Files {
		if f.Size == 0 {
			t.Errorf("file %s is empty", f.Filename)
		}
	}
	if out.Shaken == nil {
		t.Error("production builds should report tree shaking")
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"8080", false},
		{"0", false},
		{"65535", false},
		{"65536", true},
		{"-1", true},
		{"http", true},
	}
	for _, tt := range tests {
		if err := validatePort(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("validatePort(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
