package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/internal/project"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/hmr"
)

// BuildOutput is the report printed after a build.
type BuildOutput struct {
	Hash     string        `json:"hash"`
	OutDir   string        `json:"out_dir"`
	Modules  int           `json:"modules"`
	Duration string        `json:"duration"`
	Files    []BuildFile   `json:"files"`
	Missing  []string      `json:"missing,omitempty"`
	Shaken   *ShakeSummary `json:"shaken,omitempty"`
}

// BuildFile is one written file.
type BuildFile struct {
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Modules  int    `json:"modules,omitempty"`
}

// ShakeSummary counts what tree shaking removed.
type ShakeSummary struct {
	Modules    int `json:"modules"`
	Statements int `json:"statements"`
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the configured entries",
	Long: `Builds every configured entry and writes the chunks to the output
directory. With --watch the build stays up and rebuilds incrementally when
files change.

Examples:
  gbl build
  gbl build --mode development --stats
  gbl build --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			cfg.Mode = config.Mode(mode)
		}
		if cmd.Flags().Changed("stats") {
			cfg.Stats, _ = cmd.Flags().GetBool("stats")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		watch, _ := cmd.Flags().GetBool("watch")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watch {
			return runWatch(ctx, cfg, logger)
		}
		return runBuild(ctx, cfg, logger, jsonOutput)
	},
}

func runBuild(ctx context.Context, cfg *config.Config, logger log.Logger, jsonOutput bool) error {
	p, err := project.Open(cfg, false, logger)
	if err != nil {
		return err
	}

	var spinner *log.ProgressSpinner
	if !jsonOutput && log.IsTTY() {
		spinner = log.NewProgressSpinner("Building")
		spinner.Start()
	}
	result, err := p.Compiler.Build(ctx)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if err := p.SaveCache(result.Graph); err != nil {
		logger.Warn("failed to save cache", "error", err)
	}

	printBuildOutput(newBuildOutput(p, result), jsonOutput)
	return nil
}

func newBuildOutput(p *project.Project, result *build.Result) BuildOutput {
	out := BuildOutput{
		Hash:     result.Output.FullHash,
		OutDir:   p.Compiler.Options().OutDir,
		Modules:  result.Graph.Len(),
		Duration: result.Duration.Round(time.Millisecond).String(),
	}
	for _, o := range result.Output.Outputs {
		out.Files = append(out.Files, BuildFile{Filename: o.Filename, Size: len(o.Content), Modules: len(o.Modules)})
	}
	for _, a := range result.Output.Assets {
		out.Files = append(out.Files, BuildFile{Filename: a.Filename, Size: len(a.Content)})
	}
	for _, m := range result.Missing {
		out.Missing = append(out.Missing, m.String())
	}
	if result.Shake != nil {
		out.Shaken = &ShakeSummary{
			Modules:    len(result.Shake.Pruned),
			Statements: result.Shake.RemovedStatements,
		}
	}
	return out
}

func printBuildOutput(output BuildOutput, jsonOutput bool) {
	if jsonOutput {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fmt.Printf("Error marshaling JSON: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}

	fmt.Printf("=== Build %s ===\n\n", output.Hash)
	total := 0
	for _, f := range output.Files {
		total += f.Size
		if f.Modules > 0 {
			fmt.Printf("  %-40s %10s  %d modules\n", f.Filename, humanize.Bytes(uint64(f.Size)), f.Modules)
		} else {
			fmt.Printf("  %-40s %10s\n", f.Filename, humanize.Bytes(uint64(f.Size)))
		}
	}
	fmt.Printf("\n%s modules, %d files, %s written to %s in %s\n",
		humanize.Comma(int64(output.Modules)), len(output.Files),
		humanize.Bytes(uint64(total)), relativeToCwd(output.OutDir), output.Duration)
	if output.Shaken != nil && (output.Shaken.Modules > 0 || output.Shaken.Statements > 0) {
		fmt.Printf("Tree shaking removed %d modules and %d statements\n", output.Shaken.Modules, output.Shaken.Statements)
	}
	for _, m := range output.Missing {
		fmt.Printf("Warning: %s\n", m)
	}
}

// runWatch builds once and then applies changes incrementally until ctx is
// done. Failed updates are reported and retried from scratch on the next
// change.
func runWatch(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	p, err := project.Open(cfg, true, logger)
	if err != nil {
		return err
	}
	w, err := p.Watcher()
	if err != nil {
		return err
	}
	if _, err := w.Snapshot(ctx); err != nil {
		return err
	}

	var driver *hmr.Driver
	rebuild := func(ctx context.Context) error {
		result, err := p.Compiler.Build(ctx)
		if err != nil {
			driver = nil
			return err
		}
		driver = hmr.New(p.Compiler, result, logger)
		printBuildOutput(newBuildOutput(p, result), false)
		return nil
	}
	if err := rebuild(ctx); err != nil {
		logger.Error("build failed", "error", err)
	}

	fmt.Printf("\nWatching %s for changes (Ctrl+C to stop)\n", w.Root())
	err = w.Run(ctx, func(ctx context.Context, paths []string) error {
		if driver == nil {
			return rebuild(ctx)
		}
		start := time.Now()
		payload, ur, err := driver.Update(ctx, paths)
		if err != nil {
			driver = nil
			return err
		}
		if payload == nil {
			return nil
		}
		fmt.Printf("[%s] %d modified, %d added, %d removed, hash %s (%s)\n",
			time.Now().Format("15:04:05"), len(ur.Modified), len(ur.Added), len(ur.Removed),
			payload.Hash, time.Since(start).Round(time.Millisecond))
		return nil
	})
	if driver != nil {
		if err := p.SaveCache(driver.Graph()); err != nil {
			logger.Warn("failed to save cache", "error", err)
		}
	}
	return err
}

func relativeToCwd(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(cwd, path); err == nil {
		return rel
	}
	return path
}

func init() {
	buildCmd.Flags().BoolP("watch", "w", false, "Rebuild when files change")
	buildCmd.Flags().String("mode", "", "Build mode: production or development")
	buildCmd.Flags().Bool("stats", false, "Write stats.json next to the output")
	buildCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	RootCmd.AddCommand(buildCmd)
}
