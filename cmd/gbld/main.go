// Package main implements the go-bundle dev server daemon (gbld).
// It builds the project, watches it for changes, serves the output and
// pushes hot updates to browsers. gbl dev start launches it in the
// background.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/internal/project"
)

var version = "dev"

func main() {
	configPath := ""
	rootDir := ""
	verbose := false

	for i := 1; i < len(os.Args); i++ {
		switch os.Args[i] {
		case "-config", "--config":
			if i+1 < len(os.Args) {
				configPath = os.Args[i+1]
				i++
			}
		case "-root", "--root":
			if i+1 < len(os.Args) {
				rootDir = os.Args[i+1]
				i++
			}
		case "-v", "--verbose", "-verbose":
			verbose = true
		case "-version", "--version":
			fmt.Printf("gbld version %s\n", version)
			os.Exit(0)
		case "-h", "--help", "-help":
			fmt.Println("Usage: gbld [options]")
			fmt.Println("Options:")
			fmt.Println("  -config PATH   Config file path")
			fmt.Println("  -root DIR      Project directory")
			fmt.Println("  -v, -verbose   Verbose logging")
			fmt.Println("  -h, -help      Show this help")
			os.Exit(0)
		}
	}

	if err := run(configPath, rootDir, verbose); err != nil {
		fmt.Fprintf(os.Stderr, "gbld: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, rootDir string, verbose bool) error {
	if rootDir != "" {
		if err := os.Chdir(rootDir); err != nil {
			return fmt.Errorf("changing to project directory: %w", err)
		}
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := cfg.Logger()
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	p, err := project.Open(cfg, true, logger)
	if err != nil {
		return err
	}
	srv, err := p.DevServer(version, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gbld", "version", version, "root", p.Root)
	runErr := srv.Run(ctx)
	if err := p.SaveCache(srv.Graph()); err != nil {
		logger.Warn("failed to save cache", "error", err)
	}
	logger.Info("gbld stopped")
	return runErr
}
