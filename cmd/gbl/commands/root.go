package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/log"
)

var (
	configPath string
	rootDir    string
	verbose    bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "gbl",
	Short: "gbl - JavaScript and CSS bundler",
	Long: `gbl builds JavaScript and CSS modules into browser bundles.

Commands:
  build       Build the configured entries into the output directory
  graph       Show the module graph of an entry
  dev         Start, stop or inspect the dev server
  notify      Tell the dev server that files changed
  init        Create a configuration file interactively
  doctor      Check the configuration and project layout

Use "gbl [command] --help" for more information about a command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootDir == "" {
			return nil
		}
		if err := os.Chdir(rootDir); err != nil {
			return fmt.Errorf("changing to project directory: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: .gbl/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "Project directory")
	RootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")
}

// loadConfig loads the config named by --config, or the layered default.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// effectiveConfigPath returns the file a plain load reads last, or "" when
// only defaults apply.
func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if fileExists(config.ProjectConfigFilePath()) {
		return config.ProjectConfigFilePath()
	}
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, ".gbl", "config.yaml")
		if fileExists(global) {
			return global
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// newLogger returns the configured logger, at debug level with --verbose.
func newLogger(cfg *config.Config) log.Logger {
	logger := cfg.Logger()
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}
