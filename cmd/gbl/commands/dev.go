package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/daemon"
	"github.com/l3aro/go-bundle/internal/project"
)

// Version is reported by the dev server; main sets it from the build.
var Version = "dev"

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the dev server in the foreground",
	Long: `Builds the configured entries, serves the output directory and pushes hot
updates to connected browsers as files change. Without a subcommand the server
runs in this terminal until interrupted; "gbl dev start" runs it in the
background instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			cfg.Mode = config.Mode(mode)
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.HMR.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := newLogger(cfg)

		p, err := project.Open(cfg, true, logger)
		if err != nil {
			return err
		}
		srv, err := p.DevServer(Version, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Printf("Dev server on http://%s (Ctrl+C to stop)\n", cfg.Addr())
		runErr := srv.Run(ctx)
		if err := p.SaveCache(srv.Graph()); err != nil {
			logger.Warn("failed to save cache", "error", err)
		}
		return runErr
	},
}

var devStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dev server in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		daemonPath, _ := cmd.Flags().GetString("daemon")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}

		result, err := daemon.Start(&daemon.StartOptions{
			DaemonPath:   daemonPath,
			ConfigPath:   configPath,
			Root:         cwd,
			Verbose:      verbose,
			WaitForReady: true,
			ReadyTimeout: timeout,
			Background:   true,
		})
		if err != nil {
			return err
		}

		if !result.Success {
			if result.Error != "" {
				fmt.Printf("Failed to start dev server: %s\n", result.Error)
			}
			if result.PID > 0 {
				fmt.Printf("Dev server already running with PID %d", result.PID)
				if result.Addr != "" {
					fmt.Printf(" on http://%s", result.Addr)
				}
				fmt.Println()
			}
			return nil
		}

		fmt.Printf("Dev server started with PID %d on http://%s\n", result.PID, result.Addr)
		return nil
	},
}

var devStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background dev server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := daemon.Stop()
		if err != nil {
			return err
		}

		if !result.Success {
			if result.Error != "" {
				fmt.Printf("Failed to stop dev server: %s\n", result.Error)
			}
			return nil
		}

		fmt.Printf("Dev server stopped (PID: %d)\n", result.PID)
		return nil
	},
}

var devStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dev server status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := daemon.GetStatus()
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Status: %s\n", result.Status)
		if result.PID > 0 {
			fmt.Printf("PID: %d\n", result.PID)
		}
		if result.Addr != "" {
			fmt.Printf("Address: http://%s\n", result.Addr)
		}
		if result.Version != "" {
			fmt.Printf("Version: %s\n", result.Version)
		}
		if result.Hash != "" {
			fmt.Printf("Hash: %s\n", result.Hash)
		}
		if !result.StartedAt.IsZero() {
			fmt.Printf("Started: %s\n", result.StartedAt.Format(time.RFC3339))
		}
		if result.Error != "" {
			fmt.Printf("Error: %s\n", result.Error)
		}
		return nil
	},
}

func init() {
	devCmd.Flags().String("mode", "", "Build mode: production or development")
	devCmd.Flags().IntP("port", "p", 0, "Listen port (default from config)")
	devStartCmd.Flags().String("daemon", "", "Path to the gbld binary")
	devStartCmd.Flags().Duration("timeout", daemon.ReadyTimeout, "How long to wait for the first build")
	devStatusCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	devCmd.AddCommand(devStartCmd)
	devCmd.AddCommand(devStopCmd)
	devCmd.AddCommand(devStatusCmd)
	RootCmd.AddCommand(devCmd)
}
