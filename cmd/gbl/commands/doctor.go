package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/healthcheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the configuration and project",
	Long: `Checks that the configured entries resolve, that the output and cache
directories are writable and that the dev server port is free.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := effectiveConfigPath()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		result, err := healthcheck.Check(ctx, cfg, "", path)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		displayDoctorResult(result)
		if result.Failed() {
			return fmt.Errorf("health check failed: one or more checks reported an error")
		}
		return nil
	},
}

func displayDoctorResult(result *healthcheck.HealthCheckResult) {
	if result.EffectivePath == "" {
		fmt.Println("Using config: defaults (no config file found)")
	} else {
		fmt.Printf("Using config: %s (%s)\n", result.EffectivePath, result.EffectiveScope)
	}
	fmt.Println()

	for _, c := range result.Checks {
		fmt.Printf("%s %-6s %s\n", formatStatusIcon(c.Status), c.Name, c.Target)
		if c.Detail != "" {
			fmt.Printf("         %s\n", c.Detail)
		}
		if c.Error != "" {
			fmt.Printf("         Error: %s\n", c.Error)
		}
	}
}

func formatStatusIcon(status string) string {
	switch status {
	case healthcheck.StatusOK:
		return "✓"
	case healthcheck.StatusWarn:
		return "◐"
	case healthcheck.StatusError:
		return "✗"
	default:
		return "?"
	}
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}
