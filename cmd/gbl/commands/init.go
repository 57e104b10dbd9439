package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/config"
	"github.com/l3aro/go-bundle/internal/healthcheck"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize gbl configuration interactively",
	Long: `Guides you through setting up gbl step by step and writes the answers to
a config file. A health check runs against the saved configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.Context())
	},
}

func runInit(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.DefaultConfig()

	// === SECTION 1: Entry and output ===
	entry := cfg.Entry["index"]
	outDir := cfg.Output.Path
	publicPath := cfg.Output.PublicPath
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Entry file").
				Description("The module the bundle starts from").
				Placeholder(entry).
				Value(&entry),
			huh.NewInput().
				Title("Output directory").
				Placeholder(outDir).
				Value(&outDir),
			huh.NewInput().
				Title("Public path").
				Description("URL prefix the output is served under").
				Placeholder(publicPath).
				Value(&publicPath),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	// === SECTION 2: Build mode ===
	mode := string(cfg.Mode)
	filenameHash := true
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Build mode").
				Description("Production enables tree shaking and module concatenation").
				Options(
					huh.NewOption("Production", string(config.ModeProduction)),
					huh.NewOption("Development", string(config.ModeDevelopment)),
				).
				Value(&mode),
			huh.NewConfirm().
				Title("Content hashes in filenames?").
				Description("Applies to production builds only").
				Affirmative("Yes").
				Negative("No").
				Value(&filenameHash),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	// === SECTION 3: Dev server ===
	hmrEnabled := cfg.HMR.Enabled
	port := strconv.Itoa(cfg.HMR.Port)
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Hot module replacement").
				Description("Push updates to the browser while the dev server runs?").
				Affirmative("Yes").
				Negative("No, reload only").
				Value(&hmrEnabled),
			huh.NewInput().
				Title("Dev server port").
				Placeholder(port).
				Validate(validatePort).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	// === SECTION 4: Config location ===
	var saveLocationChoice string
	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Save Configuration").
				Description("Where to save the configuration file?").
				Options(
					huh.NewOption("Project (./.gbl/config.yaml)", "project"),
					huh.NewOption("Global (~/.gbl/config.yaml)", "global"),
				).
				Value(&saveLocationChoice),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	var savePath string
	if saveLocationChoice == "global" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		savePath = filepath.Join(home, ".gbl", "config.yaml")
	} else {
		savePath = config.ProjectConfigFilePath()
	}

	if _, err := os.Stat(savePath); err == nil {
		var overwrite bool
		form = huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Config file exists").
					Description(fmt.Sprintf("Overwrite existing config at %s?", savePath)).
					Affirmative("Overwrite").
					Negative("Cancel").
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	// === Build config struct ===
	cfg.Entry = map[string]string{"index": entry}
	cfg.Output.Path = outDir
	cfg.Output.PublicPath = publicPath
	cfg.Output.FilenameHash = filenameHash
	cfg.Mode = config.Mode(mode)
	cfg.HMR.Enabled = hmrEnabled
	cfg.HMR.Port, _ = strconv.Atoi(port)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Println("\n=== Configuration Preview ===")
	fmt.Printf("Config path: %s\n", savePath)
	fmt.Printf("Entry: %s\n", entry)
	fmt.Printf("Output: %s (public path %s)\n", cfg.Output.Path, cfg.Output.PublicPath)
	fmt.Printf("Mode: %s\n", cfg.Mode)
	fmt.Printf("Dev server: http://%s (hmr %t)\n", cfg.Addr(), cfg.HMR.Enabled)
	fmt.Println("================================")

	if err := cfg.Save(savePath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Configuration saved to: %s\n", savePath)

	// === SECTION 5: Health Check ===
	fmt.Println("\n=== Running Health Check ===")
	loaded, err := config.LoadFromFile(savePath)
	if err != nil {
		return fmt.Errorf("loading saved config: %w", err)
	}
	result, err := healthcheck.Check(ctx, loaded, savePath, savePath)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Printf("\nConfig Scope: %s\n", result.SavedScope)
	displayDoctorResult(result)

	fmt.Println("\n=== Initialization Complete ===")
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("port must be a number between 0 and 65535")
	}
	return nil
}

func init() {
	RootCmd.AddCommand(initCmd)
}
