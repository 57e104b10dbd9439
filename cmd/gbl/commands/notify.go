package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-bundle/internal/daemon"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify [path...]",
	Short: "Tell the dev server that files changed",
	Long: `Queues files for the next rebuild of the running dev server, even when
their content looks unchanged. Deleted files may be named too.

Examples:
  gbl notify src/index.js
  gbl notify src/a.js src/b.css`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := make([]string, 0, len(args))
		for _, p := range args {
			info, err := os.Stat(p)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("stat file: %w", err)
			}
			if err == nil && info.IsDir() {
				return fmt.Errorf("path must be a file, not a directory: %s", p)
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("getting absolute path: %w", err)
			}
			paths = append(paths, abs)
		}

		if err := daemon.Notify(paths); err != nil {
			if err == daemon.ErrNotRunning {
				return fmt.Errorf("dev server is not running; start it with 'gbl dev start'")
			}
			return err
		}
		fmt.Printf("Queued %d file(s) for rebuild\n", len(paths))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(notifyCmd)
}
