// Package main implements the go-bundle CLI (gbl).
// It provides commands for building bundles, inspecting the module graph,
// and managing the dev server.
package main

import (
	"os"

	"github.com/l3aro/go-bundle/cmd/gbl/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	commands.Version = version
	commands.RootCmd.Version = version
	if buildTime != "" {
		commands.RootCmd.Version = version + " (built " + buildTime + ")"
	}
	commands.RootCmd.SetVersionTemplate(`gbl version {{.Version}}
`)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
