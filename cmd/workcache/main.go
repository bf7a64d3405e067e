package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string // TOML config file; empty uses --db with defaults
	DBPath     string // JSON file database path when no config is given
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "workcache",
		Short:         "Inspect and drive a workcache record database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to TOML config")
	root.PersistentFlags().StringVar(&gf.DBPath, "db", "build/db.json", "JSON database path (ignored when --config is set)")

	root.AddCommand(newStatsCmd(gf))
	root.AddCommand(newVerifyCmd(gf))
	root.AddCommand(newCleanCmd(gf))
	root.AddCommand(newRunCmd(gf))
	return root
}
