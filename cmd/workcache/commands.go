package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/workcache"
)

// openContext builds a Context from --config or the --db default.
func openContext(gf *GlobalFlags) (*workcache.Context, error) {
	if gf.ConfigPath != "" {
		c, err := workcache.LoadConfig(gf.ConfigPath)
		if err != nil {
			return nil, err
		}
		return workcache.FromConfig(c)
	}
	return workcache.New(gf.DBPath)
}

func newStatsCmd(gf *GlobalFlags) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print record count and cache keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := openContext(gf)
			if err != nil {
				return err
			}
			defer func() { _ = ctx.Close() }()
			n := 0
			err = ctx.Database().Walk(cmd.Context(), func(key string, rec workcache.Record) bool {
				n++
				if verbose {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n  discovered inputs: %d, outputs: %d\n",
						key, rec.DiscoveredInputs.Len(), rec.DiscoveredOutputs.Len())
				}
				return true
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each cache key")
	return cmd
}

func newVerifyCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-evaluate the freshness of every stored record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := openContext(gf)
			if err != nil {
				return err
			}
			defer func() { _ = ctx.Close() }()
			fresh := workcache.DefaultFreshness()
			stale := 0
			var checkErr error
			err = ctx.Database().Walk(cmd.Context(), func(key string, rec workcache.Record) bool {
				state := "fresh"
				for _, m := range []workcache.WorkMap{rec.DiscoveredInputs, rec.DiscoveredOutputs} {
					m.Walk(func(name, kind, value string) bool {
						ok, err := fresh.Check(kind, name, value)
						if err != nil {
							checkErr = err
							return false
						}
						if !ok {
							state = "stale"
							return false
						}
						return true
					})
					if checkErr != nil {
						return false
					}
				}
				if state == "stale" {
					stale++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-5s %s\n", state, key)
				return true
			})
			if err != nil {
				return err
			}
			if checkErr != nil {
				return checkErr
			}
			if stale > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d stale record(s)\n", stale)
			}
			return nil
		},
	}
}

func newCleanCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the JSON database file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gf.ConfigPath != "" {
				c, err := workcache.LoadConfig(gf.ConfigPath)
				if err != nil {
					return err
				}
				if c.Database.Type != "" && c.Database.Type != "jsonfile" && c.Database.Type != "json" {
					return fmt.Errorf("clean only supports jsonfile databases; drop the %s store manually", c.Database.Type)
				}
				return removeIfExists(c.Database.Path)
			}
			return removeIfExists(gf.DBPath)
		},
	}
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func newRunCmd(gf *GlobalFlags) *cobra.Command {
	var inputs, outputs []string
	cmd := &cobra.Command{
		Use:   "run -- prog [args...]",
		Short: "Run a command through the cache",
		Long: "Runs a command, memoized on the program digest, literal args, hashed\n" +
			"--input paths, and --output paths. A later identical run is skipped\n" +
			"while everything is fresh.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := openContext(gf)
			if err != nil {
				return err
			}
			defer func() { _ = ctx.Close() }()

			c, err := workcache.NewCommand(args[0])
			if err != nil {
				return err
			}
			for _, a := range args[1:] {
				c.Arg(a)
			}
			for _, in := range inputs {
				if err := c.InputArg(in); err != nil {
					return err
				}
			}
			for _, out := range outputs {
				c.OutputArg(out)
			}
			res, err := c.Run(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d output(s))\n", res.Prog, len(res.Outputs))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input path appended to the command line (content-hashed)")
	cmd.Flags().StringArrayVar(&outputs, "output", nil, "output path appended to the command line (existence-checked)")
	return cmd
}
