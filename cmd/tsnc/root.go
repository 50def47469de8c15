package main

import (
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"tsn/src/util"
)

const version = "0.1.0"

// rootFlags mirrors util.Options's fields as persistent CLI flags,
// shared by every subcommand (§A "Configuration").
type rootFlags struct {
	workspaceRoot string
	cacheDir      string
	threads       int
	verbose       bool
	optLevel      int
	trusted       bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:           "tsnc",
		Short:         "tsnc manages a TSN workspace's source discovery and compiled-module cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	defaults := util.DefaultOptions()
	root.PersistentFlags().StringVar(&f.workspaceRoot, "workspace", ".", "workspace root used for cache staleness checks (§6.3)")
	root.PersistentFlags().StringVar(&f.cacheDir, "cache-dir", filepath.Join(".", ".tsn-cache"), "directory holding compiled .tsnc module caches")
	root.PersistentFlags().IntVar(&f.threads, "threads", defaults.Threads, "degree of parallelism (recorded; compilation runs sequentially)")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "emit debug-level log messages")
	root.PersistentFlags().IntVar(&f.optLevel, "opt", defaults.OptLevel, "IR optimization level (recorded; no optimization pass runs)")
	root.PersistentFlags().BoolVar(&f.trusted, "trusted", false, "mark scanned sources as trusted for cache inventory purposes")

	root.AddCommand(newScanCmd(f))
	root.AddCommand(newCacheCmd(f))
	return root
}
