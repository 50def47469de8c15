package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"tsn/src/pipeline"
)

// newCacheCmd reports the on-disk cache inventory's staleness per
// script, following the same "source mtime > cached_on" rule as
// Workspace::loadModule (§6.3).
func newCacheCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "list the cache inventory and each script's staleness",
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := optionsFromFlags(f)
			dbPath := filepath.Join(opt.CacheDir, dbFileName)
			db, err := pipeline.LoadDatabaseFile(dbPath)
			if err != nil {
				return fmt.Errorf("loading cache database: %w", err)
			}
			if db == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no cache database found; run `tsnc scan` first")
				return nil
			}

			out := cmd.OutOrStdout()
			for path, meta := range db.Scripts {
				status := "cached"
				if meta.IsStale() {
					status = "stale"
				}
				fmt.Fprintf(out, "%-8s module=%#08x  %s\n", status, meta.ModuleID, path)
			}
			return nil
		},
	}
}
