package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tsn/src/pipeline"
)

const dbFileName = "last_state.db"

// newScanCmd walks the workspace root for ".tsn" sources and refreshes
// the cache database's inventory, mirroring Workspace::scanDirectory's
// discover-or-update-mtime behavior (§6.3).
func newScanCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "scan the workspace for .tsn sources and refresh the cache inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := optionsFromFlags(f)
			if err := os.MkdirAll(opt.CacheDir, 0o755); err != nil {
				return fmt.Errorf("creating cache directory: %w", err)
			}

			dbPath := filepath.Join(opt.CacheDir, dbFileName)
			db, err := pipeline.LoadDatabaseFile(dbPath)
			if err != nil {
				return fmt.Errorf("loading cache database: %w", err)
			}
			if db == nil {
				db = pipeline.NewDatabase(opt.WorkspaceRoot)
			}

			count := 0
			err = filepath.WalkDir(opt.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".tsn") {
					return nil
				}
				rel, err := filepath.Rel(opt.WorkspaceRoot, path)
				if err != nil {
					rel = path
				}
				rel = filepath.ToSlash(rel)

				info, err := d.Info()
				if err != nil {
					return err
				}
				size := uint64(info.Size())
				modified := uint64(info.ModTime().UnixMilli())

				if existing, ok := db.Scripts[rel]; ok {
					if existing.ModifiedOn < modified {
						db.OnFileChanged(existing, size, modified)
					}
				} else {
					db.OnFileDiscovered(rel, size, modified, f.trusted)
				}
				count++
				return nil
			})
			if err != nil {
				return fmt.Errorf("scanning workspace: %w", err)
			}

			if err := db.PersistFile(dbPath); err != nil {
				return fmt.Errorf("persisting cache database: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d source(s) under %s\n", count, opt.WorkspaceRoot)
			return nil
		},
	}
}
