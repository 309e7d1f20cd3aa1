package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newPutCmd stores a single named file without a directory scan — a
// debugging escape hatch, per original_source/backuppy/cli/put.py's
// non-manifest branch. The file still goes through Engine.SaveIfNew, so
// an unchanged file is not stored again.
func newPutCmd(configPath *string) *cobra.Command {
	var name string
	var forceCopy bool

	cmd := &cobra.Command{
		Use:   "put FILE",
		Short: "store a single file directly in a backup set",
		Long:  plumbingWarning,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filename, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			set, err := loadSet(ctx, *configPath, name)
			if err != nil {
				return err
			}

			u, err := set.Lifecycle.Unlock(ctx, false)
			if err != nil {
				return err
			}
			defer u.Close(ctx)

			if err := u.Engine.SaveIfNew(ctx, filename, forceCopy, false); err != nil {
				return err
			}
			if err := u.Close(ctx); err != nil {
				return err
			}
			fmt.Printf("stored %s\n", filename)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the backup set to store into")
	cmd.MarkFlagRequired("name")
	cmd.Flags().BoolVar(&forceCopy, "force-copy", false, "store a full copy even if an existing entry could be diffed against")
	return cmd
}
