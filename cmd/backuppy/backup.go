package main

import (
	"github.com/spf13/cobra"
)

func newBackupCmd(configPath *string) *cobra.Command {
	var preserveScratch, dryRun bool
	var only string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "perform a backup of all configured locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			names, err := backupSetNames(*configPath, only)
			if err != nil {
				return err
			}

			for _, name := range names {
				log.Infof("starting backup for %s", name)
				set, err := loadSet(ctx, *configPath, name)
				if err != nil {
					return err
				}
				if err := set.Backup(ctx, preserveScratch, dryRun); err != nil {
					return err
				}
				log.Infof("backup for %s finished", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&preserveScratch, "preserve-scratch-dir", false, "don't delete the scratch directory after the run (debugging)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan and report changes without writing anything")
	cmd.Flags().StringVar(&only, "only", "", "back up only this named backup set instead of all configured sets")
	return cmd
}
