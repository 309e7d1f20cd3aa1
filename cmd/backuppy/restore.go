package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRestoreCmd(configPath *string) *cobra.Command {
	var name, before, dest string

	cmd := &cobra.Command{
		Use:   "restore [query]",
		Short: "restore files from a backup set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var like string
			if len(args) == 1 {
				like = args[0]
			}

			var asOf *int64
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("parse --before %q: %w", before, err)
				}
				ts := t.Unix()
				asOf = &ts
			}

			destination := dest
			if destination == "" {
				destination = "."
			}

			set, err := loadSet(ctx, *configPath, name)
			if err != nil {
				return err
			}

			restored, err := set.Restore(ctx, destination, like, asOf)
			if err != nil {
				return err
			}
			for _, path := range restored {
				fmt.Println(path)
			}
			fmt.Printf("restored %d file(s) to %s\n", len(restored), destination)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the backup set to restore from")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&before, "before", "", "restore the most recent version backed up before this RFC3339 time")
	cmd.Flags().StringVar(&dest, "dest", "", "directory to restore files into (default: current directory)")
	return cmd
}
