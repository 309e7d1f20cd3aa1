package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(configPath *string) *cobra.Command {
	var name, sha string
	var showAll, repair bool

	cmd := &cobra.Command{
		Use:   "verify [query]",
		Short: "verify file integrity in a backup set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var like string
			if len(args) == 1 {
				like = args[0]
			}

			set, err := loadSet(ctx, *configPath, name)
			if err != nil {
				return err
			}

			fmt.Println("Beginning verification...")
			results, err := set.Verify(ctx, like, sha, repair)
			if err != nil {
				return err
			}

			badCount := 0
			for _, r := range results {
				switch {
				case r.Err != nil:
					badCount++
					fmt.Printf("Checking %s... ERROR -- %v\n", r.Path, r.Err)
				case !r.OK:
					badCount++
					status := "ERROR -- SHAs do not match."
					if r.Repaired {
						status += " repaired."
					}
					fmt.Printf("Checking %s... %s\n", r.Path, status)
				case showAll:
					fmt.Printf("Checking %s... OK!\n", r.Path)
				}
			}
			fmt.Printf("Verification complete! %d/%d files OK\n", len(results)-badCount, len(results))

			if repair {
				dupes, badShas, err := set.Repair(ctx)
				if err != nil {
					return fmt.Errorf("manifest repair pass: %w", err)
				}
				fmt.Printf("Repair pass: removed %d duplicate row(s), found %d SHA(s) with multiple key pairs\n", len(dupes), len(badShas))
				for _, sha := range badShas {
					fmt.Printf("  WARNING: sha %s has more than one key pair on record\n", sha)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the backup set to verify")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&sha, "sha", "", "verify only the entries matching this SHA")
	cmd.Flags().BoolVar(&showAll, "show-all", false, "print status for every file, not just failures")
	cmd.Flags().BoolVar(&repair, "repair", false, "re-save a fresh copy for any entry that fails verification")
	return cmd
}
