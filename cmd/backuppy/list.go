package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/acrlabs/backuppy/internal/manifest"
)

func newListCmd(configPath *string) *cobra.Command {
	var name, after, before string
	var fileLimit, historyLimit, shaLength int
	var details bool

	cmd := &cobra.Command{
		Use:   "list [query]",
		Short: "list the contents of a backup set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var like string
			if len(args) == 1 {
				like = args[0]
			}

			opts := manifest.SearchOptions{Like: like, FileLimit: fileLimit, HistoryLimit: historyLimit}
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("parse --after %q: %w", after, err)
				}
				ts := t.Unix()
				opts.After = &ts
			}
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("parse --before %q: %w", before, err)
				}
				ts := t.Unix()
				opts.Before = &ts
			}
			if opts.FileLimit == 0 {
				opts.FileLimit = 1 << 20
			}
			if opts.HistoryLimit == 0 {
				opts.HistoryLimit = 1 << 20
			}

			set, err := loadSet(ctx, *configPath, name)
			if err != nil {
				return err
			}
			results, err := set.List(ctx, opts)
			if err != nil {
				return err
			}

			if details {
				printDetails(results, shaLength)
			} else {
				printSummary(results)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the backup set to examine")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&after, "after", "", "only list files backed up after this RFC3339 time")
	cmd.Flags().StringVar(&before, "before", "", "only list files backed up before this RFC3339 time")
	cmd.Flags().IntVar(&fileLimit, "file-limit", 0, "show at most this many files")
	cmd.Flags().IntVar(&historyLimit, "history-limit", 0, "show at most this many entries of each file's history")
	cmd.Flags().BoolVar(&details, "details", false, "print full detail rows instead of a one-line-per-file summary")
	cmd.Flags().IntVar(&shaLength, "sha-length", 8, "length of the sha prefix to display in detailed view")
	return cmd
}

func printSummary(results []manifest.PathHistory) {
	w := os.Stdout
	for _, ph := range results {
		if len(ph.Entries) == 0 {
			continue
		}
		latest := ph.Entries[0]
		fmt.Fprintf(w, "%-60s %4d versions  last backed up %s\n",
			ph.Path, len(ph.Entries), formatTime(latest.CommitTimestamp))
	}
}

func printDetails(results []manifest.PathHistory, shaLength int) {
	w := os.Stdout
	for _, ph := range results {
		fmt.Fprintf(w, "\n%s\n", ph.Path)
		for _, e := range ph.Entries {
			sha := manifest.Sha(e.State)
			if sha == "" {
				fmt.Fprintf(w, "  <deleted>                              %s\n", formatTime(e.CommitTimestamp))
				continue
			}
			if len(sha) > shaLength {
				sha = sha[:shaLength]
			}
			fmt.Fprintf(w, "  %-12s uid=%-6d gid=%-6d mode=%#o  %s\n",
				sha, e.Uid, e.Gid, e.Mode, formatTime(e.CommitTimestamp))
		}
	}
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).Format(time.RFC3339)
}
