// Command backuppy is the CLI front-end for the backup store engine in
// internal/store: it loads a YAML config of named backup sets and
// dispatches to the backup/restore/verify/list/get/put subcommands,
// mirroring original_source/backuppy/cli/*.py, plus serve, which has no
// counterpart there.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "backuppy",
		Short:         "incremental, encrypted, content-addressed file backup",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "backuppy.yaml", "path to the backup sets config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newBackupCmd(&configPath),
		newRestoreCmd(&configPath),
		newVerifyCmd(&configPath),
		newListCmd(&configPath),
		newGetCmd(&configPath),
		newPutCmd(&configPath),
		newServeCmd(&configPath),
	)
	return root
}
