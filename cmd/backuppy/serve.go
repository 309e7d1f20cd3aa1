package main

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/acrlabs/backuppy/internal/config"
	"github.com/acrlabs/backuppy/internal/scheduler"
	"github.com/acrlabs/backuppy/internal/util"
)

// newServeCmd runs every configured backup set on its own cron schedule
// until interrupted. The original CLI has no equivalent: it is always
// invoked one-shot (e.g. from an operator's own crontab); this command
// replaces that external scheduling with an in-process one built on
// github.com/robfig/cron/v3, per SPEC_FULL.md's scheduling addition.
func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run every backup set with a schedule configured, until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			sched := scheduler.New()
			registered := 0
			for name, bs := range cfg.Backups {
				if bs.Schedule == "" {
					continue
				}
				set, err := loadSet(ctx, *configPath, name)
				if err != nil {
					return err
				}
				if err := sched.Add(name, bs.Schedule, set); err != nil {
					return err
				}
				log.Infof("scheduled %s: %s", name, bs.Schedule)
				registered++
			}
			if registered == 0 {
				log.Warn("no backup set has a schedule configured, nothing to do")
				return nil
			}

			sigCtx, stop := signal.NotifyContext(ctx, util.TerminationSignals()...)
			defer stop()

			sched.Start()
			log.Infof("scheduler running with %d backup set(s)", registered)
			<-sigCtx.Done()
			log.Info("shutting down, waiting for any in-progress run to finish")
			sched.Stop()
			return nil
		},
	}
	return cmd
}
