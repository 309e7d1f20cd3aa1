// Package scheduler periodically runs configured backup sets on their
// own cron schedule, replacing the original CLI's one-shot invocation
// model (spec's Non-goals exclude continuous/real-time watch, so this
// is periodic polling via github.com/robfig/cron/v3, not fsnotify).
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "scheduler")

// Runnable is the subset of *backupset.Set the scheduler depends on,
// kept as an interface so tests don't need a real store/backend.
type Runnable interface {
	Backup(ctx context.Context, preserveScratch, dryRun bool) error
}

// Scheduler owns one cron entry per named backup set that has a
// non-empty Schedule in its config.
type Scheduler struct {
	cron *cron.Cron
	ids  map[string]cron.EntryID
}

// New builds an idle Scheduler. Call Start to begin firing entries.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ids:  map[string]cron.EntryID{},
	}
}

// Add registers name to run on spec (standard 5-field cron syntax). A
// run that returns an error is logged, not retried early — the next
// scheduled tick will try again.
func (s *Scheduler) Add(name, spec string, set Runnable) error {
	id, err := s.cron.AddFunc(spec, func() {
		log.Infof("starting scheduled backup for %s", name)
		if err := set.Backup(context.Background(), false, false); err != nil {
			log.WithError(err).Errorf("scheduled backup for %s finished with errors", name)
			return
		}
		log.Infof("scheduled backup for %s finished", name)
	})
	if err != nil {
		return err
	}
	s.ids[name] = id
	return nil
}

// Start begins firing registered entries in their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop blocks until any in-progress run completes, then halts the
// scheduler. It does not cancel a run already in flight.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Remove unregisters a previously-added entry, if any.
func (s *Scheduler) Remove(name string) {
	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
		delete(s.ids, name)
	}
}
