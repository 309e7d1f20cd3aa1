package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingRunnable struct {
	calls atomic.Int32
}

func (c *countingRunnable) Backup(ctx context.Context, preserveScratch, dryRun bool) error {
	c.calls.Add(1)
	return nil
}

func TestScheduler_AddRegistersAJobThatCallsBackup(t *testing.T) {
	s := New()
	r := &countingRunnable{}
	require.NoError(t, s.Add("daily", "0 3 * * *", r))

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	entries[0].Job.Run()
	require.Equal(t, int32(1), r.calls.Load())
}

func TestScheduler_RemoveUnregistersEntry(t *testing.T) {
	s := New()
	r := &countingRunnable{}
	require.NoError(t, s.Add("daily", "0 3 * * *", r))
	require.Contains(t, s.ids, "daily")
	s.Remove("daily")
	require.NotContains(t, s.ids, "daily")
	require.Empty(t, s.cron.Entries())
}

func TestScheduler_AddInvalidSpecErrors(t *testing.T) {
	s := New()
	r := &countingRunnable{}
	err := s.Add("bad", "not a cron spec", r)
	require.Error(t, err)
}
