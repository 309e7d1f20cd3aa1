package store

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// countingDriver counts calls; Load fails with a transient error while the
// call count is below transientUntil, and returns loadErr after that.
type countingDriver struct {
	calls          int
	loadErr        error
	transientUntil int
}

func (d *countingDriver) Save(context.Context, string, string) error { return nil }

func (d *countingDriver) Load(context.Context, string, io.Writer) error {
	d.calls++
	if d.transientUntil > 0 && d.calls < d.transientUntil {
		return errors.New("connection reset")
	}
	return d.loadErr
}

func (d *countingDriver) Query(context.Context, string) ([]string, error) { return nil, nil }

func (d *countingDriver) Delete(context.Context, string) error { return nil }

func TestWithRetry_NotFoundIsNotRetried(t *testing.T) {
	inner := &countingDriver{loadErr: &backuperrors.NotFound{RemoteName: "abc/def"}}
	// maxElapsed == 0 means "retry forever" absent permanent-error
	// classification; this asserts NotFound short-circuits that instead
	// of hanging until the test times out.
	d := WithRetry(inner, 0)

	err := d.Load(context.Background(), "abc/def", io.Discard)
	require.Error(t, err)
	var nf *backuperrors.NotFound
	require.ErrorAs(t, err, &nf)
	require.Equal(t, 1, inner.calls)
}

func TestWithRetry_TransientErrorIsRetriedUntilSuccess(t *testing.T) {
	inner := &countingDriver{transientUntil: 3}
	d := WithRetry(inner, 0)

	err := d.Load(context.Background(), "abc/def", io.Discard)
	require.NoError(t, err)
	require.Equal(t, 3, inner.calls)
}
