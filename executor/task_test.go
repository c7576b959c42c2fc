package executor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"

	"columnix/parquet-exchange-engine/storage"
)

func TestRunTaskRetriesTransientFailures(t *testing.T) {
	e := New(nil)

	attempts := 0
	rows, err := e.runTask(context.Background(), "stage 0 bucket 1", 2, func(context.Context) ([]parquet.Row, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return []parquet.Row{{parquet.ValueOf(int64(7))}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Len(t, rows, 1)
}

func TestRunTaskExhaustsRetries(t *testing.T) {
	e := New(nil)

	attempts := 0
	_, err := e.runTask(context.Background(), "stage 0 bucket 1", 1, func(context.Context) ([]parquet.Row, error) {
		attempts++
		return nil, errors.New("boom")
	})
	require.Equal(t, 2, attempts)
	require.ErrorContains(t, err, "stage 0 bucket 1 failed after 2 attempts")
}

func TestRunTaskDoesNotRetryFatalErrors(t *testing.T) {
	e := New(nil)

	attempts := 0
	_, err := e.runTask(context.Background(), "partition region=emea", 3, func(context.Context) ([]parquet.Row, error) {
		attempts++
		return nil, errors.Wrap(storage.ErrSpillExhausted, "upload failed")
	})
	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, storage.ErrSpillExhausted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts = 0
	_, err = e.runTask(ctx, "partition region=emea", 3, func(context.Context) ([]parquet.Row, error) {
		attempts++
		return nil, ctx.Err()
	})
	require.Equal(t, 1, attempts)
	require.ErrorIs(t, err, context.Canceled)
}
