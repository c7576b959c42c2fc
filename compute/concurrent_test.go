package compute_test

import (
	"io"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"columnix/parquet-exchange-engine/compute"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConcurrent(t *testing.T) {
	numBatches := 4
	fragment := &testFragment{
		numBatches: numBatches,
		batch: compute.Batch{
			Columns: [][]parquet.Value{
				{parquet.Int64Value(1), parquet.Int64Value(2)},
				{parquet.Int64Value(10), parquet.Int64Value(20)},
			},
		},
	}

	var batchesRead int
	c := compute.NewConcurrent(fragment, 3)
	for {
		batch, err := c.NextBatch()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, fragment.batch, batch)
		batchesRead++
	}

	require.NoError(t, c.Close())
	require.Equal(t, numBatches, batchesRead)
}

func TestConcurrentEarlyClose(t *testing.T) {
	fragment := &testFragment{
		numBatches: 100,
		delay:      10 * time.Millisecond,
		batch: compute.Batch{
			Columns: [][]parquet.Value{{parquet.Int64Value(1)}},
		},
	}

	c := compute.NewConcurrent(fragment, 0)
	batch, err := c.NextBatch()
	require.NoError(t, err)
	require.Equal(t, fragment.batch, batch)

	require.NoError(t, c.Close())
}

type testFragment struct {
	numBatches int
	delay      time.Duration
	batch      compute.Batch

	produced int
	closed   bool
}

func (f *testFragment) NextBatch() (compute.Batch, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.produced >= f.numBatches {
		return compute.Batch{}, io.EOF
	}
	f.produced++
	return f.batch, nil
}

func (f *testFragment) MaxBatchSize() int64 { return int64(f.batch.NumRows()) }

func (f *testFragment) Close() error {
	f.closed = true
	return nil
}
