package exchange

import (
	"context"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/compute"
	"columnix/parquet-exchange-engine/storage"
)

// Router hashes each row's key tuple and appends the row to one of a fixed
// number of buckets. After Flush, all rows sharing a key tuple are in the
// same bucket, which is the co-location guarantee downstream operators rely
// on. Buckets that outgrow the memory budget spill to storage as sorted-by-
// arrival runs and are replayed in the same order, keeping re-execution
// byte-identical.
type Router struct {
	keyColumns []int
	numBuckets int

	budgetBytes int64
	spill       *storage.SpillStore
	metrics     *Metrics

	digest      *xxhash.Digest
	buckets     [][]parquet.Row
	bucketBytes []int64
	bucketRows  []int64
	spilledRuns [][]string
}

type RouterOption func(*Router)

func WithMetrics(metrics *Metrics) RouterOption {
	return func(router *Router) {
		router.metrics = metrics
	}
}

func WithSpill(spill *storage.SpillStore, budgetBytes int64) RouterOption {
	return func(router *Router) {
		router.spill = spill
		router.budgetBytes = budgetBytes
	}
}

func NewRouter(keyColumns []int, numBuckets int, options ...RouterOption) (*Router, error) {
	if numBuckets <= 0 {
		return nil, errors.Errorf("exchange needs at least one bucket, got %d", numBuckets)
	}

	router := &Router{
		keyColumns:  keyColumns,
		numBuckets:  numBuckets,
		digest:      xxhash.New(),
		buckets:     make([][]parquet.Row, numBuckets),
		bucketBytes: make([]int64, numBuckets),
		bucketRows:  make([]int64, numBuckets),
		spilledRuns: make([][]string, numBuckets),
	}
	for _, option := range options {
		option(router)
	}
	return router, nil
}

func (r *Router) NumBuckets() int { return r.numBuckets }

// Route appends every row of the batch to its bucket.
func (r *Router) Route(ctx context.Context, batch compute.Batch) error {
	keys := make([]parquet.Value, len(r.keyColumns))
	for i := 0; i < batch.NumRows(); i++ {
		for k, column := range r.keyColumns {
			keys[k] = batch.Columns[column][i]
		}
		row := batch.Row(i)
		bucket := BucketOf(r.digest, keys, r.numBuckets)

		rowBytes := sizeOfRow(row)
		r.buckets[bucket] = append(r.buckets[bucket], row)
		r.bucketBytes[bucket] += rowBytes
		r.bucketRows[bucket]++
		r.metrics.observeRouted(bucket, rowBytes)

		if r.budgetBytes > 0 && r.bucketBytes[bucket] > r.budgetBytes/int64(r.numBuckets) {
			if err := r.spillBucket(ctx, bucket); err != nil {
				return err
			}
		}
	}
	return nil
}

// RouteRows routes pre-assembled rows, used by stages whose input is the
// output of an upstream operator rather than a scan.
func (r *Router) RouteRows(ctx context.Context, rows []parquet.Row) error {
	keys := make([]parquet.Value, len(r.keyColumns))
	for _, row := range rows {
		for k, column := range r.keyColumns {
			keys[k] = row[column]
		}
		bucket := BucketOf(r.digest, keys, r.numBuckets)

		rowBytes := sizeOfRow(row)
		r.buckets[bucket] = append(r.buckets[bucket], row)
		r.bucketBytes[bucket] += rowBytes
		r.bucketRows[bucket]++
		r.metrics.observeRouted(bucket, rowBytes)

		if r.budgetBytes > 0 && r.bucketBytes[bucket] > r.budgetBytes/int64(r.numBuckets) {
			if err := r.spillBucket(ctx, bucket); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Router) spillBucket(ctx context.Context, bucket int) error {
	if r.spill == nil {
		return nil
	}
	run, err := r.spill.WriteRun(ctx, r.buckets[bucket])
	if err != nil {
		return err
	}
	r.spilledRuns[bucket] = append(r.spilledRuns[bucket], run)
	r.buckets[bucket] = r.buckets[bucket][:0]
	r.bucketBytes[bucket] = 0
	r.metrics.observeSpill()
	return nil
}

// BucketRows returns the observed row count per bucket. The executor feeds
// these into plan revision at the stage boundary.
func (r *Router) BucketRows() []int64 {
	counts := make([]int64, len(r.bucketRows))
	copy(counts, r.bucketRows)
	return counts
}

// Bucket replays all rows routed to one bucket, spilled runs first in spill
// order, then the in-memory tail. The order is a pure function of the
// routed input order.
func (r *Router) Bucket(ctx context.Context, bucket int) ([]parquet.Row, error) {
	rows := make([]parquet.Row, 0, r.bucketRows[bucket])
	for _, run := range r.spilledRuns[bucket] {
		reader, closer, err := r.spill.OpenRun(ctx, run)
		if err != nil {
			return nil, err
		}
		runRows, err := readAllRows(reader)
		closer.Close()
		if err != nil {
			return nil, err
		}
		rows = append(rows, runRows...)
	}
	rows = append(rows, r.buckets[bucket]...)
	return rows, nil
}

// Flush marks the end of routing. All upstream rows must have been routed
// before any bucket is consumed; Flush is that barrier.
func (r *Router) Flush() {
	r.metrics.observeSkew(r.bucketRows)
}

func readAllRows(reader parquet.RowReader) ([]parquet.Row, error) {
	rows := make([]parquet.Row, 0)
	buffer := make([]parquet.Row, 128)
	for {
		n, err := reader.ReadRows(buffer)
		for i := 0; i < n; i++ {
			rows = append(rows, buffer[i].Clone())
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, err
		}
	}
}

func sizeOfRow(row parquet.Row) int64 {
	var numBytes int64
	for _, value := range row {
		switch value.Kind() {
		case parquet.ByteArray, parquet.FixedLenByteArray:
			numBytes += int64(len(value.ByteArray()))
		default:
			numBytes += 8
		}
	}
	return numBytes
}
