package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"
)

// ErrSpillExhausted marks a failed write to spill storage. Operators treat
// running out of memory as recoverable by spilling, but a failed spill is
// fatal to the query.
var ErrSpillExhausted = errors.New("spill storage exhausted")

// SpillDir is the bucket prefix reserved for spill runs. Dataset readers
// skip it, so runs orphaned by a crashed query cannot shadow data files.
const SpillDir = "spill"

// SpillStore persists sorted runs of rows that no longer fit in an
// operator's memory budget. Runs are written as parquet objects under a
// per-task prefix so retried tasks overwrite rather than append.
type SpillStore struct {
	bucket objstore.Bucket
	schema *parquet.Schema
	prefix string
	logger log.Logger

	mu      sync.Mutex
	numRuns int
}

func NewSpillStore(bucket objstore.Bucket, schema *parquet.Schema, prefix string, logger log.Logger) *SpillStore {
	return &SpillStore{
		bucket: bucket,
		schema: schema,
		prefix: prefix,
		logger: logger,
	}
}

// WriteRun writes one run and returns its object name. The rows are assumed
// to be ordered by the caller.
func (s *SpillStore) WriteRun(ctx context.Context, rows []parquet.Row) (string, error) {
	s.mu.Lock()
	name := fmt.Sprintf("%s/run.%d.parquet", s.prefix, s.numRuns)
	s.numRuns++
	s.mu.Unlock()

	var buffer bytes.Buffer
	writer := parquet.NewGenericWriter[any](&buffer, s.schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return "", errors.Wrap(err, "failed writing spill run "+name)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "failed closing spill run "+name)
	}

	if err := s.bucket.Upload(ctx, name, &buffer); err != nil {
		level.Error(s.logger).Log("msg", "spill upload failed", "run", name, "err", err)
		return "", errors.Wrap(ErrSpillExhausted, err.Error())
	}
	level.Debug(s.logger).Log("msg", "spilled run", "run", name, "rows", len(rows))
	return name, nil
}

// OpenRun returns a row reader over a previously written run.
func (s *SpillStore) OpenRun(ctx context.Context, name string) (parquet.RowReader, io.Closer, error) {
	reader, err := s.bucket.Get(ctx, name)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed opening spill run "+name)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed reading spill run "+name)
	}
	file, err := parquet.OpenFile(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed decoding spill run "+name)
	}

	run := &runReader{file: file}
	return run, run, nil
}

// runReader chains the row groups of a run file into one row stream.
type runReader struct {
	file    *parquet.File
	current parquet.Rows
	group   int
}

func (r *runReader) ReadRows(rows []parquet.Row) (int, error) {
	for {
		if r.current == nil {
			if r.group >= len(r.file.RowGroups()) {
				return 0, io.EOF
			}
			r.current = r.file.RowGroups()[r.group].Rows()
			r.group++
		}
		n, err := r.current.ReadRows(rows)
		if err == io.EOF {
			if closeErr := r.current.Close(); closeErr != nil {
				return n, closeErr
			}
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *runReader) Close() error {
	if r.current == nil {
		return nil
	}
	return r.current.Close()
}

// Drop removes all runs written under the store's prefix.
func (s *SpillStore) Drop(ctx context.Context) error {
	return s.bucket.Iter(ctx, s.prefix, func(name string) error {
		return s.bucket.Delete(ctx, name)
	}, objstore.WithRecursiveIter)
}
