package executor

import (
	"context"
	"io"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/compute"
	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/physical"
	"columnix/parquet-exchange-engine/storage"
)

// runTask executes one task with bounded retries. Each attempt is a pure
// function of the task's input: output rows are buffered inside the attempt
// and only a successful attempt's rows are returned, so at-least-once
// re-execution stays safe. Spill exhaustion is fatal immediately. Repeated
// failure surfaces as a query error naming the task.
func (e *Executor) runTask(
	ctx context.Context,
	name string,
	maxRetries int,
	task func(context.Context) ([]parquet.Row, error),
) ([]parquet.Row, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		rows, err := task(ctx)
		if err == nil {
			return rows, nil
		}
		if ctx.Err() != nil || errors.Is(err, storage.ErrSpillExhausted) {
			return nil, err
		}
		lastErr = err
		level.Warn(e.logger).Log(
			"msg", "task failed",
			"task", name,
			"attempt", attempt+1,
			"err", err,
		)
	}
	return nil, errors.Wrapf(lastErr, "%s failed after %d attempts", name, maxRetries+1)
}

// scanPartition reads every part file of one partition through the pushdown
// scanner and returns the filtered, projected rows. Filters the scanner
// could not bind to a column are re-applied row by row, as are the partition
// key filters, so a predicate is never silently dropped.
func (e *Executor) scanPartition(
	ctx context.Context,
	plan *physical.Plan,
	scan *physical.Scan,
	partition db.Partition,
) ([]parquet.Row, error) {
	var rows []parquet.Row
	for _, part := range partition.Parts {
		partRows, err := e.scanPart(ctx, plan, scan, partition, part)
		if err != nil {
			return nil, errors.Wrapf(err, "failed scanning part %s", part)
		}
		rows = append(rows, partRows...)
	}
	return rows, nil
}

func (e *Executor) scanPart(
	ctx context.Context,
	plan *physical.Plan,
	scan *physical.Scan,
	partition db.Partition,
	part string,
) ([]parquet.Row, error) {
	reader, err := db.OpenFileReader(part, e.bucket)
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	file, err := parquet.OpenFile(reader, reader.FileSize())
	if err != nil {
		return nil, err
	}

	options := []dataset.ScannerOption{dataset.WithLogger(e.logger)}
	for _, filter := range scan.PushFilters {
		option, err := scannerOption(scan, filter)
		if err != nil {
			return nil, err
		}
		options = append(options, option)
	}
	scanner := dataset.NewScanner(file, reader, options...)
	selections, err := scanner.Scan()
	if err != nil {
		return nil, err
	}

	projection, err := compute.NewProjection(partition, file, reader, selections, plan.Config.BatchSize, scan.Projection...)
	if err != nil {
		return nil, err
	}
	var fragment compute.Fragment = compute.NewConcurrent(projection, 2)
	defer fragment.Close()

	filters, err := residualFilters(scan, scanner.Residual())
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		fragment = compute.NewFilterRows(fragment, filters)
	}

	var rows []parquet.Row
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := fragment.NextBatch()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		for i := 0; i < batch.NumRows(); i++ {
			rows = append(rows, batch.Row(i))
		}
	}
}

func scannerOption(scan *physical.Scan, filter dataset.KeyFilter) (dataset.ScannerOption, error) {
	column, ok := scan.Table.Column(filter.Column)
	if !ok {
		return nil, errors.Errorf("filter references unknown column %s", filter.Column)
	}
	value, err := filterValue(column, filter.Value)
	if err != nil {
		return nil, err
	}
	switch filter.Op {
	case dataset.OpEquals:
		return dataset.Equals(filter.Column, value), nil
	case dataset.OpGreaterEq:
		return dataset.GreaterThanOrEqual(filter.Column, value), nil
	case dataset.OpLessEq:
		return dataset.LessThanOrEqual(filter.Column, value), nil
	}
	return nil, errors.Errorf("unsupported filter operator %v", filter.Op)
}

// residualFilters builds the fail-closed row filters: every partition key
// filter, because pruning keeps partitions it cannot decide, plus every
// pushdown filter the scanner reported as unbound.
func residualFilters(scan *physical.Scan, unbound []string) ([]compute.ValueFilter, error) {
	unboundSet := make(map[string]struct{}, len(unbound))
	for _, column := range unbound {
		unboundSet[column] = struct{}{}
	}

	residual := make([]dataset.KeyFilter, 0, len(scan.KeyFilters))
	residual = append(residual, scan.KeyFilters...)
	for _, filter := range scan.PushFilters {
		if _, ok := unboundSet[filter.Column]; ok {
			residual = append(residual, filter)
		}
	}

	filters := make([]compute.ValueFilter, 0, len(residual))
	for _, filter := range residual {
		column, ok := scan.Table.Column(filter.Column)
		if !ok {
			return nil, errors.Errorf("filter references unknown column %s", filter.Column)
		}
		index := -1
		for i, name := range scan.Projection {
			if name == filter.Column {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, errors.Errorf("filter column %s not projected", filter.Column)
		}
		valueFilter, err := compute.NewValueFilter(index, column.Kind, filter.Op, filter.Value)
		if err != nil {
			return nil, err
		}
		filters = append(filters, valueFilter)
	}
	return filters, nil
}
