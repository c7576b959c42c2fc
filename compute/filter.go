package compute

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/schema"
)

// ValueFilter re-evaluates one filter against a projected batch column.
// It backs the fail-closed path: whenever the storage layer cannot
// guarantee a predicate was applied, the same condition runs here row by
// row.
type ValueFilter struct {
	ColumnIndex int
	Matches     func(value parquet.Value) bool
}

func NewValueFilter(columnIndex int, kind schema.Kind, op dataset.CompareOp, value string) (ValueFilter, error) {
	matches, err := valueMatcher(kind, op, value)
	if err != nil {
		return ValueFilter{}, err
	}
	return ValueFilter{ColumnIndex: columnIndex, Matches: matches}, nil
}

func valueMatcher(kind schema.Kind, op dataset.CompareOp, value string) (func(parquet.Value) bool, error) {
	switch kind {
	case schema.Int64:
		want, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "filter value %q is not an integer", value)
		}
		return func(v parquet.Value) bool {
			return matchesOp(op, compareInt64(v.Int64(), want))
		}, nil
	case schema.Float64:
		want, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "filter value %q is not a number", value)
		}
		return func(v parquet.Value) bool {
			return matchesOp(op, compareFloat64(v.Double(), want))
		}, nil
	default:
		return func(v parquet.Value) bool {
			return matchesOp(op, compareString(string(v.ByteArray()), value))
		}, nil
	}
}

func matchesOp(op dataset.CompareOp, cmp int) bool {
	switch op {
	case dataset.OpEquals:
		return cmp == 0
	case dataset.OpGreaterEq:
		return cmp >= 0
	case dataset.OpLessEq:
		return cmp <= 0
	}
	return true
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FilterRows drops the rows of the wrapped fragment that fail any filter.
type FilterRows struct {
	fragment Fragment
	filters  []ValueFilter
}

func NewFilterRows(fragment Fragment, filters []ValueFilter) *FilterRows {
	return &FilterRows{fragment: fragment, filters: filters}
}

func (f *FilterRows) MaxBatchSize() int64 { return f.fragment.MaxBatchSize() }

func (f *FilterRows) NextBatch() (Batch, error) {
	inputBatch, err := f.fragment.NextBatch()
	if err != nil {
		return Batch{}, err
	}

	keep := make([]int, 0, inputBatch.NumRows())
rows:
	for i := 0; i < inputBatch.NumRows(); i++ {
		for _, filter := range f.filters {
			if !filter.Matches(inputBatch.Columns[filter.ColumnIndex][i]) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	if len(keep) == inputBatch.NumRows() {
		return inputBatch, nil
	}

	outputBatch := Batch{
		Partition: inputBatch.Partition,
		Columns:   make([][]parquet.Value, len(inputBatch.Columns)),
	}
	for col := range inputBatch.Columns {
		outputBatch.Columns[col] = make([]parquet.Value, 0, len(keep))
		for _, row := range keep {
			outputBatch.Columns[col] = append(outputBatch.Columns[col], inputBatch.Columns[col][row])
		}
	}
	return outputBatch, nil
}

func (f *FilterRows) Close() error {
	return f.fragment.Close()
}
