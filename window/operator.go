package window

import (
	"context"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/schema"
)

// Operator computes a group of window specifications that share one
// (partition keys, ordering key) pair, in a single pass per partition:
// rows are sorted by the ordering key once, every spec's frame slides over
// the shared sorted sequence, and results are attached to each row as new
// columns.
type Operator struct {
	columns     []schema.Column
	columnIndex map[string]int
	specs       []Spec

	maxRowsInMemory int
	spill           spiller
	logger          log.Logger
}

type Option func(*Operator)

func WithLogger(logger log.Logger) Option {
	return func(operator *Operator) {
		operator.logger = logger
	}
}

// WithSpill bounds the rows sorted in memory; larger inputs are sorted as
// spilled runs and merged back.
func WithSpill(spill spiller, maxRowsInMemory int) Option {
	return func(operator *Operator) {
		operator.spill = spill
		operator.maxRowsInMemory = maxRowsInMemory
	}
}

func NewOperator(columns []schema.Column, specs []Spec, options ...Option) (*Operator, error) {
	if len(specs) == 0 {
		return nil, errors.New("window operator needs at least one specification")
	}

	columnIndex := make(map[string]int, len(columns))
	for i, column := range columns {
		columnIndex[column.Name] = i
	}

	signature := specs[0].SortSignature()
	for _, spec := range specs {
		if spec.SortSignature() != signature {
			return nil, errors.Errorf("specification %s does not share partition and ordering keys", spec.Name)
		}
		if err := validateSpec(columns, columnIndex, spec); err != nil {
			return nil, err
		}
	}

	return &Operator{
		columns:     columns,
		columnIndex: columnIndex,
		specs:       specs,
		logger:      log.NewNopLogger(),
	}, nil
}

func validateSpec(columns []schema.Column, columnIndex map[string]int, spec Spec) error {
	for _, key := range spec.PartitionBy {
		if _, ok := columnIndex[key]; !ok {
			return errors.Errorf("window %s partitions by unknown column %s", spec.Name, key)
		}
	}
	argIndex, ok := columnIndex[spec.Arg]
	if !ok {
		return errors.Errorf("window %s aggregates unknown column %s", spec.Name, spec.Arg)
	}
	if _, err := newAccumulator(spec.Agg, columns[argIndex].Kind); err != nil {
		return errors.Wrapf(err, "window %s", spec.Name)
	}

	if spec.OrderBy == "" {
		if !spec.Frame.isWholePartition() {
			return errors.Errorf("window %s has a bounded frame but no ordering key", spec.Name)
		}
		return nil
	}
	orderIndex, ok := columnIndex[spec.OrderBy]
	if !ok {
		return errors.Errorf("window %s orders by unknown column %s", spec.Name, spec.OrderBy)
	}
	if spec.Frame.Mode == FrameRange && columns[orderIndex].Kind == schema.String {
		return errors.Errorf("window %s uses a range frame over non-numeric column %s", spec.Name, spec.OrderBy)
	}
	return nil
}

// OutputColumns is the input schema extended with one result column per
// specification.
func (o *Operator) OutputColumns() []schema.Column {
	output := make([]schema.Column, 0, len(o.columns)+len(o.specs))
	output = append(output, o.columns...)
	for _, spec := range o.specs {
		argKind := o.columns[o.columnIndex[spec.Arg]].Kind
		output = append(output, schema.Column{Name: spec.Name, Kind: resultKind(spec.Agg, argKind)})
	}
	return output
}

// Process runs the operator over the rows of one bucket. The output order
// is a pure function of the input multiset: groups are emitted in sorted
// key order and rows within a group in ordering-key order, so retries
// produce identical output.
func (o *Operator) Process(ctx context.Context, rows []parquet.Row) ([]parquet.Row, error) {
	groups, order := o.groupRows(rows)

	output := make([]parquet.Row, 0, len(rows))
	for _, key := range order {
		groupRows, err := o.processPartition(ctx, groups[key])
		if err != nil {
			return nil, err
		}
		output = append(output, groupRows...)
	}
	return output, nil
}

// groupRows splits bucket rows by partition-key tuple. A bucket may hold
// several key tuples after a hash exchange; each is windowed independently.
func (o *Operator) groupRows(rows []parquet.Row) (map[string][]parquet.Row, []string) {
	partitionBy := make([]int, 0, len(o.specs[0].PartitionBy))
	for _, key := range o.specs[0].PartitionBy {
		partitionBy = append(partitionBy, o.columnIndex[key])
	}

	groups := make(map[string][]parquet.Row)
	for _, row := range rows {
		key := groupKey(row, partitionBy)
		groups[key] = append(groups[key], row)
	}

	order := make([]string, 0, len(groups))
	for key := range groups {
		order = append(order, key)
	}
	sort.Strings(order)
	return groups, order
}

func groupKey(row parquet.Row, partitionBy []int) string {
	key := make([]byte, 0, 32)
	for _, column := range partitionBy {
		key = append(key, row[column].String()...)
		key = append(key, 0)
	}
	return string(key)
}

func (o *Operator) processPartition(ctx context.Context, rows []parquet.Row) ([]parquet.Row, error) {
	sorted, err := o.sortPartition(ctx, rows)
	if err != nil {
		return nil, err
	}

	results := make([][]parquet.Value, len(o.specs))
	for i, spec := range o.specs {
		results[i], err = o.accumulate(spec, sorted)
		if err != nil {
			return nil, err
		}
	}

	return o.emit(sorted, results), nil
}

// accumulate slides the spec's frame over the sorted partition. Both frame
// ends are monotone in the row index, so every row enters and leaves the
// accumulator exactly once.
func (o *Operator) accumulate(spec Spec, sorted []parquet.Row) ([]parquet.Value, error) {
	argIndex := o.columnIndex[spec.Arg]
	accumulator, err := newAccumulator(spec.Agg, o.columns[argIndex].Kind)
	if err != nil {
		return nil, err
	}

	var orderValues []float64
	if spec.Frame.Mode == FrameRange {
		orderIndex := o.columnIndex[spec.OrderBy]
		orderValues = make([]float64, len(sorted))
		for i, row := range sorted {
			orderValues[i] = numeric(row[orderIndex])
		}
	}

	results := make([]parquet.Value, len(sorted))
	lo, hi := 0, 0
	for i := range sorted {
		targetLo, targetHi := frameBounds(i, len(sorted), spec.Frame, orderValues)
		for hi < targetHi {
			accumulator.add(sorted[hi][argIndex])
			hi++
		}
		for lo < targetLo {
			accumulator.remove(sorted[lo][argIndex])
			lo++
		}
		results[i] = accumulator.result()
	}
	return results, nil
}

// frameBounds returns the half-open row range [lo, hi) covered by the frame
// at row i.
func frameBounds(i, numRows int, frame Frame, orderValues []float64) (int, int) {
	if frame.Mode == FrameRows {
		lo := 0
		if frame.Preceding != Unbounded && int64(i)-frame.Preceding > 0 {
			lo = i - int(frame.Preceding)
		}
		hi := numRows
		if frame.Following != Unbounded && int64(i)+frame.Following+1 < int64(numRows) {
			hi = i + int(frame.Following) + 1
		}
		return lo, hi
	}

	lo := 0
	if frame.Preceding != Unbounded {
		bound := orderValues[i] - float64(frame.Preceding)
		for lo < numRows && orderValues[lo] < bound {
			lo++
		}
	}
	hi := numRows
	if frame.Following != Unbounded {
		bound := orderValues[i] + float64(frame.Following)
		hi = i
		for hi < numRows && orderValues[hi] <= bound {
			hi++
		}
	}
	return lo, hi
}

// emit attaches each spec's result column to the sorted rows.
func (o *Operator) emit(sorted []parquet.Row, results [][]parquet.Value) []parquet.Row {
	output := make([]parquet.Row, 0, len(sorted))
	for i, row := range sorted {
		outputRow := make(parquet.Row, 0, len(row)+len(o.specs))
		outputRow = append(outputRow, row...)
		for specIndex := range o.specs {
			column := len(o.columns) + specIndex
			outputRow = append(outputRow, results[specIndex][i].Level(0, 0, column))
		}
		output = append(output, outputRow)
	}
	return output
}

func (o *Operator) sortPartition(ctx context.Context, rows []parquet.Row) ([]parquet.Row, error) {
	orderBy := o.specs[0].OrderBy
	if orderBy == "" {
		// Whole-partition frames do not depend on row order, but emitting
		// in a deterministic order keeps re-executed tasks byte-identical.
		orderBy = o.columns[0].Name
	}
	orderIndex := o.columnIndex[orderBy]

	less := func(a, b parquet.Row) bool {
		return compareRows(a, b, orderIndex) < 0
	}
	if o.spill == nil || len(rows) <= o.maxRowsInMemory {
		sorted := make([]parquet.Row, len(rows))
		copy(sorted, rows)
		sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
		return sorted, nil
	}

	level.Debug(o.logger).Log("msg", "sorting partition externally", "rows", len(rows), "budget", o.maxRowsInMemory)
	return o.externalSort(ctx, rows, less)
}

// compareRows orders by the ordering column first and falls back to the
// remaining columns so the sort is a total order.
func compareRows(a, b parquet.Row, orderIndex int) int {
	if cmp := compareValues(a[orderIndex], b[orderIndex]); cmp != 0 {
		return cmp
	}
	for column := range a {
		if column == orderIndex {
			continue
		}
		if cmp := compareValues(a[column], b[column]); cmp != 0 {
			return cmp
		}
	}
	return 0
}
