package window

import (
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore/providers/filesystem"

	"columnix/parquet-exchange-engine/schema"
	"columnix/parquet-exchange-engine/storage"
)

var testColumns = []schema.Column{
	{Name: "product", Kind: schema.Int64},
	{Name: "ts", Kind: schema.Int64},
	{Name: "amount", Kind: schema.Int64},
}

func testRow(product, ts, amount int64) parquet.Row {
	return parquet.Row{
		parquet.Int64Value(product).Level(0, 0, 0),
		parquet.Int64Value(ts).Level(0, 0, 1),
		parquet.Int64Value(amount).Level(0, 0, 2),
	}
}

func results(t *testing.T, rows []parquet.Row, column int) []int64 {
	t.Helper()
	out := make([]int64, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[column].Int64())
	}
	return out
}

func TestRowsFrameRunningSum(t *testing.T) {
	operator, err := NewOperator(testColumns, []Spec{{
		Name:        "running",
		PartitionBy: []string{"product"},
		OrderBy:     "ts",
		Frame:       Rows(Unbounded, 0),
		Agg:         AggSum,
		Arg:         "amount",
	}})
	require.NoError(t, err)

	rows := []parquet.Row{
		testRow(1, 3, 30),
		testRow(1, 1, 10),
		testRow(2, 1, 5),
		testRow(1, 2, 20),
		testRow(2, 2, 7),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, output, len(rows))

	// Groups emit in sorted key order, rows in ordering-key order.
	require.Equal(t, []int64{1, 1, 1, 2, 2}, results(t, output, 0))
	require.Equal(t, []int64{10, 30, 60, 5, 12}, results(t, output, 3))
}

func TestRowsFrameSlidingWindow(t *testing.T) {
	operator, err := NewOperator(testColumns, []Spec{{
		Name:        "trailing2",
		PartitionBy: []string{"product"},
		OrderBy:     "ts",
		Frame:       Rows(1, 0),
		Agg:         AggSum,
		Arg:         "amount",
	}})
	require.NoError(t, err)

	rows := []parquet.Row{
		testRow(1, 1, 1),
		testRow(1, 2, 2),
		testRow(1, 3, 4),
		testRow(1, 4, 8),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 6, 12}, results(t, output, 3))
}

func TestRangeFrame(t *testing.T) {
	operator, err := NewOperator(testColumns, []Spec{{
		Name:        "window3",
		PartitionBy: []string{"product"},
		OrderBy:     "ts",
		Frame:       Range(2, 0),
		Agg:         AggSum,
		Arg:         "amount",
	}})
	require.NoError(t, err)

	// ts gaps matter for range frames: ts=10 is outside [ts-2, ts] of ts=20.
	rows := []parquet.Row{
		testRow(1, 10, 1),
		testRow(1, 11, 2),
		testRow(1, 20, 4),
		testRow(1, 21, 8),
		testRow(1, 22, 16),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4, 12, 28}, results(t, output, 3))
}

func TestWholePartitionAggregates(t *testing.T) {
	specs := []Spec{
		{
			Name:        "total",
			PartitionBy: []string{"product"},
			Frame:       WholePartition(),
			Agg:         AggSum,
			Arg:         "amount",
		},
		{
			Name:        "rows",
			PartitionBy: []string{"product"},
			Frame:       WholePartition(),
			Agg:         AggCount,
			Arg:         "amount",
		},
	}
	operator, err := NewOperator(testColumns, specs)
	require.NoError(t, err)

	rows := []parquet.Row{
		testRow(1, 1, 10),
		testRow(1, 2, 20),
		testRow(2, 1, 5),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)
	require.Equal(t, []int64{30, 30, 5}, results(t, output, 3))
	require.Equal(t, []int64{2, 2, 1}, results(t, output, 4))

	outputColumns := operator.OutputColumns()
	require.Len(t, outputColumns, 5)
	require.Equal(t, "total", outputColumns[3].Name)
	require.Equal(t, schema.Int64, outputColumns[4].Kind)
}

func TestGlobalAggregateWithoutPartitionKeys(t *testing.T) {
	operator, err := NewOperator(testColumns, []Spec{{
		Name:  "grand_total",
		Frame: WholePartition(),
		Agg:   AggSum,
		Arg:   "amount",
	}})
	require.NoError(t, err)

	rows := []parquet.Row{
		testRow(1, 1, 1),
		testRow(2, 2, 1),
		testRow(3, 3, 2),
		testRow(1, 4, 2),
		testRow(2, 5, 3),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, output, 5)
	for _, row := range output {
		require.Equal(t, int64(9), row[3].Int64())
	}
}

func TestMinMaxAvg(t *testing.T) {
	floatColumns := []schema.Column{
		{Name: "product", Kind: schema.Int64},
		{Name: "ts", Kind: schema.Int64},
		{Name: "price", Kind: schema.Float64},
	}
	row := func(product, ts int64, price float64) parquet.Row {
		return parquet.Row{
			parquet.Int64Value(product).Level(0, 0, 0),
			parquet.Int64Value(ts).Level(0, 0, 1),
			parquet.DoubleValue(price).Level(0, 0, 2),
		}
	}
	specs := []Spec{
		{Name: "low", PartitionBy: []string{"product"}, OrderBy: "ts", Frame: Rows(1, 0), Agg: AggMin, Arg: "price"},
		{Name: "high", PartitionBy: []string{"product"}, OrderBy: "ts", Frame: Rows(1, 0), Agg: AggMax, Arg: "price"},
		{Name: "mid", PartitionBy: []string{"product"}, OrderBy: "ts", Frame: Rows(1, 0), Agg: AggAvg, Arg: "price"},
	}
	operator, err := NewOperator(floatColumns, specs)
	require.NoError(t, err)

	rows := []parquet.Row{
		row(1, 1, 4),
		row(1, 2, 2),
		row(1, 3, 8),
	}
	output, err := operator.Process(context.Background(), rows)
	require.NoError(t, err)

	lows := []float64{4, 2, 2}
	highs := []float64{4, 4, 8}
	mids := []float64{4, 3, 5}
	for i, outputRow := range output {
		require.Equal(t, lows[i], outputRow[3].Double())
		require.Equal(t, highs[i], outputRow[4].Double())
		require.Equal(t, mids[i], outputRow[5].Double())
	}
}

func TestOperatorValidation(t *testing.T) {
	cases := []struct {
		name      string
		specs     []Spec
		expectErr string
	}{
		{
			name:      "no specs",
			expectErr: "at least one specification",
		},
		{
			name: "mixed sort signatures",
			specs: []Spec{
				{Name: "a", PartitionBy: []string{"product"}, OrderBy: "ts", Frame: Rows(1, 0), Agg: AggSum, Arg: "amount"},
				{Name: "b", PartitionBy: []string{"product"}, OrderBy: "amount", Frame: Rows(1, 0), Agg: AggSum, Arg: "amount"},
			},
			expectErr: "does not share",
		},
		{
			name: "unknown partition key",
			specs: []Spec{
				{Name: "a", PartitionBy: []string{"tenant"}, Frame: WholePartition(), Agg: AggSum, Arg: "amount"},
			},
			expectErr: "unknown column",
		},
		{
			name: "bounded frame without ordering",
			specs: []Spec{
				{Name: "a", PartitionBy: []string{"product"}, Frame: Rows(1, 0), Agg: AggSum, Arg: "amount"},
			},
			expectErr: "no ordering key",
		},
		{
			name: "unknown aggregate input",
			specs: []Spec{
				{Name: "a", PartitionBy: []string{"product"}, Frame: WholePartition(), Agg: AggSum, Arg: "discount"},
			},
			expectErr: "unknown column",
		},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			_, err := NewOperator(testColumns, tcase.specs)
			require.ErrorContains(t, err, tcase.expectErr)
		})
	}
}

// An input past the in-memory budget sorts through spilled runs and must
// produce the same output as the in-memory path.
func TestExternalSort(t *testing.T) {
	spec := Spec{
		Name:        "running",
		PartitionBy: []string{"product"},
		OrderBy:     "ts",
		Frame:       Rows(Unbounded, 0),
		Agg:         AggSum,
		Arg:         "amount",
	}

	numRows := 256
	rows := make([]parquet.Row, 0, numRows)
	for i := 0; i < numRows; i++ {
		// Reversed ordering key so the sort has to do real work.
		rows = append(rows, testRow(1, int64(numRows-i), 1))
	}

	inMemory, err := NewOperator(testColumns, []Spec{spec})
	require.NoError(t, err)
	expected, err := inMemory.Process(context.Background(), rows)
	require.NoError(t, err)

	bucket, err := filesystem.NewBucket(t.TempDir())
	require.NoError(t, err)
	defer bucket.Close()

	table, err := schema.New("spill", testColumns)
	require.NoError(t, err)
	spill := storage.NewSpillStore(bucket, table.ParquetSchema(), "spill/window", log.NewNopLogger())

	spilling, err := NewOperator(testColumns, []Spec{spec}, WithSpill(spill, 32))
	require.NoError(t, err)
	output, err := spilling.Process(context.Background(), rows)
	require.NoError(t, err)

	require.Equal(t, len(expected), len(output))
	for i := range expected {
		require.Equal(t, expected[i], output[i], "row %d", i)
	}
}
