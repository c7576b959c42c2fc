package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/executor"
	"columnix/parquet-exchange-engine/physical"
	"columnix/parquet-exchange-engine/pqtest"
	"columnix/parquet-exchange-engine/storage"
	"columnix/parquet-exchange-engine/window"
)

// Five rows with product keys 1, 2 and 3: a whole-set sum over amount must
// come out as the scalar 1+1+2+2+3.
func TestExecuteGlobalSum(t *testing.T) {
	table := pqtest.SalesTable(t)
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, [][]any{
		{"amer", int64(1), int64(1), 1.0},
		{"amer", int64(2), int64(2), 2.0},
		{"emea", int64(1), int64(1), 1.0},
		{"emea", int64(3), int64(3), 3.0},
		{"apac", int64(2), int64(2), 2.0},
	})

	plan, err := physical.NewQuery(table).
		Window(window.Spec{
			Name:  "grand_total",
			Frame: window.WholePartition(),
			Agg:   window.AggSum,
			Arg:   "amount",
		}).
		Build(manifest, physical.DefaultConfig())
	require.NoError(t, err)

	result, err := executor.New(bucket).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 5, result.NumRows())

	totalColumn := len(result.Columns) - 1
	require.Equal(t, "grand_total", result.Columns[totalColumn].Name)
	for i := 0; i < result.NumRows(); i++ {
		require.Equal(t, int64(9), result.Value(i, totalColumn))
	}
}

func TestExecutePerKeyWindow(t *testing.T) {
	table := pqtest.SalesTable(t)
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, [][]any{
		{"amer", int64(1), int64(10), 1.0},
		{"emea", int64(1), int64(20), 2.0},
		{"emea", int64(2), int64(5), 3.0},
		{"apac", int64(2), int64(7), 4.0},
		{"apac", int64(3), int64(100), 5.0},
	})

	plan, err := physical.NewQuery(table).
		Window(window.Spec{
			Name:        "product_total",
			PartitionBy: []string{"product"},
			Frame:       window.WholePartition(),
			Agg:         window.AggSum,
			Arg:         "amount",
		}).
		Build(manifest, physical.DefaultConfig())
	require.NoError(t, err)

	result, err := executor.New(bucket).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 5, result.NumRows())

	productColumn := columnNamed(t, result, "product")
	totalColumn := columnNamed(t, result, "product_total")
	expected := map[int64]int64{1: 30, 2: 12, 3: 100}
	for i := 0; i < result.NumRows(); i++ {
		product := result.Value(i, productColumn).(int64)
		require.Equal(t, expected[product], result.Value(i, totalColumn), "product %d", product)
	}
}

// A coarse window sharing the exchange of a finer-keyed window must still
// see whole partitions: the shared exchange hashes by the common key prefix,
// so rows equal on product stay in one bucket even when their amounts differ.
func TestExecuteSharedExchangeKeepsPartitionsWhole(t *testing.T) {
	table := pqtest.SalesTable(t)
	regions := []string{"amer", "apac", "emea"}
	rows := make([][]any, 0, 32)
	for i := 0; i < 32; i++ {
		rows = append(rows, []any{regions[i%3], int64(i%2 + 1), int64(i), float64(i)})
	}
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, rows)

	plan, err := physical.NewQuery(table).
		Window(window.Spec{
			Name:        "product_rows",
			PartitionBy: []string{"product"},
			Frame:       window.WholePartition(),
			Agg:         window.AggCount,
			Arg:         "amount",
		}).
		Window(window.Spec{
			Name:        "pair_sum",
			PartitionBy: []string{"product", "amount"},
			Frame:       window.WholePartition(),
			Agg:         window.AggSum,
			Arg:         "amount",
		}).
		Build(manifest, physical.DefaultConfig())
	require.NoError(t, err)

	result, err := executor.New(bucket).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 32, result.NumRows())

	amountColumn := columnNamed(t, result, "amount")
	rowsColumn := columnNamed(t, result, "product_rows")
	pairColumn := columnNamed(t, result, "pair_sum")
	for i := 0; i < result.NumRows(); i++ {
		// 16 rows per product, and every (product, amount) pair is unique.
		require.Equal(t, int64(16), result.Value(i, rowsColumn))
		require.Equal(t, result.Value(i, amountColumn), result.Value(i, pairColumn))
	}
}

// A query that spills must not leave runs behind: the dataset stays readable
// and the spill prefix is empty once the query returns.
func TestExecuteSpillsThenLeavesDatasetClean(t *testing.T) {
	table := pqtest.SalesTable(t)
	regions := []string{"amer", "apac", "emea"}
	rows := make([][]any, 0, 64)
	for i := 0; i < 64; i++ {
		rows = append(rows, []any{regions[i%3], int64(i % 4), int64(i), float64(i)})
	}
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, rows)

	cfg := physical.DefaultConfig()
	cfg.MemoryBudgetBytes = 64
	plan, err := physical.NewQuery(table).
		Window(window.Spec{
			Name:        "product_rows",
			PartitionBy: []string{"product"},
			Frame:       window.WholePartition(),
			Agg:         window.AggCount,
			Arg:         "amount",
		}).
		Build(manifest, cfg)
	require.NoError(t, err)

	result, err := executor.New(bucket).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 64, result.NumRows())
	rowsColumn := columnNamed(t, result, "product_rows")
	for i := 0; i < result.NumRows(); i++ {
		require.Equal(t, int64(16), result.Value(i, rowsColumn))
	}

	// The spilled runs are gone and the manifest reads back unchanged.
	var leftovers []string
	err = bucket.Iter(context.Background(), "", func(name string) error {
		if strings.HasPrefix(name, storage.SpillDir+"/") {
			leftovers = append(leftovers, name)
		}
		return nil
	}, objstore.WithRecursiveIter)
	require.NoError(t, err)
	require.Empty(t, leftovers)

	reread, err := db.ReadManifest(context.Background(), bucket, table)
	require.NoError(t, err)
	require.Equal(t, manifest.NumRows(), reread.NumRows())
	require.Equal(t, len(manifest.Partitions()), len(reread.Partitions()))
}

// The same plan over the same data produces identical rows in identical
// order, which is what makes at-least-once task re-execution safe.
func TestExecuteIsDeterministic(t *testing.T) {
	table := pqtest.SalesTable(t)
	rows := make([][]any, 0, 40)
	for i := 0; i < 40; i++ {
		regions := []string{"amer", "apac", "emea"}
		rows = append(rows, []any{regions[i%3], int64(i % 5), int64(i), float64(i)})
	}
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, rows)

	build := func() *physical.Plan {
		plan, err := physical.NewQuery(table).
			Where("amount", dataset.OpGreaterEq, "5").
			Window(window.Spec{
				Name:        "running",
				PartitionBy: []string{"product"},
				OrderBy:     "amount",
				Frame:       window.Rows(window.Unbounded, 0),
				Agg:         window.AggSum,
				Arg:         "amount",
			}).
			Build(manifest, physical.DefaultConfig())
		require.NoError(t, err)
		return plan
	}

	first, err := executor.New(bucket).Execute(context.Background(), build())
	require.NoError(t, err)
	second, err := executor.New(bucket).Execute(context.Background(), build())
	require.NoError(t, err)

	require.Equal(t, first.Columns, second.Columns)
	require.Equal(t, first.Rows, second.Rows)
	require.Equal(t, 35, first.NumRows())
}

// Scan-only queries apply pruning and pushdown without any exchange.
func TestExecuteScanOnly(t *testing.T) {
	table := pqtest.SalesTable(t)
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, [][]any{
		{"amer", int64(1), int64(10), 1.0},
		{"emea", int64(2), int64(20), 2.0},
		{"emea", int64(3), int64(30), 3.0},
	})

	plan, err := physical.NewQuery(table).
		Where("region", dataset.OpEquals, "emea").
		Where("amount", dataset.OpGreaterEq, "25").
		Select("product", "amount").
		Build(manifest, physical.DefaultConfig())
	require.NoError(t, err)

	result, err := executor.New(bucket).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, 1, result.NumRows())
	require.Equal(t, int64(3), result.Value(0, columnNamed(t, result, "product")))
	require.Equal(t, int64(30), result.Value(0, columnNamed(t, result, "amount")))
}

// A partition whose files keep failing surfaces as a fatal error naming the
// partition after the retry budget is spent.
func TestExecuteRetriesThenFails(t *testing.T) {
	table := pqtest.SalesTable(t)
	dir := t.TempDir()
	bucket, manifest := pqtest.WriteDataset(t, dir, table, [][]any{
		{"amer", int64(1), int64(10), 1.0},
		{"emea", int64(2), int64(20), 2.0},
	})

	// Break one partition on disk after the manifest was read.
	corrupted := manifest.Partitions()[1]
	require.Equal(t, "region=emea", corrupted.Dir)
	for _, part := range corrupted.Parts {
		require.NoError(t, os.Remove(filepath.Join(dir, part+".parquet")))
	}

	cfg := physical.DefaultConfig()
	cfg.MaxRetries = 1
	plan, err := physical.NewQuery(table).
		Window(window.Spec{
			Name:        "total",
			PartitionBy: []string{"product"},
			Frame:       window.WholePartition(),
			Agg:         window.AggSum,
			Arg:         "amount",
		}).
		Build(manifest, cfg)
	require.NoError(t, err)

	_, err = executor.New(bucket).Execute(context.Background(), plan)
	require.Error(t, err)
	require.Contains(t, err.Error(), "region=emea")
	require.Contains(t, err.Error(), "after 2 attempts")
}

func columnNamed(t *testing.T, result *executor.Result, name string) int {
	t.Helper()
	for i, column := range result.Columns {
		if column.Name == name {
			return i
		}
	}
	t.Fatalf("column %s not in result", name)
	return -1
}
