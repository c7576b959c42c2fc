package dataset_test

import (
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/pqtest"
)

func TestScan(t *testing.T) {
	table := pqtest.SalesTable(t)
	rows := make([][]any, 0, 48)
	for i := 0; i < 48; i++ {
		rows = append(rows, []any{"emea", int64(i % 6), int64(i), float64(i)})
	}
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, rows, db.WithMaxRowsPerGroup(8))
	partition := manifest.Partitions()[0]

	cases := []struct {
		name     string
		options  []dataset.ScannerOption
		expected int64
	}{
		{
			name:     "no predicates keep all rows",
			expected: 48,
		},
		{
			name: "equality on the sort column",
			options: []dataset.ScannerOption{
				dataset.Equals("product", parquet.Int64Value(2)),
			},
			expected: 8,
		},
		{
			name: "range over amount",
			options: []dataset.ScannerOption{
				dataset.GreaterThanOrEqual("amount", parquet.Int64Value(40)),
			},
			expected: 8,
		},
		{
			name: "conjunction",
			options: []dataset.ScannerOption{
				dataset.Equals("product", parquet.Int64Value(2)),
				dataset.LessThanOrEqual("amount", parquet.Int64Value(20)),
			},
			expected: 4,
		},
		{
			name: "no matches",
			options: []dataset.ScannerOption{
				dataset.Equals("amount", parquet.Int64Value(100)),
			},
			expected: 0,
		},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			for _, part := range partition.Parts {
				reader, err := db.OpenFileReader(part, bucket)
				require.NoError(t, err)
				file, err := parquet.OpenFile(reader, reader.FileSize())
				require.NoError(t, err)

				scanner := dataset.NewScanner(file, reader, tcase.options...)
				selections, err := scanner.Scan()
				require.NoError(t, err)
				require.Empty(t, scanner.Residual())

				var numRows int64
				for _, selection := range selections {
					numRows += selection.NumRows()
				}
				require.Equal(t, tcase.expected, numRows)
				reader.Release()
			}
		})
	}
}

// A predicate over a column the file does not carry keeps every row and is
// reported back so the execution layer can re-apply it.
func TestScanUnboundPredicate(t *testing.T) {
	table := pqtest.SalesTable(t)
	bucket, manifest := pqtest.WriteDataset(t, t.TempDir(), table, [][]any{
		{"emea", int64(1), int64(10), 1.0},
		{"emea", int64(2), int64(20), 2.0},
	})
	partition := manifest.Partitions()[0]

	reader, err := db.OpenFileReader(partition.Parts[0], bucket)
	require.NoError(t, err)
	file, err := parquet.OpenFile(reader, reader.FileSize())
	require.NoError(t, err)

	scanner := dataset.NewScanner(file, reader,
		dataset.Equals("discount", parquet.Int64Value(1)),
	)
	selections, err := scanner.Scan()
	require.NoError(t, err)
	require.Equal(t, []string{"discount"}, scanner.Residual())

	var numRows int64
	for _, selection := range selections {
		numRows += selection.NumRows()
	}
	require.Equal(t, int64(2), numRows)
}
