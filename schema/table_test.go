package schema

import (
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	cases := []struct {
		name          string
		columns       []Column
		partitionKeys []string
		expectErr     string
	}{
		{
			name: "valid table",
			columns: []Column{
				{Name: "region", Kind: String},
				{Name: "amount", Kind: Int64},
			},
			partitionKeys: []string{"region"},
		},
		{
			name: "duplicate column",
			columns: []Column{
				{Name: "region", Kind: String},
				{Name: "region", Kind: Int64},
			},
			expectErr: "duplicate column",
		},
		{
			name: "partition key is not a column",
			columns: []Column{
				{Name: "region", Kind: String},
			},
			partitionKeys: []string{"tenant"},
			expectErr:     "not a column",
		},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			table, err := New("sales", tcase.columns, tcase.partitionKeys...)
			if tcase.expectErr != "" {
				require.ErrorContains(t, err, tcase.expectErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tcase.columns), len(table.ParquetSchema().Fields()))
		})
	}
}

func TestMakeRow(t *testing.T) {
	table, err := New("sales", []Column{
		{Name: "region", Kind: String},
		{Name: "product", Kind: Int64},
		{Name: "price", Kind: Float64},
	}, "region")
	require.NoError(t, err)

	row, err := table.MakeRow("emea", int64(3), 9.5)
	require.NoError(t, err)
	require.Len(t, row, 3)
	require.Equal(t, "emea", string(row[0].ByteArray()))
	require.Equal(t, int64(3), row[1].Int64())
	require.Equal(t, 9.5, row[2].Double())
	for i, value := range row {
		require.Equal(t, i, value.Column())
	}

	_, err = table.MakeRow("emea", int64(3))
	require.Error(t, err)

	_, err = table.MakeRow("emea", "not-an-int", 9.5)
	require.Error(t, err)
}

func TestTableLookups(t *testing.T) {
	table, err := New("sales", []Column{
		{Name: "region", Kind: String},
		{Name: "amount", Kind: Int64},
	}, "region")
	require.NoError(t, err)

	require.True(t, table.IsPartitionKey("region"))
	require.False(t, table.IsPartitionKey("amount"))

	column, ok := table.Column("amount")
	require.True(t, ok)
	require.Equal(t, Int64, column.Kind)

	_, ok = table.Column("missing")
	require.False(t, ok)

	require.Equal(t, []parquet.SortingColumn{parquet.Ascending("region")}, table.SortingColumns("region"))
	require.Len(t, table.BloomFilters(), 1)
}
