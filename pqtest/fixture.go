package pqtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"

	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/schema"
)

// SalesTable is the schema most tests query: two partition keys and two
// measure columns.
func SalesTable(t *testing.T) *schema.Table {
	table, err := schema.New("sales",
		[]schema.Column{
			{Name: "region", Kind: schema.String},
			{Name: "product", Kind: schema.Int64},
			{Name: "amount", Kind: schema.Int64},
			{Name: "price", Kind: schema.Float64},
		},
		"region",
	)
	require.NoError(t, err)
	return table
}

// WriteDataset writes rows into a partitioned dataset rooted at dir and
// returns a bucket over it plus its manifest. Each row is one value per
// column in schema order.
func WriteDataset(t *testing.T, dir string, table *schema.Table, rows [][]any, options ...db.WriterOption) (objstore.Bucket, *db.Manifest) {
	writer := db.NewWriter(dir, table, options...)
	for _, row := range rows {
		require.NoError(t, writer.Write(row...))
	}
	require.NoError(t, writer.Close())

	bucket, err := filesystem.NewBucket(dir)
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	manifest, err := db.ReadManifest(context.Background(), bucket, table)
	require.NoError(t, err)
	return bucket, manifest
}
