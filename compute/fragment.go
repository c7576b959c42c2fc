package compute

import (
	"io"

	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/db"
)

// Batch is a column-major slice of values annotated with the partition it
// was read from. Batches are immutable once produced.
type Batch struct {
	Partition db.Partition
	Columns   [][]parquet.Value
}

func (b Batch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return len(b.Columns[0])
}

// Row assembles row i of the batch, assigning column indexes in batch
// column order.
func (b Batch) Row(i int) parquet.Row {
	row := make(parquet.Row, 0, len(b.Columns))
	for col := range b.Columns {
		row = append(row, b.Columns[col][i].Level(0, 0, col))
	}
	return row
}

// Fragment is a stream of batches. NextBatch returns io.EOF once the stream
// is exhausted.
type Fragment interface {
	io.Closer
	NextBatch() (Batch, error)
	MaxBatchSize() int64
}
