package compute

import (
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/dataset"
	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/generic"
)

// Projection reads the selected row ranges of the requested columns, one
// row group at a time, and feeds them out as fixed-size batches annotated
// with the source partition.
type Projection struct {
	partition  db.Partition
	reader     *db.FileReader
	columns    []parquet.LeafColumn
	selections []dataset.SelectionResult
	batchSize  int64

	group    int
	buffered [][]parquet.Value
	offset   int
}

func NewProjection(
	partition db.Partition,
	file *parquet.File,
	reader *db.FileReader,
	selections []dataset.SelectionResult,
	batchSize int64,
	columnNames ...string,
) (*Projection, error) {
	columns := make([]parquet.LeafColumn, 0, len(columnNames))
	for _, columnName := range columnNames {
		column, ok := file.Schema().Lookup(columnName)
		if !ok {
			return nil, errors.Errorf("projected column %s not found in part file", columnName)
		}
		columns = append(columns, column)
	}

	return &Projection{
		partition:  partition,
		reader:     reader,
		columns:    columns,
		selections: selections,
		batchSize:  batchSize,
	}, nil
}

func (p *Projection) MaxBatchSize() int64 { return p.batchSize }

func (p *Projection) NextBatch() (Batch, error) {
	for p.buffered == nil || p.offset >= len(p.buffered[0]) {
		if err := p.readNextGroup(); err != nil {
			return Batch{}, err
		}
	}

	numRows := len(p.buffered[0]) - p.offset
	if int64(numRows) > p.batchSize {
		numRows = int(p.batchSize)
	}

	batch := Batch{
		Partition: p.partition,
		Columns:   make([][]parquet.Value, len(p.buffered)),
	}
	for col := range p.buffered {
		batch.Columns[col] = p.buffered[col][p.offset : p.offset+numRows]
	}
	p.offset += numRows
	return batch, nil
}

func (p *Projection) readNextGroup() error {
	for {
		if p.group >= len(p.selections) {
			return io.EOF
		}
		selection := p.selections[p.group]
		p.group++
		if selection.NumRows() == 0 {
			continue
		}

		buffered := make([][]parquet.Value, len(p.columns))
		err := generic.ParallelEach(p.columns, func(i int, column parquet.LeafColumn) error {
			values, err := p.readColumn(selection, column)
			if err != nil {
				return err
			}
			buffered[i] = values
			return nil
		})
		if err != nil {
			return err
		}
		p.buffered = buffered
		p.offset = 0
		return nil
	}
}

func (p *Projection) readColumn(selection dataset.SelectionResult, column parquet.LeafColumn) ([]parquet.Value, error) {
	chunk := selection.RowGroup().ColumnChunks()[column.ColumnIndex]
	if from, to, ok := dataset.PageOffsetRange(chunk, selection.Ranges()); ok {
		if err := p.reader.LoadSection(from, to); err != nil {
			return nil, err
		}
	}

	values := make([]parquet.Value, 0, selection.NumRows())
	pages := chunk.Pages()
	defer pages.Close()

	for _, rows := range selection.Ranges() {
		cursor := rows.From
		if err := pages.SeekToRow(cursor); err != nil {
			return nil, err
		}
		for cursor < rows.To {
			page, err := pages.ReadPage()
			if err != nil {
				return nil, err
			}

			numValues := rows.To - cursor
			if numValues > page.NumValues() {
				numValues = page.NumValues()
			}
			pageValues := make([]parquet.Value, numValues)
			n, err := page.Values().ReadValues(pageValues)
			if err != nil && err != io.EOF {
				return nil, err
			}
			values = append(values, pageValues[:n]...)
			cursor += int64(n)
		}
	}
	return values, nil
}

func (p *Projection) Close() error {
	p.reader.Release()
	return nil
}
