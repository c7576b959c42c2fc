package dataset

import (
	"github.com/segmentio/parquet-go"
)

// A RowSelector uses column chunk metadata to rule out rows without
// decoding them. Selectors must be conservative: when in doubt they select
// everything and leave the decision to the decoding filter.
type RowSelector interface {
	SelectRows(chunk parquet.ColumnChunk) RowSelection
}

type RowSelectors []RowSelector

func (s RowSelectors) SelectRows(chunk parquet.ColumnChunk) RowSelection {
	var selection RowSelection
	for _, selector := range s {
		selection = append(selection, selector.SelectRows(chunk)...)
	}
	return selection
}

type bloomSelector struct {
	value parquet.Value
}

func newBloomSelector(value parquet.Value) *bloomSelector {
	return &bloomSelector{value: value}
}

func (s bloomSelector) SelectRows(chunk parquet.ColumnChunk) RowSelection {
	var selection RowSelection
	bloomFilter := chunk.BloomFilter()
	if bloomFilter == nil {
		return SelectAll()
	}

	ok, err := bloomFilter.Check(s.value)
	if err != nil || ok {
		return SelectAll()
	}
	return selection.Skip(0, chunk.NumValues())
}

type compareFunc func(min, max parquet.Value) bool

type statsSelector struct {
	compare compareFunc
}

func newStatsSelector(compare compareFunc) *statsSelector {
	return &statsSelector{compare: compare}
}

func (s statsSelector) SelectRows(chunk parquet.ColumnChunk) RowSelection {
	var selection RowSelection
	offsetIndex := chunk.OffsetIndex()
	columnIndex := chunk.ColumnIndex()
	if offsetIndex == nil || columnIndex == nil {
		return SelectAll()
	}

	for i := 0; i < columnIndex.NumPages(); i++ {
		fromRow := offsetIndex.FirstRowIndex(i)
		var toRow int64
		if i < columnIndex.NumPages()-1 {
			toRow = offsetIndex.FirstRowIndex(i + 1)
		} else {
			toRow = chunk.NumValues()
		}

		matches := s.compare(columnIndex.MinValue(i), columnIndex.MaxValue(i))
		if !matches {
			selection = selection.Skip(fromRow, toRow)
		}
	}

	return selection
}
