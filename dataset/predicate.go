package dataset

import (
	"fmt"
	"strings"

	"github.com/segmentio/parquet-go"
)

// Predicate is a pushed-down filter over one column. SelectRows narrows the
// candidate rows from chunk metadata, Matches decides individual decoded
// values. A predicate must keep exactly the rows a row-level evaluation of
// the same condition would keep.
type Predicate interface {
	Column() parquet.LeafColumn
	SelectRows(rowGroup parquet.RowGroup) RowSelection
	Matches(value parquet.Value) bool
	String() string
}

type columnPredicate struct {
	column    parquet.LeafColumn
	value     parquet.Value
	operator  string
	selectors RowSelectors
	match     func(value parquet.Value) bool
}

func (p columnPredicate) Column() parquet.LeafColumn { return p.column }

func (p columnPredicate) SelectRows(rowGroup parquet.RowGroup) RowSelection {
	chunk := rowGroup.ColumnChunks()[p.column.ColumnIndex]
	return p.selectors.SelectRows(chunk)
}

func (p columnPredicate) Matches(value parquet.Value) bool { return p.match(value) }

func (p columnPredicate) String() string {
	return fmt.Sprintf("%s %s %s", strings.Join(p.column.Path, "."), p.operator, p.value)
}

func newEqualsMatcher(column parquet.LeafColumn, value parquet.Value) columnPredicate {
	compare := column.Node.Type().Compare
	return columnPredicate{
		column:   column,
		value:    value,
		operator: "=",
		selectors: RowSelectors{
			newBloomSelector(value),
			newStatsSelector(func(min, max parquet.Value) bool {
				return compare(min, value) <= 0 && compare(max, value) >= 0
			}),
		},
		match: func(rowValue parquet.Value) bool {
			return compare(rowValue, value) == 0
		},
	}
}

func newGTEMatcher(column parquet.LeafColumn, threshold parquet.Value) columnPredicate {
	compare := column.Node.Type().Compare
	return columnPredicate{
		column:   column,
		value:    threshold,
		operator: ">=",
		selectors: RowSelectors{
			newStatsSelector(func(_, max parquet.Value) bool {
				return compare(max, threshold) >= 0
			}),
		},
		match: func(rowValue parquet.Value) bool {
			return compare(rowValue, threshold) >= 0
		},
	}
}

func newLTEMatcher(column parquet.LeafColumn, threshold parquet.Value) columnPredicate {
	compare := column.Node.Type().Compare
	return columnPredicate{
		column:   column,
		value:    threshold,
		operator: "<=",
		selectors: RowSelectors{
			newStatsSelector(func(min, _ parquet.Value) bool {
				return compare(min, threshold) <= 0
			}),
		},
		match: func(rowValue parquet.Value) bool {
			return compare(rowValue, threshold) <= 0
		},
	}
}
