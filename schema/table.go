package schema

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/compress"
	"github.com/segmentio/parquet-go/encoding"
	"golang.org/x/exp/slices"
)

// Kind is the physical type of a table column.
type Kind int

const (
	String Kind = iota
	Int64
	Float64
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	}
	return "unknown"
}

type Column struct {
	Name string
	Kind Kind
}

type tableRow struct {
	columns []Column
}

func (t tableRow) String() string { return fmt.Sprintf("%v", t.columns) }

func (t tableRow) Type() parquet.Type { return groupType{} }

func (t tableRow) Optional() bool { return false }

func (t tableRow) Repeated() bool { return false }

func (t tableRow) Required() bool { return true }

func (t tableRow) Leaf() bool { return false }

func (t tableRow) Fields() []parquet.Field {
	fields := make([]parquet.Field, 0, len(t.columns))
	for _, col := range t.columns {
		switch col.Kind {
		case Int64:
			fields = append(fields, newInt64Column(col.Name))
		case Float64:
			fields = append(fields, newFloat64Column(col.Name))
		default:
			fields = append(fields, newStringColumn(col.Name))
		}
	}
	return fields
}

func (t tableRow) Encoding() encoding.Encoding { return nil }

func (t tableRow) Compression() compress.Codec { return nil }

func (t tableRow) GoType() reflect.Type { return reflect.TypeOf(tableRow{}) }

// Table describes the schema of a partitioned dataset. Columns keep their
// declared order in the parquet schema, and partition keys are a subset of
// the columns whose values decide the directory a row is written to.
type Table struct {
	name          string
	columns       []Column
	partitionKeys []string
	columnIndex   map[string]int
	schema        *parquet.Schema
}

func New(name string, columns []Column, partitionKeys ...string) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		if _, ok := index[col.Name]; ok {
			return nil, errors.Errorf("duplicate column %s in table %s", col.Name, name)
		}
		index[col.Name] = i
	}
	for _, key := range partitionKeys {
		if _, ok := index[key]; !ok {
			return nil, errors.Errorf("partition key %s is not a column of table %s", key, name)
		}
	}

	return &Table{
		name:          name,
		columns:       slices.Clone(columns),
		partitionKeys: slices.Clone(partitionKeys),
		columnIndex:   index,
		schema:        parquet.NewSchema(name, tableRow{columns: columns}),
	}, nil
}

func (t *Table) Name() string { return t.name }

func (t *Table) Columns() []Column { return t.columns }

func (t *Table) PartitionKeys() []string { return t.partitionKeys }

func (t *Table) ParquetSchema() *parquet.Schema { return t.schema }

func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.columnIndex[name]
	return i, ok
}

func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.columnIndex[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

func (t *Table) IsPartitionKey(name string) bool {
	return slices.Contains(t.partitionKeys, name)
}

// MakeRow converts one Go value per column into a parquet row. Accepted
// value types are string, int, int64 and float64, checked against the
// column kind.
func (t *Table) MakeRow(values ...any) (parquet.Row, error) {
	if len(values) != len(t.columns) {
		return nil, errors.Errorf("table %s has %d columns, got %d values", t.name, len(t.columns), len(values))
	}

	row := make(parquet.Row, 0, len(values))
	for i, value := range values {
		pqValue, err := t.makeValue(t.columns[i], value)
		if err != nil {
			return nil, err
		}
		row = append(row, pqValue.Level(0, 0, i))
	}
	return row, nil
}

func (t *Table) makeValue(col Column, value any) (parquet.Value, error) {
	switch col.Kind {
	case Int64:
		switch v := value.(type) {
		case int64:
			return parquet.Int64Value(v), nil
		case int:
			return parquet.Int64Value(int64(v)), nil
		}
	case Float64:
		if v, ok := value.(float64); ok {
			return parquet.DoubleValue(v), nil
		}
	case String:
		if v, ok := value.(string); ok {
			return parquet.ByteArrayValue([]byte(v)), nil
		}
	}
	return parquet.Value{}, errors.Errorf("column %s expects %s, got %T", col.Name, col.Kind, value)
}

// SortingColumns returns the parquet sorting configuration for the given
// column order.
func (t *Table) SortingColumns(names ...string) []parquet.SortingColumn {
	sorting := make([]parquet.SortingColumn, 0, len(names))
	for _, name := range names {
		sorting = append(sorting, parquet.Ascending(name))
	}
	return sorting
}

// BloomFilters configures split-block bloom filters for all string columns,
// which are the ones equality predicates are pushed down to.
func (t *Table) BloomFilters() []parquet.BloomFilterColumn {
	filters := make([]parquet.BloomFilterColumn, 0, len(t.columns))
	for _, col := range t.columns {
		if col.Kind == String {
			filters = append(filters, parquet.SplitBlockFilter(10, col.Name))
		}
	}
	return filters
}
