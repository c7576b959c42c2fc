package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/schema"
)

// Result holds the materialized output of a query. Rows carry one value per
// column, in column order. The row order is stable across executions of the
// same plan over the same data.
type Result struct {
	Columns []schema.Column
	Rows    []parquet.Row
}

func (r *Result) NumRows() int { return len(r.Rows) }

// Value decodes one cell into its Go representation.
func (r *Result) Value(row, column int) any {
	value := r.Rows[row][column]
	if value.IsNull() {
		return nil
	}
	switch r.Columns[column].Kind {
	case schema.Int64:
		return value.Int64()
	case schema.Float64:
		return value.Double()
	default:
		return string(value.ByteArray())
	}
}

// String renders the result as a header line followed by one line per row,
// columns tab-separated. Meant for debugging and the CLI, not for parsing.
func (r *Result) String() string {
	var sb strings.Builder
	names := make([]string, 0, len(r.Columns))
	for _, column := range r.Columns {
		names = append(names, column.Name)
	}
	sb.WriteString(strings.Join(names, "\t"))
	sb.WriteString("\n")
	for i := range r.Rows {
		cells := make([]string, 0, len(r.Columns))
		for j := range r.Columns {
			cells = append(cells, fmt.Sprintf("%v", r.Value(i, j)))
		}
		sb.WriteString(strings.Join(cells, "\t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func filterValue(column schema.Column, raw string) (parquet.Value, error) {
	switch column.Kind {
	case schema.Int64:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return parquet.Value{}, errors.Wrapf(err, "filter value %q is not an integer", raw)
		}
		return parquet.ValueOf(parsed), nil
	case schema.Float64:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return parquet.Value{}, errors.Wrapf(err, "filter value %q is not a number", raw)
		}
		return parquet.ValueOf(parsed), nil
	default:
		return parquet.ValueOf(raw), nil
	}
}
