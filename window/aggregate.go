package window

import (
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"golang.org/x/exp/slices"

	"columnix/parquet-exchange-engine/schema"
)

// accumulator maintains a frame-bounded aggregate. Rows enter through add
// as the frame head advances and leave through remove as the tail advances,
// so each row of a partition is added and removed at most once.
type accumulator interface {
	add(value parquet.Value)
	remove(value parquet.Value)
	result() parquet.Value
}

func newAccumulator(kind AggKind, argKind schema.Kind) (accumulator, error) {
	switch kind {
	case AggSum:
		return &sumAccumulator{argKind: argKind}, nil
	case AggCount:
		return &countAccumulator{}, nil
	case AggAvg:
		if argKind == schema.String {
			return nil, errors.New("avg requires a numeric column")
		}
		return &avgAccumulator{}, nil
	case AggMin:
		return &extremeAccumulator{pickFirst: true}, nil
	case AggMax:
		return &extremeAccumulator{pickFirst: false}, nil
	}
	return nil, errors.Errorf("unsupported aggregate %d", kind)
}

// resultKind is the schema kind of the aggregate's output column.
func resultKind(kind AggKind, argKind schema.Kind) schema.Kind {
	switch kind {
	case AggCount:
		return schema.Int64
	case AggAvg:
		return schema.Float64
	default:
		return argKind
	}
}

type sumAccumulator struct {
	argKind  schema.Kind
	sumInt   int64
	sumFloat float64
}

func (a *sumAccumulator) add(value parquet.Value) {
	if a.argKind == schema.Float64 {
		a.sumFloat += value.Double()
		return
	}
	a.sumInt += value.Int64()
}

func (a *sumAccumulator) remove(value parquet.Value) {
	if a.argKind == schema.Float64 {
		a.sumFloat -= value.Double()
		return
	}
	a.sumInt -= value.Int64()
}

func (a *sumAccumulator) result() parquet.Value {
	if a.argKind == schema.Float64 {
		return parquet.DoubleValue(a.sumFloat)
	}
	return parquet.Int64Value(a.sumInt)
}

type countAccumulator struct {
	count int64
}

func (a *countAccumulator) add(parquet.Value) { a.count++ }

func (a *countAccumulator) remove(parquet.Value) { a.count-- }

func (a *countAccumulator) result() parquet.Value { return parquet.Int64Value(a.count) }

type avgAccumulator struct {
	sum   float64
	count int64
}

func (a *avgAccumulator) add(value parquet.Value) {
	a.sum += numeric(value)
	a.count++
}

func (a *avgAccumulator) remove(value parquet.Value) {
	a.sum -= numeric(value)
	a.count--
}

func (a *avgAccumulator) result() parquet.Value {
	if a.count == 0 {
		return parquet.DoubleValue(0)
	}
	return parquet.DoubleValue(a.sum / float64(a.count))
}

// extremeAccumulator keeps the frame's values ordered so min and max
// survive evictions from the middle of the frame.
type extremeAccumulator struct {
	pickFirst bool
	values    []parquet.Value
}

func (a *extremeAccumulator) add(value parquet.Value) {
	at, _ := slices.BinarySearchFunc(a.values, value, compareValues)
	a.values = slices.Insert(a.values, at, value)
}

func (a *extremeAccumulator) remove(value parquet.Value) {
	at, found := slices.BinarySearchFunc(a.values, value, compareValues)
	if found {
		a.values = slices.Delete(a.values, at, at+1)
	}
}

func (a *extremeAccumulator) result() parquet.Value {
	if len(a.values) == 0 {
		return parquet.NullValue()
	}
	if a.pickFirst {
		return a.values[0]
	}
	return a.values[len(a.values)-1]
}

func numeric(value parquet.Value) float64 {
	switch value.Kind() {
	case parquet.Double, parquet.Float:
		return value.Double()
	default:
		return float64(value.Int64())
	}
}

func compareValues(a, b parquet.Value) int {
	switch a.Kind() {
	case parquet.Int64, parquet.Int32:
		return compareInt64(a.Int64(), b.Int64())
	case parquet.Double, parquet.Float:
		return compareFloat64(a.Double(), b.Double())
	default:
		return slices.Compare(a.ByteArray(), b.ByteArray())
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
