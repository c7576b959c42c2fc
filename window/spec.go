package window

import (
	"fmt"
	"math"
	"strings"
)

type FrameMode int

const (
	// FrameRows bounds the frame by row offsets from the current row.
	FrameRows FrameMode = iota
	// FrameRange bounds the frame by ordering-column value distance from
	// the current row's value.
	FrameRange
)

// Unbounded removes a frame bound.
const Unbounded = int64(math.MaxInt64)

// Frame is the set of rows around the current row an aggregate is computed
// over. Preceding and Following are non-negative distances, in rows or in
// ordering-column units depending on the mode.
type Frame struct {
	Mode      FrameMode
	Preceding int64
	Following int64
}

func Rows(preceding, following int64) Frame {
	return Frame{Mode: FrameRows, Preceding: preceding, Following: following}
}

func Range(preceding, following int64) Frame {
	return Frame{Mode: FrameRange, Preceding: preceding, Following: following}
}

// WholePartition covers every row of the partition, which also lifts the
// requirement to declare an ordering key.
func WholePartition() Frame {
	return Frame{Mode: FrameRows, Preceding: Unbounded, Following: Unbounded}
}

func (f Frame) isWholePartition() bool {
	return f.Preceding == Unbounded && f.Following == Unbounded
}

func (f Frame) String() string {
	mode := "rows"
	if f.Mode == FrameRange {
		mode = "range"
	}
	return fmt.Sprintf("%s [-%s, +%s]", mode, boundString(f.Preceding), boundString(f.Following))
}

func boundString(bound int64) string {
	if bound == Unbounded {
		return "unbounded"
	}
	return fmt.Sprintf("%d", bound)
}

type AggKind int

const (
	AggSum AggKind = iota
	AggCount
	AggMin
	AggMax
	AggAvg
)

func (k AggKind) String() string {
	switch k {
	case AggSum:
		return "sum"
	case AggCount:
		return "count"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggAvg:
		return "avg"
	}
	return "unknown"
}

// Spec is one windowed aggregate: partition the input by PartitionBy, order
// each partition by OrderBy, and compute Agg over Arg within the frame.
// The result is attached to every row as a new column called Name.
type Spec struct {
	Name        string
	PartitionBy []string
	OrderBy     string
	Frame       Frame
	Agg         AggKind
	Arg         string
}

// SortSignature identifies the (partition keys, ordering key) pair. Specs
// with equal signatures share one exchange and one sort.
func (s Spec) SortSignature() string {
	return strings.Join(s.PartitionBy, ",") + "|" + s.OrderBy
}

func (s Spec) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(%s) over (", s.Agg, s.Arg)
	if len(s.PartitionBy) > 0 {
		fmt.Fprintf(&sb, "partition by %s", strings.Join(s.PartitionBy, ", "))
	}
	if s.OrderBy != "" {
		if len(s.PartitionBy) > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "order by %s", s.OrderBy)
	}
	fmt.Fprintf(&sb, " %s)", s.Frame)
	return sb.String()
}
