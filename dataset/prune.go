package dataset

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"columnix/parquet-exchange-engine/db"
	"columnix/parquet-exchange-engine/schema"
)

type CompareOp int

const (
	OpEquals CompareOp = iota
	OpGreaterEq
	OpLessEq
)

func (op CompareOp) String() string {
	switch op {
	case OpEquals:
		return "="
	case OpGreaterEq:
		return ">="
	case OpLessEq:
		return "<="
	}
	return "?"
}

// KeyFilter is an equality or range predicate over a partition-key column,
// with the comparison value carried in its string form.
type KeyFilter struct {
	Column string
	Op     CompareOp
	Value  string
}

func (f KeyFilter) String() string {
	return strings.Join([]string{f.Column, f.Op.String(), f.Value}, " ")
}

// PrunePartitions returns the partitions that could contain rows matching
// all filters. It never excludes a partition that could match; comparisons
// it cannot decide keep the partition. Malformed filters fail here, at plan
// time, before any file is opened.
func PrunePartitions(manifest *db.Manifest, filters []KeyFilter) ([]db.Partition, error) {
	table := manifest.Table()
	if err := validateKeyFilters(table, filters); err != nil {
		return nil, err
	}

	kept := make([]db.Partition, 0, len(manifest.Partitions()))
	for _, partition := range manifest.Partitions() {
		matches := true
		for _, filter := range filters {
			value, ok := partition.Key(filter.Column)
			if !ok {
				// Partition directories missing the key cannot be ruled out.
				continue
			}
			match, err := matchKey(table, filter, value)
			if err != nil {
				return nil, err
			}
			if !match {
				matches = false
				break
			}
		}
		if matches {
			kept = append(kept, partition)
		}
	}
	return kept, nil
}

func validateKeyFilters(table *schema.Table, filters []KeyFilter) error {
	ranges := make(map[string]*keyRange)
	for _, filter := range filters {
		column, ok := table.Column(filter.Column)
		if !ok {
			return errors.Errorf("filter references unknown column %s", filter.Column)
		}
		if !table.IsPartitionKey(filter.Column) {
			return errors.Errorf("column %s is not a partition key", filter.Column)
		}
		if column.Kind == schema.Int64 {
			bound, err := strconv.ParseInt(filter.Value, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "filter value %q is not an integer", filter.Value)
			}
			trackBound(ranges, filter, float64(bound))
		}
		if column.Kind == schema.Float64 {
			bound, err := strconv.ParseFloat(filter.Value, 64)
			if err != nil {
				return errors.Wrapf(err, "filter value %q is not a number", filter.Value)
			}
			trackBound(ranges, filter, bound)
		}
	}

	for column, bounds := range ranges {
		if bounds.hasMin && bounds.hasMax && bounds.min > bounds.max {
			return errors.Errorf("filter range over %s is empty: %v > %v", column, bounds.min, bounds.max)
		}
	}
	return nil
}

type keyRange struct {
	hasMin, hasMax bool
	min, max       float64
}

func trackBound(ranges map[string]*keyRange, filter KeyFilter, bound float64) {
	bounds, ok := ranges[filter.Column]
	if !ok {
		bounds = &keyRange{}
		ranges[filter.Column] = bounds
	}
	switch filter.Op {
	case OpGreaterEq:
		if !bounds.hasMin || bound > bounds.min {
			bounds.hasMin, bounds.min = true, bound
		}
	case OpLessEq:
		if !bounds.hasMax || bound < bounds.max {
			bounds.hasMax, bounds.max = true, bound
		}
	case OpEquals:
		if !bounds.hasMin || bound > bounds.min {
			bounds.hasMin, bounds.min = true, bound
		}
		if !bounds.hasMax || bound < bounds.max {
			bounds.hasMax, bounds.max = true, bound
		}
	}
}

func matchKey(table *schema.Table, filter KeyFilter, value string) (bool, error) {
	column, _ := table.Column(filter.Column)
	switch column.Kind {
	case schema.Int64:
		have, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			// A directory value the schema cannot parse is kept rather than
			// silently dropped.
			return true, nil
		}
		want, err := strconv.ParseInt(filter.Value, 10, 64)
		if err != nil {
			return false, errors.Wrapf(err, "filter value %q is not an integer", filter.Value)
		}
		return compareMatches(filter.Op, compareInt64(have, want)), nil
	case schema.Float64:
		have, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return true, nil
		}
		want, err := strconv.ParseFloat(filter.Value, 64)
		if err != nil {
			return false, errors.Wrapf(err, "filter value %q is not a number", filter.Value)
		}
		return compareMatches(filter.Op, compareFloat64(have, want)), nil
	default:
		return compareMatches(filter.Op, strings.Compare(value, filter.Value)), nil
	}
}

func compareMatches(op CompareOp, cmp int) bool {
	switch op {
	case OpEquals:
		return cmp == 0
	case OpGreaterEq:
		return cmp >= 0
	case OpLessEq:
		return cmp <= 0
	}
	return true
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
