package dataset

import (
	"golang.org/x/exp/slices"
)

// RowSelection accumulates ranges of rows that a selector has proven cannot
// match. The complement of all skipped ranges is what the scanner reads.
type RowSelection []skipRange

type skipRange struct {
	from int64
	to   int64
}

func (s RowSelection) Skip(from, to int64) RowSelection {
	if from >= to {
		return s
	}
	return append(s, skipRange{from: from, to: to})
}

// SelectAll skips nothing.
func SelectAll() RowSelection { return nil }

// PickRange is a half-open interval of row indexes to read.
type PickRange struct {
	From int64
	To   int64
}

func (p PickRange) length() int64 { return p.To - p.From }

func (p PickRange) overlaps(from, to int64) bool {
	return p.From < to && from < p.To
}

func (p PickRange) before(from int64) bool {
	return p.To <= from
}

// pickRanges merges the skip ranges of all selections and returns the
// complementary pick ranges over [0, numRows).
func pickRanges(numRows int64, selections ...RowSelection) []PickRange {
	skips := make([]skipRange, 0)
	for _, selection := range selections {
		skips = append(skips, selection...)
	}
	if len(skips) == 0 {
		return []PickRange{{From: 0, To: numRows}}
	}

	slices.SortFunc(skips, func(a, b skipRange) bool {
		if a.from == b.from {
			return a.to < b.to
		}
		return a.from < b.from
	})

	picks := make([]PickRange, 0)
	cursor := int64(0)
	for _, skip := range skips {
		if skip.from > cursor {
			picks = append(picks, PickRange{From: cursor, To: skip.from})
		}
		if skip.to > cursor {
			cursor = skip.to
		}
	}
	if cursor < numRows {
		picks = append(picks, PickRange{From: cursor, To: numRows})
	}
	return picks
}
