package dataset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickRanges(t *testing.T) {
	const numRows = 40
	cases := []struct {
		name       string
		selections []RowSelection
		expected   []PickRange
	}{
		{
			name:       "no selections",
			selections: nil,
			expected:   []PickRange{pick(0, numRows)},
		},
		{
			name:       "select all skips nothing",
			selections: []RowSelection{SelectAll()},
			expected:   []PickRange{pick(0, numRows)},
		},
		{
			name:       "single skip at the head",
			selections: []RowSelection{SelectAll().Skip(0, 10)},
			expected:   []PickRange{pick(10, numRows)},
		},
		{
			name:       "disjoint skips",
			selections: []RowSelection{SelectAll().Skip(0, 10).Skip(25, 32)},
			expected:   []PickRange{pick(10, 25), pick(32, numRows)},
		},
		{
			name: "overlapping skips from separate selections",
			selections: []RowSelection{
				SelectAll().Skip(0, 10).Skip(28, 37),
				SelectAll().Skip(5, 8).Skip(30, 35),
			},
			expected: []PickRange{pick(10, 28), pick(37, numRows)},
		},
		{
			name: "adjacent skips merge",
			selections: []RowSelection{
				SelectAll().Skip(10, 20),
				SelectAll().Skip(20, 30),
			},
			expected: []PickRange{pick(0, 10), pick(30, numRows)},
		},
		{
			name:       "empty skip is dropped",
			selections: []RowSelection{SelectAll().Skip(10, 10)},
			expected:   []PickRange{pick(0, numRows)},
		},
		{
			name:       "everything skipped",
			selections: []RowSelection{SelectAll().Skip(0, numRows)},
			expected:   []PickRange{},
		},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			require.Equal(t, tcase.expected, pickRanges(numRows, tcase.selections...))
		})
	}
}

func pick(from, to int64) PickRange { return PickRange{From: from, To: to} }
