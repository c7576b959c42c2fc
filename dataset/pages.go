package dataset

import (
	"github.com/segmentio/parquet-go"
)

// PageOffsetRange returns the byte offsets of the first and last page of the
// chunk that overlap the picked row ranges. The second return is false when
// the chunk has no offset index or nothing was picked.
func PageOffsetRange(chunk parquet.ColumnChunk, ranges []PickRange) (int64, int64, bool) {
	offsetIndex := chunk.OffsetIndex()
	if offsetIndex == nil || len(ranges) == 0 {
		return 0, 0, false
	}

	pageOffsets := make([]int64, 0)
	iRange := 0
	iPages := 0
	for iPages < offsetIndex.NumPages() && iRange < len(ranges) {
		firstRowIndex := offsetIndex.FirstRowIndex(iPages)
		var lastRowIndex int64
		if iPages < offsetIndex.NumPages()-1 {
			lastRowIndex = offsetIndex.FirstRowIndex(iPages + 1)
		} else {
			lastRowIndex = chunk.NumValues()
		}
		if ranges[iRange].overlaps(firstRowIndex, lastRowIndex) {
			pageOffsets = append(pageOffsets, offsetIndex.Offset(iPages))
		}

		if ranges[iRange].before(firstRowIndex) {
			iRange++
		} else {
			iPages++
		}
	}

	if len(pageOffsets) == 0 {
		return 0, 0, false
	}
	return pageOffsets[0], pageOffsets[len(pageOffsets)-1], true
}
