package window

import (
	"container/heap"
	"context"
	"io"
	"sort"

	"github.com/segmentio/parquet-go"
)

// spiller is the slice of spill storage the operator needs. It is
// implemented by storage.SpillStore.
type spiller interface {
	WriteRun(ctx context.Context, rows []parquet.Row) (string, error)
	OpenRun(ctx context.Context, name string) (parquet.RowReader, io.Closer, error)
}

// externalSort sorts rows that exceed the memory budget: fixed-size runs
// are sorted in memory, spilled, and merged back with a loser heap.
func (o *Operator) externalSort(ctx context.Context, rows []parquet.Row, less func(a, b parquet.Row) bool) ([]parquet.Row, error) {
	runs := make([]string, 0, len(rows)/o.maxRowsInMemory+1)
	for from := 0; from < len(rows); from += o.maxRowsInMemory {
		to := from + o.maxRowsInMemory
		if to > len(rows) {
			to = len(rows)
		}
		run := make([]parquet.Row, to-from)
		copy(run, rows[from:to])
		sort.SliceStable(run, func(i, j int) bool { return less(run[i], run[j]) })

		name, err := o.spill.WriteRun(ctx, run)
		if err != nil {
			return nil, err
		}
		runs = append(runs, name)
	}

	cursors := make([]*runCursor, 0, len(runs))
	defer func() {
		for _, cursor := range cursors {
			cursor.closer.Close()
		}
	}()
	for _, run := range runs {
		reader, closer, err := o.spill.OpenRun(ctx, run)
		if err != nil {
			return nil, err
		}
		cursor := &runCursor{reader: reader, closer: closer}
		if err := cursor.advance(); err != nil {
			return nil, err
		}
		if !cursor.done {
			cursors = append(cursors, cursor)
		}
	}

	merger := &runHeap{cursors: cursors, less: less}
	heap.Init(merger)

	sorted := make([]parquet.Row, 0, len(rows))
	for merger.Len() > 0 {
		cursor := merger.cursors[0]
		sorted = append(sorted, cursor.current)
		if err := cursor.advance(); err != nil {
			return nil, err
		}
		if cursor.done {
			heap.Pop(merger)
		} else {
			heap.Fix(merger, 0)
		}
	}
	return sorted, nil
}

type runCursor struct {
	reader  parquet.RowReader
	closer  io.Closer
	buffer  []parquet.Row
	offset  int
	current parquet.Row
	done    bool
}

func (c *runCursor) advance() error {
	if c.offset >= len(c.buffer) {
		if c.buffer == nil {
			c.buffer = make([]parquet.Row, 128)
		}
		n, err := c.reader.ReadRows(c.buffer[:cap(c.buffer)])
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			c.done = true
			return nil
		}
		c.buffer = c.buffer[:n]
		c.offset = 0
	}
	c.current = c.buffer[c.offset].Clone()
	c.offset++
	return nil
}

type runHeap struct {
	cursors []*runCursor
	less    func(a, b parquet.Row) bool
}

func (h *runHeap) Len() int { return len(h.cursors) }

func (h *runHeap) Less(i, j int) bool {
	return h.less(h.cursors[i].current, h.cursors[j].current)
}

func (h *runHeap) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *runHeap) Push(x any) {
	h.cursors = append(h.cursors, x.(*runCursor))
}

func (h *runHeap) Pop() any {
	last := h.cursors[len(h.cursors)-1]
	h.cursors = h.cursors[:len(h.cursors)-1]
	return last
}
