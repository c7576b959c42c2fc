package compute

import (
	"context"
	"io"
)

type maybeBatch struct {
	batch Batch
	err   error
}

// Concurrent pulls batches from the wrapped fragment in a background
// goroutine so downstream operators overlap decoding with processing.
type Concurrent struct {
	fragment Fragment
	buffer   chan maybeBatch

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConcurrent(fragment Fragment, bufferSize int64) *Concurrent {
	c := &Concurrent{
		fragment: fragment,
		buffer:   make(chan maybeBatch, bufferSize),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.pullBatches()

	return c
}

func (c *Concurrent) pullBatches() {
	defer close(c.buffer)
	for {
		batch, err := c.fragment.NextBatch()
		select {
		case <-c.ctx.Done():
			return
		case c.buffer <- maybeBatch{batch: batch, err: err}:
			if err != nil {
				return
			}
		}
	}
}

func (c *Concurrent) NextBatch() (Batch, error) {
	nextBatch, ok := <-c.buffer
	if !ok {
		return Batch{}, io.EOF
	}
	return nextBatch.batch, nextBatch.err
}

func (c *Concurrent) MaxBatchSize() int64 {
	return c.fragment.MaxBatchSize()
}

func (c *Concurrent) Close() error {
	c.cancel()
	for range c.buffer {
	}
	return c.fragment.Close()
}
