package db

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"columnix/parquet-exchange-engine/storage"
)

const (
	ReadBufferSize = 4 * 1024

	// Sections are fetched in chunks of this size so large page ranges read
	// in parallel instead of one long ranged request.
	sectionChunkSize = 1024 * 1024
)

type section struct {
	from  int64
	to    int64
	bytes []byte
}

// FileReader serves ReadAt requests for one part file, answering from
// sections loaded ahead of time and falling back to ranged bucket reads.
// Scanners load the page ranges a predicate selected before decoding them.
type FileReader struct {
	partName   string
	size       int64
	dataReader *storage.BucketReader

	mu             sync.RWMutex
	loadedSections []section
}

func OpenFileReader(partName string, bucket objstore.Bucket) (*FileReader, error) {
	dataFile := partName + dataFileSuffix
	dataFileAttrs, err := bucket.Attributes(context.Background(), dataFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading attributes for "+dataFile)
	}

	return &FileReader{
		partName:   partName,
		size:       dataFileAttrs.Size,
		dataReader: storage.NewBucketReader(dataFile, bucket),
	}, nil
}

func (r *FileReader) FileSize() int64 { return r.size }

func (r *FileReader) ReadAt(p []byte, off int64) (n int, err error) {
	r.mu.RLock()
	for _, s := range r.loadedSections {
		if off >= s.from && off+int64(len(p)) <= s.to {
			copy(p, s.bytes[off-s.from:off-s.from+int64(len(p))])
			r.mu.RUnlock()
			return len(p), nil
		}
	}
	r.mu.RUnlock()

	return r.dataReader.ReadAt(p, off)
}

// LoadSection fetches the byte range [from, to) in one ranged read and keeps
// it in memory for subsequent ReadAt calls.
func (r *FileReader) LoadSection(from, to int64) error {
	to = to + ReadBufferSize
	if to > r.size {
		to = r.size
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.loadedSections {
		if s.from <= from && to <= s.to {
			return nil
		}
	}

	buffer := make([]byte, to-from)
	sectionReader := storage.NewChunkedBucketReader(r.dataReader, sectionChunkSize)
	if _, err := sectionReader.ReadAt(buffer, from); err != nil {
		return errors.Wrap(err, "failed loading section")
	}
	r.loadedSections = append(r.loadedSections, section{from: from, to: to, bytes: buffer})
	return nil
}

// Release drops all loaded sections.
func (r *FileReader) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadedSections = r.loadedSections[:0]
}
