package storage

import (
	"context"
	"io"

	"github.com/thanos-io/objstore"
)

type BucketReader struct {
	name   string
	bucket objstore.Bucket
}

func NewBucketReader(name string, bucket objstore.Bucket) *BucketReader {
	return &BucketReader{
		name:   name,
		bucket: bucket,
	}
}

func (r *BucketReader) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	return r.bucket.Get(ctx, name)
}

func (r *BucketReader) Attributes(ctx context.Context, name string) (objstore.ObjectAttributes, error) {
	return r.bucket.Attributes(ctx, name)
}

func (r *BucketReader) ReadAt(p []byte, off int64) (n int, err error) {
	rangeReader, err := r.bucket.GetRange(context.Background(), r.name, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	return io.ReadFull(rangeReader, p)
}

func (r *BucketReader) ReaderAt(off, length int64) (io.Reader, error) {
	return r.bucket.GetRange(context.Background(), r.name, off, length)
}
