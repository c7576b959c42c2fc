package exchange

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/parquet-go"
)

// hashKey folds the key tuple into a single 64-bit hash. Each value is
// length-prefixed so that adjacent keys cannot collide by concatenation,
// and numeric kinds use their fixed-width encoding so equal values hash
// equally regardless of how they were produced.
func hashKey(digest *xxhash.Digest, keys []parquet.Value) uint64 {
	digest.Reset()

	var scratch [8]byte
	for _, value := range keys {
		switch value.Kind() {
		case parquet.Int64, parquet.Int32:
			binary.LittleEndian.PutUint64(scratch[:], uint64(value.Int64()))
			writeLengthPrefixed(digest, scratch[:])
		case parquet.Double, parquet.Float:
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(value.Double()))
			writeLengthPrefixed(digest, scratch[:])
		default:
			writeLengthPrefixed(digest, value.ByteArray())
		}
	}
	return digest.Sum64()
}

func writeLengthPrefixed(digest *xxhash.Digest, payload []byte) {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(payload)))
	_, _ = digest.Write(prefix[:])
	_, _ = digest.Write(payload)
}

// BucketOf returns the bucket a key tuple routes to.
func BucketOf(digest *xxhash.Digest, keys []parquet.Value, numBuckets int) int {
	return int(hashKey(digest, keys) % uint64(numBuckets))
}
