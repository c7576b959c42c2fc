package db

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"columnix/parquet-exchange-engine/schema"
	"columnix/parquet-exchange-engine/storage"
)

// KeyValue is one partition-key assignment parsed from a directory segment.
type KeyValue struct {
	Column string
	Value  string
}

// Partition is a named shard of the dataset. The index is assigned by
// lexical directory order, making it stable across manifest reads of an
// unchanged dataset.
type Partition struct {
	Index   int
	Dir     string
	Keys    []KeyValue
	Parts   []string
	NumRows int64
}

func (p Partition) Key(column string) (string, bool) {
	for _, kv := range p.Keys {
		if kv.Column == column {
			return kv.Value, true
		}
	}
	return "", false
}

// Manifest lists the partitions of a dataset, with per-partition row counts
// taken from the metadata sidecars. It feeds both partition pruning and the
// plan revision step that reacts to observed partition sizes.
type Manifest struct {
	table      *schema.Table
	partitions []Partition
}

func ReadManifest(ctx context.Context, bucket objstore.Bucket, table *schema.Table) (*Manifest, error) {
	partsByDir := make(map[string][]string)
	err := bucket.Iter(ctx, "", func(name string) error {
		if !strings.HasSuffix(name, dataFileSuffix) {
			return nil
		}
		if strings.HasPrefix(name, storage.SpillDir+"/") {
			return nil
		}
		dir := path.Dir(name)
		partName := strings.TrimSuffix(name, dataFileSuffix)
		partsByDir[dir] = append(partsByDir[dir], partName)
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, errors.Wrap(err, "failed listing dataset")
	}

	dirs := make([]string, 0, len(partsByDir))
	for dir := range partsByDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	partitions := make([]Partition, 0, len(dirs))
	for i, dir := range dirs {
		keys, err := parsePartitionDir(dir, table)
		if err != nil {
			return nil, err
		}
		parts := partsByDir[dir]
		sort.Strings(parts)

		var numRows int64
		for _, part := range parts {
			meta, err := readMetadata(ctx, part+metadataFileSuffix, bucket)
			if err != nil {
				return nil, err
			}
			numRows += numRowsFromMetadata(meta)
		}

		partitions = append(partitions, Partition{
			Index:   i,
			Dir:     dir,
			Keys:    keys,
			Parts:   parts,
			NumRows: numRows,
		})
	}

	return &Manifest{table: table, partitions: partitions}, nil
}

func (m *Manifest) Table() *schema.Table { return m.table }

func (m *Manifest) Partitions() []Partition { return m.partitions }

func (m *Manifest) NumRows() int64 {
	var numRows int64
	for _, partition := range m.partitions {
		numRows += partition.NumRows
	}
	return numRows
}

func parsePartitionDir(dir string, table *schema.Table) ([]KeyValue, error) {
	segments := strings.Split(dir, "/")
	if dir == "." || dir == "" {
		segments = nil
	}
	if len(segments) != len(table.PartitionKeys()) {
		return nil, errors.Errorf("directory %s does not match partition keys %v", dir, table.PartitionKeys())
	}

	keys := make([]KeyValue, 0, len(segments))
	for i, segment := range segments {
		column, value, found := strings.Cut(segment, "=")
		if !found {
			return nil, errors.Errorf("malformed partition directory segment %s", segment)
		}
		if column != table.PartitionKeys()[i] {
			return nil, errors.Errorf("partition directory %s lists key %s, expected %s", dir, column, table.PartitionKeys()[i])
		}
		keys = append(keys, KeyValue{Column: column, Value: value})
	}
	return keys, nil
}
