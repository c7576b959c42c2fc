package db

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/schema"
)

const (
	MaxPageSize = 8 * 1024

	writeBufferSize    = 64 * 1024
	dataFileSuffix     = ".parquet"
	metadataFileSuffix = ".metadata"
)

type WriterOption func(*Writer)

func WithPageBufferSize(size int) WriterOption {
	return func(writer *Writer) {
		writer.pageBufferSize = size
	}
}

func WithMaxRowsPerGroup(numRows int64) WriterOption {
	return func(writer *Writer) {
		writer.maxRowsPerGroup = numRows
	}
}

// Writer appends rows to a dataset partitioned by directory path. Each
// distinct partition-key tuple owns one directory, named key=value for every
// key in declared order, and rows are buffered per partition before being
// flushed as sorted part files with a metadata sidecar.
type Writer struct {
	dir   string
	table *schema.Table

	sortingColumns  []parquet.SortingColumn
	bloomFilters    []parquet.BloomFilterColumn
	pageBufferSize  int
	maxRowsPerGroup int64

	partitions map[string]*partitionBuffer
}

type partitionBuffer struct {
	dir    string
	partID int
	buffer *parquet.GenericBuffer[any]
}

func NewWriter(dir string, table *schema.Table, options ...WriterOption) *Writer {
	writer := &Writer{
		dir:            dir,
		table:          table,
		sortingColumns: table.SortingColumns(table.PartitionKeys()...),
		bloomFilters:   table.BloomFilters(),
		pageBufferSize: MaxPageSize,
		partitions:     make(map[string]*partitionBuffer),
	}
	for _, option := range options {
		option(writer)
	}
	return writer
}

// Write converts one Go value per column into a row and routes it to the
// partition its key values select.
func (w *Writer) Write(values ...any) error {
	row, err := w.table.MakeRow(values...)
	if err != nil {
		return err
	}
	return w.WriteRow(row)
}

func (w *Writer) WriteRow(row parquet.Row) error {
	partitionDir, err := w.partitionDir(row)
	if err != nil {
		return err
	}

	partition, ok := w.partitions[partitionDir]
	if !ok {
		partition = &partitionBuffer{
			dir:    partitionDir,
			partID: -1,
			buffer: w.openBuffer(),
		}
		w.partitions[partitionDir] = partition
	}

	if _, err := partition.buffer.WriteRows([]parquet.Row{row}); err != nil {
		return err
	}
	if partition.buffer.NumRows() >= writeBufferSize {
		return w.flushPartition(partition)
	}
	return nil
}

func (w *Writer) Flush() error {
	dirs := make([]string, 0, len(w.partitions))
	for dir := range w.partitions {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if err := w.flushPartition(w.partitions[dir]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	return w.Flush()
}

func (w *Writer) partitionDir(row parquet.Row) (string, error) {
	dir := w.dir
	for _, key := range w.table.PartitionKeys() {
		columnIndex, _ := w.table.ColumnIndex(key)
		value := row[columnIndex]
		segment, err := partitionSegment(key, value)
		if err != nil {
			return "", err
		}
		dir = path.Join(dir, segment)
	}
	return dir, nil
}

func partitionSegment(key string, value parquet.Value) (string, error) {
	switch value.Kind() {
	case parquet.ByteArray:
		return fmt.Sprintf("%s=%s", key, value.ByteArray()), nil
	case parquet.Int64:
		return fmt.Sprintf("%s=%s", key, strconv.FormatInt(value.Int64(), 10)), nil
	default:
		return "", errors.Errorf("partition key %s has unsupported kind %s", key, value.Kind())
	}
}

func (w *Writer) flushPartition(partition *partitionBuffer) error {
	defer partition.buffer.Reset()
	if partition.buffer.NumRows() == 0 {
		return nil
	}

	if err := os.MkdirAll(partition.dir, 0750); err != nil {
		return errors.Wrap(err, "failed creating partition directory")
	}

	partition.partID++
	partName := fmt.Sprintf("%s/part.%d", partition.dir, partition.partID)
	if err := w.flushBufferToFile(partition, partName); err != nil {
		return err
	}
	return createMetadataFile(partName)
}

func (w *Writer) flushBufferToFile(partition *partitionBuffer, partName string) error {
	f, err := os.Create(partName + dataFileSuffix)
	if err != nil {
		return err
	}
	defer f.Close()

	sort.Sort(partition.buffer)
	pqWriter := w.openWriter(f)
	defer pqWriter.Close()

	_, err = parquet.CopyRows(pqWriter, partition.buffer.Rows())
	return err
}

func (w *Writer) openWriter(f *os.File) *parquet.GenericWriter[any] {
	config := []parquet.WriterOption{
		w.table.ParquetSchema(),
		parquet.SortingWriterConfig(parquet.SortingColumns(w.sortingColumns...)),
		parquet.DefaultWriterConfig(),
		parquet.WriteBufferSize(writeBufferSize),
		parquet.PageBufferSize(w.pageBufferSize),
		parquet.DataPageStatistics(true),
		parquet.BloomFilters(w.bloomFilters...),
	}
	if w.maxRowsPerGroup > 0 {
		config = append(config, parquet.MaxRowsPerRowGroup(w.maxRowsPerGroup))
	}
	return parquet.NewGenericWriter[any](f, config...)
}

func (w *Writer) openBuffer() *parquet.GenericBuffer[any] {
	return parquet.NewGenericBuffer[any](
		w.table.ParquetSchema(),
		parquet.ColumnBufferCapacity(writeBufferSize),
		parquet.SortingRowGroupConfig(parquet.SortingColumns(w.sortingColumns...)),
	)
}
