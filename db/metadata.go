package db

import (
	"context"
	"io"
	"os"

	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/metadata"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

// createMetadataFile writes the parquet footer of a part into a sidecar
// object, so readers can learn row counts and page layout without touching
// the data file.
func createMetadataFile(partName string) error {
	f, err := os.Open(partName + dataFileSuffix)
	if err != nil {
		return err
	}
	pqReader, err := file.NewParquetReader(f)
	if err != nil {
		return err
	}
	defer pqReader.Close()

	metaFile, err := os.Create(partName + metadataFileSuffix)
	if err != nil {
		return err
	}
	defer metaFile.Close()

	_, err = pqReader.MetaData().WriteTo(metaFile, nil)
	return err
}

func readMetadata(ctx context.Context, metadataFile string, bucket objstore.Bucket) (*metadata.FileMetaData, error) {
	metaFileAttrs, err := bucket.Attributes(ctx, metadataFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attributes for metadata file "+metadataFile)
	}

	metaReader, err := bucket.Get(ctx, metadataFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get metadata file "+metadataFile)
	}
	defer metaReader.Close()

	metadataBytes := make([]byte, metaFileAttrs.Size)
	if _, err := io.ReadFull(metaReader, metadataBytes); err != nil {
		return nil, err
	}

	return metadata.NewFileMetaData(metadataBytes, nil)
}

func numRowsFromMetadata(meta *metadata.FileMetaData) int64 {
	var numRows int64
	for _, rowGroup := range meta.RowGroups {
		numRows += rowGroup.NumRows
	}
	return numRows
}
