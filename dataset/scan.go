package dataset

import (
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/segmentio/parquet-go"

	"columnix/parquet-exchange-engine/db"
)

// SelectionResult is the set of row ranges of one row group that survived
// every pushed-down predicate.
type SelectionResult struct {
	rowGroup parquet.RowGroup
	ranges   []PickRange
}

func NewSelectionResult(rowGroup parquet.RowGroup, ranges []PickRange) SelectionResult {
	return SelectionResult{rowGroup: rowGroup, ranges: ranges}
}

func (s SelectionResult) RowGroup() parquet.RowGroup { return s.rowGroup }

func (s SelectionResult) Ranges() []PickRange { return s.ranges }

func (s SelectionResult) NumRows() int64 {
	var numRows int64
	for _, r := range s.ranges {
		numRows += r.length()
	}
	return numRows
}

type Scanner struct {
	reader *db.FileReader
	file   *parquet.File
	logger log.Logger

	predicates []Predicate
	residual   []string
}

type ScannerOption func(*Scanner)

func WithLogger(logger log.Logger) ScannerOption {
	return func(scanner *Scanner) {
		scanner.logger = logger
	}
}

func Equals(column string, value parquet.Value) ScannerOption {
	return func(scanner *Scanner) {
		scanner.addPredicate(column, value, newEqualsMatcher)
	}
}

func GreaterThanOrEqual(column string, value parquet.Value) ScannerOption {
	return func(scanner *Scanner) {
		scanner.addPredicate(column, value, newGTEMatcher)
	}
}

func LessThanOrEqual(column string, value parquet.Value) ScannerOption {
	return func(scanner *Scanner) {
		scanner.addPredicate(column, value, newLTEMatcher)
	}
}

func NewScanner(file *parquet.File, reader *db.FileReader, options ...ScannerOption) *Scanner {
	scanner := &Scanner{
		file:       file,
		reader:     reader,
		logger:     log.NewNopLogger(),
		predicates: make([]Predicate, 0),
	}
	for _, option := range options {
		option(scanner)
	}
	return scanner
}

func (s *Scanner) addPredicate(column string, value parquet.Value, matcher func(parquet.LeafColumn, parquet.Value) columnPredicate) {
	col, ok := s.file.Schema().Lookup(column)
	if !ok {
		// The file cannot evaluate a predicate over a column it does not
		// carry. Keeping every row and reporting the column as residual
		// lets the execution layer re-apply the filter, so rows are never
		// dropped and never wrongly kept.
		s.residual = append(s.residual, column)
		return
	}
	s.predicates = append(s.predicates, matcher(col, value))
}

// Residual returns the columns whose predicates the storage layer could not
// guarantee to have applied. The execution layer must re-evaluate filters
// over these columns row by row.
func (s *Scanner) Residual() []string { return s.residual }

// Scan narrows each row group to the rows matching all pushed-down
// predicates, first through metadata selectors and then by decoding the
// selected pages of each predicate column.
func (s *Scanner) Scan() ([]SelectionResult, error) {
	result := make([]SelectionResult, 0, len(s.file.RowGroups()))
	for _, rowGroup := range s.file.RowGroups() {
		rowSelections := make([]RowSelection, 0, len(s.predicates))
		for _, predicate := range s.predicates {
			rowSelections = append(rowSelections, predicate.SelectRows(rowGroup))
		}
		selectedRows := pickRanges(rowGroup.NumRows(), rowSelections...)

		for _, predicate := range s.predicates {
			chunk := rowGroup.ColumnChunks()[predicate.Column().ColumnIndex]
			rowSelection, err := s.filterRows(chunk, selectedRows, predicate)
			if err != nil {
				return nil, err
			}
			rowSelections = append(rowSelections, rowSelection)
		}

		filteredRows := pickRanges(rowGroup.NumRows(), rowSelections...)
		level.Debug(s.logger).Log(
			"msg", "scanned row group",
			"selected", len(selectedRows),
			"filtered", len(filteredRows),
		)
		result = append(result, NewSelectionResult(rowGroup, filteredRows))
	}
	return result, nil
}

func (s *Scanner) filterRows(chunk parquet.ColumnChunk, ranges []PickRange, predicate Predicate) (RowSelection, error) {
	if err := s.loadPageSection(chunk, ranges); err != nil {
		return nil, err
	}

	pages := chunk.Pages()
	defer pages.Close()

	var selection RowSelection
	for _, rows := range ranges {
		cursor := rows.From
		for cursor < rows.To {
			if err := pages.SeekToRow(cursor); err != nil {
				return nil, err
			}
			page, err := pages.ReadPage()
			if err != nil {
				return nil, err
			}

			numValues := rows.To - cursor
			if numValues > page.NumValues() {
				numValues = page.NumValues()
			}

			values := make([]parquet.Value, numValues)
			n, err := page.Values().ReadValues(values)
			if err != nil && err != io.EOF {
				return nil, err
			}
			skipFrom, skipTo := cursor, cursor
			for i := 0; i < n; i++ {
				skipTo++
				if predicate.Matches(values[i]) {
					selection = selection.Skip(skipFrom, skipTo-1)
					skipFrom = skipTo
				}
			}
			selection = selection.Skip(skipFrom, skipTo)
			cursor += numValues
		}
	}
	return selection, nil
}

// loadPageSection fetches the byte range covering the pages that overlap the
// selected rows, so decoding does not issue one ranged read per page.
func (s *Scanner) loadPageSection(chunk parquet.ColumnChunk, ranges []PickRange) error {
	from, to, ok := PageOffsetRange(chunk, ranges)
	if !ok {
		return nil
	}
	return s.reader.LoadSection(from, to)
}
