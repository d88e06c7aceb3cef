// Package ingest streams artifact files into tab stores. Parsers are
// variants of one capability set — open, header discovery, batch
// streaming — and never hold more than one batch in memory regardless
// of file size. The scheduler serializes imports and defers index and
// FTS builds until the queue drains.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for extensions no parser claims.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoHeader is returned when the header row is absent or empty.
	ErrNoHeader = errors.New("header row absent or empty")
)

// SheetChoiceError is returned when a workbook holds more than one sheet
// and no sheet was chosen; it carries the candidates so the caller can ask.
type SheetChoiceError struct {
	Sheets []string
}

func (e *SheetChoiceError) Error() string {
	return fmt.Sprintf("workbook has %d sheets; a sheet name is required", len(e.Sheets))
}

// Batch is one parsed slice of rows in flat row-major layout. The layout
// is owned by the caller of ReadBatch; parsers never build per-row
// objects in the hot path.
type Batch struct {
	Flat []string
	Rows int
}

// Parser streams one artifact file.
type Parser interface {
	// Headers returns the discovered column headers, unsanitized.
	Headers() []string

	// ReadBatch parses up to maxRows rows. It returns io.EOF (with a
	// possibly non-empty final batch) when the file is exhausted.
	ReadBatch(maxRows int) (*Batch, error)

	// Progress reports a best-effort completion fraction in 0..1, or a
	// negative value when the total is unknown.
	Progress() float64

	Close() error
}

// Options tune parser behavior per file.
type Options struct {
	// SheetName selects the worksheet for multi-sheet workbooks.
	SheetName string

	// SchemaScan is the number of records examined before a
	// discovered-schema parser (EVTX, Plaso) freezes its columns.
	SchemaScan int
}

// Open dispatches on the file extension.
func Open(path string, opts Options) (Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt", ".log":
		return openDelimited(path)
	case ".xlsx", ".xls", ".xlsm":
		return openWorkbook(path, opts)
	case ".evtx":
		return openEvtx(path, opts)
	case ".plaso":
		return openPlaso(path, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
