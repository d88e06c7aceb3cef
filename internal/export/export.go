// Package export writes filtered tab rows to CSV, TSV, or XLSX, and
// renders the self-contained HTML report. All writers stream: export of
// a multi-gigabyte tab never materializes it in memory.
package export

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/query"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("export")

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Options describe one export run.
type Options struct {
	Filter     *filter.Model `json:"filter,omitempty"`
	SortColumn string        `json:"sortColumn,omitempty"`
	SortDir    string        `json:"sortDir,omitempty"`
	Format     Format        `json:"format"`
	OutPath    string        `json:"outPath"`
}

// Export writes the filtered, sorted rows of a tab. Returns the number
// of data rows written.
func Export(tab *tabstore.Tab, opts Options) (int64, error) {
	compiled, err := filter.Compile(tab, opts.Filter)
	if err != nil {
		return 0, err
	}
	orderBy, err := query.OrderClause(tab, opts.SortColumn, opts.SortDir)
	if err != nil {
		return 0, err
	}

	cols := strings.Join(tab.SafeColumns(), ", ")
	q := fmt.Sprintf("SELECT %s FROM rows%s%s", cols, compiled.WherePrefix(), orderBy)
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return 0, fmt.Errorf("export query failed: %w", err)
	}
	defer rows.Close()

	var n int64
	switch opts.Format {
	case FormatCSV:
		n, err = writeDelimited(opts.OutPath, tab.Headers(), rows, ',')
	case FormatTSV:
		n, err = writeTSV(opts.OutPath, tab.Headers(), rows)
	case FormatXLSX:
		n, err = writeXLSX(opts.OutPath, tab.Headers(), rows)
	default:
		return 0, fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if err != nil {
		return 0, err
	}

	log.Info("export complete", "tab", tab.ID, "format", opts.Format, "rows", n, "path", opts.OutPath)
	return n, nil
}

// scanCells reads one result row into a reusable cell slice.
func scanCells(rows *sql.Rows, cells []string, ptrs []*string, dest []interface{}) error {
	for i := range ptrs {
		ptrs[i] = nil
		dest[i] = &ptrs[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	for i, p := range ptrs {
		if p != nil {
			cells[i] = *p
		} else {
			cells[i] = ""
		}
	}
	return nil
}

// writeDelimited writes RFC 4180 output: fields containing the comma,
// a double quote, or a newline are quoted with internal quotes doubled
// (encoding/csv implements exactly this).
func writeDelimited(path string, headers []string, rows *sql.Rows, comma rune) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(bufio.NewWriterSize(f, 1<<20))
	w.Comma = comma
	if err := w.Write(headers); err != nil {
		return 0, fmt.Errorf("header write failed: %w", err)
	}

	ncols := len(headers)
	cells := make([]string, ncols)
	ptrs := make([]*string, ncols)
	dest := make([]interface{}, ncols)

	var n int64
	for rows.Next() {
		if err := scanCells(rows, cells, ptrs, dest); err != nil {
			return 0, fmt.Errorf("export scan failed: %w", err)
		}
		if err := w.Write(cells); err != nil {
			return 0, fmt.Errorf("row write failed: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("export read failed: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("export flush failed: %w", err)
	}
	return n, nil
}

// tsvEscaper replaces tabs and newlines with spaces; TSV output is
// never quoted.
var tsvEscaper = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

func writeTSV(path string, headers []string, rows *sql.Rows) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	writeLine := func(cells []string) error {
		for i, c := range cells {
			if i > 0 {
				if err := w.WriteByte('\t'); err != nil {
					return err
				}
			}
			if _, err := w.WriteString(tsvEscaper.Replace(c)); err != nil {
				return err
			}
		}
		return w.WriteByte('\n')
	}

	if err := writeLine(headers); err != nil {
		return 0, fmt.Errorf("header write failed: %w", err)
	}

	ncols := len(headers)
	cells := make([]string, ncols)
	ptrs := make([]*string, ncols)
	dest := make([]interface{}, ncols)

	var n int64
	for rows.Next() {
		if err := scanCells(rows, cells, ptrs, dest); err != nil {
			return 0, fmt.Errorf("export scan failed: %w", err)
		}
		if err := writeLine(cells); err != nil {
			return 0, fmt.Errorf("row write failed: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("export read failed: %w", err)
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("export flush failed: %w", err)
	}
	return n, nil
}

// writeXLSX streams rows through excelize's StreamWriter.
func writeXLSX(path string, headers []string, rows *sql.Rows) (int64, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, fmt.Errorf("stream writer failed: %w", err)
	}

	headerCells := make([]interface{}, len(headers))
	for i, h := range headers {
		headerCells[i] = h
	}
	if err := sw.SetRow("A1", headerCells); err != nil {
		return 0, fmt.Errorf("header write failed: %w", err)
	}

	ncols := len(headers)
	cells := make([]string, ncols)
	ptrs := make([]*string, ncols)
	dest := make([]interface{}, ncols)
	rowCells := make([]interface{}, ncols)

	var n int64
	for rows.Next() {
		if err := scanCells(rows, cells, ptrs, dest); err != nil {
			return 0, fmt.Errorf("export scan failed: %w", err)
		}
		for i, c := range cells {
			rowCells[i] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, int(n)+2)
		if err != nil {
			return 0, err
		}
		if err := sw.SetRow(cell, rowCells); err != nil {
			return 0, fmt.Errorf("row write failed: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("export read failed: %w", err)
	}
	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("stream flush failed: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return 0, fmt.Errorf("workbook save failed: %w", err)
	}
	return n, nil
}
