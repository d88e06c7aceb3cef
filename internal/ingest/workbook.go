package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// workbookParser streams XLSX/XLSM worksheets through excelize's row
// iterator, so a workbook never materializes in memory.
type workbookParser struct {
	file     *excelize.File
	rows     *excelize.Rows
	headers  []string
	consumed int64
}

func openWorkbook(path string, opts Options) (Parser, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	sheet := opts.SheetName
	if sheet == "" {
		if len(sheets) > 1 {
			// More than one sheet and no choice made: the caller must ask.
			names := append([]string(nil), sheets...)
			f.Close()
			return nil, &SheetChoiceError{Sheets: names}
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open sheet %q: %w", sheet, err)
	}

	// Headers are the first non-empty row.
	var headers []string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			f.Close()
			return nil, fmt.Errorf("failed to read header row: %w", err)
		}
		if !allBlank(cols) {
			headers = cols
			break
		}
	}
	if len(headers) == 0 {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("workbook sheet %q: %w", sheet, ErrNoHeader)
	}

	return &workbookParser{file: f, rows: rows, headers: headers}, nil
}

func (p *workbookParser) Headers() []string { return p.headers }

func (p *workbookParser) ReadBatch(maxRows int) (*Batch, error) {
	ncols := len(p.headers)
	batch := &Batch{Flat: make([]string, 0, maxRows*ncols)}

	for batch.Rows < maxRows {
		if !p.rows.Next() {
			if err := p.rows.Error(); err != nil {
				return nil, fmt.Errorf("worksheet iteration failed: %w", err)
			}
			return batch, io.EOF
		}
		cols, err := p.rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("worksheet row read failed: %w", err)
		}
		if allBlank(cols) {
			continue
		}
		for i := 0; i < ncols; i++ {
			if i < len(cols) {
				batch.Flat = append(batch.Flat, strings.TrimRight(cols[i], " "))
			} else {
				batch.Flat = append(batch.Flat, "")
			}
		}
		batch.Rows++
		p.consumed++
	}
	return batch, nil
}

func (p *workbookParser) Progress() float64 {
	// The shared-strings layout hides the total row count until the
	// sheet is exhausted.
	return -1
}

func (p *workbookParser) Close() error {
	p.rows.Close()
	return p.file.Close()
}

// SheetNames lists the worksheets of a workbook so the caller can ask
// the user which to import before enqueueing.
func SheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}
