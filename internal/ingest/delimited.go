package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// delimitedParser streams CSV/TSV/PSV text files. The delimiter is
// detected from the first line by counting tabs, pipes, and commas in
// that priority order; quoting follows RFC 4180.
type delimitedParser struct {
	file    *os.File
	counter *countingReader
	reader  *csv.Reader
	headers []string
	size    int64
}

// countingReader tracks consumed bytes for progress reporting.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// detectDelimiter counts candidate delimiters in the first line.
// Priority: tab, then pipe, then comma.
func detectDelimiter(line string) rune {
	switch {
	case strings.Count(line, "\t") > 0:
		return '\t'
	case strings.Count(line, "|") > 0:
		return '|'
	default:
		return ','
	}
}

func openDelimited(path string) (Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	counter := &countingReader{r: f}
	br := bufio.NewReaderSize(counter, 1<<20)

	// Strip a UTF-8 BOM if present.
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
	}

	// Sniff the delimiter from the first non-empty line without
	// consuming it.
	var firstLine string
	for peekLen := 4096; ; peekLen *= 2 {
		buf, err := br.Peek(peekLen)
		rest, found := buf, false
		for idx := bytes.IndexByte(rest, '\n'); idx >= 0; idx = bytes.IndexByte(rest, '\n') {
			if line := string(rest[:idx]); strings.TrimSpace(line) != "" {
				firstLine, found = line, true
				break
			}
			rest = rest[idx+1:]
		}
		if found {
			break
		}
		if err != nil {
			// No newline after the last blank line: the remainder is the line.
			firstLine = string(rest)
			break
		}
	}
	firstLine = strings.TrimRight(firstLine, "\r")
	if strings.TrimSpace(firstLine) == "" {
		f.Close()
		return nil, ErrNoHeader
	}

	r := csv.NewReader(br)
	r.Comma = detectDelimiter(firstLine)
	r.FieldsPerRecord = -1 // ragged rows are padded/truncated to the header
	r.LazyQuotes = true
	r.ReuseRecord = true

	// Headers are the first non-empty record.
	var headers []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			f.Close()
			return nil, ErrNoHeader
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read header row: %w", err)
		}
		if !recordEmpty(rec) {
			headers = append([]string(nil), rec...)
			break
		}
	}
	if allBlank(headers) {
		f.Close()
		return nil, ErrNoHeader
	}

	return &delimitedParser{
		file:    f,
		counter: counter,
		reader:  r,
		headers: headers,
		size:    info.Size(),
	}, nil
}

func recordEmpty(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "")
}

func allBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func (p *delimitedParser) Headers() []string { return p.headers }

func (p *delimitedParser) ReadBatch(maxRows int) (*Batch, error) {
	ncols := len(p.headers)
	batch := &Batch{Flat: make([]string, 0, maxRows*ncols)}

	for batch.Rows < maxRows {
		rec, err := p.reader.Read()
		if err == io.EOF {
			return batch, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("parse error: %w", err)
		}
		if recordEmpty(rec) {
			continue
		}
		// Pad or truncate ragged rows to the header width.
		for i := 0; i < ncols; i++ {
			if i < len(rec) {
				batch.Flat = append(batch.Flat, rec[i])
			} else {
				batch.Flat = append(batch.Flat, "")
			}
		}
		batch.Rows++
	}
	return batch, nil
}

func (p *delimitedParser) Progress() float64 {
	if p.size <= 0 {
		return -1
	}
	frac := float64(p.counter.n) / float64(p.size)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func (p *delimitedParser) Close() error { return p.file.Close() }
