package ingest

import (
	"bytes"
	"compress/zlib"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// plasoFixedHeaders lead every Plaso tab; attribute columns discovered
// from the event data follow them.
var plasoFixedHeaders = []string{"datetime", "timestamp_desc", "data_type"}

// plasoParser reads a Plaso super-timeline storage database: events come
// from the event table joined to their event_data rows, both serialized
// as (optionally zlib-compressed) JSON blobs.
type plasoParser struct {
	db       *sql.DB
	rows     *sql.Rows
	dataStmt *sql.Stmt
	zlib     bool

	headers  []string
	attrKeys []string
	buffered []plasoRecord
	bufPos   int

	total    int64
	consumed int64
	done     bool
}

type plasoRecord struct {
	fixed [3]string
	attrs map[string]string
}

func openPlaso(path string, opts Options) (Parser, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open plaso storage %s: %w", path, err)
	}
	// Two read connections: one walks the event cursor while the other
	// resolves event_data rows per event.
	db.SetMaxOpenConns(2)

	// A valid Plaso store declares its format version and compression
	// in the metadata table.
	var formatVersion, compression string
	if err := db.QueryRow(
		"SELECT value FROM metadata WHERE key = 'format_version'").Scan(&formatVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid plaso database (missing format_version): %w", err)
	}
	if err := db.QueryRow(
		"SELECT value FROM metadata WHERE key = 'compression_format'").Scan(&compression); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid plaso database (missing compression_format): %w", err)
	}

	p := &plasoParser{
		db:   db,
		zlib: strings.EqualFold(compression, "zlib"),
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM event").Scan(&p.total); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid plaso database (missing event table): %w", err)
	}

	p.dataStmt, err = db.Prepare("SELECT _data FROM event_data WHERE _identifier = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid plaso database (missing event_data table): %w", err)
	}

	p.rows, err = db.Query("SELECT _identifier, _data FROM event ORDER BY _identifier")
	if err != nil {
		p.dataStmt.Close()
		db.Close()
		return nil, fmt.Errorf("failed to read plaso events: %w", err)
	}

	scan := opts.SchemaScan
	if scan <= 0 {
		scan = defaultSchemaScan
	}

	// Discover attribute columns across the schema-scan window.
	keySet := make(map[string]struct{})
	for len(p.buffered) < scan {
		rec, ok, err := p.next()
		if err != nil {
			p.Close()
			return nil, err
		}
		if !ok {
			p.done = true
			break
		}
		for k := range rec.attrs {
			keySet[k] = struct{}{}
		}
		p.buffered = append(p.buffered, rec)
	}

	p.attrKeys = make([]string, 0, len(keySet))
	for k := range keySet {
		p.attrKeys = append(p.attrKeys, k)
	}
	sort.Strings(p.attrKeys)
	p.headers = append(append([]string(nil), plasoFixedHeaders...), p.attrKeys...)
	return p, nil
}

// next reads and decodes one event row.
func (p *plasoParser) next() (plasoRecord, bool, error) {
	var rec plasoRecord
	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return rec, false, fmt.Errorf("plaso event iteration failed: %w", err)
		}
		return rec, false, nil
	}

	var id int64
	var blob []byte
	if err := p.rows.Scan(&id, &blob); err != nil {
		return rec, false, fmt.Errorf("plaso event scan failed: %w", err)
	}

	event, err := p.decodeBlob(blob)
	if err != nil {
		return rec, false, fmt.Errorf("plaso event %d decode failed: %w", id, err)
	}

	rec.attrs = make(map[string]string)
	rec.fixed[0] = plasoDatetime(event["timestamp"])
	rec.fixed[1] = scalarString(event["timestamp_desc"])

	// The event row carries the link to its event_data row.
	if dataID, ok := plasoIdentifier(event); ok {
		var dataBlob []byte
		if err := p.dataStmt.QueryRow(dataID).Scan(&dataBlob); err == nil {
			data, err := p.decodeBlob(dataBlob)
			if err != nil {
				return rec, false, fmt.Errorf("plaso event_data %d decode failed: %w", dataID, err)
			}
			rec.fixed[2] = scalarString(data["data_type"])
			for k, v := range data {
				if strings.HasPrefix(k, "_") || k == "data_type" {
					continue
				}
				rec.attrs[k] = scalarString(v)
			}
		}
	}
	return rec, true, nil
}

// decodeBlob decompresses (when the store is ZLIB-compressed) and
// unmarshals one serialized attribute container.
func (p *plasoParser) decodeBlob(blob []byte) (map[string]interface{}, error) {
	if p.zlib {
		zr, err := zlib.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("zlib open: %w", err)
		}
		blob, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("zlib read: %w", err)
		}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return out, nil
}

// plasoIdentifier digs the event_data row id out of the event JSON.
func plasoIdentifier(event map[string]interface{}) (int64, bool) {
	for _, key := range []string{"_event_data_row_identifier", "_event_data_identifier"} {
		if v, ok := event[key]; ok {
			if f, ok := v.(float64); ok {
				return int64(f), true
			}
			if s, ok := v.(string); ok {
				if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

// plasoDatetime renders the event timestamp (microseconds since epoch)
// as an ISO-style string.
func plasoDatetime(v interface{}) string {
	var micros int64
	switch x := v.(type) {
	case float64:
		micros = int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return x
		}
		micros = n
	default:
		return ""
	}
	if micros == 0 {
		return ""
	}
	return time.UnixMicro(micros).UTC().Format("2006-01-02 15:04:05")
}

func (p *plasoParser) Headers() []string { return p.headers }

func (p *plasoParser) ReadBatch(maxRows int) (*Batch, error) {
	ncols := len(p.headers)
	batch := &Batch{Flat: make([]string, 0, maxRows*ncols)}

	appendRec := func(rec plasoRecord) {
		batch.Flat = append(batch.Flat, rec.fixed[:]...)
		for _, k := range p.attrKeys {
			batch.Flat = append(batch.Flat, rec.attrs[k])
		}
		batch.Rows++
		p.consumed++
	}

	for p.bufPos < len(p.buffered) && batch.Rows < maxRows {
		appendRec(p.buffered[p.bufPos])
		p.buffered[p.bufPos] = plasoRecord{}
		p.bufPos++
	}
	if p.bufPos == len(p.buffered) {
		p.buffered = nil
	}

	for batch.Rows < maxRows {
		if p.done {
			return batch, io.EOF
		}
		rec, ok, err := p.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			p.done = true
			return batch, io.EOF
		}
		appendRec(rec)
	}
	return batch, nil
}

func (p *plasoParser) Progress() float64 {
	if p.total <= 0 {
		return -1
	}
	frac := float64(p.consumed) / float64(p.total)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func (p *plasoParser) Close() error {
	if p.rows != nil {
		p.rows.Close()
	}
	if p.dataStmt != nil {
		p.dataStmt.Close()
	}
	return p.db.Close()
}
