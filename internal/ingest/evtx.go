package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/0xrawsec/golang-evtx/evtx"
)

// evtxFixedHeaders lead every EVTX tab; EventData keys discovered during
// the schema scan follow them.
var evtxFixedHeaders = []string{
	"RecordId", "EventID", "Provider", "Level", "Channel", "Computer", "datetime", "Message",
}

// defaultSchemaScan is how many records are examined before the column
// set freezes. Keys first seen after that are dropped.
const defaultSchemaScan = 500

// evtxRecord is the normalized form of one event, pre-schema.
type evtxRecord struct {
	fixed [8]string
	data  map[string]string
}

// evtxParser renders each record's XML document, discovers EventData
// keys across the schema-scan window while buffering those records, then
// streams with the frozen schema. Records buffered during discovery are
// flushed first.
type evtxParser struct {
	file     *evtx.File
	events   chan *evtx.GoEvtxMap
	headers  []string
	dataKeys []string
	buffered []evtxRecord
	bufPos   int
	consumed int64
	done     bool
}

func openEvtx(path string, opts Options) (Parser, error) {
	ef, err := evtx.OpenDirty(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evtx %s: %w", path, err)
	}

	scan := opts.SchemaScan
	if scan <= 0 {
		scan = defaultSchemaScan
	}

	p := &evtxParser{
		file:   &ef,
		events: ef.FastEvents(),
	}

	// Discovery phase: read up to the scan window, accumulating the
	// union of EventData keys. Short files finalize at EOF.
	keySet := make(map[string]struct{})
	for len(p.buffered) < scan {
		e, ok := <-p.events
		if !ok {
			p.done = true
			break
		}
		rec := normalizeEvtxEvent(e)
		for k := range rec.data {
			keySet[k] = struct{}{}
		}
		p.buffered = append(p.buffered, rec)
	}

	p.dataKeys = make([]string, 0, len(keySet))
	for k := range keySet {
		p.dataKeys = append(p.dataKeys, k)
	}
	sort.Strings(p.dataKeys)
	p.headers = append(append([]string(nil), evtxFixedHeaders...), p.dataKeys...)
	return p, nil
}

func (p *evtxParser) Headers() []string { return p.headers }

func (p *evtxParser) ReadBatch(maxRows int) (*Batch, error) {
	ncols := len(p.headers)
	batch := &Batch{Flat: make([]string, 0, maxRows*ncols)}

	appendRec := func(rec evtxRecord) {
		batch.Flat = append(batch.Flat, rec.fixed[:]...)
		for _, k := range p.dataKeys {
			batch.Flat = append(batch.Flat, rec.data[k])
		}
		batch.Rows++
		p.consumed++
	}

	// Drain the discovery buffer first.
	for p.bufPos < len(p.buffered) && batch.Rows < maxRows {
		appendRec(p.buffered[p.bufPos])
		p.buffered[p.bufPos] = evtxRecord{}
		p.bufPos++
	}
	if p.bufPos == len(p.buffered) {
		p.buffered = nil
	}

	for batch.Rows < maxRows {
		if p.done {
			return batch, io.EOF
		}
		e, ok := <-p.events
		if !ok {
			p.done = true
			return batch, io.EOF
		}
		// Keys first seen after schema freeze are ignored.
		appendRec(normalizeEvtxEvent(e))
	}
	return batch, nil
}

func (p *evtxParser) Progress() float64 { return -1 }

func (p *evtxParser) Close() error {
	// Drain so the reader goroutine can exit.
	go func() {
		for range p.events {
		}
	}()
	return p.file.Close()
}

// normalizeEvtxEvent flattens one rendered event document. The library
// hands back a nested map mirroring the record XML; going through JSON
// keeps the extraction independent of the concrete value types.
func normalizeEvtxEvent(e *evtx.GoEvtxMap) evtxRecord {
	var rec evtxRecord

	raw, err := json.Marshal(e)
	if err != nil {
		return rec
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rec
	}

	event, _ := doc["Event"].(map[string]interface{})
	system, _ := event["System"].(map[string]interface{})
	rec.fixed[0] = scalarString(system["EventRecordID"])
	rec.fixed[1] = scalarString(system["EventID"])
	rec.fixed[2] = nestedString(system, "Provider", "Name")
	rec.fixed[3] = scalarString(system["Level"])
	rec.fixed[4] = scalarString(system["Channel"])
	rec.fixed[5] = scalarString(system["Computer"])
	rec.fixed[6] = nestedString(system, "TimeCreated", "SystemTime")

	rec.data = make(map[string]string)
	if ed, ok := event["EventData"].(map[string]interface{}); ok {
		for k, v := range ed {
			rec.data[k] = scalarString(v)
		}
	} else if ud, ok := event["UserData"].(map[string]interface{}); ok {
		for k, v := range flattenUserData(ud) {
			rec.data[k] = v
		}
	}

	// Rendered messages need the provider's message DLLs; the payload
	// fields are what the record actually carries.
	rec.fixed[7] = renderMessage(rec.data)
	return rec
}

// flattenUserData lifts one level of UserData nesting (the payload sits
// under a single wrapper element).
func flattenUserData(ud map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for _, v := range ud {
		if inner, ok := v.(map[string]interface{}); ok {
			for k, iv := range inner {
				if strings.HasPrefix(k, "xmlns") {
					continue
				}
				out[k] = scalarString(iv)
			}
		}
	}
	return out
}

// renderMessage joins payload fields into a stable "key: value" line.
func renderMessage(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(data[k])
	}
	return b.String()
}

// scalarString renders a decoded JSON value as the cell string. Map
// values keep looking for conventional wrapper keys (Value, #text).
func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]interface{}:
		for _, key := range []string{"Value", "#text", "Name"} {
			if inner, ok := x[key]; ok {
				return scalarString(inner)
			}
		}
		raw, _ := json.Marshal(x)
		return string(raw)
	case []interface{}:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = scalarString(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", x)
	}
}

func nestedString(m map[string]interface{}, outer, inner string) string {
	if m == nil {
		return ""
	}
	if o, ok := m[outer].(map[string]interface{}); ok {
		return scalarString(o[inner])
	}
	return scalarString(m[outer])
}
