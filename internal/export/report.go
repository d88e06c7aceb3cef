package export

import (
	"fmt"
	"html/template"
	"os"
	"sort"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// reportRow is one rendered table row.
type reportRow struct {
	ID    int64
	Cells []string
	Tags  []string
}

// tagSection is one per-tag table.
type tagSection struct {
	Label string
	Count int
	Rows  []reportRow
}

// reportData feeds the report template.
type reportData struct {
	TabName        string
	GeneratedNote  string
	Headers        []string
	TotalRows      int64
	BookmarkCount  int
	TaggedRowCount int
	DistinctTags   int
	RangeStart     string
	RangeEnd       string
	TagChips       []tagSection
	Bookmarked     []reportRow
	TagSections    []tagSection
}

// Report writes the self-contained HTML report for a tab: summary
// cards, timestamp range, tag chips, the bookmarked-events table, and
// one table per tag. Styling is inline and print-friendly.
func Report(tab *tabstore.Tab, outPath string) error {
	data := reportData{
		TabName:   tab.Name,
		Headers:   tab.Headers(),
		TotalRows: tab.RowCount(),
	}

	bookmarks, err := tab.AllBookmarks()
	if err != nil {
		return err
	}
	data.BookmarkCount = len(bookmarks)

	tags, err := tab.AllTags()
	if err != nil {
		return err
	}
	data.TaggedRowCount = len(tags)

	byLabel := make(map[string][]int64)
	for rowID, labels := range tags {
		for _, l := range labels {
			byLabel[l] = append(byLabel[l], rowID)
		}
	}
	data.DistinctTags = len(byLabel)

	// Global timestamp range over the first timestamp column.
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		if safe, ok := tab.SafeColumn(ts[0]); ok {
			expr := fmt.Sprintf("extract_datetime_minute(%s)", safe)
			row := tab.DB().QueryRow(fmt.Sprintf(
				"SELECT COALESCE(MIN(%s), ''), COALESCE(MAX(%s), '') FROM rows", expr, expr))
			if err := row.Scan(&data.RangeStart, &data.RangeEnd); err != nil {
				return fmt.Errorf("timestamp range query failed: %w", err)
			}
		}
	}

	data.Bookmarked, err = fetchReportRows(tab, bookmarks, tags)
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		ids := byLabel[l]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		rows, err := fetchReportRows(tab, ids, tags)
		if err != nil {
			return err
		}
		section := tagSection{Label: l, Count: len(ids), Rows: rows}
		data.TagSections = append(data.TagSections, section)
		data.TagChips = append(data.TagChips, tagSection{Label: l, Count: len(ids)})
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	if err := reportTemplate.Execute(f, data); err != nil {
		return fmt.Errorf("report render failed: %w", err)
	}
	log.Info("report written", "tab", tab.ID, "path", outPath)
	return nil
}

// fetchReportRows materializes specific rows by id, in id order.
func fetchReportRows(tab *tabstore.Tab, ids []int64, tags map[int64][]string) ([]reportRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cols := tab.SafeColumns()
	out := make([]reportRow, 0, len(ids))

	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}

		ph := ""
		args := make([]interface{}, 0, end-start)
		for i, id := range ids[start:end] {
			if i > 0 {
				ph += ", "
			}
			ph += "?"
			args = append(args, id)
		}

		q := fmt.Sprintf("SELECT id, %s FROM rows WHERE id IN (%s) ORDER BY id", joinCols(cols), ph)
		rows, err := tab.DB().Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("report row fetch failed: %w", err)
		}
		for rows.Next() {
			r := reportRow{Cells: make([]string, len(cols))}
			ptrs := make([]*string, len(cols))
			dest := make([]interface{}, len(cols)+1)
			dest[0] = &r.ID
			for i := range ptrs {
				dest[i+1] = &ptrs[i]
			}
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("report row scan failed: %w", err)
			}
			for i, p := range ptrs {
				if p != nil {
					r.Cells[i] = *p
				}
			}
			r.Tags = tags[r.ID]
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Timeline Report — {{.TabName}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 24px; color: #1a1a2e; }
  h1 { font-size: 22px; margin-bottom: 4px; }
  h2 { font-size: 16px; margin-top: 28px; border-bottom: 2px solid #e0e0e8; padding-bottom: 4px; }
  .cards { display: flex; gap: 12px; flex-wrap: wrap; margin: 16px 0; }
  .card { background: #f4f4f8; border-radius: 8px; padding: 12px 18px; min-width: 120px; }
  .card .num { font-size: 24px; font-weight: 700; }
  .card .label { font-size: 12px; color: #666; text-transform: uppercase; }
  .range { color: #444; font-size: 13px; margin-bottom: 8px; }
  .chips { margin: 8px 0 16px; }
  .chip { display: inline-block; background: #e8eaf6; border-radius: 12px; padding: 3px 12px; margin: 2px; font-size: 12px; }
  table { border-collapse: collapse; width: 100%; font-size: 12px; margin: 8px 0 20px; }
  th, td { border: 1px solid #d8d8e0; padding: 4px 6px; text-align: left; vertical-align: top; }
  th { background: #eceef4; position: sticky; top: 0; }
  tr:nth-child(even) td { background: #fafafc; }
  .tag { background: #fff3cd; border-radius: 8px; padding: 1px 6px; font-size: 11px; margin-right: 2px; }
  @media print {
    body { margin: 8px; }
    .card { border: 1px solid #ccc; }
    th { position: static; }
    table { page-break-inside: auto; }
    tr { page-break-inside: avoid; }
  }
</style>
</head>
<body>
<h1>Timeline Report — {{.TabName}}</h1>
{{if .RangeStart}}<div class="range">Timestamp range: {{.RangeStart}} — {{.RangeEnd}}</div>{{end}}

<div class="cards">
  <div class="card"><div class="num">{{.TotalRows}}</div><div class="label">Total rows</div></div>
  <div class="card"><div class="num">{{.BookmarkCount}}</div><div class="label">Bookmarked</div></div>
  <div class="card"><div class="num">{{.TaggedRowCount}}</div><div class="label">Tagged rows</div></div>
  <div class="card"><div class="num">{{.DistinctTags}}</div><div class="label">Distinct tags</div></div>
</div>

{{if .TagChips}}
<div class="chips">
  {{range .TagChips}}<span class="chip">{{.Label}} ({{.Count}})</span>{{end}}
</div>
{{end}}

{{if .Bookmarked}}
<h2>Bookmarked events ({{len .Bookmarked}})</h2>
<table>
  <tr><th>#</th>{{range .Headers}}<th>{{.}}</th>{{end}}<th>Tags</th></tr>
  {{range .Bookmarked}}
  <tr><td>{{.ID}}</td>{{range .Cells}}<td>{{.}}</td>{{end}}<td>{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</td></tr>
  {{end}}
</table>
{{end}}

{{range .TagSections}}
<h2>Tag: {{.Label}} ({{.Count}})</h2>
<table>
  <tr><th>#</th>{{range $.Headers}}<th>{{.}}</th>{{end}}</tr>
  {{range .Rows}}
  <tr><td>{{.ID}}</td>{{range .Cells}}<td>{{.}}</td>{{end}}</tr>
  {{end}}
</table>
{{end}}

</body>
</html>
`))
