package analytics

import (
	"fmt"
	"sort"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// mergeBatchRows is how many projected rows one merged insert carries.
const mergeBatchRows = 50000

// MergeSource names one contributing tab and the timestamp column whose
// values land in the merged datetime column.
type MergeSource struct {
	TabID           string `json:"tabId"`
	DisplayName     string `json:"displayName"`
	TimestampColumn string `json:"timestampColumn"`
}

// MergeProgress is emitted once per completed source.
type MergeProgress struct {
	Source    string
	SourceNum int
	Total     int
	Rows      int64
}

// Merge projects the sources into a new tab whose headers are _Source,
// datetime, and the sorted union of all source headers. The merge is a
// one-way projection; source tabs stay untouched.
func Merge(registry *tabstore.Registry, name string, sources []MergeSource, progress func(MergeProgress)) (*tabstore.Tab, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("merge needs at least one source tab")
	}

	// Resolve sources up front so a bad id fails before the tab exists.
	tabs := make([]*tabstore.Tab, len(sources))
	for i, src := range sources {
		tab, err := registry.Get(src.TabID)
		if err != nil {
			return nil, fmt.Errorf("merge source %q: %w", src.TabID, err)
		}
		if _, ok := tab.SafeColumn(src.TimestampColumn); !ok {
			return nil, fmt.Errorf("merge source %q has no column %q", src.DisplayName, src.TimestampColumn)
		}
		tabs[i] = tab
	}

	// Unified layout: _Source, datetime, then the sorted union of the
	// remaining source headers. Each source's chosen timestamp column is
	// excluded from its contribution: those values land in datetime.
	unionSet := make(map[string]struct{})
	for i, tab := range tabs {
		for _, h := range tab.Headers() {
			if h == sources[i].TimestampColumn {
				continue
			}
			unionSet[h] = struct{}{}
		}
	}
	union := make([]string, 0, len(unionSet))
	for h := range unionSet {
		union = append(union, h)
	}
	sort.Strings(union)
	headers := append([]string{"_Source", "datetime"}, union...)

	merged, err := registry.Create(name, "", headers)
	if err != nil {
		return nil, err
	}

	for si, src := range sources {
		rows, err := mergeOneSource(merged, tabs[si], src, headers)
		if err != nil {
			registry.Close(merged.ID)
			return nil, fmt.Errorf("merge of %q failed: %w", src.DisplayName, err)
		}
		if progress != nil {
			progress(MergeProgress{Source: src.DisplayName, SourceNum: si + 1, Total: len(sources), Rows: rows})
		}
	}

	if err := merged.Finalize(); err != nil {
		registry.Close(merged.ID)
		return nil, err
	}

	// The merged timeline always sorts and groups on these two.
	if err := merged.EnsureSortIndex("datetime"); err != nil {
		log.Warn("datetime index build failed", "tab", merged.ID, "error", err)
	}
	if err := merged.EnsureSortIndex("_Source"); err != nil {
		log.Warn("_Source index build failed", "tab", merged.ID, "error", err)
	}

	log.Info("merge complete", "tab", merged.ID, "sources", len(sources), "rows", merged.RowCount())
	return merged, nil
}

// mergeOneSource streams every row of one source tab into the merged
// layout, filling absent columns with empty strings.
func mergeOneSource(merged, src *tabstore.Tab, spec MergeSource, headers []string) (int64, error) {
	srcHeaders := src.Headers()
	srcCols := src.SafeColumns()

	// Position of each source column in the merged layout.
	mergedPos := make(map[string]int, len(headers))
	for i, h := range headers {
		mergedPos[h] = i
	}
	tsIdx := -1
	srcIdx := make([]int, len(srcHeaders)) // source column -> merged column
	for i, h := range srcHeaders {
		if h == spec.TimestampColumn {
			// The chosen column projects into datetime only.
			tsIdx = i
			srcIdx[i] = 1
			continue
		}
		pos, ok := mergedPos[h]
		if !ok {
			pos = -1
		}
		srcIdx[i] = pos
	}

	q := fmt.Sprintf("SELECT %s FROM rows ORDER BY id", joinColumns(srcCols))
	rows, err := src.DB().Query(q)
	if err != nil {
		return 0, fmt.Errorf("source read failed: %w", err)
	}
	defer rows.Close()

	width := len(headers)
	flat := make([]string, 0, mergeBatchRows*width)
	var total, batchRows int64

	flush := func() error {
		if batchRows == 0 {
			return nil
		}
		if err := merged.InsertBatch(flat); err != nil {
			return err
		}
		flat = flat[:0]
		batchRows = 0
		return nil
	}

	cells := make([]*string, len(srcCols))
	dest := make([]interface{}, len(srcCols))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return 0, fmt.Errorf("source scan failed: %w", err)
		}

		projected := make([]string, width)
		projected[0] = spec.DisplayName
		for i, c := range cells {
			v := ""
			if c != nil {
				v = *c
			}
			if i == tsIdx {
				projected[1] = v
				continue
			}
			if srcIdx[i] >= 0 {
				projected[srcIdx[i]] = v
			}
		}

		flat = append(flat, projected...)
		batchRows++
		total++
		if batchRows >= mergeBatchRows {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("source read failed: %w", err)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
