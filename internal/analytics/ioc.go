package analytics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// iocBatchSize caps how many patterns join one alternation regex.
const iocBatchSize = 200

// iocPageSize caps how many matched rows one counting page fetches.
const iocPageSize = 500

// PatternHits is the per-pattern count over the matched row set.
type PatternHits struct {
	Pattern string `json:"pattern"`
	Hits    int64  `json:"hits"`
}

// IOCResult carries the matched row ids (the auto-tagging input) plus
// per-pattern hit counts, zero included.
type IOCResult struct {
	MatchedRows []int64       `json:"matchedRows"`
	Patterns    []PatternHits `json:"patterns"`
}

// MatchIOCs runs indicator patterns against every column of the
// filtered row set. Phase one unions matches per alternation batch;
// phase two pages over the matched rows and attributes hits to each
// original pattern.
func MatchIOCs(tab *tabstore.Tab, m *filter.Model, patterns []string) (*IOCResult, error) {
	result := &IOCResult{}
	if len(patterns) == 0 {
		return result, nil
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	cols := tab.SafeColumns()
	matched := make(map[int64]struct{})

	// Phase 1: batched alternation regexes, one SELECT per batch.
	for start := 0; start < len(patterns); start += iocBatchSize {
		end := start + iocBatchSize
		if end > len(patterns) {
			end = len(patterns)
		}
		batch := patterns[start:end]
		alternation := strings.Join(batch, "|")

		parts := make([]string, len(cols))
		args := append([]interface{}{}, compiled.Args...)
		for i, c := range cols {
			parts[i] = fmt.Sprintf("%s REGEXP ?", c)
			args = append(args, alternation)
		}

		where := "(" + strings.Join(parts, " OR ") + ")"
		if compiled.Fragment != "" {
			where = "(" + compiled.Fragment + ") AND " + where
		}

		rows, err := tab.DB().Query("SELECT id FROM rows WHERE "+where, args...)
		if err != nil {
			return nil, fmt.Errorf("ioc batch query failed: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ioc scan failed: %w", err)
			}
			matched[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ioc batch query failed: %w", err)
		}
		rows.Close()
	}

	result.MatchedRows = make([]int64, 0, len(matched))
	for id := range matched {
		result.MatchedRows = append(result.MatchedRows, id)
	}
	sort.Slice(result.MatchedRows, func(i, j int) bool { return result.MatchedRows[i] < result.MatchedRows[j] })

	// Phase 2: per-pattern hit counts over the matched rows, paged.
	// Patterns that fail to compile count zero (degrade, not abort).
	compiledPatterns := make([]*regexp.Regexp, len(patterns))
	hits := make([]int64, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			log.Warn("invalid ioc pattern", "pattern", p, "error", err)
			continue
		}
		compiledPatterns[i] = re
	}

	colList := strings.Join(cols, ", ")
	for start := 0; start < len(result.MatchedRows); start += iocPageSize {
		end := start + iocPageSize
		if end > len(result.MatchedRows) {
			end = len(result.MatchedRows)
		}
		page := result.MatchedRows[start:end]

		ph := strings.TrimSuffix(strings.Repeat("?, ", len(page)), ", ")
		args := make([]interface{}, len(page))
		for i, id := range page {
			args[i] = id
		}
		q := fmt.Sprintf("SELECT %s FROM rows WHERE id IN (%s)", colList, ph)

		rows, err := tab.DB().Query(q, args...)
		if err != nil {
			return nil, fmt.Errorf("ioc page query failed: %w", err)
		}
		for rows.Next() {
			cells := make([]*string, len(cols))
			dest := make([]interface{}, len(cols))
			for i := range cells {
				dest[i] = &cells[i]
			}
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ioc page scan failed: %w", err)
			}
			for pi, re := range compiledPatterns {
				if re == nil {
					continue
				}
				for _, c := range cells {
					if c != nil && re.MatchString(*c) {
						hits[pi]++
						break
					}
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ioc page query failed: %w", err)
		}
		rows.Close()
	}

	result.Patterns = make([]PatternHits, len(patterns))
	for i, p := range patterns {
		result.Patterns[i] = PatternHits{Pattern: p, Hits: hits[i]}
	}
	return result, nil
}
