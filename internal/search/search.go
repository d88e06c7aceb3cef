// Package search compiles the global search box into SQL. When the
// tab's full-text index is ready, default searches compile to FTS5
// MATCH; until then (and for the non-default conditions) the same
// search compiles to LIKE/equality expressions across all columns.
package search

import (
	"fmt"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// Mode controls how multiple terms combine.
type Mode string

const (
	ModeMixed Mode = "mixed"
	ModeAnd   Mode = "and"
	ModeOr    Mode = "or"
	ModeExact Mode = "exact"
	ModeRegex Mode = "regex"
)

// Condition controls how a single term matches a cell.
type Condition string

const (
	CondContains   Condition = "contains"
	CondStartsWith Condition = "startswith"
	CondLike       Condition = "like"
	CondEquals     Condition = "equals"
	CondFuzzy      Condition = "fuzzy"
)

// Spec is the global search portion of the filter model.
type Spec struct {
	Term      string    `json:"term"`
	Mode      Mode      `json:"mode"`
	Condition Condition `json:"condition"`
}

// token is one unit of a mixed-mode search term.
type token struct {
	text    string
	phrase  bool   // double-quoted
	require bool   // +term
	exclude bool   // -term
	column  string // Column:value
}

// Compile translates a search spec into a WHERE fragment and parameter
// list for the given tab. An empty term compiles to nothing.
func Compile(tab *tabstore.Tab, s *Spec) (string, []interface{}, error) {
	if s == nil || strings.TrimSpace(s.Term) == "" {
		return "", nil, nil
	}

	mode := s.Mode
	if mode == "" {
		mode = ModeMixed
	}
	cond := s.Condition
	if cond == "" {
		cond = CondContains
	}

	cols := tab.SafeColumns()

	switch {
	case mode == ModeRegex:
		return compileRegex(cols, s.Term)
	case cond == CondFuzzy:
		return compileFuzzy(cols, s.Term)
	case cond != CondContains:
		// Non-default conditions bypass FTS entirely.
		return compileDirect(cols, s.Term, mode, cond)
	case mode == ModeMixed:
		return compileMixed(tab, s.Term)
	default:
		// and / or / exact with the default contains condition.
		if tab.FTSReady() {
			return compileFTS(s.Term, mode)
		}
		return compileDirect(cols, s.Term, mode, CondContains)
	}
}

// compileRegex matches the term as a case-insensitive regular expression
// against every column. Invalid patterns match nothing (the registered
// function degrades rather than erroring).
func compileRegex(cols []string, term string) (string, []interface{}, error) {
	parts := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s REGEXP ?", c)
		args[i] = term
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}

// compileFuzzy delegates to the registered n-gram function per column.
func compileFuzzy(cols []string, term string) (string, []interface{}, error) {
	parts := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("fuzzy_match(?, %s)", c)
		args[i] = term
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}

// compileDirect builds per-term, per-column LIKE/equality expressions:
// a term matches a row if any column matches; terms join by AND or OR
// depending on mode.
func compileDirect(cols []string, term string, mode Mode, cond Condition) (string, []interface{}, error) {
	var terms []string
	if mode == ModeExact {
		terms = []string{strings.TrimSpace(term)}
	} else {
		terms = strings.Fields(term)
	}
	if len(terms) == 0 {
		return "", nil, nil
	}

	joiner := " AND "
	if mode == ModeOr {
		joiner = " OR "
	}

	var groups []string
	var args []interface{}
	for _, t := range terms {
		parts := make([]string, len(cols))
		for i, c := range cols {
			switch cond {
			case CondEquals:
				parts[i] = fmt.Sprintf("%s = ?", c)
				args = append(args, t)
			case CondStartsWith:
				parts[i] = fmt.Sprintf("%s LIKE ?", c)
				args = append(args, t+"%")
			case CondLike:
				// Raw LIKE: the user supplies wildcards.
				parts[i] = fmt.Sprintf("%s LIKE ?", c)
				args = append(args, t)
			default: // contains
				parts[i] = fmt.Sprintf("%s LIKE ?", c)
				args = append(args, "%"+t+"%")
			}
		}
		groups = append(groups, "("+strings.Join(parts, " OR ")+")")
	}
	return "(" + strings.Join(groups, joiner) + ")", args, nil
}

// compileFTS compiles the term into an FTS5 MATCH subquery.
func compileFTS(term string, mode Mode) (string, []interface{}, error) {
	var ftsQuery string
	switch mode {
	case ModeExact:
		ftsQuery = quoteFTS(strings.TrimSpace(term))
	case ModeOr:
		ftsQuery = joinFTSTerms(strings.Fields(term), " OR ")
	default:
		ftsQuery = joinFTSTerms(strings.Fields(term), " AND ")
	}
	if ftsQuery == "" {
		return "", nil, nil
	}
	return "id IN (SELECT rowid FROM fts WHERE fts MATCH ?)", []interface{}{ftsQuery}, nil
}

// compileMixed tokenizes the term honoring quoted phrases, +require,
// -exclude, and Column:value. Column-scoped tokens compile to direct
// LIKE on the matched column and drop from the FTS side; the remainder
// forms a full-text query (bare terms default to AND). Falls back to
// LIKE across all columns while the FTS index is not ready.
func compileMixed(tab *tabstore.Tab, term string) (string, []interface{}, error) {
	tokens := tokenizeMixed(term)
	if len(tokens) == 0 {
		return "", nil, nil
	}

	var clauses []string
	var args []interface{}
	var ftsInclude []string
	var ftsExclude []string
	var likeTokens []token

	for _, tok := range tokens {
		if tok.column != "" {
			safe, ok := tab.SafeColumn(tok.column)
			if !ok {
				// Try case-insensitive header match.
				for _, h := range tab.Headers() {
					if strings.EqualFold(h, tok.column) {
						safe, ok = tab.SafeColumn(h)
						break
					}
				}
			}
			if ok {
				if tok.exclude {
					clauses = append(clauses, fmt.Sprintf("%s NOT LIKE ?", safe))
				} else {
					clauses = append(clauses, fmt.Sprintf("%s LIKE ?", safe))
				}
				args = append(args, "%"+tok.text+"%")
				continue
			}
			// Unknown column: treat the whole token as a bare term.
			tok.column = ""
		}
		if tok.exclude {
			ftsExclude = append(ftsExclude, tok.text)
		} else {
			ftsInclude = append(ftsInclude, tok.text)
		}
		likeTokens = append(likeTokens, tok)
	}

	if len(ftsInclude)+len(ftsExclude) > 0 {
		if tab.FTSReady() {
			var parts []string
			for _, t := range ftsInclude {
				parts = append(parts, quoteFTS(t))
			}
			query := strings.Join(parts, " AND ")
			for _, t := range ftsExclude {
				if query == "" {
					// FTS5 cannot express a bare NOT; exclude via LIKE.
					clauses = append(clauses, notLikeAllColumns(tab.SafeColumns(), &args, t))
					continue
				}
				query = query + " NOT " + quoteFTS(t)
			}
			if query != "" {
				clauses = append(clauses, "id IN (SELECT rowid FROM fts WHERE fts MATCH ?)")
				args = append(args, query)
			}
		} else {
			// LIKE fallback: same semantics without the index.
			for _, tok := range likeTokens {
				if tok.exclude {
					clauses = append(clauses, notLikeAllColumns(tab.SafeColumns(), &args, tok.text))
				} else {
					cols := tab.SafeColumns()
					parts := make([]string, len(cols))
					for i, c := range cols {
						parts[i] = fmt.Sprintf("%s LIKE ?", c)
						args = append(args, "%"+tok.text+"%")
					}
					clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
				}
			}
		}
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", args, nil
}

func notLikeAllColumns(cols []string, args *[]interface{}, term string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("(%s IS NULL OR %s NOT LIKE ?)", c, c)
		*args = append(*args, "%"+term+"%")
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// tokenizeMixed splits a mixed-mode term into tokens, honoring
// double-quoted phrases, +term, -term, and Column:value.
func tokenizeMixed(term string) []token {
	var tokens []token
	i := 0
	for i < len(term) {
		// Skip whitespace.
		for i < len(term) && term[i] == ' ' {
			i++
		}
		if i >= len(term) {
			break
		}

		var tok token
		switch term[i] {
		case '+':
			tok.require = true
			i++
		case '-':
			tok.exclude = true
			i++
		}
		if i >= len(term) {
			break
		}

		if term[i] == '"' {
			// Quoted phrase runs to the closing quote (or end).
			end := strings.IndexByte(term[i+1:], '"')
			if end < 0 {
				tok.text = term[i+1:]
				i = len(term)
			} else {
				tok.text = term[i+1 : i+1+end]
				i = i + 1 + end + 1
			}
			tok.phrase = true
		} else {
			end := strings.IndexByte(term[i:], ' ')
			var word string
			if end < 0 {
				word = term[i:]
				i = len(term)
			} else {
				word = term[i : i+end]
				i += end
			}
			// Column:value scoping (value may itself be quoted).
			if colon := strings.IndexByte(word, ':'); colon > 0 {
				tok.column = word[:colon]
				tok.text = strings.Trim(word[colon+1:], `"`)
			} else {
				tok.text = word
			}
		}

		if tok.text != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func quoteFTS(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

func joinFTSTerms(terms []string, joiner string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		quoted = append(quoted, quoteFTS(t))
	}
	return strings.Join(quoted, joiner)
}
