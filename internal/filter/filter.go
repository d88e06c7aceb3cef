// Package filter holds the composite filter model and its compiler. The
// compiler translates the model into a parameterized WHERE fragment; no
// user value is ever interpolated into the SQL text.
package filter

import (
	"fmt"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/search"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// DateRange bounds a timestamp column inclusively on either side.
// Comparison is lexicographic: callers supply ISO-prefixed bounds.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// TagFilter selects rows by tag membership. Any selects rows with at
// least one tag; otherwise Labels is an OR-set of labels.
type TagFilter struct {
	Any    bool     `json:"any,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// AdvancedCondition is one entry of the advanced filter list. Logic
// links the condition to the previous one: consecutive AND-linked
// conditions group, OR starts a new group, and the final expression is
// an OR of AND-groups.
type AdvancedCondition struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
	Logic    string `json:"logic"` // AND | OR
}

// Model is the composite filter: all parts AND together.
type Model struct {
	Columns      map[string]string    `json:"columns,omitempty"`    // substring per column
	Checkboxes   map[string][]string  `json:"checkboxes,omitempty"` // exact-value sets per column
	DateRanges   map[string]DateRange `json:"dateRanges,omitempty"` // per timestamp column
	BookmarkOnly bool                 `json:"bookmarkOnly,omitempty"`
	Tags         *TagFilter           `json:"tags,omitempty"`
	Advanced     []AdvancedCondition  `json:"advanced,omitempty"`
	Search       *search.Spec         `json:"search,omitempty"`
}

// IsEmpty reports whether the model filters nothing.
func (m *Model) IsEmpty() bool {
	if m == nil {
		return true
	}
	return len(m.Columns) == 0 && len(m.Checkboxes) == 0 && len(m.DateRanges) == 0 &&
		!m.BookmarkOnly && m.Tags == nil && len(m.Advanced) == 0 &&
		(m.Search == nil || strings.TrimSpace(m.Search.Term) == "")
}

// Compiled is the compiler output: a WHERE fragment without the leading
// WHERE keyword, and its ordered parameter list.
type Compiled struct {
	Fragment string
	Args     []interface{}
}

// Signature serializes the compiled filter for count-cache keying.
func (c *Compiled) Signature() string {
	var b strings.Builder
	b.WriteString(c.Fragment)
	for _, a := range c.Args {
		b.WriteByte(0)
		fmt.Fprintf(&b, "%v", a)
	}
	return b.String()
}

// WherePrefix renders " WHERE <fragment>" or "" when the filter is empty.
func (c *Compiled) WherePrefix() string {
	if c.Fragment == "" {
		return ""
	}
	return " WHERE " + c.Fragment
}

// Compile translates the model against a tab's schema. Unknown columns
// are skipped rather than erroring: a stale UI filter must not break the
// query.
func Compile(tab *tabstore.Tab, m *Model) (*Compiled, error) {
	return CompileExcluding(tab, m, "")
}

// CompileExcluding compiles the model while ignoring the checkbox filter
// on one column. The unique-values query for a column's dropdown uses
// this so deselecting values does not erase the remaining candidates.
func CompileExcluding(tab *tabstore.Tab, m *Model, excludeCheckboxColumn string) (*Compiled, error) {
	c := &Compiled{}
	if m == nil {
		return c, nil
	}

	var clauses []string

	// 1. Column substring filters.
	for _, header := range orderedKeys(m.Columns, tab) {
		value := m.Columns[header]
		if value == "" {
			continue
		}
		safe, ok := tab.SafeColumn(header)
		if !ok {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s LIKE ?", safe))
		c.Args = append(c.Args, "%"+value+"%")
	}

	// 2. Checkbox value sets. The empty value is a sentinel matching
	// NULL or empty string; concrete values compile to IN.
	for _, header := range orderedCheckboxKeys(m.Checkboxes, tab) {
		if header == excludeCheckboxColumn {
			continue
		}
		values := m.Checkboxes[header]
		if len(values) == 0 {
			continue
		}
		safe, ok := tab.SafeColumn(header)
		if !ok {
			continue
		}

		hasNull := false
		var concrete []string
		for _, v := range values {
			if v == "" {
				hasNull = true
			} else {
				concrete = append(concrete, v)
			}
		}

		var parts []string
		if hasNull {
			parts = append(parts, fmt.Sprintf("(%s IS NULL OR %s = '')", safe, safe))
		}
		if len(concrete) > 0 {
			ph := strings.TrimSuffix(strings.Repeat("?, ", len(concrete)), ", ")
			parts = append(parts, fmt.Sprintf("%s IN (%s)", safe, ph))
			for _, v := range concrete {
				c.Args = append(c.Args, v)
			}
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}

	// 3. Date ranges, inclusive on both ends.
	for _, header := range orderedDateKeys(m.DateRanges, tab) {
		dr := m.DateRanges[header]
		safe, ok := tab.SafeColumn(header)
		if !ok {
			continue
		}
		if dr.From != "" {
			clauses = append(clauses, fmt.Sprintf("%s >= ?", safe))
			c.Args = append(c.Args, dr.From)
		}
		if dr.To != "" {
			clauses = append(clauses, fmt.Sprintf("%s <= ?", safe))
			c.Args = append(c.Args, dr.To)
		}
	}

	// 4. Bookmark-only flag.
	if m.BookmarkOnly {
		clauses = append(clauses, "id IN (SELECT row_id FROM bookmarks)")
	}

	// 5. Tag filter.
	if m.Tags != nil {
		switch {
		case m.Tags.Any:
			clauses = append(clauses, "id IN (SELECT row_id FROM tags)")
		case len(m.Tags.Labels) == 1:
			clauses = append(clauses, "id IN (SELECT row_id FROM tags WHERE tag = ?)")
			c.Args = append(c.Args, m.Tags.Labels[0])
		case len(m.Tags.Labels) > 1:
			ph := strings.TrimSuffix(strings.Repeat("?, ", len(m.Tags.Labels)), ", ")
			clauses = append(clauses, fmt.Sprintf("id IN (SELECT row_id FROM tags WHERE tag IN (%s))", ph))
			for _, l := range m.Tags.Labels {
				c.Args = append(c.Args, l)
			}
		}
	}

	// 6. Advanced filters: OR of AND-groups.
	if frag, args := compileAdvanced(tab, m.Advanced); frag != "" {
		clauses = append(clauses, frag)
		c.Args = append(c.Args, args...)
	}

	// 7. Global search.
	if m.Search != nil {
		frag, args, err := search.Compile(tab, m.Search)
		if err != nil {
			return nil, err
		}
		if frag != "" {
			clauses = append(clauses, frag)
			c.Args = append(c.Args, args...)
		}
	}

	c.Fragment = strings.Join(clauses, " AND ")
	return c, nil
}

// compileAdvanced groups consecutive AND-linked conditions; OR starts a
// new group. The result is an OR across the groups' AND-joined parts.
func compileAdvanced(tab *tabstore.Tab, conds []AdvancedCondition) (string, []interface{}) {
	var groups [][]string
	var args []interface{}
	var current []string

	for i, cond := range conds {
		frag, condArgs, ok := compileCondition(tab, cond)
		if !ok {
			continue
		}
		if i > 0 && strings.EqualFold(cond.Logic, "OR") && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, frag)
		args = append(args, condArgs...)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	if len(groups) == 0 {
		return "", nil
	}

	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = "(" + strings.Join(g, " AND ") + ")"
	}
	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func compileCondition(tab *tabstore.Tab, cond AdvancedCondition) (string, []interface{}, bool) {
	safe, ok := tab.SafeColumn(cond.Column)
	if !ok {
		return "", nil, false
	}

	switch cond.Operator {
	case "contains":
		return fmt.Sprintf("%s LIKE ?", safe), []interface{}{"%" + cond.Value + "%"}, true
	case "not_contains":
		return fmt.Sprintf("(%s IS NULL OR %s NOT LIKE ?)", safe, safe), []interface{}{"%" + cond.Value + "%"}, true
	case "equals":
		return fmt.Sprintf("%s = ?", safe), []interface{}{cond.Value}, true
	case "not_equals":
		return fmt.Sprintf("(%s IS NULL OR %s != ?)", safe, safe), []interface{}{cond.Value}, true
	case "starts_with":
		return fmt.Sprintf("%s LIKE ?", safe), []interface{}{cond.Value + "%"}, true
	case "ends_with":
		return fmt.Sprintf("%s LIKE ?", safe), []interface{}{"%" + cond.Value}, true
	case "greater_than":
		return fmt.Sprintf("CAST(%s AS REAL) > CAST(? AS REAL)", safe), []interface{}{cond.Value}, true
	case "less_than":
		return fmt.Sprintf("CAST(%s AS REAL) < CAST(? AS REAL)", safe), []interface{}{cond.Value}, true
	case "is_empty":
		return fmt.Sprintf("(%s IS NULL OR %s = '')", safe, safe), nil, true
	case "is_not_empty":
		return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", safe, safe), nil, true
	case "regex":
		// Delegated to the registered function; invalid patterns match
		// nothing instead of failing the query.
		return fmt.Sprintf("%s REGEXP ?", safe), []interface{}{cond.Value}, true
	default:
		return "", nil, false
	}
}

// Map iteration order is random; compile in the tab's column order so
// identical models produce identical signatures for the count cache.

func orderedKeys(m map[string]string, tab *tabstore.Tab) []string {
	var out []string
	for _, h := range tab.Headers() {
		if _, ok := m[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

func orderedCheckboxKeys(m map[string][]string, tab *tabstore.Tab) []string {
	var out []string
	for _, h := range tab.Headers() {
		if _, ok := m[h]; ok {
			out = append(out, h)
		}
	}
	return out
}

func orderedDateKeys(m map[string]DateRange, tab *tabstore.Tab) []string {
	var out []string
	for _, h := range tab.Headers() {
		if _, ok := m[h]; ok {
			out = append(out, h)
		}
	}
	return out
}
