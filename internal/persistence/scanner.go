// Package persistence scans event-log or registry artifacts for
// persistence mechanisms: a rule engine with built-in tables, custom
// rules, whitelist suppression, cross-event enrichment, and risk
// scoring.
package persistence

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("persistence")

// Mode is the scan mode detected from the tab's headers.
type Mode string

const (
	ModeEventLog Mode = "eventlog"
	ModeRegistry Mode = "registry"
	ModeUnknown  Mode = ""
)

// Item is one persistence finding.
type Item struct {
	RowID     int64             `json:"rowId"`
	RuleID    int               `json:"ruleId"`
	Category  string            `json:"category"`
	RuleName  string            `json:"ruleName"`
	Severity  Severity          `json:"severity"`
	RiskScore int               `json:"riskScore"`
	Timestamp string            `json:"timestamp"`
	SortTime  string            `json:"-"`
	Fields    map[string]string `json:"fields,omitempty"`
	Reasons   []string          `json:"reasons,omitempty"`
}

// Options carry request-time rule adjustments.
type Options struct {
	CustomEventRules    []EventLogRule `json:"customEventRules,omitempty"`
	CustomRegistryRules []RegistryRule `json:"customRegistryRules,omitempty"`
	// DisabledRules references rules by ordinal id (built-ins first,
	// then custom, in table order).
	DisabledRules []int `json:"disabledRules,omitempty"`
}

// Result is the scan output, sorted by (risk desc, timestamp asc).
type Result struct {
	Mode  Mode   `json:"mode"`
	Items []Item `json:"items"`
}

var (
	eventIDHeaderRe   = regexp.MustCompile(`(?i)^event.?id$`)
	channelHeaderRe   = regexp.MustCompile(`(?i)^(channel|provider|log|source.?name)$`)
	payloadHeaderRe   = regexp.MustCompile(`(?i)^(payload|payload.?data\d*|message|event.?data)$`)
	keyPathHeaderRe   = regexp.MustCompile(`(?i)^key.?path$`)
	valueNameHeaderRe = regexp.MustCompile(`(?i)^value.?name$`)
	valueDataHeaderRe = regexp.MustCompile(`(?i)^(value.?data|data)$`)
)

// DetectMode decides the scan mode from the headers: an EventID-ish
// column selects event-log mode; KeyPath plus ValueName selects
// registry mode.
func DetectMode(tab *tabstore.Tab) Mode {
	var hasEventID, hasKeyPath, hasValueName bool
	for _, h := range tab.Headers() {
		switch {
		case eventIDHeaderRe.MatchString(h):
			hasEventID = true
		case keyPathHeaderRe.MatchString(h):
			hasKeyPath = true
		case valueNameHeaderRe.MatchString(h):
			hasValueName = true
		}
	}
	if hasKeyPath && hasValueName {
		return ModeRegistry
	}
	if hasEventID {
		return ModeEventLog
	}
	return ModeUnknown
}

// Scan runs the persistence rules against the filtered rows of a tab.
func Scan(tab *tabstore.Tab, m *filter.Model, opts Options) (*Result, error) {
	mode := DetectMode(tab)
	switch mode {
	case ModeEventLog:
		return scanEventLog(tab, m, opts)
	case ModeRegistry:
		return scanRegistry(tab, m, opts)
	default:
		return nil, fmt.Errorf("headers match neither event-log nor registry layout")
	}
}

func disabledSet(opts Options) map[int]struct{} {
	out := make(map[int]struct{}, len(opts.DisabledRules))
	for _, id := range opts.DisabledRules {
		out[id] = struct{}{}
	}
	return out
}

func scanEventLog(tab *tabstore.Tab, m *filter.Model, opts Options) (*Result, error) {
	rules := make([]EventLogRule, 0, len(builtinEventRules)+len(opts.CustomEventRules))
	rules = append(rules, builtinEventRules...)
	rules = append(rules, opts.CustomEventRules...)
	for i := range rules {
		rules[i].compile()
	}
	disabled := disabledSet(opts)

	// Resolve columns: event id, channel, timestamp, ExecutableInfo,
	// and every payload-ish column (their pipe-join is the haystack).
	var eventIDCol, channelCol, execInfoCol string
	var payloadCols []string
	for _, h := range tab.Headers() {
		switch {
		case eventIDHeaderRe.MatchString(h) && eventIDCol == "":
			eventIDCol = h
		case channelHeaderRe.MatchString(h) && channelCol == "":
			channelCol = h
		case h == "ExecutableInfo":
			execInfoCol = h
		case payloadHeaderRe.MatchString(h):
			payloadCols = append(payloadCols, h)
		}
	}
	tsCol := ""
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		tsCol = ts[0]
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	sel := []string{"id"}
	add := func(header string) int {
		if header == "" {
			return -1
		}
		safe, ok := tab.SafeColumn(header)
		if !ok {
			return -1
		}
		sel = append(sel, safe)
		return len(sel) - 2
	}
	eventIDPos := add(eventIDCol)
	channelPos := add(channelCol)
	execInfoPos := add(execInfoCol)
	tsPos := add(tsCol)
	payloadPos := make([]int, len(payloadCols))
	for i, h := range payloadCols {
		payloadPos[i] = add(h)
	}
	sortPos := -1
	if tsCol != "" {
		if safe, ok := tab.SafeColumn(tsCol); ok {
			sortPos = len(sel) - 1
			sel = append(sel, fmt.Sprintf("sort_datetime(%s)", safe))
		}
	}

	q := fmt.Sprintf("SELECT %s FROM rows%s ORDER BY id", strings.Join(sel, ", "), compiled.WherePrefix())
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("persistence scan query failed: %w", err)
	}
	defer rows.Close()

	result := &Result{Mode: ModeEventLog}
	for rows.Next() {
		var id int64
		vals := make([]*string, len(sel)-1)
		dest := make([]interface{}, len(sel))
		dest[0] = &id
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("persistence scan failed: %w", err)
		}
		get := func(pos int) string {
			if pos < 0 || vals[pos] == nil {
				return ""
			}
			return *vals[pos]
		}

		eventID := strings.TrimSpace(get(eventIDPos))
		channel := get(channelPos)
		var haystackParts []string
		for _, pp := range payloadPos {
			if v := get(pp); v != "" {
				haystackParts = append(haystackParts, v)
			}
		}
		haystack := strings.Join(haystackParts, "|")

		for ruleID := range rules {
			if _, off := disabled[ruleID]; off {
				continue
			}
			rule := &rules[ruleID]
			if !matchEventRule(rule, eventID, channel, haystack) {
				continue
			}

			item := Item{
				RowID:     id,
				RuleID:    ruleID,
				Category:  rule.Category,
				RuleName:  rule.Name,
				Severity:  rule.Severity,
				Timestamp: get(tsPos),
				Fields:    make(map[string]string),
			}
			if sortPos >= 0 {
				item.SortTime = get(sortPos)
			}
			for field, re := range rule.extractRe {
				if m := re.FindStringSubmatch(haystack); m != nil {
					for _, g := range m[1:] {
						if g != "" {
							item.Fields[field] = strings.TrimSpace(g)
							break
						}
					}
				}
			}
			if rule.CopyExecInfo != "" && item.Fields[rule.CopyExecInfo] == "" {
				if exec := get(execInfoPos); exec != "" {
					item.Fields[rule.CopyExecInfo] = exec
				}
			}

			if suppressed, escalate := applySuppression(&item); suppressed {
				continue
			} else if escalate {
				item.Severity = SeverityCritical
			}

			result.Items = append(result.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence scan failed: %w", err)
	}

	enrichTaskCommands(result.Items)
	for i := range result.Items {
		score(&result.Items[i])
	}
	sortItems(result.Items)
	log.Info("persistence scan complete", "mode", result.Mode, "items", len(result.Items))
	return result, nil
}

func matchEventRule(rule *EventLogRule, eventID, channel, haystack string) bool {
	idMatch := false
	for _, id := range rule.EventIDs {
		if id == eventID {
			idMatch = true
			break
		}
	}
	if !idMatch {
		return false
	}
	if len(rule.Channels) > 0 && channel != "" {
		chMatch := false
		for _, sub := range rule.Channels {
			if strings.Contains(strings.ToLower(channel), strings.ToLower(sub)) {
				chMatch = true
				break
			}
		}
		if !chMatch {
			return false
		}
	}
	if rule.payloadRe != nil && !rule.payloadRe.MatchString(haystack) {
		return false
	}
	return true
}

// applySuppression handles well-known service whitelisting: a matching
// name with the vendor's install path suppresses the finding; a
// matching name with a foreign path is mimicry and escalates instead.
func applySuppression(item *Item) (suppressed, escalate bool) {
	name := item.Fields["ServiceName"]
	if name == "" {
		name = item.Fields["TaskName"]
	}
	if name == "" {
		return false, false
	}
	command := item.Fields["Command"]

	for _, s := range svcSuppressions {
		if !s.nameRe.MatchString(strings.TrimPrefix(name, `\`)) {
			continue
		}
		if command == "" || s.pathRe.MatchString(command) {
			return true, false
		}
		item.Reasons = append(item.Reasons,
			fmt.Sprintf("mimics %s but runs from an unexpected path", s.vendor))
		return false, true
	}
	return false, false
}

// enrichTaskCommands copies the executable captured by a later Task
// Process Created / Task Action Started item into the Task Registered /
// Task Updated item for the same task name.
func enrichTaskCommands(items []Item) {
	commands := make(map[string]string)
	for _, item := range items {
		if item.RuleName != "Task Process Created" && item.RuleName != "Task Action Started" {
			continue
		}
		task := item.Fields["TaskName"]
		cmd := item.Fields["Command"]
		if task != "" && cmd != "" {
			if _, ok := commands[task]; !ok {
				commands[task] = cmd
			}
		}
	}
	for i := range items {
		item := &items[i]
		if item.RuleName != "Task Registered" && item.RuleName != "Task Updated" {
			continue
		}
		if item.Fields["Command"] == "" {
			if cmd, ok := commands[item.Fields["TaskName"]]; ok {
				item.Fields["Command"] = cmd
			}
		}
	}
}

func scanRegistry(tab *tabstore.Tab, m *filter.Model, opts Options) (*Result, error) {
	rules := make([]RegistryRule, 0, len(builtinRegistryRules)+len(opts.CustomRegistryRules))
	rules = append(rules, builtinRegistryRules...)
	rules = append(rules, opts.CustomRegistryRules...)
	for i := range rules {
		rules[i].compile()
	}
	disabled := disabledSet(opts)

	var keyCol, valueNameCol, valueDataCol string
	for _, h := range tab.Headers() {
		switch {
		case keyPathHeaderRe.MatchString(h) && keyCol == "":
			keyCol = h
		case valueNameHeaderRe.MatchString(h) && valueNameCol == "":
			valueNameCol = h
		case valueDataHeaderRe.MatchString(h) && valueDataCol == "":
			valueDataCol = h
		}
	}
	tsCol := ""
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		tsCol = ts[0]
	}

	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, err
	}

	sel := []string{"id"}
	add := func(header string) int {
		if header == "" {
			return -1
		}
		safe, ok := tab.SafeColumn(header)
		if !ok {
			return -1
		}
		sel = append(sel, safe)
		return len(sel) - 2
	}
	keyPos := add(keyCol)
	namePos := add(valueNameCol)
	dataPos := add(valueDataCol)
	tsPos := add(tsCol)
	sortPos := -1
	if tsCol != "" {
		if safe, ok := tab.SafeColumn(tsCol); ok {
			sortPos = len(sel) - 1
			sel = append(sel, fmt.Sprintf("sort_datetime(%s)", safe))
		}
	}

	q := fmt.Sprintf("SELECT %s FROM rows%s ORDER BY id", strings.Join(sel, ", "), compiled.WherePrefix())
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, fmt.Errorf("registry scan query failed: %w", err)
	}
	defer rows.Close()

	result := &Result{Mode: ModeRegistry}
	for rows.Next() {
		var id int64
		vals := make([]*string, len(sel)-1)
		dest := make([]interface{}, len(sel))
		dest[0] = &id
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("registry scan failed: %w", err)
		}
		get := func(pos int) string {
			if pos < 0 || vals[pos] == nil {
				return ""
			}
			return *vals[pos]
		}

		keyPath := get(keyPos)
		valueName := get(namePos)
		valueData := get(dataPos)

		for ruleID := range rules {
			if _, off := disabled[ruleID]; off {
				continue
			}
			rule := &rules[ruleID]
			if rule.keyRe == nil || !rule.keyRe.MatchString(keyPath) {
				continue
			}
			if rule.valueRe != nil && !rule.valueRe.MatchString(valueName) {
				continue
			}

			item := Item{
				RowID:     id,
				RuleID:    ruleID,
				Category:  rule.Category,
				RuleName:  rule.Description,
				Severity:  rule.Severity,
				Timestamp: get(tsPos),
				Fields: map[string]string{
					"KeyPath":   keyPath,
					"ValueName": valueName,
					"ValueData": valueData,
				},
			}
			if sortPos >= 0 {
				item.SortTime = get(sortPos)
			}
			result.Items = append(result.Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry scan failed: %w", err)
	}

	for i := range result.Items {
		score(&result.Items[i])
	}
	sortItems(result.Items)
	log.Info("persistence scan complete", "mode", result.Mode, "items", len(result.Items))
	return result, nil
}

// sortItems orders findings by risk score descending, then timestamp
// ascending, then row id for full determinism.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RiskScore != items[j].RiskScore {
			return items[i].RiskScore > items[j].RiskScore
		}
		if items[i].SortTime != items[j].SortTime {
			return items[i].SortTime < items[j].SortTime
		}
		return items[i].RowID < items[j].RowID
	})
}
