package lateral

import (
	"fmt"
	"sort"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("lateral")

// maxRows caps the event set the graph builds from.
const maxRows = 500000

// maxChains caps how many movement chains are returned.
const maxChains = 50

// defaultEventIDs cover successful and failed logons, explicit
// credential use, and session reconnects.
var defaultEventIDs = map[string]struct{}{
	"4624": {}, "4625": {}, "4648": {}, "4778": {},
	// TerminalServices lifecycle events carry RDP source info too.
	"21": {}, "22": {}, "23": {}, "24": {}, "25": {}, "1149": {},
}

// rdpLifecycleIDs are fetched in addition to the configured edge set so
// session correlation sees logoffs, disconnects, and privilege grants.
var rdpLifecycleIDs = map[string]struct{}{
	"4634": {}, "4647": {}, "4672": {}, "4779": {},
	"21": {}, "22": {}, "23": {}, "24": {}, "25": {}, "1149": {},
}

// Options tune graph construction.
type Options struct {
	EventIDs         []string `json:"eventIds,omitempty"`
	IncludeSelfLoops bool     `json:"includeSelfLoops,omitempty"`
}

// Edge is one aggregated (source, target) connection.
type Edge struct {
	Source          string   `json:"source"`
	Target          string   `json:"target"`
	Count           int64    `json:"count"`
	Users           []string `json:"users"`
	LogonTypes      []string `json:"logonTypes"`
	FirstSeen       string   `json:"firstSeen"`
	LastSeen        string   `json:"lastSeen"`
	HasFailures     bool     `json:"hasFailures"`
	ClientNames     []string `json:"clientNames,omitempty"`
	ClientAddresses []string `json:"clientAddresses,omitempty"`
}

// Host is one graph vertex with its roles.
type Host struct {
	Name          string `json:"name"`
	IsSource      bool   `json:"isSource"`
	IsTarget      bool   `json:"isTarget"`
	EventCount    int64  `json:"eventCount"`
	Outlier       bool   `json:"outlier"`
	OutlierReason string `json:"outlierReason,omitempty"`
}

// Chain is a temporally non-decreasing path of distinct hosts.
type Chain struct {
	Hosts []string `json:"hosts"`
	Hops  int      `json:"hops"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// Result is the full lateral-movement analysis.
type Result struct {
	Columns   Columns      `json:"columns"`
	Edges     []Edge       `json:"edges"`
	Hosts     []Host       `json:"hosts"`
	Chains    []Chain      `json:"chains"`
	Sessions  []RDPSession `json:"rdpSessions"`
	Truncated bool         `json:"truncated"`
}

// event is one normalized authentication row.
type event struct {
	rowID      int64
	source     string
	target     string
	user       string
	domain     string
	logonType  string
	eventID    string
	timestamp  string
	sortTime   string
	clientName string
	clientAddr string
	sessionID  string
	failed     bool
	inEdgeSet  bool
}

// Build runs the full analysis against the filtered rows of a tab.
func Build(tab *tabstore.Tab, m *filter.Model, opts Options) (*Result, error) {
	cols := DetectColumns(tab)
	if cols.EventID == "" {
		return nil, fmt.Errorf("no event id column detected")
	}

	wanted := defaultEventIDs
	if len(opts.EventIDs) > 0 {
		wanted = make(map[string]struct{}, len(opts.EventIDs))
		for _, id := range opts.EventIDs {
			wanted[id] = struct{}{}
		}
	}

	events, truncated, err := fetchEvents(tab, m, cols, wanted)
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: cols, Truncated: truncated}
	kept := filterEvents(events, opts)

	buildEdges(result, kept)
	buildHosts(result, kept)
	result.Chains = findChains(result.Edges)
	result.Sessions = correlateRDP(events)

	log.Info("lateral graph built", "events", len(kept), "edges", len(result.Edges), "chains", len(result.Chains))
	return result, nil
}

// fetchEvents streams the filtered rows and normalizes those whose
// event id is in the wanted set.
func fetchEvents(tab *tabstore.Tab, m *filter.Model, cols Columns, wanted map[string]struct{}) ([]event, bool, error) {
	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, false, err
	}

	roles := []string{
		cols.EventID, cols.SourceIP, cols.Workstation, cols.TargetComputer,
		cols.User, cols.LogonType, cols.Timestamp, cols.Domain,
		cols.ClientName, cols.ClientAddress, cols.RemoteHost, cols.Payload,
	}
	sel := []string{"id"}
	pos := make([]int, len(roles))
	for i, role := range roles {
		pos[i] = -1
		if role == "" {
			continue
		}
		if safe, ok := tab.SafeColumn(role); ok {
			pos[i] = len(sel) - 1
			sel = append(sel, safe)
		}
	}
	sortPos := -1
	if cols.Timestamp != "" {
		if safe, ok := tab.SafeColumn(cols.Timestamp); ok {
			sortPos = len(sel) - 1
			sel = append(sel, fmt.Sprintf("sort_datetime(%s)", safe))
		}
	}

	q := fmt.Sprintf("SELECT %s FROM rows%s ORDER BY id LIMIT %d",
		strings.Join(sel, ", "), compiled.WherePrefix(), maxRows+1)
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, false, fmt.Errorf("lateral fetch failed: %w", err)
	}
	defer rows.Close()

	var events []event
	truncated := false
	count := 0
	for rows.Next() {
		count++
		if count > maxRows {
			truncated = true
			break
		}

		var id int64
		vals := make([]*string, len(sel)-1)
		dest := make([]interface{}, len(sel))
		dest[0] = &id
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, false, fmt.Errorf("lateral scan failed: %w", err)
		}

		get := func(role int) string {
			if pos[role] < 0 || vals[pos[role]] == nil {
				return ""
			}
			return strings.TrimSpace(*vals[pos[role]])
		}

		ev := event{
			rowID:      id,
			eventID:    get(0),
			source:     get(1),
			target:     get(3),
			user:       get(4),
			logonType:  get(5),
			timestamp:  get(6),
			domain:     get(7),
			clientName: get(8),
			clientAddr: get(9),
		}
		_, inEdges := wanted[ev.eventID]
		_, inRDP := rdpLifecycleIDs[ev.eventID]
		if !inEdges && !inRDP {
			continue
		}
		ev.inEdgeSet = inEdges
		if sortPos >= 0 && vals[sortPos] != nil {
			ev.sortTime = *vals[sortPos]
		}
		if ev.source == "" {
			ev.source = get(2) // workstation name fallback
		}

		if remoteHost := get(10); remoteHost != "" {
			ws, ip := parseRemoteHost(remoteHost)
			if ip != "" && !isLoopback(ip) {
				ev.source = ip
			} else if ws != "" {
				ev.source = ws
			}
			if ev.clientName == "" {
				ev.clientName = ws
			}
			if ev.clientAddr == "" {
				ev.clientAddr = ip
			}
		}
		if payload := get(11); payload != "" {
			user, domain, lt, cn, ca, sid := parseTSPayload(payload)
			if ev.user == "" {
				ev.user = user
			}
			if ev.domain == "" {
				ev.domain = domain
			}
			if ev.logonType == "" {
				ev.logonType = lt
			}
			if ev.clientName == "" {
				ev.clientName = cn
			}
			if ev.clientAddr == "" && !isLoopback(ca) {
				ev.clientAddr = ca
			}
			ev.sessionID = sid
		}

		ev.failed = ev.eventID == "4625" || ev.eventID == "25"
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("lateral fetch failed: %w", err)
	}
	return events, truncated, nil
}

// filterEvents applies the exclusions: loopback sources, empty sources,
// self-loops, and service/machine accounts.
func filterEvents(events []event, opts Options) []event {
	var kept []event
	for _, ev := range events {
		if !ev.inEdgeSet {
			continue
		}
		if isLoopback(ev.source) || ev.target == "" {
			continue
		}
		if !opts.IncludeSelfLoops && strings.EqualFold(hostKey(ev.source), hostKey(ev.target)) {
			continue
		}
		if isServiceAccount(ev.user) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// hostKey normalizes a host name for vertex identity.
func hostKey(h string) string {
	h = strings.TrimSpace(strings.ToUpper(h))
	// Strip DNS suffix so HOST and HOST.domain.local collapse.
	if idx := strings.IndexByte(h, '.'); idx > 0 && !isDigit(h[0]) {
		h = h[:idx]
	}
	return h
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func buildEdges(result *Result, events []event) {
	type agg struct {
		edge      Edge
		users     map[string]struct{}
		types     map[string]struct{}
		clients   map[string]struct{}
		addresses map[string]struct{}
	}
	edges := make(map[string]*agg)

	for _, ev := range events {
		key := hostKey(ev.source) + "\x00" + hostKey(ev.target)
		a, ok := edges[key]
		if !ok {
			a = &agg{
				edge:      Edge{Source: ev.source, Target: ev.target},
				users:     make(map[string]struct{}),
				types:     make(map[string]struct{}),
				clients:   make(map[string]struct{}),
				addresses: make(map[string]struct{}),
			}
			edges[key] = a
		}
		a.edge.Count++
		if ev.user != "" {
			a.users[ev.user] = struct{}{}
		}
		if ev.logonType != "" {
			a.types[ev.logonType] = struct{}{}
		}
		if ev.clientName != "" {
			a.clients[ev.clientName] = struct{}{}
		}
		if ev.clientAddr != "" {
			a.addresses[ev.clientAddr] = struct{}{}
		}
		if ev.failed {
			a.edge.HasFailures = true
		}
		if ev.sortTime != "" {
			if a.edge.FirstSeen == "" || ev.sortTime < a.edge.FirstSeen {
				a.edge.FirstSeen = ev.sortTime
			}
			if ev.sortTime > a.edge.LastSeen {
				a.edge.LastSeen = ev.sortTime
			}
		}
	}

	for _, a := range edges {
		a.edge.Users = sortedSet(a.users)
		a.edge.LogonTypes = sortedSet(a.types)
		a.edge.ClientNames = sortedSet(a.clients)
		a.edge.ClientAddresses = sortedSet(a.addresses)
		result.Edges = append(result.Edges, a.edge)
	}
	sort.Slice(result.Edges, func(i, j int) bool {
		if result.Edges[i].Count != result.Edges[j].Count {
			return result.Edges[i].Count > result.Edges[j].Count
		}
		if result.Edges[i].Source != result.Edges[j].Source {
			return result.Edges[i].Source < result.Edges[j].Source
		}
		return result.Edges[i].Target < result.Edges[j].Target
	})
}

func buildHosts(result *Result, events []event) {
	hosts := make(map[string]*Host)
	touch := func(name string) *Host {
		key := hostKey(name)
		h, ok := hosts[key]
		if !ok {
			h = &Host{Name: name}
			if reason := outlierReason(name); reason != "" {
				h.Outlier = true
				h.OutlierReason = reason
			}
			hosts[key] = h
		}
		return h
	}

	for _, ev := range events {
		s := touch(ev.source)
		s.IsSource = true
		s.EventCount++
		t := touch(ev.target)
		t.IsTarget = true
		t.EventCount++
		// Client names ride along RDP events and can expose attacker
		// machines that never appear as a source address.
		if ev.clientName != "" && !strings.EqualFold(ev.clientName, ev.source) {
			touch(ev.clientName)
		}
	}

	for _, h := range hosts {
		result.Hosts = append(result.Hosts, *h)
	}
	sort.Slice(result.Hosts, func(i, j int) bool {
		if result.Hosts[i].EventCount != result.Hosts[j].EventCount {
			return result.Hosts[i].EventCount > result.Hosts[j].EventCount
		}
		return result.Hosts[i].Name < result.Hosts[j].Name
	})
}

// findChains walks forward from every source host along temporally
// non-decreasing edges. Each branch keeps its own visited set; chains of
// at least 2 hops are reported, capped and sorted by hop count.
func findChains(edges []Edge) []Chain {
	bySource := make(map[string][]Edge)
	for _, e := range edges {
		bySource[hostKey(e.Source)] = append(bySource[hostKey(e.Source)], e)
	}

	var chains []Chain
	var dfs func(host string, path []string, pathTime string, start string)
	dfs = func(host string, path []string, pathTime, start string) {
		if len(chains) >= maxChains*4 {
			return
		}
		for _, e := range bySource[hostKey(host)] {
			if e.FirstSeen == "" || e.FirstSeen < pathTime {
				// No backtracking in time.
				continue
			}
			next := e.Target
			if containsHost(path, next) {
				continue
			}
			newPath := append(append([]string(nil), path...), next)
			if len(newPath) >= 3 { // >= 2 hops
				chains = append(chains, Chain{
					Hosts: newPath,
					Hops:  len(newPath) - 1,
					Start: start,
					End:   e.LastSeen,
				})
			}
			dfs(next, newPath, e.FirstSeen, start)
		}
	}

	sources := make(map[string]string)
	for _, e := range edges {
		if _, ok := sources[hostKey(e.Source)]; !ok {
			sources[hostKey(e.Source)] = e.Source
		}
	}
	for key, name := range sources {
		_ = key
		for _, e := range bySource[hostKey(name)] {
			path := []string{name, e.Target}
			dfs(e.Target, path, e.FirstSeen, e.FirstSeen)
		}
	}

	sort.Slice(chains, func(i, j int) bool {
		if chains[i].Hops != chains[j].Hops {
			return chains[i].Hops > chains[j].Hops
		}
		return chains[i].Start < chains[j].Start
	})
	if len(chains) > maxChains {
		chains = chains[:maxChains]
	}
	return chains
}

func containsHost(path []string, host string) bool {
	for _, p := range path {
		if strings.EqualFold(hostKey(p), hostKey(host)) {
			return true
		}
	}
	return false
}

func sortedSet(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
