package proctree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/filter"
	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

var log = logging.GetLogger("proctree")

// maxRows caps the row set a tree builds from; larger filtered sets
// return truncated results instead of unbounded latency.
const maxRows = 200000

// Node is one process instance in the reconstructed tree.
type Node struct {
	RowID       int64       `json:"rowId"`
	Key         string      `json:"key"`
	ParentKey   string      `json:"parentKey,omitempty"`
	PID         string      `json:"pid"`
	ParentPID   string      `json:"parentPid,omitempty"`
	GUID        string      `json:"guid,omitempty"`
	ParentGUID  string      `json:"parentGuid,omitempty"`
	Image       string      `json:"image"`
	ParentImage string      `json:"parentImage,omitempty"`
	CommandLine string      `json:"commandLine,omitempty"`
	User        string      `json:"user,omitempty"`
	Timestamp   string      `json:"timestamp"`
	SortTime    string      `json:"-"`
	EventID     string      `json:"eventId,omitempty"`
	Hostname    string      `json:"hostname,omitempty"`
	Elevation   string      `json:"elevation,omitempty"`
	Integrity   string      `json:"integrity,omitempty"`
	Depth       int         `json:"depth"`
	ChildCount  int         `json:"childCount"`
	Detections  []Detection `json:"detections,omitempty"`
}

// Stats summarizes the reconstruction.
type Stats struct {
	Total     int  `json:"total"`
	Roots     int  `json:"roots"`
	MaxDepth  int  `json:"maxDepth"`
	Truncated bool `json:"truncated"`
}

// Result is the flat process list plus stats.
type Result struct {
	Columns Columns `json:"columns"`
	Nodes   []Node  `json:"nodes"`
	Stats   Stats   `json:"stats"`
}

// Build reconstructs the process tree from the filtered rows of a tab.
func Build(tab *tabstore.Tab, m *filter.Model) (*Result, error) {
	cols := DetectColumns(tab)
	if !cols.PayloadVariant && cols.PID == "" {
		return nil, fmt.Errorf("no process id column detected")
	}

	nodes, truncated, err := fetchNodes(tab, m, cols)
	if err != nil {
		return nil, err
	}

	link(nodes, cols)
	roots, maxDepth := assignDepth(nodes)
	detect(nodes)

	result := &Result{
		Columns: cols,
		Nodes:   make([]Node, len(nodes)),
		Stats: Stats{
			Total:     len(nodes),
			Roots:     roots,
			MaxDepth:  maxDepth,
			Truncated: truncated,
		},
	}
	for i, n := range nodes {
		result.Nodes[i] = *n
	}
	return result, nil
}

// fetchNodes streams the filtered rows and normalizes each into a Node.
func fetchNodes(tab *tabstore.Tab, m *filter.Model, cols Columns) ([]*Node, bool, error) {
	compiled, err := filter.Compile(tab, m)
	if err != nil {
		return nil, false, err
	}

	// Select only the roles in play, by safe column.
	roles := []string{
		cols.PID, cols.ParentPID, cols.GUID, cols.ParentGUID, cols.Image,
		cols.ParentImage, cols.CommandLine, cols.User, cols.Timestamp,
		cols.EventID, cols.Hostname, cols.TokenElevation, cols.IntegrityLevel,
		cols.Payload, cols.ExecutableInfo,
	}
	sel := []string{"id"}
	pos := make([]int, len(roles)) // role -> position in scan, -1 if absent
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
	if cols.Timestamp != "" {
		if safe, ok := tab.SafeColumn(cols.Timestamp); ok {
			sel = append(sel, fmt.Sprintf("sort_datetime(%s)", safe))
		}
	}

	q := fmt.Sprintf("SELECT %s FROM rows%s ORDER BY id LIMIT %d",
		strings.Join(sel, ", "), compiled.WherePrefix(), maxRows+1)
	rows, err := tab.DB().Query(q, compiled.Args...)
	if err != nil {
		return nil, false, fmt.Errorf("process tree fetch failed: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	truncated := false
	for rows.Next() {
		if len(nodes) >= maxRows {
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
			return nil, false, fmt.Errorf("process tree scan failed: %w", err)
		}

		get := func(role int) string {
			if pos[role] < 0 || vals[pos[role]] == nil {
				return ""
			}
			return *vals[pos[role]]
		}

		n := &Node{
			RowID:       id,
			PID:         normalizePID(get(0)),
			ParentPID:   normalizePID(get(1)),
			GUID:        strings.Trim(get(2), "{}"),
			ParentGUID:  strings.Trim(get(3), "{}"),
			Image:       get(4),
			ParentImage: get(5),
			CommandLine: get(6),
			User:        get(7),
			Timestamp:   get(8),
			EventID:     get(9),
			Hostname:    get(10),
			Elevation:   get(11),
			Integrity:   get(12),
		}
		if cols.Timestamp != "" && len(vals) > 0 {
			if st := vals[len(vals)-1]; st != nil {
				n.SortTime = *st
			}
		}

		if cols.PayloadVariant {
			pid, guid, ppid, pguid := parsePayload(get(13))
			n.PID = normalizePID(pid)
			n.ParentPID = normalizePID(ppid)
			n.GUID = guid
			n.ParentGUID = pguid
			if exe := firstToken(get(14)); exe != "" {
				n.Image = exe
			}
			if n.CommandLine == "" {
				n.CommandLine = get(14)
			}
		}
		if n.Image == "" && n.CommandLine != "" {
			n.Image = firstToken(n.CommandLine)
		}

		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("process tree fetch failed: %w", err)
	}
	return nodes, truncated, nil
}

// link assigns keys and parent keys. GUIDs link directly when both sides
// carry them. Otherwise candidates index by PID, and each child links to
// the latest candidate whose timestamp falls strictly before the
// child's, which defends against PID reuse.
func link(nodes []*Node, cols Columns) {
	useGUID := false
	for _, n := range nodes {
		if n.GUID != "" && n.ParentGUID != "" {
			useGUID = true
			break
		}
	}

	if useGUID {
		known := make(map[string]struct{}, len(nodes))
		for _, n := range nodes {
			if n.GUID != "" {
				n.Key = n.GUID
			} else {
				n.Key = fmt.Sprintf("row-%d", n.RowID)
			}
			known[n.Key] = struct{}{}
		}
		for _, n := range nodes {
			if n.ParentGUID == "" {
				continue
			}
			if _, ok := known[n.ParentGUID]; ok {
				n.ParentKey = n.ParentGUID
			}
		}
		return
	}

	// PID-based linking.
	byPID := make(map[string][]*Node)
	for _, n := range nodes {
		n.Key = fmt.Sprintf("pid-%s-row-%d", n.PID, n.RowID)
		if n.PID != "" {
			byPID[n.PID] = append(byPID[n.PID], n)
		}
	}
	for _, candidates := range byPID {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].SortTime != candidates[j].SortTime {
				return candidates[i].SortTime < candidates[j].SortTime
			}
			return candidates[i].RowID < candidates[j].RowID
		})
	}

	for _, n := range nodes {
		if n.ParentPID == "" {
			continue
		}
		candidates := byPID[n.ParentPID]
		var best *Node
		for _, c := range candidates {
			if c == n {
				continue
			}
			// Strictly before the child: a later instance of a reused
			// PID cannot be this child's parent.
			if c.SortTime != "" && n.SortTime != "" && c.SortTime >= n.SortTime {
				break
			}
			best = c
		}
		if best != nil {
			n.ParentKey = best.Key
		}
	}
}

// assignDepth runs BFS from the roots with a cycle guard and records
// child counts.
func assignDepth(nodes []*Node) (roots, maxDepth int) {
	byKey := make(map[string]*Node, len(nodes))
	children := make(map[string][]*Node)
	for _, n := range nodes {
		byKey[n.Key] = n
	}
	for _, n := range nodes {
		if n.ParentKey != "" {
			if _, ok := byKey[n.ParentKey]; ok {
				children[n.ParentKey] = append(children[n.ParentKey], n)
				continue
			}
			// Parent key absent from the set: treat as root.
			n.ParentKey = ""
		}
	}
	for _, n := range nodes {
		n.ChildCount = len(children[n.Key])
	}

	visited := make(map[string]struct{}, len(nodes))
	var queue []*Node
	for _, n := range nodes {
		if n.ParentKey == "" {
			n.Depth = 0
			queue = append(queue, n)
			roots++
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, seen := visited[n.Key]; seen {
			// A key visited twice marks a cycle; skip the revisit.
			continue
		}
		visited[n.Key] = struct{}{}
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
		for _, c := range children[n.Key] {
			c.Depth = n.Depth + 1
			queue = append(queue, c)
		}
	}
	return roots, maxDepth
}

// detect applies the chain and pattern rule library to every node.
func detect(nodes []*Node) {
	for _, n := range nodes {
		n.Detections = Evaluate(n)
	}
}
