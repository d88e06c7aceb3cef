package lateral

import (
	"sort"
	"strings"
	"time"
)

// RDP session statuses.
const (
	StatusActive       = "ACTIVE"
	StatusNoLogoff     = "NO LOGOFF"
	StatusDisconnected = "DISCONNECTED"
	StatusEnded        = "ENDED"
	StatusFailed       = "FAILED"
	StatusConnecting   = "CONNECTING"
	StatusIncomplete   = "INCOMPLETE"
)

// Correlation windows: how far an event may sit from a session's
// timeline and still belong to it.
const (
	adminWindow      = 5 * time.Second
	activeWindow     = 30 * time.Second
	disconnectWindow = 60 * time.Second
)

const sortTimeLayout = "2006-01-02 15:04:05"

// RDPSession is one correlated remote desktop session lifecycle.
type RDPSession struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	User       string   `json:"user"`
	SessionID  string   `json:"sessionId,omitempty"`
	Status     string   `json:"status"`
	Start      string   `json:"start"`
	End        string   `json:"end,omitempty"`
	Admin      bool     `json:"admin"`
	EventIDs   []string `json:"eventIds"`
	RowIDs     []int64  `json:"rowIds"`
	ClientName string   `json:"clientName,omitempty"`
}

// rdpEventKind classifies lifecycle events by their correlation window.
func rdpEventKind(eventID string) (kind string, window time.Duration) {
	switch eventID {
	case "4672":
		return "admin", adminWindow
	case "1149":
		return "connect", activeWindow
	case "4624", "21", "22", "4778":
		return "logon", activeWindow
	case "24", "4779":
		return "disconnect", disconnectWindow
	case "23", "4634", "4647":
		return "logoff", disconnectWindow
	case "4625", "25":
		return "failed", activeWindow
	default:
		return "", 0
	}
}

// correlateRDP groups RDP lifecycle events into sessions keyed by
// (source → target | user | session id), attaching candidates to an
// existing session when they fall inside the kind-specific window of
// its timeline, and classifies each session's final status.
func correlateRDP(events []event) []RDPSession {
	type session struct {
		RDPSession
		lastSeen time.Time
		kinds    map[string]bool
	}

	// Events must walk in time order for window attachment.
	ordered := make([]event, 0, len(events))
	for _, ev := range events {
		if kind, _ := rdpEventKind(ev.eventID); kind != "" {
			ordered = append(ordered, ev)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].sortTime < ordered[j].sortTime })

	sessions := make(map[string]*session)
	var order []string

	for _, ev := range ordered {
		kind, window := rdpEventKind(ev.eventID)
		t, terr := time.Parse(sortTimeLayout, ev.sortTime)

		key := strings.ToUpper(ev.source) + "\x00" + hostKey(ev.target) +
			"\x00" + strings.ToLower(ev.user) + "\x00" + ev.sessionID

		s, ok := sessions[key]
		if ok && terr == nil && t.Sub(s.lastSeen) > window {
			// Outside the window: this event starts a new session under
			// the same key, so archive the old one under a unique key.
			archived := key + "\x00" + s.Start
			sessions[archived] = s
			for i, k := range order {
				if k == key {
					order[i] = archived
					break
				}
			}
			ok = false
		}
		if !ok {
			s = &session{
				RDPSession: RDPSession{
					Source:     ev.source,
					Target:     ev.target,
					User:       ev.user,
					SessionID:  ev.sessionID,
					Start:      ev.sortTime,
					ClientName: ev.clientName,
				},
				kinds: make(map[string]bool),
			}
			sessions[key] = s
			order = append(order, key)
		}

		s.kinds[kind] = true
		s.EventIDs = append(s.EventIDs, ev.eventID)
		s.RowIDs = append(s.RowIDs, ev.rowID)
		if kind == "admin" {
			s.Admin = true
		}
		if ev.sortTime > s.End {
			s.End = ev.sortTime
		}
		if terr == nil {
			s.lastSeen = t
		}
		if s.ClientName == "" {
			s.ClientName = ev.clientName
		}
	}

	// The dataset's horizon separates ACTIVE from NO LOGOFF.
	var latest time.Time
	for _, ev := range ordered {
		if t, err := time.Parse(sortTimeLayout, ev.sortTime); err == nil && t.After(latest) {
			latest = t
		}
	}

	out := make([]RDPSession, 0, len(order))
	for _, key := range order {
		s, ok := sessions[key]
		if !ok {
			continue
		}
		s.Status = classifySession(s.kinds, s.lastSeen, latest)
		out = append(out, s.RDPSession)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// staleAfter is how far behind the dataset horizon an open session may
// trail before it reads as abandoned rather than still active.
const staleAfter = time.Hour

// classifySession maps the observed lifecycle phases to a status.
func classifySession(kinds map[string]bool, lastSeen, horizon time.Time) string {
	ended := kinds["logoff"] || kinds["disconnect"]
	switch {
	case kinds["failed"] && !kinds["logon"]:
		return StatusFailed
	case kinds["connect"] && !kinds["logon"] && !ended:
		return StatusConnecting
	case kinds["logon"] && kinds["logoff"]:
		return StatusEnded
	case kinds["logon"] && kinds["disconnect"]:
		return StatusDisconnected
	case kinds["logon"]:
		if !lastSeen.IsZero() && horizon.Sub(lastSeen) > staleAfter {
			return StatusNoLogoff
		}
		return StatusActive
	default:
		return StatusIncomplete
	}
}
