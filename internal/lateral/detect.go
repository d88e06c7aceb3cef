// Package lateral builds the lateral-movement graph from authentication
// events: aggregated source→target edges, outlier host tagging, RDP
// session correlation, and temporally ordered movement chains.
package lateral

import (
	"regexp"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// Columns maps graph roles to tab headers.
type Columns struct {
	SourceIP       string `json:"sourceIp"`
	Workstation    string `json:"workstation"`
	TargetComputer string `json:"targetComputer"`
	User           string `json:"user"`
	LogonType      string `json:"logonType"`
	EventID        string `json:"eventId"`
	Timestamp      string `json:"timestamp"`
	Domain         string `json:"domain"`
	ClientName     string `json:"clientName"`
	ClientAddress  string `json:"clientAddress"`

	// PayloadVariant marks the forensic CSV export that hides the
	// connection fields inside RemoteHost and payload strings.
	PayloadVariant bool   `json:"payloadVariant"`
	RemoteHost     string `json:"remoteHost"`
	Payload        string `json:"payload"`
}

var lateralPatterns = []struct {
	re    *regexp.Regexp
	apply func(*Columns, string)
}{
	{regexp.MustCompile(`(?i)^(ip.?address|source.?(network.?)?address|source.?ip)$`), func(c *Columns, h string) {
		if c.SourceIP == "" {
			c.SourceIP = h
		}
	}},
	{regexp.MustCompile(`(?i)^(workstation.?name|workstation)$`), func(c *Columns, h string) { c.Workstation = h }},
	{regexp.MustCompile(`(?i)^(computer|computer.?name|target.?server.?name|hostname)$`), func(c *Columns, h string) {
		if c.TargetComputer == "" {
			c.TargetComputer = h
		}
	}},
	{regexp.MustCompile(`(?i)^(target.?user.?name|subject.?user.?name|user.?name|user|account.?name)$`), func(c *Columns, h string) {
		if c.User == "" {
			c.User = h
		}
	}},
	{regexp.MustCompile(`(?i)^logon.?type$`), func(c *Columns, h string) { c.LogonType = h }},
	{regexp.MustCompile(`(?i)^event.?id$`), func(c *Columns, h string) { c.EventID = h }},
	{regexp.MustCompile(`(?i)^(target.?domain.?name|subject.?domain.?name|domain)$`), func(c *Columns, h string) {
		if c.Domain == "" {
			c.Domain = h
		}
	}},
	{regexp.MustCompile(`(?i)^client.?name$`), func(c *Columns, h string) { c.ClientName = h }},
	{regexp.MustCompile(`(?i)^client.?address$`), func(c *Columns, h string) { c.ClientAddress = h }},
}

// DetectColumns resolves graph roles for a tab, applying the forensic
// CSV override when RemoteHost/payload columns are present.
func DetectColumns(tab *tabstore.Tab) Columns {
	var c Columns
	headers := tab.Headers()

	for _, h := range headers {
		for _, p := range lateralPatterns {
			if p.re.MatchString(h) {
				p.apply(&c, h)
				break
			}
		}
	}
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		c.Timestamp = ts[0]
	}

	var hasRemoteHost, hasPayload bool
	for _, h := range headers {
		switch h {
		case "RemoteHost":
			hasRemoteHost = true
		case "PayloadData1":
			hasPayload = true
		}
	}
	if hasRemoteHost && hasPayload {
		c.PayloadVariant = true
		c.RemoteHost = "RemoteHost"
		c.Payload = "PayloadData1"
	}
	return c
}

// remoteHostRe splits "WorkstationName (IpAddress)".
var remoteHostRe = regexp.MustCompile(`^\s*([^(]*?)\s*\(([^)]*)\)\s*$`)

// parseRemoteHost splits the forensic CSV RemoteHost field.
func parseRemoteHost(v string) (workstation, ip string) {
	if m := remoteHostRe.FindStringSubmatch(v); m != nil {
		return m[1], m[2]
	}
	return strings.TrimSpace(v), ""
}

// TerminalServices payload fields.
var (
	payloadUserRe       = regexp.MustCompile(`User:\s*([^,|]+)`)
	payloadLogonTypeRe  = regexp.MustCompile(`LogonType\s*:?\s*(\d+)`)
	payloadClientRe     = regexp.MustCompile(`ClientName:\s*([^,|]+)`)
	payloadClientAddrRe = regexp.MustCompile(`ClientAddress:\s*([^,|]+)`)
	payloadSessionRe    = regexp.MustCompile(`Session(?:\s*ID)?:\s*(\d+)`)
)

// parseTSPayload extracts TerminalServices fields from a payload string.
// User values arrive as DOMAIN\User.
func parseTSPayload(payload string) (user, domain, logonType, clientName, clientAddr, sessionID string) {
	if m := payloadUserRe.FindStringSubmatch(payload); m != nil {
		user = strings.TrimSpace(m[1])
		if idx := strings.IndexByte(user, '\\'); idx >= 0 {
			domain = user[:idx]
			user = user[idx+1:]
		}
	}
	if m := payloadLogonTypeRe.FindStringSubmatch(payload); m != nil {
		logonType = m[1]
	}
	if m := payloadClientRe.FindStringSubmatch(payload); m != nil {
		clientName = strings.TrimSpace(m[1])
	}
	if m := payloadClientAddrRe.FindStringSubmatch(payload); m != nil {
		clientAddr = strings.TrimSpace(m[1])
	}
	if m := payloadSessionRe.FindStringSubmatch(payload); m != nil {
		sessionID = m[1]
	}
	return
}

// serviceAccountRe matches accounts excluded from the graph: machine
// accounts and the built-in service identities.
var serviceAccountRe = regexp.MustCompile(`(?i)^(system|local service|network service|dwm-\d+|umfd-\d+|anonymous logon)$`)

// isServiceAccount reports whether a user should be excluded.
func isServiceAccount(user string) bool {
	u := strings.TrimSpace(user)
	if u == "" {
		return false
	}
	if strings.HasSuffix(u, "$") {
		return true
	}
	return serviceAccountRe.MatchString(u)
}

// isLoopback reports whether a source address is local noise.
func isLoopback(addr string) bool {
	a := strings.TrimSpace(strings.ToLower(addr))
	switch a {
	case "", "-", "::1", "localhost":
		return true
	}
	return strings.HasPrefix(a, "127.")
}

// Outlier hostname patterns: machines whose names suggest unmanaged or
// attacker infrastructure.
var outlierPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`^DESKTOP-[A-Z0-9]{5,}$`), "default Windows hostname (DESKTOP-*)"},
	{regexp.MustCompile(`^WIN-[A-Z0-9]{5,}$`), "default Windows hostname (WIN-*)"},
	{regexp.MustCompile(`(?i)^(kali|parrot|debian|ubuntu|arch|fedora|blackarch)`), "default Linux distribution hostname"},
	{regexp.MustCompile(`(?i)^(test|temp|demo|admin|user|hacker|attacker|pwn|evil)([-_0-9].*)?$`), "generic or test hostname"},
	{regexp.MustCompile(`(?i)commando|flare|remnux`), "security tooling VM hostname"},
}

// outlierReason returns a reason string when a hostname matches an
// outlier pattern, or "" otherwise.
func outlierReason(host string) string {
	h := strings.TrimSpace(host)
	if h == "" {
		return ""
	}
	for _, p := range outlierPatterns {
		if p.re.MatchString(h) {
			return p.reason
		}
	}
	for _, r := range h {
		if r > 127 {
			return "non-ASCII hostname"
		}
	}
	return ""
}
