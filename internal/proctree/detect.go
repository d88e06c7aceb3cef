// Package proctree reconstructs process ancestry from event rows:
// column auto-detection, PID/GUID relinking that survives PID reuse,
// depth assignment, and a detection library of suspicious parent/child
// chains and command-line patterns.
package proctree

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// Columns is the resolved mapping from tree roles to tab headers.
// Empty strings mean the role was not found.
type Columns struct {
	PID            string `json:"pid"`
	ParentPID      string `json:"parentPid"`
	GUID           string `json:"guid"`
	ParentGUID     string `json:"parentGuid"`
	Image          string `json:"image"`
	ParentImage    string `json:"parentImage"`
	CommandLine    string `json:"commandLine"`
	User           string `json:"user"`
	Timestamp      string `json:"timestamp"`
	EventID        string `json:"eventId"`
	Provider       string `json:"provider"`
	Hostname       string `json:"hostname"`
	TokenElevation string `json:"tokenElevation"`
	IntegrityLevel string `json:"integrityLevel"`

	// PayloadVariant marks the forensic-tool CSV export whose process
	// fields hide inside payload strings.
	PayloadVariant bool   `json:"payloadVariant"`
	Payload        string `json:"payload"`
	ExecutableInfo string `json:"executableInfo"`
}

var columnPatterns = []struct {
	re    *regexp.Regexp
	apply func(*Columns, string)
}{
	{regexp.MustCompile(`(?i)^new.?process.?id$`), func(c *Columns, h string) {
		// Security 4688: NewProcessId is the child; plain ProcessId is
		// the parent. Seen later so it wins over the generic pattern.
		c.ParentPID = c.PID
		c.PID = h
	}},
	{regexp.MustCompile(`(?i)^(process.?id|pid)$`), func(c *Columns, h string) {
		if c.PID == "" {
			c.PID = h
		}
	}},
	{regexp.MustCompile(`(?i)^(parent.?process.?id|ppid)$`), func(c *Columns, h string) {
		if c.ParentPID == "" {
			c.ParentPID = h
		}
	}},
	{regexp.MustCompile(`(?i)^parent.?process.?guid$`), func(c *Columns, h string) { c.ParentGUID = h }},
	{regexp.MustCompile(`(?i)^process.?guid$`), func(c *Columns, h string) { c.GUID = h }},
	{regexp.MustCompile(`(?i)^parent.?(image|process.?name)$`), func(c *Columns, h string) { c.ParentImage = h }},
	{regexp.MustCompile(`(?i)^(image|new.?process.?name|process.?name|application|executable)$`), func(c *Columns, h string) {
		if c.Image == "" {
			c.Image = h
		}
	}},
	{regexp.MustCompile(`(?i)(command.?line|cmdline)`), func(c *Columns, h string) {
		if c.CommandLine == "" {
			c.CommandLine = h
		}
	}},
	{regexp.MustCompile(`(?i)^(subject.?user.?name|user.?name|user|account.?name)$`), func(c *Columns, h string) {
		if c.User == "" {
			c.User = h
		}
	}},
	{regexp.MustCompile(`(?i)^event.?id$`), func(c *Columns, h string) { c.EventID = h }},
	{regexp.MustCompile(`(?i)^(provider|provider.?name|channel|source.?name)$`), func(c *Columns, h string) {
		if c.Provider == "" {
			c.Provider = h
		}
	}},
	{regexp.MustCompile(`(?i)^(computer|computer.?name|hostname|host)$`), func(c *Columns, h string) {
		if c.Hostname == "" {
			c.Hostname = h
		}
	}},
	{regexp.MustCompile(`(?i)token.?elev`), func(c *Columns, h string) { c.TokenElevation = h }},
	{regexp.MustCompile(`(?i)integrity`), func(c *Columns, h string) { c.IntegrityLevel = h }},
}

// DetectColumns resolves the tree roles for a tab by header name, then
// applies the payload-variant override when the tab is the forensic CSV
// export (detected by co-presence of PayloadData1 and ExecutableInfo).
func DetectColumns(tab *tabstore.Tab) Columns {
	var c Columns
	headers := tab.Headers()

	for _, h := range headers {
		for _, p := range columnPatterns {
			if p.re.MatchString(h) {
				p.apply(&c, h)
				break
			}
		}
	}

	// 4688 layouts where NewProcessId precedes ProcessId: the generic
	// pass never saw a child pid to demote, so bind the parent now.
	if c.ParentPID == "" && regexp.MustCompile(`(?i)^new.?process.?id$`).MatchString(c.PID) {
		for _, h := range headers {
			if regexp.MustCompile(`(?i)^process.?id$`).MatchString(h) {
				c.ParentPID = h
				break
			}
		}
	}

	// Timestamp: first classified timestamp column.
	if ts := tab.TimestampColumns(); len(ts) > 0 {
		c.Timestamp = ts[0]
	}

	var hasPayload1, hasExecInfo bool
	for _, h := range headers {
		switch h {
		case "PayloadData1":
			hasPayload1 = true
		case "ExecutableInfo":
			hasExecInfo = true
		}
	}
	if hasPayload1 && hasExecInfo {
		c.PayloadVariant = true
		c.Payload = "PayloadData1"
		c.ExecutableInfo = "ExecutableInfo"
		// The payload fields supersede whatever the generic pass found.
		c.PID = ""
		c.ParentPID = ""
		c.GUID = ""
		c.ParentGUID = ""
	}
	return c
}

// Payload extraction for the forensic CSV variant.
var (
	payloadPIDRe        = regexp.MustCompile(`ProcessID:\s*(\d+)`)
	payloadGUIDRe       = regexp.MustCompile(`ProcessGUID:\s*([0-9a-fA-F{}-]+)`)
	payloadParentPIDRe  = regexp.MustCompile(`ParentProcessID:\s*(\d+)`)
	payloadParentGUIDRe = regexp.MustCompile(`ParentProcessGUID:\s*([0-9a-fA-F{}-]+)`)
)

// parsePayload pulls PID/GUID fields out of a payload string.
func parsePayload(payload string) (pid, guid, ppid, pguid string) {
	// ParentProcessID also matches the ProcessID pattern, so the parent
	// fields extract first and mask themselves out.
	if m := payloadParentPIDRe.FindStringSubmatchIndex(payload); m != nil {
		ppid = payload[m[2]:m[3]]
	}
	if m := payloadParentGUIDRe.FindStringSubmatch(payload); m != nil {
		pguid = strings.Trim(m[1], "{}")
	}
	masked := payloadParentPIDRe.ReplaceAllString(payload, "")
	masked = payloadParentGUIDRe.ReplaceAllString(masked, "")
	if m := payloadPIDRe.FindStringSubmatch(masked); m != nil {
		pid = m[1]
	}
	if m := payloadGUIDRe.FindStringSubmatch(masked); m != nil {
		guid = strings.Trim(m[1], "{}")
	}
	return
}

// firstToken extracts the executable from a command line, honoring a
// quoted first token.
func firstToken(cmdline string) string {
	s := strings.TrimSpace(cmdline)
	if s == "" {
		return ""
	}
	if s[0] == '"' {
		if end := strings.IndexByte(s[1:], '"'); end >= 0 {
			return s[1 : 1+end]
		}
		return strings.Trim(s, `"`)
	}
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		return s[:idx]
	}
	return s
}

// normalizePID converts hex PIDs (0x1a2c) to decimal strings and strips
// whitespace.
func normalizePID(pid string) string {
	s := strings.TrimSpace(pid)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if n, err := strconv.ParseInt(s[2:], 16, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
	}
	return s
}

// baseName lowercases the final path element of an image path.
func baseName(image string) string {
	s := strings.TrimSpace(image)
	if idx := strings.LastIndexAny(s, `\/`); idx >= 0 {
		s = s[idx+1:]
	}
	return strings.ToLower(s)
}
