package persistence

import (
	"regexp"
	"strings"
)

// Severity grades a rule or finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityScore is the base risk per severity.
var severityScore = map[Severity]int{
	SeverityCritical: 8,
	SeverityHigh:     6,
	SeverityMedium:   4,
	SeverityLow:      2,
}

// maxRisk caps the final score.
const maxRisk = 10

// suspiciousPathSubstrings add +1 when the executed path contains one.
var suspiciousPathSubstrings = []string{
	`\temp\`, `\tmp\`, `\appdata\`, `\programdata\`, `\users\public\`,
	`\downloads\`, `\recycle`, `\perflogs\`, `\windows\tasks\`,
}

// suspiciousCommandSubstrings add +1 for shell/script indirection.
var suspiciousCommandSubstrings = []string{
	"cmd /c", "cmd.exe /c", "powershell", "wscript", "cscript", "mshta",
	"rundll32", "regsvr32", "bitsadmin", "certutil", "installutil",
	"msbuild", "forfiles", "scriptrunner",
}

// encodingSubstrings add +1 for encoding or download cradles.
var encodingSubstrings = []string{
	"-enc", "-encodedcommand", "frombase64string", "downloadstring",
	"downloadfile", "invoke-webrequest", "iwr ", "iex ", "webclient",
	"-urlcache", "http://", "https://",
}

// maliciousTools force the severity floor when the command references a
// known offensive tool.
var maliciousTools = []string{
	"mimikatz", "cobalt", "beacon.", "meterpreter", "empire", "covenant",
	"sliver", "brute ratel", "sharphound", "rubeus", "lazagne", "nanodump",
	"secretsdump", "psexec", "netcat", "nc.exe", "nc64",
}

// maliciousToolFloor is the severity forced for known-tool findings.
const maliciousToolFloor = SeverityCritical

var (
	guidTaskRe       = regexp.MustCompile(`(?i)\\?\{[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\}`)
	standardTaskPath = regexp.MustCompile(`(?i)^\\Microsoft\\`)
	lolbinRe         = regexp.MustCompile(`(?i)(rundll32|regsvr32|mshta|certutil|bitsadmin|installutil|msbuild|wmic|cmstp|msiexec)(\.exe)?`)
	microsoftCtxRe   = regexp.MustCompile(`(?i)\\(windows|microsoft)[\\ ]`)
	userWritableRe   = regexp.MustCompile(`(?i)\\(users\\[^\\]+|temp|tmp|programdata|appdata)\\`)
)

// score computes the final risk and suspicious-flag reasons for an item.
func score(item *Item) {
	base := severityScore[item.Severity]
	if base == 0 {
		base = severityScore[SeverityLow]
	}

	command := strings.ToLower(item.Fields["Command"])
	if command == "" {
		command = strings.ToLower(item.Fields["ValueData"])
	}
	taskName := item.Fields["TaskName"]

	for _, tool := range maliciousTools {
		if strings.Contains(command, tool) {
			if severityScore[item.Severity] < severityScore[maliciousToolFloor] {
				item.Severity = maliciousToolFloor
				base = severityScore[maliciousToolFloor]
			}
			item.Reasons = append(item.Reasons, "known offensive tool: "+tool)
			break
		}
	}

	risk := base
	for _, s := range suspiciousPathSubstrings {
		if strings.Contains(command, s) {
			risk++
			item.Reasons = append(item.Reasons, "suspicious path: "+strings.Trim(s, `\`))
			break
		}
	}
	for _, s := range suspiciousCommandSubstrings {
		if strings.Contains(command, s) {
			risk++
			item.Reasons = append(item.Reasons, "suspicious command: "+strings.TrimSpace(s))
			break
		}
	}
	for _, s := range encodingSubstrings {
		if strings.Contains(command, s) {
			risk++
			item.Reasons = append(item.Reasons, "encoding or download cradle")
			break
		}
	}

	// Flag-only heuristics: they explain, the score above already counts.
	if taskName != "" {
		if !standardTaskPath.MatchString(taskName) && strings.HasPrefix(taskName, `\`) {
			item.Reasons = append(item.Reasons, "non-standard task path")
		}
		if guidTaskRe.MatchString(taskName) {
			item.Reasons = append(item.Reasons, "GUID-named task")
		}
	}
	if lolbinRe.MatchString(command) && !microsoftCtxRe.MatchString(command) {
		item.Reasons = append(item.Reasons, "LOLBin execution in non-Microsoft context")
	}
	if userWritableRe.MatchString(command) {
		item.Reasons = append(item.Reasons, "user-writable path")
	}
	if item.RuleName == "Task Deleted" {
		item.Reasons = append(item.Reasons, "anti-forensics: task deletion")
	}

	if risk > maxRisk {
		risk = maxRisk
	}
	item.RiskScore = risk
}
