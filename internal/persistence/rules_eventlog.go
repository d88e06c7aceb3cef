package persistence

import "regexp"

// EventLogRule matches persistence-relevant event-log records. A rule
// fires when the record's event id is in EventIDs and its channel
// contains one of the Channels substrings; Extract then pulls named
// fields out of the payload haystack (all payload fields joined by
// pipes). PayloadRegex, when set, must also match the haystack.
type EventLogRule struct {
	Category     string            `json:"category"`
	Name         string            `json:"name"`
	EventIDs     []string          `json:"eventIds"`
	Channels     []string          `json:"channels"`
	Severity     Severity          `json:"severity"`
	Extract      map[string]string `json:"extract,omitempty"` // field -> regex with one capture group
	PayloadRegex string            `json:"payloadRegex,omitempty"`
	// CopyExecInfo copies the ExecutableInfo column into this extracted
	// field when the extractors found nothing.
	CopyExecInfo string `json:"copyExecInfo,omitempty"`

	extractRe map[string]*regexp.Regexp
	payloadRe *regexp.Regexp
}

// compile prepares the rule's regexes; invalid patterns disable the
// affected extractor rather than the whole scan.
func (r *EventLogRule) compile() {
	r.extractRe = make(map[string]*regexp.Regexp, len(r.Extract))
	for field, pattern := range r.Extract {
		if re, err := regexp.Compile("(?i)" + pattern); err == nil {
			r.extractRe[field] = re
		}
	}
	if r.PayloadRegex != "" {
		if re, err := regexp.Compile("(?i)" + r.PayloadRegex); err == nil {
			r.payloadRe = re
		}
	}
}

// builtinEventRules is the built-in event-log rule table.
var builtinEventRules = []EventLogRule{
	{
		Category: "scheduled-task",
		Name:     "Task Registered",
		EventIDs: []string{"4698", "106"},
		Channels: []string{"Security", "TaskScheduler"},
		Severity: SeverityMedium,
		Extract: map[string]string{
			"TaskName":  `Task Name:\s*([^\s|,]+)|<URI>([^<]+)</URI>|TaskName:\s*([^\s|,]+)`,
			"Command":   `<Command>([^<]+)</Command>`,
			"Arguments": `<Arguments>([^<]+)</Arguments>`,
			"RunAsUser": `<UserId>([^<]+)</UserId>`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "scheduled-task",
		Name:     "Task Updated",
		EventIDs: []string{"4702", "140"},
		Channels: []string{"Security", "TaskScheduler"},
		Severity: SeverityMedium,
		Extract: map[string]string{
			"TaskName": `Task Name:\s*([^\s|,]+)|<URI>([^<]+)</URI>|TaskName:\s*([^\s|,]+)`,
			"Command":  `<Command>([^<]+)</Command>`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "scheduled-task",
		Name:     "Task Deleted",
		EventIDs: []string{"4699", "141"},
		Channels: []string{"Security", "TaskScheduler"},
		Severity: SeverityMedium,
		Extract: map[string]string{
			"TaskName": `Task Name:\s*([^\s|,]+)|TaskName:\s*([^\s|,]+)`,
		},
	},
	{
		Category: "scheduled-task",
		Name:     "Task Process Created",
		EventIDs: []string{"129"},
		Channels: []string{"TaskScheduler"},
		Severity: SeverityLow,
		Extract: map[string]string{
			"TaskName": `TaskName:\s*([^\s|,]+)`,
			"Command":  `Path:\s*([^|,]+)`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "scheduled-task",
		Name:     "Task Action Started",
		EventIDs: []string{"200"},
		Channels: []string{"TaskScheduler"},
		Severity: SeverityLow,
		Extract: map[string]string{
			"TaskName": `TaskName:\s*([^\s|,]+)`,
			"Command":  `Action(?:Name)?:\s*"?([^"|,]+)`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "service",
		Name:     "Service Installed",
		EventIDs: []string{"7045"},
		Channels: []string{"System"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"ServiceName": `Service Name:\s*([^|,]+)|ServiceName:\s*([^|,]+)`,
			"Command":     `Image ?Path:\s*([^|,]+)|ImagePath:\s*([^|,]+)`,
			"StartType":   `Start Type:\s*([^|,]+)`,
			"RunAsUser":   `Service Account:\s*([^|,]+)`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "service",
		Name:     "Security Service Installed",
		EventIDs: []string{"4697"},
		Channels: []string{"Security"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"ServiceName": `Service Name:\s*([^|,]+)|ServiceName:\s*([^|,]+)`,
			"Command":     `Service File Name:\s*([^|,]+)|ServiceFileName:\s*([^|,]+)`,
		},
		CopyExecInfo: "Command",
	},
	{
		Category: "wmi",
		Name:     "WMI Event Subscription",
		EventIDs: []string{"5861", "5859"},
		Channels: []string{"WMI-Activity"},
		Severity: SeverityCritical,
		Extract: map[string]string{
			"Consumer": `Consumer[^=|,]*=\s*"?([^";|,]+)`,
			"Query":    `Query\s*=?\s*"?(select[^";|]+)`,
		},
	},
	{
		Category: "wmi",
		Name:     "WMI Filter-To-Consumer Binding",
		EventIDs: []string{"5860"},
		Channels: []string{"WMI-Activity"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"Query": `Query\s*=?\s*"?(select[^";|]+)`,
		},
	},
	{
		Category: "account",
		Name:     "Local Account Created",
		EventIDs: []string{"4720"},
		Channels: []string{"Security"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"Account":   `(?:Target|New)\s*Account(?:\s*Name)?:\s*([^|,]+)|TargetUserName:\s*([^|,]+)`,
			"RunAsUser": `SubjectUserName:\s*([^|,]+)`,
		},
	},
	{
		Category: "account",
		Name:     "Added To Privileged Group",
		EventIDs: []string{"4732", "4728"},
		Channels: []string{"Security"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"Account": `MemberName:\s*([^|,]+)|Member(?:\s*Name)?:\s*([^|,]+)`,
			"Group":   `(?:Group|Target)(?:\s*Account)?\s*Name:\s*([^|,]+)|TargetUserName:\s*([^|,]+)`,
		},
		PayloadRegex: `admin`,
	},
	{
		Category: "bits",
		Name:     "BITS Transfer Job",
		EventIDs: []string{"3", "59"},
		Channels: []string{"Bits-Client"},
		Severity: SeverityMedium,
		Extract: map[string]string{
			"URL":     `(https?://[^\s|,"]+)`,
			"JobName": `(?:job|name):\s*([^|,]+)`,
		},
		PayloadRegex: `https?://`,
	},
	{
		Category: "logon-script",
		Name:     "Boot Or Logon Script",
		EventIDs: []string{"4688"},
		Channels: []string{"Security"},
		Severity: SeverityMedium,
		Extract: map[string]string{
			"Command": `NewProcessName:\s*([^|,]+)`,
		},
		PayloadRegex: `\\(scripts|startup)\\`,
	},
	{
		Category: "application",
		Name:     "AppCompat Shim Installed",
		EventIDs: []string{"500", "505"},
		Channels: []string{"Application-Experience"},
		Severity: SeverityHigh,
		Extract: map[string]string{
			"Command": `(?:database|sdb)[^|,]*:\s*([^|,]+)`,
		},
	},
}

// svcSuppression exempts well-known AV/EDR and updater services — but
// only when the image path matches the vendor's install root. A name
// match with a foreign path is the opposite of benign and escalates.
type svcSuppression struct {
	nameRe *regexp.Regexp
	pathRe *regexp.Regexp
	vendor string
}

var svcSuppressions = []svcSuppression{
	{regexp.MustCompile(`(?i)^(windefend|msmpeng|wdnissvc|sense)`),
		regexp.MustCompile(`(?i)\\(program files|programdata)\\(windows defender|microsoft\\windows defender)`), "Windows Defender"},
	{regexp.MustCompile(`(?i)^(edgeupdate|microsoftedgeupdate)`),
		regexp.MustCompile(`(?i)\\microsoft\\edgeupdate\\`), "Microsoft Edge Update"},
	{regexp.MustCompile(`(?i)^(gupdate|googleupdate|googleupdater)`),
		regexp.MustCompile(`(?i)\\google\\(update|googleupdater)\\`), "Google Update"},
	{regexp.MustCompile(`(?i)^(brave)`),
		regexp.MustCompile(`(?i)\\bravesoftware\\`), "Brave Update"},
	{regexp.MustCompile(`(?i)^mozilla ?maintenance`),
		regexp.MustCompile(`(?i)\\mozilla maintenance service\\`), "Mozilla Maintenance"},
	{regexp.MustCompile(`(?i)^adobe ?arm`),
		regexp.MustCompile(`(?i)\\common files\\adobe\\arm\\`), "Adobe ARM"},
	{regexp.MustCompile(`(?i)^(csfalcon|csagent)`),
		regexp.MustCompile(`(?i)\\crowdstrike\\`), "CrowdStrike Falcon"},
	{regexp.MustCompile(`(?i)^sentinel`),
		regexp.MustCompile(`(?i)\\sentinel(one)?\\`), "SentinelOne"},
	{regexp.MustCompile(`(?i)^(mbam|malwarebytes)`),
		regexp.MustCompile(`(?i)\\malwarebytes\\`), "Malwarebytes"},
}
