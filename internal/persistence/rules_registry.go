package persistence

import "regexp"

// RegistryRule matches persistence-relevant registry artifacts by key
// path (and optionally value name).
type RegistryRule struct {
	Category    string   `json:"category"`
	KeyPath     string   `json:"keyPath"`             // regex
	ValueName   string   `json:"valueName,omitempty"` // regex, optional
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`

	keyRe   *regexp.Regexp
	valueRe *regexp.Regexp
}

func (r *RegistryRule) compile() {
	if re, err := regexp.Compile("(?i)" + r.KeyPath); err == nil {
		r.keyRe = re
	}
	if r.ValueName != "" {
		if re, err := regexp.Compile("(?i)" + r.ValueName); err == nil {
			r.valueRe = re
		}
	}
}

// builtinRegistryRules is the built-in registry rule table.
var builtinRegistryRules = []RegistryRule{
	{Category: "run-key", Severity: SeverityHigh,
		KeyPath:     `\\(Software|SOFTWARE)\\(Wow6432Node\\)?Microsoft\\Windows\\CurrentVersion\\Run(Once)?(Ex)?$`,
		Description: "Run/RunOnce autostart entry"},
	{Category: "run-key", Severity: SeverityHigh,
		KeyPath:     `\\Microsoft\\Windows\\CurrentVersion\\Policies\\Explorer\\Run$`,
		Description: "Policies Explorer Run autostart"},
	{Category: "winlogon", Severity: SeverityCritical,
		KeyPath: `\\Microsoft\\Windows NT\\CurrentVersion\\Winlogon$`, ValueName: `^(Shell|Userinit|Taskman)$`,
		Description: "Winlogon shell/userinit hijack"},
	{Category: "winlogon", Severity: SeverityHigh,
		KeyPath:     `\\Microsoft\\Windows NT\\CurrentVersion\\Winlogon\\Notify`,
		Description: "Winlogon notification package"},
	{Category: "appinit", Severity: SeverityCritical,
		KeyPath: `\\Microsoft\\Windows NT\\CurrentVersion\\Windows$`, ValueName: `^(AppInit_DLLs|LoadAppInit_DLLs)$`,
		Description: "AppInit DLL injection"},
	{Category: "ifeo", Severity: SeverityCritical,
		KeyPath: `\\Microsoft\\Windows NT\\CurrentVersion\\Image File Execution Options\\`, ValueName: `^Debugger$`,
		Description: "Image File Execution Options debugger hijack"},
	{Category: "ifeo", Severity: SeverityHigh,
		KeyPath:     `\\Microsoft\\Windows NT\\CurrentVersion\\SilentProcessExit\\`,
		Description: "SilentProcessExit monitor hijack"},
	{Category: "service", Severity: SeverityHigh,
		KeyPath: `\\(System|SYSTEM)\\(CurrentControlSet|ControlSet\d+)\\Services\\[^\\]+$`, ValueName: `^ImagePath$`,
		Description: "Service image path"},
	{Category: "service", Severity: SeverityHigh,
		KeyPath: `\\Services\\[^\\]+\\Parameters$`, ValueName: `^ServiceDll$`,
		Description: "svchost ServiceDll hijack"},
	{Category: "boot", Severity: SeverityCritical,
		KeyPath: `\\Control\\Session Manager$`, ValueName: `^BootExecute$`,
		Description: "BootExecute native-mode autostart"},
	{Category: "lsa", Severity: SeverityCritical,
		KeyPath: `\\Control\\Lsa$`, ValueName: `^(Authentication Packages|Notification Packages|Security Packages)$`,
		Description: "LSA package injection"},
	{Category: "screensaver", Severity: SeverityMedium,
		KeyPath: `\\Control Panel\\Desktop$`, ValueName: `^SCRNSAVE\.EXE$`,
		Description: "Screensaver executable hijack"},
	{Category: "active-setup", Severity: SeverityHigh,
		KeyPath: `\\Microsoft\\Active Setup\\Installed Components\\`, ValueName: `^StubPath$`,
		Description: "Active Setup stub path"},
	{Category: "com-hijack", Severity: SeverityHigh,
		KeyPath:     `\\(Software|SOFTWARE)\\Classes\\CLSID\\\{[0-9A-Fa-f-]+\}\\InprocServer32$`,
		Description: "COM object server hijack"},
	{Category: "shell-extension", Severity: SeverityMedium,
		KeyPath:     `\\Microsoft\\Windows\\CurrentVersion\\Explorer\\(ShellExecuteHooks|ShellServiceObjects|ShellIconOverlayIdentifiers)`,
		Description: "Shell extension autostart"},
	{Category: "browser", Severity: SeverityMedium,
		KeyPath:     `\\Microsoft\\Windows\\CurrentVersion\\Explorer\\Browser Helper Objects\\`,
		Description: "Browser helper object"},
	{Category: "startup-folder", Severity: SeverityMedium,
		KeyPath: `\\Microsoft\\Windows\\CurrentVersion\\Explorer\\(User )?Shell Folders$`, ValueName: `^(Common )?Startup$`,
		Description: "Startup folder redirection"},
	{Category: "netsh", Severity: SeverityHigh,
		KeyPath:     `\\Microsoft\\Netsh$`,
		Description: "Netsh helper DLL"},
	{Category: "print-monitor", Severity: SeverityHigh,
		KeyPath:     `\\Control\\Print\\Monitors\\`,
		Description: "Print monitor DLL"},
	{Category: "time-provider", Severity: SeverityHigh,
		KeyPath:     `\\Services\\W32Time\\TimeProviders\\`,
		Description: "Time provider DLL"},
	{Category: "office", Severity: SeverityMedium,
		KeyPath:     `\\(Software|SOFTWARE)\\Microsoft\\Office\\[^\\]+\\(Word|Excel|PowerPoint|Outlook)\\Addins\\`,
		Description: "Office add-in"},
	{Category: "office", Severity: SeverityHigh,
		KeyPath:     `\\Microsoft\\Office test\\Special\\Perf$`,
		Description: "Office test DLL sideload"},
	{Category: "scheduled-task", Severity: SeverityMedium,
		KeyPath:     `\\Microsoft\\Windows NT\\CurrentVersion\\Schedule\\TaskCache\\Tree\\`,
		Description: "Scheduled task cache entry"},
	{Category: "debugger", Severity: SeverityHigh,
		KeyPath: `\\Microsoft\\Windows NT\\CurrentVersion\\AeDebug$`, ValueName: `^Debugger$`,
		Description: "Postmortem debugger hijack"},
	{Category: "terminal-server", Severity: SeverityHigh,
		KeyPath: `\\Control\\Terminal Server\\WinStations\\RDP-Tcp$`, ValueName: `^InitialProgram$`,
		Description: "RDP initial program"},
	{Category: "powershell", Severity: SeverityMedium,
		KeyPath:     `\\Microsoft\\PowerShell\\1\\ShellIds\\Microsoft\.PowerShell$`,
		Description: "PowerShell startup configuration"},
}
