package lateral

import (
	"testing"

	"github.com/r3nzsec/irflow-timeline/internal/testutil"
)

func authHeaders() []string {
	return []string{"timestamp", "EventId", "IpAddress", "Computer", "TargetUserName", "LogonType"}
}

func TestEdgeAggregation(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 10:00:00", "4624", "10.0.0.5", "SRV-01", "alice", "3"},
			{"2024-01-01 10:05:00", "4624", "10.0.0.5", "SRV-01", "bob", "10"},
			{"2024-01-01 10:10:00", "4625", "10.0.0.5", "SRV-01", "alice", "3"},
			{"2024-01-01 11:00:00", "4624", "10.0.0.9", "SRV-02", "carol", "3"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(result.Edges))
	}

	// Count-descending: the triple edge leads.
	e := result.Edges[0]
	if e.Source != "10.0.0.5" || e.Target != "SRV-01" || e.Count != 3 {
		t.Errorf("edge 0 = %+v", e)
	}
	if len(e.Users) != 2 {
		t.Errorf("distinct users = %v", e.Users)
	}
	if len(e.LogonTypes) != 2 {
		t.Errorf("distinct logon types = %v", e.LogonTypes)
	}
	if !e.HasFailures {
		t.Error("4625 must set hasFailures")
	}
	if e.FirstSeen == "" || e.LastSeen == "" || e.FirstSeen > e.LastSeen {
		t.Errorf("seen range = %q..%q", e.FirstSeen, e.LastSeen)
	}
}

func TestExclusions(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 10:00:00", "4624", "127.0.0.1", "SRV-01", "alice", "3"},  // loopback
			{"2024-01-01 10:01:00", "4624", "", "SRV-01", "alice", "3"},           // empty source
			{"2024-01-01 10:02:00", "4624", "10.0.0.5", "SRV-01", "SRV-01$", "3"}, // machine account
			{"2024-01-01 10:03:00", "4624", "10.0.0.5", "SRV-01", "SYSTEM", "5"},  // service account
			{"2024-01-01 10:04:00", "4624", "10.0.0.5", "SRV-01", "DWM-1", "2"},   // window manager
			{"2024-01-01 10:05:00", "4624", "10.0.0.5", "SRV-01", "alice", "3"},   // kept
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Edges) != 1 || result.Edges[0].Count != 1 {
		t.Fatalf("exclusions failed: %+v", result.Edges)
	}
}

func TestSelfLoopExclusion(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 10:00:00", "4624", "srv-01", "SRV-01", "alice", "3"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Edges) != 0 {
		t.Errorf("self-loop kept: %+v", result.Edges)
	}

	withLoops, err := Build(tab, nil, Options{IncludeSelfLoops: true})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(withLoops.Edges) != 1 {
		t.Errorf("self-loop dropped despite IncludeSelfLoops: %+v", withLoops.Edges)
	}
}

func TestOutlierHosts(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"DESKTOP-X29KQ7", true},
		{"WIN-ABC123XYZ", true},
		{"kali", true},
		{"test-01", true},
		{"SRV-FILE-01", false},
		{"机器一", true}, // non-ASCII
	}
	for _, tc := range cases {
		got := outlierReason(tc.host) != ""
		if got != tc.want {
			t.Errorf("outlierReason(%q) flagged=%v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestOutlierTaggingInGraph(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 10:00:00", "4624", "DESKTOP-A1B2C3", "SRV-01", "alice", "10"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var flagged bool
	for _, h := range result.Hosts {
		if h.Name == "DESKTOP-A1B2C3" {
			flagged = h.Outlier && h.OutlierReason != ""
		}
	}
	if !flagged {
		t.Errorf("outlier host not tagged: %+v", result.Hosts)
	}
}

// TestChainDetection: A -> B at 10:00, B -> C at 11:00 forms a 2-hop
// temporally consistent chain; a reversed timing must not chain.
func TestChainDetection(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 10:00:00", "4624", "HOST-A", "HOST-B", "alice", "3"},
			{"2024-01-01 11:00:00", "4624", "HOST-B", "HOST-C", "alice", "3"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Chains) == 0 {
		t.Fatal("expected a movement chain")
	}
	c := result.Chains[0]
	if c.Hops != 2 || len(c.Hosts) != 3 {
		t.Errorf("chain = %+v", c)
	}
	if c.Hosts[0] != "HOST-A" || c.Hosts[2] != "HOST-C" {
		t.Errorf("chain path = %v", c.Hosts)
	}
}

func TestChainRespectsTime(t *testing.T) {
	// B -> C happened BEFORE A -> B; no forward chain exists.
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			{"2024-01-01 11:00:00", "4624", "HOST-A", "HOST-B", "alice", "3"},
			{"2024-01-01 10:00:00", "4624", "HOST-B", "HOST-C", "alice", "3"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Chains) != 0 {
		t.Errorf("temporally impossible chain reported: %+v", result.Chains)
	}
}

func TestParseRemoteHost(t *testing.T) {
	ws, ip := parseRemoteHost("WORKSTATION-7 (10.1.2.3)")
	if ws != "WORKSTATION-7" || ip != "10.1.2.3" {
		t.Errorf("parseRemoteHost = %q, %q", ws, ip)
	}
	ws, ip = parseRemoteHost("10.1.2.3")
	if ws != "10.1.2.3" || ip != "" {
		t.Errorf("bare value = %q, %q", ws, ip)
	}
}

func TestParseTSPayload(t *testing.T) {
	user, domain, lt, cn, ca, sid := parseTSPayload(
		`User: CORP\jsmith | LogonType 10 | ClientName: ATTACKER-PC | ClientAddress: 10.9.9.9 | Session ID: 3`)
	if user != "jsmith" || domain != "CORP" {
		t.Errorf("user = %q domain = %q", user, domain)
	}
	if lt != "10" {
		t.Errorf("logon type = %q", lt)
	}
	if cn != "ATTACKER-PC" || ca != "10.9.9.9" {
		t.Errorf("client = %q / %q", cn, ca)
	}
	if sid != "3" {
		t.Errorf("session id = %q", sid)
	}
}

func TestRDPSessionCorrelation(t *testing.T) {
	tab := testutil.NewPopulatedTab(t, authHeaders(),
		[][]string{
			// Ended session: logon type 10 then logoff, close together.
			{"2024-01-01 10:00:00", "4624", "10.0.0.5", "SRV-01", "alice", "10"},
			{"2024-01-01 10:00:20", "4634", "10.0.0.5", "SRV-01", "alice", "10"},
			// Failed attempt from another host.
			{"2024-01-01 12:00:00", "4625", "10.0.0.9", "SRV-01", "bob", "10"},
		})

	result, err := Build(tab, nil, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Sessions) < 2 {
		t.Fatalf("sessions = %+v", result.Sessions)
	}

	var ended, failed bool
	for _, s := range result.Sessions {
		switch {
		case s.User == "alice" && s.Status == StatusEnded:
			ended = true
		case s.User == "bob" && s.Status == StatusFailed:
			failed = true
		}
	}
	if !ended {
		t.Errorf("alice's session should classify ENDED: %+v", result.Sessions)
	}
	if !failed {
		t.Errorf("bob's attempt should classify FAILED: %+v", result.Sessions)
	}
}

func TestServiceAccountMatcher(t *testing.T) {
	for _, u := range []string{"SYSTEM", "LOCAL SERVICE", "NETWORK SERVICE", "DWM-2", "UMFD-0", "WKSTN$"} {
		if !isServiceAccount(u) {
			t.Errorf("%q should be excluded", u)
		}
	}
	for _, u := range []string{"alice", "svc-backup", ""} {
		if isServiceAccount(u) {
			t.Errorf("%q should not be excluded", u)
		}
	}
}
