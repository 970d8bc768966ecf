package stats

import (
	"fmt"
	"testing"
	"time"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/path?q=1", "example.com"},
		{"http://example.com:8080/", "example.com"},
		{"https://sub.example.org", "sub.example.org"},
		{"not a url at all \x00", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Domain(tt.in); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordAggregates(t *testing.T) {
	tr := NewTracker()

	tr.Record("example.com", 100*time.Millisecond, true)
	tr.Record("example.com", 300*time.Millisecond, false)
	tr.Record("example.com", 200*time.Millisecond, true)

	s, ok := tr.Stats("example.com")
	if !ok {
		t.Fatal("domain not tracked")
	}
	if s.Requests != 3 || s.Failures != 1 {
		t.Fatalf("requests/failures = %d/%d", s.Requests, s.Failures)
	}
	if s.ErrorRate < 0.32 || s.ErrorRate > 0.34 {
		t.Fatalf("error rate = %f", s.ErrorRate)
	}
	if s.AvgLatencyMs <= 0 {
		t.Fatalf("latency = %d", s.AvgLatencyMs)
	}
}

func TestRecordIgnoresEmptyDomain(t *testing.T) {
	tr := NewTracker()
	tr.Record("", time.Second, true)
	tr.RecordBlock("", "CF_1015")
	if tr.Len() != 0 {
		t.Fatalf("tracked %d domains", tr.Len())
	}
}

func TestBlockRaisesSuggestedDelay(t *testing.T) {
	tr := NewTracker()

	tr.Record("blocked.example", 50*time.Millisecond, true)
	if d := tr.SuggestedDelayMs("blocked.example"); d != 0 {
		t.Fatalf("healthy domain delay = %d", d)
	}

	tr.RecordBlock("blocked.example", "CF_1015")
	if d := tr.SuggestedDelayMs("blocked.example"); d < 30000 {
		t.Fatalf("post-block delay = %d", d)
	}
	s, _ := tr.Stats("blocked.example")
	if s.Blocks != 1 || s.LastBlockCode != "CF_1015" {
		t.Fatalf("block snapshot: %+v", s)
	}
}

func TestManualDelayOverride(t *testing.T) {
	tr := NewTracker()
	tr.Record("slow.example", time.Second, false)

	tr.SetManualDelay("slow.example", 5000)
	if d := tr.SuggestedDelayMs("slow.example"); d != 5000 {
		t.Fatalf("manual delay = %d", d)
	}

	tr.SetManualDelay("slow.example", maxDelayMs*2)
	if d := tr.SuggestedDelayMs("slow.example"); d != maxDelayMs {
		t.Fatalf("manual delay not clamped: %d", d)
	}

	tr.ClearManualDelay("slow.example")
	if d := tr.SuggestedDelayMs("slow.example"); d == 5000 || d == maxDelayMs {
		t.Fatalf("override not cleared: %d", d)
	}
}

func TestSnapshotSortedByVolume(t *testing.T) {
	tr := NewTracker()
	tr.Record("low.example", time.Millisecond, true)
	for i := 0; i < 5; i++ {
		tr.Record("high.example", time.Millisecond, true)
	}

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d", len(snap))
	}
	if snap[0].Domain != "high.example" {
		t.Fatalf("expected high.example first, got %s", snap[0].Domain)
	}
}

func TestEvictionKeepsCapBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxDomains+50; i++ {
		tr.Record(fmt.Sprintf("d%04d.example", i), time.Millisecond, true)
	}
	if n := tr.Len(); n > maxDomains {
		t.Fatalf("tracked %d domains, cap is %d", n, maxDomains)
	}
	// Newest domains survive eviction.
	if _, ok := tr.Stats(fmt.Sprintf("d%04d.example", maxDomains+49)); !ok {
		t.Fatal("most recent domain evicted")
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.Record("a.example", time.Millisecond, true)
	tr.Record("b.example", time.Millisecond, true)

	tr.Reset("a.example")
	if _, ok := tr.Stats("a.example"); ok {
		t.Fatal("a.example still tracked")
	}
	tr.ResetAll()
	if tr.Len() != 0 {
		t.Fatalf("tracked %d domains after ResetAll", tr.Len())
	}
}
