package identity

import (
	"strings"
	"sync"
	"testing"
	"time"
)

var baseTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func TestStandardID_Deterministic(t *testing.T) {
	a := StandardID("org-pangolabs", "aigrc-cli", "aigrc.asset.registered", "asset-1", baseTime)
	b := StandardID("org-pangolabs", "aigrc-cli", "aigrc.asset.registered", "asset-1", baseTime)

	if a != b {
		t.Errorf("same components produced different IDs: %s != %s", a, b)
	}
	if !Valid(a) {
		t.Errorf("generated ID is not valid: %s", a)
	}
}

func TestStandardID_FloorWindow(t *testing.T) {
	// 3 ms apart, same 10 ms window: retries collapse onto one ID.
	sameWindow := StandardID("org", "tool", "aigrc.scan.started", "a", baseTime.Add(3*time.Millisecond))
	base := StandardID("org", "tool", "aigrc.scan.started", "a", baseTime)
	if base != sameWindow {
		t.Errorf("IDs differ within one flooring window: %s != %s", base, sameWindow)
	}

	// 10 ms apart crosses the boundary.
	nextWindow := StandardID("org", "tool", "aigrc.scan.started", "a", baseTime.Add(10*time.Millisecond))
	if base == nextWindow {
		t.Error("IDs collide across flooring windows")
	}
}

func TestStandardID_ComponentSensitivity(t *testing.T) {
	base := StandardID("org", "tool", "aigrc.scan.started", "a", baseTime)
	cases := map[string]string{
		"orgId":   StandardID("org2", "tool", "aigrc.scan.started", "a", baseTime),
		"tool":    StandardID("org", "tool2", "aigrc.scan.started", "a", baseTime),
		"type":    StandardID("org", "tool", "aigrc.scan.completed", "a", baseTime),
		"assetId": StandardID("org", "tool", "aigrc.scan.started", "b", baseTime),
	}
	for field, id := range cases {
		if id == base {
			t.Errorf("changing %s did not change the ID", field)
		}
	}
}

func TestHighFrequencyID_SequenceDisambiguates(t *testing.T) {
	a := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime, 0)
	b := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime, 1)
	if a == b {
		t.Error("distinct sequence numbers collided in the same millisecond")
	}

	again := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime, 0)
	if a != again {
		t.Errorf("same components produced different IDs: %s != %s", a, again)
	}
}

func TestHighFrequencyID_MillisecondWindow(t *testing.T) {
	a := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime, 7)
	sameMs := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime.Add(400*time.Microsecond), 7)
	if a != sameMs {
		t.Errorf("IDs differ within one millisecond: %s != %s", a, sameMs)
	}

	nextMs := HighFrequencyID("inst-1", "aigrc.enforcement.blocked", "asset-1", baseTime.Add(time.Millisecond), 7)
	if a == nextMs {
		t.Error("IDs collide across milliseconds")
	}
}

func TestFloor10ms(t *testing.T) {
	cases := []struct {
		ms   int64
		want int64
	}{
		{0, 0},
		{9, 0},
		{10, 10},
		{1736937000123, 1736937000120},
		{-15, -20}, // floor, not truncation
		{-10, -10},
	}
	for _, c := range cases {
		got := floorMillis(c.ms, 10)
		if got != c.want {
			t.Errorf("floorMillis(%d, 10) = %d, want %d", c.ms, got, c.want)
		}
	}
}

func TestNFCNormalization(t *testing.T) {
	// "café" composed vs decomposed must derive the same ID.
	nfc := "café"
	nfd := "café"

	a := StandardID("org", "tool", "aigrc.asset.registered", nfc, baseTime)
	b := StandardID("org", "tool", "aigrc.asset.registered", nfd, baseTime)
	if a != b {
		t.Errorf("Unicode normalization forms produced different IDs: %s != %s", a, b)
	}
}

func TestValid(t *testing.T) {
	ok := StandardID("org", "tool", "aigrc.asset.registered", "a", baseTime)
	cases := []struct {
		id   string
		want bool
	}{
		{ok, true},
		{"", false},
		{"evt_", false},
		{"evt_" + strings.Repeat("a", 31), false},
		{"evt_" + strings.Repeat("a", 33), false},
		{"evt_" + strings.Repeat("A", 32), false},
		{"evt_" + strings.Repeat("z", 32), false},
		{"ev_" + strings.Repeat("a", 33), false},
	}
	for _, c := range cases {
		if got := Valid(c.id); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestSequencer_Monotonic(t *testing.T) {
	var s Sequencer
	for i := uint64(0); i < 100; i++ {
		if got := s.Next(); got != i {
			t.Fatalf("Next() = %d, want %d", got, i)
		}
	}
	if s.Current() != 100 {
		t.Errorf("Current() = %d, want 100", s.Current())
	}
}

func TestSequencer_Concurrent(t *testing.T) {
	var s Sequencer
	var wg sync.WaitGroup
	seen := make([]map[uint64]bool, 8)

	for g := 0; g < 8; g++ {
		seen[g] = make(map[uint64]bool)
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				seen[g][s.Next()] = true
			}
		}(g)
	}
	wg.Wait()

	all := make(map[uint64]bool)
	for _, m := range seen {
		for v := range m {
			if all[v] {
				t.Fatalf("sequence value %d handed out twice", v)
			}
			all[v] = true
		}
	}
	if len(all) != 8000 {
		t.Errorf("expected 8000 distinct values, got %d", len(all))
	}
}
