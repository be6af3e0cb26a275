package settings

import "testing"

func TestAlign32(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 32, 31: 32, 32: 32, 33: 64, 1080: 1088}
	for in, want := range cases {
		if got := align32(in); got != want {
			t.Errorf("align32(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestResolveVideoParamsScaleMode(t *testing.T) {
	p := ResolveVideoParams(ScaleMode, 1832, 1920, 1.0, 0, 0)
	if p.StreamWidth%32 != 0 || p.StreamHeight%32 != 0 {
		t.Fatalf("expected 32-aligned stream dims, got %+v", p)
	}
}

func TestResolveVideoParamsAbsoluteMode(t *testing.T) {
	p := ResolveVideoParams(AbsoluteMode, 0, 0, 0, 3840, 1920)
	if p.StreamWidth != 1920 || p.StreamHeight != 1920 {
		t.Fatalf("expected width/2,height for absolute mode, got %+v", p)
	}
}

func TestSelectRefreshRateClosestMatch(t *testing.T) {
	// Scenario 1 from spec.md §8: available [60,72,80,90], preferred 75 -> 72.
	chosen, exact, ok := SelectRefreshRate([]float64{60, 72, 80, 90}, 75)
	if !ok {
		t.Fatal("expected ok")
	}
	if chosen != 72 {
		t.Fatalf("expected 72, got %v", chosen)
	}
	if exact {
		t.Fatal("75 is not offered, expected exactMatch=false")
	}
}

func TestSelectRefreshRateTieBreakFirstOccurrence(t *testing.T) {
	// preferred 70.5, offered [70,71] -> both 0.5 away; first (70) wins via strict <.
	chosen, _, ok := SelectRefreshRate([]float64{70, 71}, 70.5)
	if !ok || chosen != 70 {
		t.Fatalf("expected first occurrence 70 to win tie, got %v ok=%v", chosen, ok)
	}
}

func TestSelectRefreshRateEmpty(t *testing.T) {
	if _, _, ok := SelectRefreshRate(nil, 90); ok {
		t.Fatal("expected ok=false for empty offered list")
	}
}

func TestManagerReconcileDetectsDrift(t *testing.T) {
	m := NewManager(nil)
	cfg := OpenvrConfig{RefreshRateHz: 72}
	if !m.Reconcile(cfg) {
		t.Fatal("expected first reconcile to report drift")
	}
	if m.Reconcile(cfg) {
		t.Fatal("expected second reconcile with identical config to report no drift")
	}
	cfg.RefreshRateHz = 90
	if !m.Reconcile(cfg) {
		t.Fatal("expected changed config to report drift")
	}
}

func TestManagerLoadPersistedSuppressesInitialDrift(t *testing.T) {
	m := NewManager(nil)
	cfg := OpenvrConfig{RefreshRateHz: 72}
	m.LoadPersisted(cfg)
	if m.Reconcile(cfg) {
		t.Fatal("expected no drift when newly resolved config matches loaded persisted config")
	}
}
