package session

import (
	"path/filepath"
	"testing"

	"vrhostd/internal/settings"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Snapshot().HasOpenvrConfig {
		t.Fatal("expected empty document for missing file")
	}
}

func TestSaveOpenvrConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := settings.OpenvrConfig{RefreshRateHz: 90}
	if err := s.SaveOpenvrConfig(cfg); err != nil {
		t.Fatalf("SaveOpenvrConfig: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc := reopened.Snapshot()
	if !doc.HasOpenvrConfig || doc.OpenvrConfig.RefreshRateHz != 90 {
		t.Fatalf("expected persisted config to round-trip, got %+v", doc)
	}
}

func TestApplyClientActionAddTrustRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.ApplyClientAction(AddIfMissing, "hmd-1", "My Headset", nil); err != nil {
		t.Fatalf("AddIfMissing: %v", err)
	}
	if err := s.ApplyClientAction(AddIfMissing, "hmd-1", "ignored", nil); err != nil {
		t.Fatalf("second AddIfMissing: %v", err)
	}
	doc := s.Snapshot()
	if len(doc.Clients) != 1 {
		t.Fatalf("expected AddIfMissing to be idempotent, got %d clients", len(doc.Clients))
	}

	if err := s.ApplyClientAction(Trust, "hmd-1", "", nil); err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if !s.Snapshot().Clients[0].Trusted {
		t.Fatal("expected client to be trusted")
	}

	if err := s.ApplyClientAction(SetManualIPs, "hmd-1", "", []string{"192.168.1.5"}); err != nil {
		t.Fatalf("SetManualIPs: %v", err)
	}
	if got := s.ManualIPs(); len(got) != 1 || got[0] != "192.168.1.5" {
		t.Fatalf("expected manual ip set, got %v", got)
	}

	if err := s.ApplyClientAction(Remove, "hmd-1", "", nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(s.Snapshot().Clients) != 0 {
		t.Fatal("expected client to be removed")
	}
}

func TestIsTrustedAndAddIfMissingMethods(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.IsTrusted("hmd-2") {
		t.Fatal("expected unknown client to be untrusted")
	}
	s.AddIfMissing("hmd-2", "Headset Two")
	if s.IsTrusted("hmd-2") {
		t.Fatal("expected newly added client to remain untrusted until explicitly trusted")
	}
	if err := s.ApplyClientAction(Trust, "hmd-2", "", nil); err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if !s.IsTrusted("hmd-2") {
		t.Fatal("expected client to be trusted after Trust action")
	}
}

func TestUnknownClientNotPresentByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.findClient("unknown-host") != -1 {
		t.Fatal("expected unknown host to not be present")
	}
}
