package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"vrhostd/internal/eventbus"
	"vrhostd/internal/session"
)

func newTestRouter(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	health := &HealthChecker{Bus: eventbus.New(1), SessionStore: store, IsStreaming: func() bool { return false }}
	r := NewRouter(health, store, nil)
	return httptest.NewServer(r), store
}

func TestHealthEndpointOK(t *testing.T) {
	srv, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv, _ := newTestRouter(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestClientsListAndTrustLifecycle(t *testing.T) {
	srv, store := newTestRouter(t)
	defer srv.Close()

	store.AddIfMissing("hmd-1", "Headset One")

	resp, err := http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("GET /api/clients: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Clients []session.PersistedClient `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Clients) != 1 || body.Clients[0].Hostname != "hmd-1" {
		t.Fatalf("unexpected clients list: %+v", body.Clients)
	}

	trustResp, err := http.Post(srv.URL+"/api/clients/hmd-1/trust", "application/json", nil)
	if err != nil {
		t.Fatalf("POST trust: %v", err)
	}
	trustResp.Body.Close()
	if trustResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", trustResp.StatusCode)
	}
	if !store.IsTrusted("hmd-1") {
		t.Fatal("expected hmd-1 to be trusted after POST /trust")
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/clients/hmd-1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE client: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}
	if len(store.Snapshot().Clients) != 0 {
		t.Fatal("expected client to be removed")
	}
}
