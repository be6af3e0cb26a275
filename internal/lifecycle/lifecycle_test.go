package lifecycle

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"vrhostd/internal/discovery"
	"vrhostd/internal/errs"
	"vrhostd/internal/handshake"
	"vrhostd/internal/session"
)

// fakeDiscoverer lets tests control exactly what a discovery attempt
// returns, including blocking until ctx is canceled (always, or only after
// the first call returned).
type fakeDiscoverer struct {
	id              discovery.ClientIdentity
	err             error
	block           bool
	blockAfterFirst bool
	calls           int
}

func (f *fakeDiscoverer) Run(ctx context.Context) (discovery.ClientIdentity, error) {
	f.calls++
	if f.block || (f.blockAfterFirst && f.calls > 1) {
		<-ctx.Done()
		return discovery.ClientIdentity{}, ctx.Err()
	}
	return f.id, f.err
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	return s
}

func TestConnectionPipelineHandshakeSuccess(t *testing.T) {
	store := newStore(t)
	store.AddIfMissing("hmd-1", "Headset")
	if err := store.ApplyClientAction(session.SetManualIPs, "hmd-1", "", []string{"192.168.1.9:9943"}); err != nil {
		t.Fatalf("SetManualIPs: %v", err)
	}

	deps := Deps{
		Discovery: &fakeDiscoverer{block: true},
		SessionStore: store,
		Negotiate: func(ctx context.Context, addr string) (handshake.Result, error) {
			if addr != "192.168.1.9:9943" {
				t.Fatalf("unexpected handshake target: %q", addr)
			}
			return handshake.Result{ClientIP: addr}, nil
		},
		ControlPort: 9943,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := connectionPipeline(ctx, deps)
	if err != nil {
		t.Fatalf("connectionPipeline: %v", err)
	}
	if res.ClientIP != "192.168.1.9:9943" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestConnectionPipelineDiscoveryFailureIsHard(t *testing.T) {
	store := newStore(t)
	deps := Deps{
		Discovery:    &fakeDiscoverer{err: errors.New("socket gone")},
		SessionStore: store,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := connectionPipeline(ctx, deps)
	if err == nil {
		t.Fatal("expected discovery failure to produce an error")
	}
	if errs.ClassOf(err) != errs.Hard {
		t.Fatalf("expected Hard classification, got %s", errs.ClassOf(err))
	}
}

func TestConnectionPipelineDiscoverySuccessReDrivesHandshake(t *testing.T) {
	store := newStore(t)
	calls := 0
	deps := Deps{
		Discovery: &fakeDiscoverer{id: discovery.ClientIdentity{Hostname: "hmd-2", IP: net.ParseIP("10.0.0.5")}, blockAfterFirst: true},
		SessionStore: store,
		ControlPort:  9943,
		Negotiate: func(ctx context.Context, addr string) (handshake.Result, error) {
			calls++
			if addr != "10.0.0.5:9943" {
				t.Fatalf("expected handshake to target the discovered ip, got %q", addr)
			}
			return handshake.Result{ClientIP: addr}, nil
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := connectionPipeline(ctx, deps)
	if err != nil {
		t.Fatalf("connectionPipeline: %v", err)
	}
	if res.ClientIP != "10.0.0.5:9943" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one handshake attempt after discovery, got %d", calls)
	}
}

func TestRunStopsOnFatalError(t *testing.T) {
	store := newStore(t)
	store.AddIfMissing("hmd-1", "Headset")
	if err := store.ApplyClientAction(session.SetManualIPs, "hmd-1", "", []string{"192.168.1.9:9943"}); err != nil {
		t.Fatalf("SetManualIPs: %v", err)
	}

	fatalErr := errs.WrapFatal(errors.New("config drift, restart required"))
	deps := Deps{
		Discovery:    &fakeDiscoverer{block: true},
		SessionStore: store,
		ControlPort:  9943,
		Negotiate: func(ctx context.Context, addr string) (handshake.Result, error) {
			return handshake.Result{}, fatalErr
		},
		CleanupPause:            time.Millisecond,
		RetryConnectMinInterval: time.Millisecond,
	}

	err := Run(context.Background(), deps)
	if !errors.Is(err, fatalErr) && err.Error() != fatalErr.Error() {
		t.Fatalf("expected Run to surface the fatal error, got %v", err)
	}
}

func TestRunReconnectsOnSoftError(t *testing.T) {
	store := newStore(t)
	store.AddIfMissing("hmd-1", "Headset")
	if err := store.ApplyClientAction(session.SetManualIPs, "hmd-1", "", []string{"192.168.1.9:9943"}); err != nil {
		t.Fatalf("SetManualIPs: %v", err)
	}

	var attempts int
	deps := Deps{
		Discovery:    &fakeDiscoverer{block: true},
		SessionStore: store,
		ControlPort:  9943,
		Negotiate: func(ctx context.Context, addr string) (handshake.Result, error) {
			attempts++
			return handshake.Result{}, errs.WrapSoft(errors.New("client offline"))
		},
		CleanupPause:            time.Millisecond,
		RetryConnectMinInterval: time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := Run(ctx, deps); err != nil {
		t.Fatalf("expected Run to swallow soft errors until ctx expiry, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected multiple reconnect attempts, got %d", attempts)
	}
}
