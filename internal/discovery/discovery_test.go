package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"
)

type fakeClientList struct {
	added   map[string]string
	trusted map[string]bool
}

func newFakeClientList(trusted map[string]bool) *fakeClientList {
	return &fakeClientList{added: map[string]string{}, trusted: trusted}
}

func (f *fakeClientList) AddIfMissing(hostname, displayName string) {
	if _, ok := f.added[hostname]; !ok {
		f.added[hostname] = displayName
	}
}

func (f *fakeClientList) IsTrusted(hostname string) bool {
	return f.trusted[hostname]
}

func sendBeacon(t *testing.T, port int, b Beacon) {
	t.Helper()
	body, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal beacon: %v", err)
	}
	conn, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("write beacon: %v", err)
	}
}

func TestUntrustedUnknownClientNeverAccepted(t *testing.T) {
	clients := newFakeClientList(nil)
	l := New(29431, clients, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := l.Run(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sendBeacon(t, 29431, Beacon{Hostname: "unknown-hmd", DeviceName: "Quest"})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to keep scanning for an untrusted unknown client, not return success")
		}
	case <-time.After(500 * time.Millisecond):
		// Still scanning past the beacon — correct, since the client is
		// neither pre-trusted nor covered by auto-trust.
	}

	if _, ok := clients.added["unknown-hmd"]; !ok {
		t.Fatal("expected beacon to still register the hostname via AddIfMissing")
	}
}

func TestTrustedClientAccepted(t *testing.T) {
	clients := newFakeClientList(map[string]bool{"trusted-hmd": true})
	l := New(29432, clients, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct {
		id  ClientIdentity
		err error
	}, 1)
	go func() {
		id, err := l.Run(ctx)
		done <- struct {
			id  ClientIdentity
			err error
		}{id, err}
	}()

	time.Sleep(20 * time.Millisecond)
	sendBeacon(t, 29432, Beacon{Hostname: "trusted-hmd", DeviceName: "Quest"})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("expected trusted client to be accepted, got err: %v", r.err)
		}
		if r.id.Hostname != "trusted-hmd" {
			t.Fatalf("expected hostname trusted-hmd, got %v", r.id.Hostname)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trusted client acceptance")
	}
}
