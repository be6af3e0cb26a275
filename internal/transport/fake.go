package transport

import (
	"context"
	"errors"
	"sync"
)

// FakeControlSocket is an in-memory ControlSocket for tests, grounded in
// the teacher's fakeControlStream pattern (internal/control/client_test.go):
// a buffered channel stands in for the wire, with an injectable send error.
type FakeControlSocket struct {
	mu      sync.Mutex
	sent    []ControlPacket
	inbound chan ControlPacket
	sendErr error
	closed  bool
}

// NewFakeControlSocket creates a fake control socket with a buffered
// inbound queue of capacity n.
func NewFakeControlSocket(n int) *FakeControlSocket {
	return &FakeControlSocket{inbound: make(chan ControlPacket, n)}
}

func (f *FakeControlSocket) Send(ctx context.Context, p ControlPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *FakeControlSocket) Recv(ctx context.Context) (ControlPacket, error) {
	select {
	case p, ok := <-f.inbound:
		if !ok {
			return ControlPacket{}, errors.New("fake control socket closed")
		}
		return p, nil
	case <-ctx.Done():
		return ControlPacket{}, ctx.Err()
	}
}

func (f *FakeControlSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.inbound)
		f.closed = true
	}
	return nil
}

// Closed reports whether Close has been called, so callers outside this
// package can assert a code path cleaned up its connection.
func (f *FakeControlSocket) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sent returns a copy of everything sent so far.
func (f *FakeControlSocket) Sent() []ControlPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ControlPacket, len(f.sent))
	copy(out, f.sent)
	return out
}

// SetSendErr makes subsequent Send calls fail with err.
func (f *FakeControlSocket) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Inject pushes a packet onto the inbound queue, as if received from the
// peer.
func (f *FakeControlSocket) Inject(p ControlPacket) {
	f.inbound <- p
}
