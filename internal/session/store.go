// Package session owns the in-process half of the persisted session
// contract: spec.md §1 lists "the persistent session store and its schema"
// as an external collaborator, but the connection-lifecycle core still
// needs to read and durably write the openvr_config subtree and the
// persisted-client list itself. This package implements that read/diff/
// write cycle; the store's long-term schema and backend remain out of
// scope.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"vrhostd/internal/settings"
)

// PersistedClient mirrors spec.md §3's PersistedClient entity.
type PersistedClient struct {
	Hostname    string   `json:"hostname"`
	DisplayName string   `json:"display_name"`
	Trusted     bool     `json:"trusted"`
	ManualIPs   []string `json:"manual_ips"`
}

// ClientAction enumerates the external list-management actions spec.md §3
// allows against PersistedClient.
type ClientAction int

const (
	AddIfMissing ClientAction = iota
	Trust
	Untrust
	Remove
	SetManualIPs
)

// Document is the on-disk session JSON shape this runtime owns.
type Document struct {
	OpenvrConfig     settings.OpenvrConfig `json:"openvr_config"`
	HasOpenvrConfig  bool                  `json:"has_openvr_config"`
	Clients          []PersistedClient     `json:"clients"`
	AutoTrustClients bool                  `json:"auto_trust_clients"`
}

// Store is the durable, atomically-written session document. Writes go
// through renameio so a crash mid-write can never leave a torn file —
// the same discipline the pack's ManuGH-xg2g jobs package uses for its
// playlist/EPG files.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads path if it exists, or starts from an empty Document.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(b, &s.doc); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	return s, nil
}

// Snapshot returns a copy of the current document. Lock discipline here
// follows spec.md §5: "lock only long enough to clone what you need".
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	if s.doc.Clients != nil {
		doc.Clients = make([]PersistedClient, len(s.doc.Clients))
		copy(doc.Clients, s.doc.Clients)
	}
	return doc
}

// SaveOpenvrConfig persists cfg as the authoritative openvr_config subtree.
func (s *Store) SaveOpenvrConfig(cfg settings.OpenvrConfig) error {
	s.mu.Lock()
	s.doc.OpenvrConfig = cfg
	s.doc.HasOpenvrConfig = true
	doc := s.doc
	s.mu.Unlock()
	return s.write(doc)
}

// ApplyClientAction mutates the persisted client list per spec.md §3's
// action set and durably writes the result.
func (s *Store) ApplyClientAction(action ClientAction, hostname, displayName string, ips []string) error {
	s.mu.Lock()
	switch action {
	case AddIfMissing:
		if s.findClient(hostname) == -1 {
			s.doc.Clients = append(s.doc.Clients, PersistedClient{Hostname: hostname, DisplayName: displayName})
		}
	case Trust:
		if i := s.findClient(hostname); i != -1 {
			s.doc.Clients[i].Trusted = true
		}
	case Untrust:
		if i := s.findClient(hostname); i != -1 {
			s.doc.Clients[i].Trusted = false
		}
	case Remove:
		if i := s.findClient(hostname); i != -1 {
			s.doc.Clients = append(s.doc.Clients[:i], s.doc.Clients[i+1:]...)
		}
	case SetManualIPs:
		if i := s.findClient(hostname); i != -1 {
			s.doc.Clients[i].ManualIPs = ips
		}
	}
	doc := s.doc
	s.mu.Unlock()
	return s.write(doc)
}

// findClient must be called with s.mu held.
func (s *Store) findClient(hostname string) int {
	for i, c := range s.doc.Clients {
		if c.Hostname == hostname {
			return i
		}
	}
	return -1
}

// IsTrusted reports whether hostname is a known, trusted client.
func (s *Store) IsTrusted(hostname string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findClient(hostname); i != -1 {
		return s.doc.Clients[i].Trusted
	}
	return false
}

// AddIfMissing records hostname as a known (untrusted) client if it is not
// already present, durably persisting the updated list. Satisfies
// discovery.ClientList.
func (s *Store) AddIfMissing(hostname, displayName string) {
	_ = s.ApplyClientAction(AddIfMissing, hostname, displayName, nil)
}

// ManualIPs returns the union of manual_ips across all persisted clients,
// the candidate set spec.md §4.5 uses when no pre-trusted client identity
// is available.
func (s *Store) ManualIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ips []string
	for _, c := range s.doc.Clients {
		ips = append(ips, c.ManualIPs...)
	}
	return ips
}

// write durably persists doc via an atomic rename, matching the
// renameio.NewPendingFile / CloseAtomicallyReplace idiom.
func (s *Store) write(doc Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session document: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(s.path)
	if err != nil {
		return fmt.Errorf("create pending session file: %w", err)
	}
	defer pendingFile.Cleanup()

	if _, err := pendingFile.Write(b); err != nil {
		return fmt.Errorf("write session document: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace session file: %w", err)
	}
	return nil
}
