package settings

import (
	"crypto/sha256"
	"encoding/json"
	"sync"

	"vrhostd/internal/logging"
)

// Manager maintains the persisted OpenvrConfig and reconciles it against a
// freshly resolved one on every handshake, following the same
// singleton-with-mutex / stable-signature-compare idiom the teacher uses
// for its MistServer config reconciliation (internal/config/manager.go).
type Manager struct {
	mu            sync.Mutex
	logger        logging.Logger
	persisted     OpenvrConfig
	persistedSum  string
	hasPersisted  bool
}

// NewManager constructs a Manager with no persisted config yet — the first
// Reconcile call always reports drift.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{logger: logger}
}

// LoadPersisted seeds the manager with a previously persisted config (read
// from the session store at startup) so the first handshake after a
// restart does not spuriously report drift.
func (m *Manager) LoadPersisted(cfg OpenvrConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted = cfg
	m.persistedSum = hashConfig(cfg)
	m.hasPersisted = true
}

// Reconcile compares newCfg against the persisted config. If they diverge,
// newCfg becomes the persisted config and changed is true — the caller
// (internal/handshake) is responsible for persisting it via
// internal/session and sending the Restarting control packet, per
// spec.md §4.3.
func (m *Manager) Reconcile(newCfg OpenvrConfig) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := hashConfig(newCfg)
	if m.hasPersisted && sum == m.persistedSum {
		return false
	}

	m.persisted = newCfg
	m.persistedSum = sum
	m.hasPersisted = true
	if m.logger != nil {
		m.logger.WithField("config_hash", sum[:8]).Info("openvr config drift detected, persisting new config")
	}
	return true
}

// Persisted returns a copy of the currently persisted config.
func (m *Manager) Persisted() OpenvrConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persisted
}

// hashConfig computes a stable signature of cfg for cheap drift detection,
// mirroring the teacher's hashSeed (sha256 over a canonical JSON encoding).
func hashConfig(cfg OpenvrConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return string(sum[:])
}
