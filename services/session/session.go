// Package session is an encrypted, TTL-managed session store shared across
// process instances through Redis, with a per-process in-memory fallback.
package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
)

// ErrSessionMissing covers expired, unknown and undecryptable sessions.
// Callers cannot distinguish the three; an undecryptable envelope is
// logged at WARN and treated as missing.
var ErrSessionMissing = errors.New("session missing")

// Payload is the session attribute map. The auth flag lives under "auth".
type Payload map[string]any

type Health struct {
	BackendUp    bool `json:"backend_up"`
	EncryptionOK bool `json:"encryption_ok"`
	Fallback     bool `json:"fallback"`
}

// envelope is the encrypted-at-rest session record.
type envelope struct {
	Payload        Payload   `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	LastWrittenAt  time.Time `json:"last_written_at"`
}

// Manager encrypts session payloads with AES-256-GCM, keyed by the
// SHA-256 of the configured secret. The external backend is swapped for
// the in-memory one atomically when Redis goes unhealthy, and back when
// it recovers; fallback sessions do not survive a restart.
type Manager struct {
	gcm      cipher.AEAD
	ttl      time.Duration
	touch    time.Duration
	external Backend
	memory   Backend
	fallback atomic.Bool
	log      *logrus.Entry
}

func NewManager(cfg *config.SessionConfig, external Backend, log *logrus.Entry) (*Manager, error) {
	key := sha256.Sum256([]byte(cfg.Secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to build session cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build session cipher: %w", err)
	}

	m := &Manager{
		gcm:      gcm,
		ttl:      time.Duration(cfg.TTLSeconds) * time.Second,
		touch:    time.Duration(cfg.TouchInterval) * time.Second,
		external: external,
		memory:   NewMemoryBackend(),
		log:      log,
	}
	if external == nil {
		m.fallback.Store(true)
	}
	return m, nil
}

// UsingFallback reports whether sessions currently live in process memory.
func (m *Manager) UsingFallback() bool {
	return m.fallback.Load()
}

func (m *Manager) backend() Backend {
	if m.fallback.Load() {
		return m.memory
	}
	return m.external
}

// CheckBackend probes the external backend and swaps modes on transitions.
// Called periodically by the scheduler and on demand by health endpoints.
func (m *Manager) CheckBackend(ctx context.Context) {
	if m.external == nil {
		return
	}
	healthy := m.external.Ping(ctx) == nil
	wasFallback := m.fallback.Load()
	switch {
	case !healthy && !wasFallback:
		m.fallback.Store(true)
		m.log.Warn("session backend unreachable, serving sessions from process memory")
	case healthy && wasFallback:
		m.fallback.Store(false)
		m.log.Info("session backend recovered")
	}
}

func (m *Manager) Create(ctx context.Context, payload Payload) (string, error) {
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(idBytes)

	now := time.Now()
	env := envelope{
		Payload:        payload,
		CreatedAt:      now,
		LastAccessedAt: now,
		LastWrittenAt:  now,
	}
	if err := m.write(ctx, id, env, m.ttl); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) Load(ctx context.Context, id string) (Payload, error) {
	env, remaining, err := m.read(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	env.LastAccessedAt = now
	// Lazy touch: skip the rewrite when the envelope was written recently.
	if now.Sub(env.LastWrittenAt) > m.touch {
		env.LastWrittenAt = now
		if err := m.write(ctx, id, *env, remaining); err != nil {
			m.log.WithError(err).Warn("session touch write failed")
		}
	}
	return env.Payload, nil
}

func (m *Manager) Update(ctx context.Context, id string, payload Payload, extend bool) error {
	env, remaining, err := m.read(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	env.Payload = payload
	env.LastAccessedAt = now
	env.LastWrittenAt = now

	ttl := remaining
	if extend {
		ttl = m.ttl
	}
	return m.write(ctx, id, *env, ttl)
}

func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.backend().Delete(ctx, sessionKey(id))
}

func (m *Manager) Health(ctx context.Context) Health {
	backendUp := m.external != nil && m.external.Ping(ctx) == nil
	return Health{
		BackendUp:    backendUp,
		EncryptionOK: m.gcm != nil,
		Fallback:     m.fallback.Load(),
	}
}

// TTL returns the configured session lifetime. Used for cookie MaxAge.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) read(ctx context.Context, id string) (*envelope, time.Duration, error) {
	ciphertext, remaining, err := m.backend().Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, ErrSessionMissing) {
			return nil, 0, ErrSessionMissing
		}
		return nil, 0, err
	}

	plaintext, err := m.decrypt(ciphertext)
	if err != nil {
		m.log.WithField("session_id", truncateID(id)).Warn("session failed to decrypt, treating as missing")
		m.backend().Delete(ctx, sessionKey(id))
		return nil, 0, ErrSessionMissing
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		m.log.WithField("session_id", truncateID(id)).Warn("session envelope undecodable, treating as missing")
		m.backend().Delete(ctx, sessionKey(id))
		return nil, 0, ErrSessionMissing
	}
	if remaining <= 0 {
		remaining = m.ttl
	}
	return &env, remaining, nil
}

func (m *Manager) write(ctx context.Context, id string, env envelope, ttl time.Duration) error {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ciphertext, err := m.encrypt(plaintext)
	if err != nil {
		return err
	}
	return m.backend().Set(ctx, sessionKey(id), ciphertext, ttl)
}

func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return m.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (m *Manager) decrypt(data []byte) ([]byte, error) {
	nonceSize := m.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	return m.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func sessionKey(id string) string {
	return "session:" + id
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
