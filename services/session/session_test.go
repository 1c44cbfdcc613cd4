package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/config"
)

func testConfig() *config.SessionConfig {
	return &config.SessionConfig{
		Secret:        "test-secret",
		TTLSeconds:    3600,
		TouchInterval: 60,
	}
}

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newMemoryManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(), NewMemoryBackend(), quietLog())
	require.NoError(t, err)
	return m
}

func TestSessionRoundTrip(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, Payload{"auth": true, "name": "alex"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	payload, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, payload["auth"])
	assert.Equal(t, "alex", payload["name"])
}

func TestSessionMissing(t *testing.T) {
	m := newMemoryManager(t)

	_, err := m.Load(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestSessionUpdateAndDestroy(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, Payload{"auth": true})
	require.NoError(t, err)

	require.NoError(t, m.Update(ctx, id, Payload{"auth": true, "theme": "dark"}, false))

	payload, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dark", payload["theme"])

	require.NoError(t, m.Destroy(ctx, id))
	_, err = m.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestSessionIDsAreUnique(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := m.Create(ctx, Payload{})
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestSessionCiphertextIsOpaque(t *testing.T) {
	backend := NewMemoryBackend()
	m, err := NewManager(testConfig(), backend, quietLog())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := m.Create(ctx, Payload{"auth": true})
	require.NoError(t, err)

	raw, _, err := backend.Get(ctx, "session:"+id)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "auth")
}

func TestSessionUndecryptableTreatedAsMissing(t *testing.T) {
	backend := NewMemoryBackend()
	m, err := NewManager(testConfig(), backend, quietLog())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "session:garbled", []byte("not ciphertext"), time.Minute))

	_, err = m.Load(ctx, "garbled")
	assert.ErrorIs(t, err, ErrSessionMissing)

	// The corrupt entry is removed on the failed load.
	_, _, err = backend.Get(ctx, "session:garbled")
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestSessionKeyRotationInvalidatesSessions(t *testing.T) {
	backend := NewMemoryBackend()
	m1, err := NewManager(testConfig(), backend, quietLog())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := m1.Create(ctx, Payload{"auth": true})
	require.NoError(t, err)

	rotated := testConfig()
	rotated.Secret = "another-secret"
	m2, err := NewManager(rotated, backend, quietLog())
	require.NoError(t, err)

	_, err = m2.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestSessionFallbackOnBackendOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m, err := NewManager(testConfig(), NewRedisBackend(client), quietLog())
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, m.UsingFallback())
	m.CheckBackend(ctx)
	assert.False(t, m.UsingFallback())

	mr.Close()
	m.CheckBackend(ctx)
	assert.True(t, m.UsingFallback())

	// Sessions keep working out of process memory.
	id, err := m.Create(ctx, Payload{"auth": true})
	require.NoError(t, err)
	payload, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, payload["auth"])
}

func TestSessionRedisBackendRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m, err := NewManager(testConfig(), NewRedisBackend(client), quietLog())
	require.NoError(t, err)
	ctx := context.Background()

	id, err := m.Create(ctx, Payload{"auth": true})
	require.NoError(t, err)

	payload, err := m.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, true, payload["auth"])

	// Expired sessions disappear.
	mr.FastForward(2 * time.Hour)
	_, err = m.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionMissing)
}
