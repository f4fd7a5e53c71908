package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Migration_CreatesTablesAndVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var version int
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestSQLiteStore_Migration_IsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.migrate())

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSQLiteStore_AddAndListEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	now := time.Now().Truncate(time.Second)
	e := &Event{
		Type:      "tunnel.opened",
		PublicURL: "https://a.ngrok.test",
		LocalAddr: "localhost:5000",
		CreatedAt: now,
	}
	require.NoError(t, s.AddEvent(e))
	assert.NotZero(t, e.ID)

	events, err := s.ListEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tunnel.opened", events[0].Type)
	assert.Equal(t, "https://a.ngrok.test", events[0].PublicURL)
	assert.Equal(t, "localhost:5000", events[0].LocalAddr)
	assert.True(t, now.Equal(events[0].CreatedAt))
}

func TestSQLiteStore_AddEvent_DefaultsTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Event{Type: "tunnel.closed"}
	require.NoError(t, s.AddEvent(e))

	assert.False(t, e.CreatedAt.IsZero())
}

func TestSQLiteStore_ListEvents_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, typ := range []string{"tunnel.opened", "tunnel.replaced", "tunnel.closed"} {
		require.NoError(t, s.AddEvent(&Event{Type: typ}))
	}

	events, err := s.ListEvents(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tunnel.closed", events[0].Type)
	assert.Equal(t, "tunnel.replaced", events[1].Type)

	all, err := s.ListEvents(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_ListEvents_Empty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	events, err := s.ListEvents(5)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStore_Cleanup_RemovesOldEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.AddEvent(&Event{Type: "tunnel.opened", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, s.AddEvent(&Event{Type: "tunnel.closed", CreatedAt: time.Now()}))

	require.NoError(t, s.Cleanup(24*time.Hour))

	events, err := s.ListEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tunnel.closed", events[0].Type)
}

func TestSQLiteStore_Cleanup_ZeroRetentionKeepsAll(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.AddEvent(&Event{Type: "tunnel.opened", CreatedAt: time.Now().Add(-365 * 24 * time.Hour)}))
	require.NoError(t, s.Cleanup(0))

	events, err := s.ListEvents(0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNewSQLiteStore_CreatesFileWithRestrictivePermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tunnelbot.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestStartCleanupLoop_StopsOnDone(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		s.StartCleanupLoop(done, time.Millisecond, time.Hour)
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
