package reconnect

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "connection.json", nil)

	s.Save(Record{HostID: "WOLF", PlayerName: "alice", RoomCode: "WOLF", IsClient: true})

	rec, ok := s.Load()
	require.True(t, ok)
	require.Equal(t, "WOLF", rec.HostID)
	require.Equal(t, "alice", rec.PlayerName)
	require.True(t, rec.IsClient)
	require.NotZero(t, rec.Timestamp)
}

func TestStore_ExpiredRecordIsDiscarded(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs, "connection.json", nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Save(Record{HostID: "WOLF", PlayerName: "alice"})

	// one millisecond inside the window: still valid
	s.now = func() time.Time { return base.Add(TTL - time.Millisecond) }
	_, ok := s.Load()
	require.True(t, ok)

	// past the window: gone, and the file is cleaned up on read
	s.now = func() time.Time { return base.Add(TTL + time.Millisecond) }
	_, ok = s.Load()
	require.False(t, ok)

	exists, err := afero.Exists(fs, "connection.json")
	require.NoError(t, err)
	require.False(t, exists, "expired record should be removed")
}

func TestStore_CorruptedRecordIsDiscarded(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs, "connection.json", nil)
	require.NoError(t, afero.WriteFile(fs, "connection.json", []byte("{not json"), 0o600))

	_, ok := s.Load()
	require.False(t, ok)

	exists, err := afero.Exists(fs, "connection.json")
	require.NoError(t, err)
	require.False(t, exists, "corrupted record should be removed")
}

func TestStore_LoadWithoutRecord(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "connection.json", nil)
	_, ok := s.Load()
	require.False(t, ok)

	// clearing nothing is fine too
	s.Clear()
	s.Clear()
}
