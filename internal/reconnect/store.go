// Package reconnect persists the last known host/room/player tuple so a
// dropped session can be resumed without a fresh manual join.
package reconnect

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// TTL is how long a saved record stays usable. Expiry is checked at read
// time, not by scheduled cleanup.
const TTL = time.Hour

// Record is the durable connection-info tuple. Timestamp is unix
// milliseconds at save time.
type Record struct {
	HostID     string `json:"hostId"`
	PlayerName string `json:"localPlayerName"`
	RoomCode   string `json:"roomCode"`
	IsClient   bool   `json:"isClient"`
	Timestamp  int64  `json:"timestamp"`
}

// Store reads and writes the record on an afero filesystem. Storage errors
// are never fatal: a failed read or write just behaves as if no record
// existed.
type Store struct {
	fs   afero.Fs
	path string
	ttl  time.Duration
	now  func() time.Time
	log  *zap.Logger
}

func NewStore(fs afero.Fs, path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{fs: fs, path: path, ttl: TTL, now: time.Now, log: log}
}

func (s *Store) Save(rec Record) {
	rec.Timestamp = s.now().UnixMilli()
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("marshal connection info", zap.Error(err))
		return
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o600); err != nil {
		s.log.Warn("persist connection info", zap.Error(err))
	}
}

// Load returns the saved record, or false if none exists, it is corrupted,
// or it is older than the TTL. Expired and corrupted entries are cleared as
// a side effect of the read.
func (s *Store) Load() (Record, bool) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("corrupted connection info, discarding", zap.Error(err))
		s.Clear()
		return Record{}, false
	}
	if s.now().UnixMilli()-rec.Timestamp > s.ttl.Milliseconds() {
		s.Clear()
		return Record{}, false
	}
	return rec, true
}

func (s *Store) Clear() {
	if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("clear connection info", zap.Error(err))
	}
}
