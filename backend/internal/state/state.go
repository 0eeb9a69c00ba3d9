// Package state persists per-chat playback checkpoints so a restarted
// process can pick up every active session where it left off.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyPrefix is the common prefix of every checkpoint key.
const KeyPrefix = "state_"

// Key returns the storage key for a chat's checkpoint.
func Key(chatID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefix, chatID)
}

// TrackRecord is the persisted subset of a track. SourceURL is stable and
// re-resolvable; StreamURL may have expired by the time it is read back.
type TrackRecord struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Duration         int    `json:"duration"`
	SourceURL        string `json:"source_url"`
	StreamURL        string `json:"stream_url"`
	FileRef          string `json:"file_ref,omitempty"`
	RequesterID      int64  `json:"requester_id"`
	RequesterDisplay string `json:"requester_display"`
}

// Checkpoint is the persisted snapshot of a chat's playback state.
type Checkpoint struct {
	ChatID          int64       `json:"chat_id"`
	Track           TrackRecord `json:"track"`
	PositionSeconds int         `json:"position_seconds"`
	IsPaused        bool        `json:"is_paused"`
	SavedAtUnix     int64       `json:"saved_at_unix"`
}

// Valid reports whether the record carries everything needed to replay it.
// Records missing required fields are dropped during the startup scan.
func (c *Checkpoint) Valid() bool {
	if c.ChatID == 0 || c.Track.ID == "" {
		return false
	}
	return c.Track.SourceURL != "" || c.Track.FileRef != ""
}

// Entry is one key/value pair returned by a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the key/value persistence contract. Get returns (nil, nil) for a
// missing key, Delete is idempotent and Scan returns a snapshot sorted by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// SaveCheckpoint marshals and upserts a checkpoint.
func SaveCheckpoint(ctx context.Context, s Store, cp *Checkpoint) error {
	buf, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.Set(ctx, Key(cp.ChatID), buf)
}

// LoadCheckpoint reads one chat's checkpoint, returning nil when absent.
func LoadCheckpoint(ctx context.Context, s Store, chatID int64) (*Checkpoint, error) {
	buf, err := s.Get(ctx, Key(chatID))
	if err != nil || buf == nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(buf, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// DeleteCheckpoint removes one chat's checkpoint.
func DeleteCheckpoint(ctx context.Context, s Store, chatID int64) error {
	return s.Delete(ctx, Key(chatID))
}

// LoadCheckpoints scans every persisted checkpoint. Records that fail to
// decode or lack required fields are returned as dropped keys so the caller
// can purge them; unknown JSON fields are ignored.
func LoadCheckpoints(ctx context.Context, s Store) ([]*Checkpoint, []string, error) {
	entries, err := s.Scan(ctx, KeyPrefix)
	if err != nil {
		return nil, nil, err
	}

	var (
		checkpoints []*Checkpoint
		dropped     []string
	)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Key, KeyPrefix) {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(entry.Value, &cp); err != nil || !cp.Valid() {
			dropped = append(dropped, entry.Key)
			continue
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, dropped, nil
}
