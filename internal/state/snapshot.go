package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// -------------------------------------------------------------------------
// Snapshot Persistence
// -------------------------------------------------------------------------

// Snapshot formats.
const (
	SnapshotFormatBinary = "binary"
	SnapshotFormatJSON   = "json"
)

// snapshotVersion tags the on-disk schema. Loads reject other versions.
const snapshotVersion = 1

// snapshotMagic prefixes the binary container.
var snapshotMagic = [4]byte{'G', 'B', 'S', 'S'}

// Snapshot persistence errors.
var (
	// ErrSnapshotCorrupt indicates an unreadable snapshot file.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")

	// ErrSnapshotVersion indicates an unsupported schema version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")

	// ErrSnapshotFormat indicates an unrecognized format name.
	ErrSnapshotFormat = errors.New("snapshot format must be binary or json")
)

// SessionRecord is one session's persisted form.
type SessionRecord struct {
	ID              ulid.ULID           `json:"id"`
	UserID          int32               `json:"user_id"`
	Username        string              `json:"username"`
	UsernameUnicode string              `json:"username_unicode,omitempty"`
	Privileges      int32               `json:"privileges"`
	ClientVersion   string              `json:"client_version"`
	UTCOffset       int8                `json:"utc_offset"`
	DisplayCity     bool                `json:"display_city"`
	OnlyFriendPM    bool                `json:"only_friend_pm"`
	PresenceFilter  int32               `json:"presence_filter"`
	Conn            ConnectionInfo      `json:"conn"`
	Status          GameStatus          `json:"status"`
	Stats           map[uint8]ModeStats `json:"stats,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	LastActive      int64               `json:"last_active"`
	NotifyCursor    ulid.ULID           `json:"notify_cursor"`
	QueuedPackets   [][]byte            `json:"queued_packets,omitempty"`
}

// MessageRecord is one notify message's persisted form. Validators are
// not persistable; restored messages carry none.
type MessageRecord struct {
	ID      ulid.ULID `json:"id"`
	Content []byte    `json:"content"`
	HasRead []int32   `json:"has_read,omitempty"`
}

// SnapshotDocument is the single serialized value written to disk.
type SnapshotDocument struct {
	Version  int             `json:"version"`
	TakenAt  time.Time       `json:"taken_at"`
	Sessions []SessionRecord `json:"sessions"`
	Messages []MessageRecord `json:"messages"`
}

// TakeSnapshot captures the store and notify queue into a document.
func TakeSnapshot(store *Store, queue *NotifyQueue) *SnapshotDocument {
	doc := &SnapshotDocument{
		Version: snapshotVersion,
		TakenAt: time.Now(),
	}

	for _, s := range store.Snapshot() {
		rec := SessionRecord{
			ID:             s.ID,
			UserID:         s.UserID,
			Username:       s.Username(),
			Privileges:     s.Privileges(),
			ClientVersion:  s.ClientVersion,
			UTCOffset:      s.UTCOffset,
			DisplayCity:    s.DisplayCity,
			OnlyFriendPM:   s.OnlyFriendPM(),
			PresenceFilter: int32(s.PresenceFilter()),
			Conn:           s.Conn(),
			Status:         s.Status(),
			CreatedAt:      s.CreatedAt,
			LastActive:     s.LastActive(),
			NotifyCursor:   s.Cursor(),
			QueuedPackets:  s.Queue.Snapshot(),
		}
		if u, ok := s.UsernameUnicode(); ok {
			rec.UsernameUnicode = u
		}
		rec.Stats = make(map[uint8]ModeStats)
		for mode := uint8(0); mode < ModeCount; mode++ {
			if ms := s.Stats(mode); ms != (ModeStats{}) {
				rec.Stats[mode] = ms
			}
		}
		doc.Sessions = append(doc.Sessions, rec)
	}

	queue.mu.Lock()
	for _, msg := range queue.msgs {
		rec := MessageRecord{ID: msg.id, Content: msg.content}
		for k := range msg.hasRead {
			rec.HasRead = append(rec.HasRead, k)
		}
		doc.Messages = append(doc.Messages, rec)
	}
	queue.mu.Unlock()

	return doc
}

// SaveSnapshot serializes the store and queue to path in the given
// format. The file is written whole; a partial write leaves no usable
// snapshot and is treated as corrupt on load.
func SaveSnapshot(path, format string, store *Store, queue *NotifyQueue) error {
	doc := TakeSnapshot(store, queue)

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	var out []byte
	switch format {
	case SnapshotFormatJSON:
		out = body
	case SnapshotFormatBinary:
		out = make([]byte, 0, len(body)+13)
		out = append(out, snapshotMagic[:]...)
		out = append(out, snapshotVersion)
		out = binary.LittleEndian.AppendUint64(out, uint64(len(body)))
		out = append(out, body...)
	default:
		return fmt.Errorf("format %q: %w", format, ErrSnapshotFormat)
	}

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads a snapshot document from path. Entries whose
// last_active is older than expiry are dropped. Load is all-or-nothing:
// any decode failure returns an error and nothing is restored.
func LoadSnapshot(path, format string, expiry time.Duration) (*SnapshotDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var body []byte
	switch format {
	case SnapshotFormatJSON:
		body = raw
	case SnapshotFormatBinary:
		if len(raw) < 13 || [4]byte(raw[0:4]) != snapshotMagic {
			return nil, fmt.Errorf("snapshot %s: bad magic: %w", path, ErrSnapshotCorrupt)
		}
		if raw[4] != snapshotVersion {
			return nil, fmt.Errorf("snapshot %s: version %d: %w", path, raw[4], ErrSnapshotVersion)
		}
		n := binary.LittleEndian.Uint64(raw[5:13])
		if uint64(len(raw)-13) < n {
			return nil, fmt.Errorf("snapshot %s: truncated body: %w", path, ErrSnapshotCorrupt)
		}
		body = raw[13 : 13+n]
	default:
		return nil, fmt.Errorf("format %q: %w", format, ErrSnapshotFormat)
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w: %w", path, ErrSnapshotCorrupt, err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s: version %d: %w", path, doc.Version, ErrSnapshotVersion)
	}

	if expiry > 0 {
		cutoff := time.Now().Add(-expiry).Unix()
		kept := doc.Sessions[:0]
		for _, rec := range doc.Sessions {
			if rec.LastActive >= cutoff {
				kept = append(kept, rec)
			}
		}
		doc.Sessions = kept
	}

	return &doc, nil
}

// Restore rebuilds the store and queue from a loaded document. Restored
// sessions keep their original ids, cursors, and queued packets.
func Restore(doc *SnapshotDocument, store *Store, queue *NotifyQueue) {
	for _, rec := range doc.Sessions {
		sess := &Session{
			ID:            rec.ID,
			UserID:        rec.UserID,
			CreatedAt:     rec.CreatedAt,
			ClientVersion: rec.ClientVersion,
			UTCOffset:     rec.UTCOffset,
			DisplayCity:   rec.DisplayCity,
			Queue:         NewPacketQueue(),
		}
		sess.SetUsername(rec.Username)
		if rec.UsernameUnicode != "" {
			u := rec.UsernameUnicode
			sess.usernameUnicode.Store(&u)
		}
		sess.SetPrivileges(rec.Privileges)
		sess.SetOnlyFriendPM(rec.OnlyFriendPM)
		sess.SetPresenceFilter(PresenceFilter(rec.PresenceFilter))
		sess.SetConn(rec.Conn)
		sess.SetStatus(rec.Status)
		for mode, ms := range rec.Stats {
			sess.SetStats(mode, ms)
		}
		sess.lastActive.Store(rec.LastActive)
		sess.AdvanceCursor(rec.NotifyCursor)
		sess.Queue.PushBatch(rec.QueuedPackets)

		store.mu.Lock()
		store.indexLocked(sess)
		store.mu.Unlock()
	}

	queue.mu.Lock()
	for _, rec := range doc.Messages {
		msg := &notifyMessage{
			id:      rec.ID,
			content: rec.Content,
			hasRead: make(map[int32]struct{}, len(rec.HasRead)),
		}
		for _, k := range rec.HasRead {
			msg.hasRead[k] = struct{}{}
		}
		queue.msgs = append(queue.msgs, msg)
	}
	queue.mu.Unlock()
}
