// Package state implements the authoritative session/presence engine:
// the four-way indexed session store, per-session outbound packet
// queues, the shared notify broadcast queue, background reapers, and
// snapshot persistence.
package state

import (
	"crypto/rand"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dantte-lp/gobancho/internal/bancho"
)

// -------------------------------------------------------------------------
// Identifiers
// -------------------------------------------------------------------------

// idEntropy feeds monotonic ULID generation so ids minted by one
// process are strictly increasing. Guarded by idMu: the monotonic
// reader is not safe for concurrent use.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID mints a 128-bit lexicographically sortable, time-prefixed id.
// Used for both session ids and notify message ids.
func NewID() ulid.ULID {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Now(), idEntropy)
}

// -------------------------------------------------------------------------
// Presence Types
// -------------------------------------------------------------------------

// PresenceFilter selects which presence broadcasts a session receives.
type PresenceFilter int32

const (
	// PresenceFilterNone suppresses all presence broadcasts.
	PresenceFilterNone PresenceFilter = 0

	// PresenceFilterAll delivers presence for every online user.
	PresenceFilterAll PresenceFilter = 1

	// PresenceFilterFriends delivers presence for friends only.
	PresenceFilterFriends PresenceFilter = 2
)

// ConnectionInfo is the client's network origin plus its GeoIP-derived
// location. Swapped whole via an atomic pointer; never mutated in place.
type ConnectionInfo struct {
	IP          netip.Addr `json:"ip"`
	Latitude    float32    `json:"latitude"`
	Longitude   float32    `json:"longitude"`
	CountryCode uint8      `json:"country_code"`
	Country     string     `json:"country"`
	City        string     `json:"city"`
	TimeZone    string     `json:"time_zone"`
}

// GameStatus is the user's current in-game action. Swapped whole via an
// atomic pointer.
type GameStatus struct {
	Action     uint8  `json:"action"`
	Info       string `json:"info"`
	BeatmapMD5 string `json:"beatmap_md5"`
	Mods       int32  `json:"mods"`
	Mode       uint8  `json:"mode"`
	BeatmapID  int32  `json:"beatmap_id"`
}

// ModeCount is the number of tracked game modes (osu!, taiko, catch,
// mania).
const ModeCount = 4

// ModeStats is one game mode's score statistics.
type ModeStats struct {
	RankedScore int64   `json:"ranked_score"`
	TotalScore  int64   `json:"total_score"`
	Accuracy    float32 `json:"accuracy"`
	PlayCount   int32   `json:"play_count"`
	PP          int16   `json:"pp"`
	Rank        int32   `json:"rank"`
	MaxCombo    int32   `json:"max_combo"`
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is one logged-in user's server-side state. Scalar mutable
// fields are atomics; compound fields are swapped whole through atomic
// pointers, so readers never observe a half-written update.
type Session struct {
	// ID is the unique, time-prefixed session id minted at login.
	ID ulid.ULID

	// UserID is the stable identity from the user repository.
	UserID int32

	// CreatedAt is the login timestamp.
	CreatedAt time.Time

	// ClientVersion is the osu! client build string from the login
	// envelope. Immutable for the session's lifetime.
	ClientVersion string

	// UTCOffset is the client's timezone offset in hours.
	UTCOffset int8

	// DisplayCity mirrors the login envelope's display-city flag.
	DisplayCity bool

	username        atomic.Pointer[string]
	usernameUnicode atomic.Pointer[string]
	privileges      atomic.Int32
	lastActive      atomic.Int64
	onlyFriendPM    atomic.Bool
	presenceFilter  atomic.Int32
	conn            atomic.Pointer[ConnectionInfo]
	status          atomic.Pointer[GameStatus]
	stats           [ModeCount]atomic.Pointer[ModeStats]

	// Queue holds outbound packets awaiting the next HTTP poll.
	Queue *PacketQueue

	cursorMu sync.Mutex
	cursor   ulid.ULID
}

// Username returns the ASCII username as given at login or rename. The
// store indexes it by its normalized form.
func (s *Session) Username() string {
	return *s.username.Load()
}

// SetUsername replaces the username. Store-level Rename must be used to
// keep the indices consistent; this only swaps the session field.
func (s *Session) SetUsername(name string) {
	s.username.Store(&name)
}

// UsernameUnicode returns the unicode username and whether one is set.
func (s *Session) UsernameUnicode() (string, bool) {
	p := s.usernameUnicode.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// Privileges returns the privilege bitmask.
func (s *Session) Privileges() int32 {
	return s.privileges.Load()
}

// SetPrivileges replaces the privilege bitmask.
func (s *Session) SetPrivileges(p int32) {
	s.privileges.Store(p)
}

// OnlyFriendPM reports whether the user accepts PMs from friends only.
func (s *Session) OnlyFriendPM() bool {
	return s.onlyFriendPM.Load()
}

// SetOnlyFriendPM updates the friends-only PM flag.
func (s *Session) SetOnlyFriendPM(v bool) {
	s.onlyFriendPM.Store(v)
}

// PresenceFilter returns the session's presence filter.
func (s *Session) PresenceFilter() PresenceFilter {
	return PresenceFilter(s.presenceFilter.Load())
}

// SetPresenceFilter updates the presence filter.
func (s *Session) SetPresenceFilter(f PresenceFilter) {
	s.presenceFilter.Store(int32(f))
}

// LastActive returns the unix-seconds timestamp of the last client
// activity.
func (s *Session) LastActive() int64 {
	return s.lastActive.Load()
}

// Touch bumps last_active to now. The value is monotonically
// non-decreasing even under concurrent touches.
func (s *Session) Touch(now time.Time) {
	ts := now.Unix()
	for {
		cur := s.lastActive.Load()
		if ts <= cur {
			return
		}
		if s.lastActive.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// IsInactive reports whether the session has been idle past deadline.
func (s *Session) IsInactive(now time.Time, deadline time.Duration) bool {
	return now.Unix()-s.lastActive.Load() > int64(deadline.Seconds())
}

// Conn returns the current connection info snapshot.
func (s *Session) Conn() ConnectionInfo {
	return *s.conn.Load()
}

// SetConn swaps in a new connection info snapshot.
func (s *Session) SetConn(ci ConnectionInfo) {
	s.conn.Store(&ci)
}

// Status returns the current game status snapshot.
func (s *Session) Status() GameStatus {
	return *s.status.Load()
}

// SetStatus swaps in a new game status snapshot.
func (s *Session) SetStatus(gs GameStatus) {
	s.status.Store(&gs)
}

// Stats returns the statistics for mode (zero value if never set).
func (s *Session) Stats(mode uint8) ModeStats {
	if mode >= ModeCount {
		mode = 0
	}
	if p := s.stats[mode].Load(); p != nil {
		return *p
	}
	return ModeStats{}
}

// SetStats replaces the statistics for mode.
func (s *Session) SetStats(mode uint8, st ModeStats) {
	if mode >= ModeCount {
		mode = 0
	}
	s.stats[mode].Store(&st)
}

// Cursor returns the last consumed notify message id.
func (s *Session) Cursor() ulid.ULID {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	return s.cursor
}

// AdvanceCursor moves the notify cursor forward. Attempts to move it
// backwards are ignored, keeping the cursor monotonic.
func (s *Session) AdvanceCursor(id ulid.ULID) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if id.Compare(s.cursor) > 0 {
		s.cursor = id
	}
}

// Presence renders the broadcastable presence packet payload fields.
func (s *Session) Presence() bancho.UserPresence {
	conn := s.Conn()
	st := s.Status()
	stats := s.Stats(st.Mode)
	return bancho.UserPresence{
		UserID:         s.UserID,
		Username:       s.Username(),
		UTCOffset:      s.UTCOffset,
		CountryCode:    conn.CountryCode,
		PrivilegesByte: clientPrivileges(s.Privileges()) | st.Mode<<5,
		Longitude:      conn.Longitude,
		Latitude:       conn.Latitude,
		Rank:           stats.Rank,
	}
}

// StatsSnapshot renders the user stats packet payload fields for the
// session's current mode.
func (s *Session) StatsSnapshot() bancho.UserStats {
	st := s.Status()
	stats := s.Stats(st.Mode)
	return bancho.UserStats{
		UserID:      s.UserID,
		Action:      st.Action,
		Info:        st.Info,
		BeatmapMD5:  st.BeatmapMD5,
		Mods:        st.Mods,
		Mode:        st.Mode,
		BeatmapID:   st.BeatmapID,
		RankedScore: stats.RankedScore,
		Accuracy:    stats.Accuracy,
		PlayCount:   stats.PlayCount,
		TotalScore:  stats.TotalScore,
		Rank:        stats.Rank,
		PP:          stats.PP,
	}
}

// Server-side privilege bits (stored bitmask).
const (
	PrivilegeNormal    int32 = 1 << 0
	PrivilegeSupporter int32 = 1 << 2
	PrivilegeModerator int32 = 1 << 4
	PrivilegeAdmin     int32 = 1 << 8
	PrivilegeDeveloper int32 = 1 << 12
)

// Client-side privilege bits of the presence byte.
const (
	clientPrivNormal    uint8 = 1 << 0
	clientPrivModerator uint8 = 1 << 1
	clientPrivSupporter uint8 = 1 << 2
	clientPrivDeveloper uint8 = 1 << 4
)

// clientPrivileges collapses the server bitmask into the client byte.
func clientPrivileges(p int32) uint8 {
	var out uint8
	if p&PrivilegeNormal != 0 {
		out |= clientPrivNormal
	}
	if p&PrivilegeModerator != 0 || p&PrivilegeAdmin != 0 {
		out |= clientPrivModerator
	}
	if p&PrivilegeSupporter != 0 {
		out |= clientPrivSupporter
	}
	if p&PrivilegeDeveloper != 0 {
		out |= clientPrivDeveloper
	}
	return out
}

// -------------------------------------------------------------------------
// Username Normalization
// -------------------------------------------------------------------------

// NormalizeUsername maps a display username to its index key: trimmed,
// lowercased, spaces replaced with underscores.
func NormalizeUsername(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
