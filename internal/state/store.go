package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// -------------------------------------------------------------------------
// Store Errors
// -------------------------------------------------------------------------

// Sentinel errors for Store operations.
var (
	// ErrInvalidConnectionInfo indicates a create with an invalid client
	// address.
	ErrInvalidConnectionInfo = errors.New("connection info must carry a valid address")

	// ErrSessionNotExists indicates no session matched the query.
	ErrSessionNotExists = errors.New("session not exists")
)

// -------------------------------------------------------------------------
// UserQuery — one of the four session keys
// -------------------------------------------------------------------------

// queryKind discriminates the UserQuery variants.
type queryKind uint8

const (
	queryBySessionID queryKind = iota
	queryByUserID
	queryByUsername
	queryByUsernameUnicode
)

// UserQuery addresses a session by exactly one of its four keys.
// Usernames are normalized before lookup.
type UserQuery struct {
	kind      queryKind
	sessionID ulid.ULID
	userID    int32
	username  string
}

// BySessionID queries by the 128-bit session id.
func BySessionID(id ulid.ULID) UserQuery {
	return UserQuery{kind: queryBySessionID, sessionID: id}
}

// ByUserID queries by the stable user id.
func ByUserID(id int32) UserQuery {
	return UserQuery{kind: queryByUserID, userID: id}
}

// ByUsername queries by the ASCII username.
func ByUsername(name string) UserQuery {
	return UserQuery{kind: queryByUsername, username: NormalizeUsername(name)}
}

// ByUsernameUnicode queries by the unicode username.
func ByUsernameUnicode(name string) UserQuery {
	return UserQuery{kind: queryByUsernameUnicode, username: NormalizeUsername(name)}
}

// String renders the query for logs.
func (q UserQuery) String() string {
	switch q.kind {
	case queryBySessionID:
		return "session_id=" + q.sessionID.String()
	case queryByUserID:
		return fmt.Sprintf("user_id=%d", q.userID)
	case queryByUsername:
		return "username=" + q.username
	default:
		return "username_unicode=" + q.username
	}
}

// -------------------------------------------------------------------------
// Session Events
// -------------------------------------------------------------------------

// EventType classifies a session lifecycle event.
type EventType uint8

const (
	// EventCreated fires on a fresh login.
	EventCreated EventType = iota

	// EventReplaced fires when a duplicate login evicts a prior session.
	EventReplaced

	// EventDeleted fires on logout or explicit deletion.
	EventDeleted

	// EventReaped fires when the idle reaper evicts a session.
	EventReaped
)

// eventTypeNames maps event types to human-readable strings.
var eventTypeNames = [4]string{"created", "replaced", "deleted", "reaped"}

// String returns the human-readable event type name.
func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// SessionEvent is one session lifecycle change, fanned out to RPC
// watchers.
type SessionEvent struct {
	Type      EventType
	SessionID ulid.ULID
	UserID    int32
	Username  string
	Timestamp time.Time
}

// eventChSize buffers lifecycle events so store writers never block on
// slow watchers. Overflowing events are dropped.
const eventChSize = 64

// -------------------------------------------------------------------------
// CreateSessionDto
// -------------------------------------------------------------------------

// CreateSessionDto carries everything needed to register a session.
type CreateSessionDto struct {
	UserID          int32
	Username        string
	UsernameUnicode string
	Privileges      int32
	ClientVersion   string
	UTCOffset       int8
	DisplayCity     bool
	OnlyFriendPM    bool
	Conn            ConnectionInfo
	Status          GameStatus
	Stats           map[uint8]ModeStats
}

// -------------------------------------------------------------------------
// Store
// -------------------------------------------------------------------------

// Store is the authoritative map of live sessions, indexed four ways.
// All four indices always resolve to the same *Session or none; create,
// delete, and rename hold the write lock across every index so readers
// observe either the full pre-state or the full post-state.
type Store struct {
	mu        sync.RWMutex
	bySession map[ulid.ULID]*Session
	byUserID  map[int32]*Session
	byName    map[string]*Session
	byUnicode map[string]*Session

	events chan SessionEvent
	logger *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		bySession: make(map[ulid.ULID]*Session),
		byUserID:  make(map[int32]*Session),
		byName:    make(map[string]*Session),
		byUnicode: make(map[string]*Session),
		events:    make(chan SessionEvent, eventChSize),
		logger:    logger.With(slog.String("component", "state.store")),
	}
}

// Events returns the lifecycle event stream. Events are dropped rather
// than blocking store writers when no one is draining the channel.
func (st *Store) Events() <-chan SessionEvent {
	return st.events
}

// emit publishes a lifecycle event without blocking.
func (st *Store) emit(ev SessionEvent) {
	select {
	case st.events <- ev:
	default:
	}
}

// Create registers a new session for dto. If a session for the same
// user id is live it is evicted first and returned as replaced; the
// caller broadcasts the logout for it. All indices are updated
// atomically.
func (st *Store) Create(dto CreateSessionDto) (sess *Session, replaced *Session, err error) {
	if !dto.Conn.IP.IsValid() {
		return nil, nil, fmt.Errorf("create session for user %d: %w", dto.UserID, ErrInvalidConnectionInfo)
	}

	now := time.Now()
	sess = &Session{
		ID:            NewID(),
		UserID:        dto.UserID,
		CreatedAt:     now,
		ClientVersion: dto.ClientVersion,
		UTCOffset:     dto.UTCOffset,
		DisplayCity:   dto.DisplayCity,
		Queue:         NewPacketQueue(),
	}
	sess.SetUsername(dto.Username)
	if dto.UsernameUnicode != "" {
		u := dto.UsernameUnicode
		sess.usernameUnicode.Store(&u)
	}
	sess.SetPrivileges(dto.Privileges)
	sess.SetOnlyFriendPM(dto.OnlyFriendPM)
	sess.SetPresenceFilter(PresenceFilterAll)
	sess.SetConn(dto.Conn)
	sess.SetStatus(dto.Status)
	for mode, ms := range dto.Stats {
		sess.SetStats(mode, ms)
	}
	sess.Touch(now)

	st.mu.Lock()
	if prior, ok := st.byUserID[dto.UserID]; ok {
		st.unindexLocked(prior)
		replaced = prior
	}
	st.indexLocked(sess)
	st.mu.Unlock()

	if replaced != nil {
		st.logger.Info("session replaced by duplicate login",
			slog.Int("user_id", int(dto.UserID)),
			slog.String("old_session_id", replaced.ID.String()),
			slog.String("new_session_id", sess.ID.String()),
		)
		st.emit(SessionEvent{
			Type: EventReplaced, SessionID: replaced.ID,
			UserID: replaced.UserID, Username: replaced.Username(), Timestamp: now,
		})
	}

	st.logger.Info("session created",
		slog.Int("user_id", int(dto.UserID)),
		slog.String("username", dto.Username),
		slog.String("session_id", sess.ID.String()),
	)
	st.emit(SessionEvent{
		Type: EventCreated, SessionID: sess.ID,
		UserID: sess.UserID, Username: sess.Username(), Timestamp: now,
	})

	return sess, replaced, nil
}

// indexLocked inserts sess into every index. Caller holds the write lock.
func (st *Store) indexLocked(sess *Session) {
	st.bySession[sess.ID] = sess
	st.byUserID[sess.UserID] = sess
	st.byName[NormalizeUsername(sess.Username())] = sess
	if u, ok := sess.UsernameUnicode(); ok {
		st.byUnicode[NormalizeUsername(u)] = sess
	}
}

// unindexLocked removes sess from every index. Caller holds the write lock.
func (st *Store) unindexLocked(sess *Session) {
	delete(st.bySession, sess.ID)
	delete(st.byUserID, sess.UserID)
	delete(st.byName, NormalizeUsername(sess.Username()))
	if u, ok := sess.UsernameUnicode(); ok {
		delete(st.byUnicode, NormalizeUsername(u))
	}
}

// lookupLocked resolves a query under either lock.
func (st *Store) lookupLocked(q UserQuery) (*Session, bool) {
	switch q.kind {
	case queryBySessionID:
		s, ok := st.bySession[q.sessionID]
		return s, ok
	case queryByUserID:
		s, ok := st.byUserID[q.userID]
		return s, ok
	case queryByUsername:
		s, ok := st.byName[q.username]
		return s, ok
	default:
		s, ok := st.byUnicode[q.username]
		return s, ok
	}
}

// Get returns the session for q. Does not update activity.
func (st *Store) Get(q UserQuery) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lookupLocked(q)
}

// Exists reports whether any session matches q.
func (st *Store) Exists(q UserQuery) bool {
	_, ok := st.Get(q)
	return ok
}

// Delete removes the session matching q from every index. Idempotent;
// returns the removed session or nil.
func (st *Store) Delete(q UserQuery) *Session {
	return st.delete(q, EventDeleted)
}

// delete removes with the given lifecycle event type.
func (st *Store) delete(q UserQuery, et EventType) *Session {
	st.mu.Lock()
	sess, ok := st.lookupLocked(q)
	if ok {
		st.unindexLocked(sess)
	}
	st.mu.Unlock()

	if !ok {
		return nil
	}

	st.logger.Info("session deleted",
		slog.String("session_id", sess.ID.String()),
		slog.Int("user_id", int(sess.UserID)),
		slog.String("reason", et.String()),
	)
	st.emit(SessionEvent{
		Type: et, SessionID: sess.ID,
		UserID: sess.UserID, Username: sess.Username(), Timestamp: time.Now(),
	})
	return sess
}

// Rename changes a session's username and reindexes it atomically.
func (st *Store) Rename(q UserQuery, newName string) (*Session, error) {
	st.mu.Lock()
	sess, ok := st.lookupLocked(q)
	if !ok {
		st.mu.Unlock()
		return nil, fmt.Errorf("rename %s: %w", q, ErrSessionNotExists)
	}
	delete(st.byName, NormalizeUsername(sess.Username()))
	sess.SetUsername(newName)
	st.byName[NormalizeUsername(newName)] = sess
	st.mu.Unlock()
	return sess, nil
}

// Len returns the current session count.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.bySession)
}

// Snapshot returns a consistent slice copy of all sessions for
// background sweeps.
func (st *Store) Snapshot() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Session, 0, len(st.bySession))
	for _, s := range st.bySession {
		out = append(out, s)
	}
	return out
}

// UserIDs returns the user ids of all live sessions.
func (st *Store) UserIDs() []int32 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]int32, 0, len(st.byUserID))
	for id := range st.byUserID {
		out = append(out, id)
	}
	return out
}

// MinCursor returns the smallest notify cursor across live sessions and
// whether any session exists. Used by the notify reaper: messages at or
// below the minimum are fully acknowledged.
func (st *Store) MinCursor() (ulid.ULID, bool) {
	sessions := st.Snapshot()
	if len(sessions) == 0 {
		return ulid.ULID{}, false
	}
	minCur := sessions[0].Cursor()
	for _, s := range sessions[1:] {
		if c := s.Cursor(); c.Compare(minCur) < 0 {
			minCur = c
		}
	}
	return minCur, true
}
