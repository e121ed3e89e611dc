package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
)

// -------------------------------------------------------------------------
// Procedures
// -------------------------------------------------------------------------

// BanchoStateServiceName is the fully qualified state service name,
// also announced via gRPC health.
const BanchoStateServiceName = "bancho.state.v1.BanchoState"

// Bancho state procedures.
const (
	ProcGetSession         = "/bancho.state.v1.BanchoState/GetSession"
	ProcListSessions       = "/bancho.state.v1.BanchoState/ListSessions"
	ProcDeleteSession      = "/bancho.state.v1.BanchoState/DeleteSession"
	ProcCheckUserToken     = "/bancho.state.v1.BanchoState/CheckUserToken"
	ProcPushPackets        = "/bancho.state.v1.BanchoState/PushPackets"
	ProcDequeuePackets     = "/bancho.state.v1.BanchoState/DequeuePackets"
	ProcBroadcastNotify    = "/bancho.state.v1.BanchoState/BroadcastNotify"
	ProcWatchSessionEvents = "/bancho.state.v1.BanchoState/WatchSessionEvents"
)

// Collaborator procedures served by peer microservices.
const (
	ProcFindByUsername = "/bancho.users.v1.UserRepository/FindByUsername"
	ProcChangePassword = "/bancho.users.v1.UserRepository/ChangeUserPassword"

	ProcSignMessage   = "/bancho.signature.v1.Signature/SignMessage"
	ProcVerifyMessage = "/bancho.signature.v1.Signature/VerifyMessage"
	ProcReloadFromPem = "/bancho.signature.v1.Signature/ReloadFromPem"
	ProcGetPublicKey  = "/bancho.signature.v1.Signature/GetPublicKey"

	ProcGeoLookup = "/bancho.geoip.v1.Geoip/Lookup"

	ProcChatChannels       = "/bancho.chat.v1.Chat/Channels"
	ProcChatJoinChannel    = "/bancho.chat.v1.Chat/JoinChannel"
	ProcChatPartChannel    = "/bancho.chat.v1.Chat/PartChannel"
	ProcChatSendMessage    = "/bancho.chat.v1.Chat/SendMessage"
	ProcChatDequeuePackets = "/bancho.chat.v1.Chat/DequeueChatPackets"
	ProcChatLogout         = "/bancho.chat.v1.Chat/Logout"
)

// -------------------------------------------------------------------------
// User Query Wire Form
// -------------------------------------------------------------------------

// ErrBadUserQuery indicates a RawUserQuery with an unknown kind or an
// unparsable session id.
var ErrBadUserQuery = errors.New("bad user query")

// Query kinds on the wire.
const (
	QueryKindSessionID       = "session_id"
	QueryKindUserID          = "user_id"
	QueryKindUsername        = "username"
	QueryKindUsernameUnicode = "username_unicode"
)

// RawUserQuery is the wire form of a session lookup key. Session ids
// travel as ULID strings and are normalized to the 128-bit form on
// decode.
type RawUserQuery struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	UserID    int32  `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

// ToQuery converts the wire form into a store query.
func (q RawUserQuery) ToQuery() (state.UserQuery, error) {
	switch q.Kind {
	case QueryKindSessionID:
		id, err := ulid.Parse(q.SessionID)
		if err != nil {
			return state.UserQuery{}, fmt.Errorf("parse session id %q: %w: %w", q.SessionID, ErrBadUserQuery, err)
		}
		return state.BySessionID(id), nil
	case QueryKindUserID:
		return state.ByUserID(q.UserID), nil
	case QueryKindUsername:
		return state.ByUsername(q.Username), nil
	case QueryKindUsernameUnicode:
		return state.ByUsernameUnicode(q.Username), nil
	default:
		return state.UserQuery{}, fmt.Errorf("kind %q: %w", q.Kind, ErrBadUserQuery)
	}
}

// QueryBySessionID builds the wire form for a session id lookup.
func QueryBySessionID(id ulid.ULID) RawUserQuery {
	return RawUserQuery{Kind: QueryKindSessionID, SessionID: id.String()}
}

// QueryByUserID builds the wire form for a user id lookup.
func QueryByUserID(id int32) RawUserQuery {
	return RawUserQuery{Kind: QueryKindUserID, UserID: id}
}

// QueryByUsername builds the wire form for a username lookup.
func QueryByUsername(name string) RawUserQuery {
	return RawUserQuery{Kind: QueryKindUsername, Username: name}
}

// -------------------------------------------------------------------------
// Bancho State Messages
// -------------------------------------------------------------------------

// SessionData is a session's read-only wire snapshot.
type SessionData struct {
	ID              string           `json:"id"`
	UserID          int32            `json:"user_id"`
	Username        string           `json:"username"`
	UsernameUnicode string           `json:"username_unicode,omitempty"`
	Privileges      int32            `json:"privileges"`
	ClientVersion   string           `json:"client_version"`
	IP              string           `json:"ip"`
	Country         string           `json:"country"`
	City            string           `json:"city"`
	CreatedAt       time.Time        `json:"created_at"`
	LastActive      int64            `json:"last_active"`
	QueuedPackets   int              `json:"queued_packets"`
	NotifyCursor    string           `json:"notify_cursor"`
	Status          state.GameStatus `json:"status"`
}

// SessionDataFrom snapshots a live session for the wire.
func SessionDataFrom(s *state.Session) SessionData {
	conn := s.Conn()
	data := SessionData{
		ID:            s.ID.String(),
		UserID:        s.UserID,
		Username:      s.Username(),
		Privileges:    s.Privileges(),
		ClientVersion: s.ClientVersion,
		IP:            conn.IP.String(),
		Country:       conn.Country,
		City:          conn.City,
		CreatedAt:     s.CreatedAt,
		LastActive:    s.LastActive(),
		QueuedPackets: s.Queue.Len(),
		NotifyCursor:  s.Cursor().String(),
		Status:        s.Status(),
	}
	if u, ok := s.UsernameUnicode(); ok {
		data.UsernameUnicode = u
	}
	return data
}

// GetSessionRequest looks up one session.
type GetSessionRequest struct {
	Query RawUserQuery `json:"query"`
}

// GetSessionResponse carries the resolved session.
type GetSessionResponse struct {
	Session SessionData `json:"session"`
}

// ListSessionsRequest lists every live session.
type ListSessionsRequest struct{}

// ListSessionsResponse carries all live sessions.
type ListSessionsResponse struct {
	Sessions []SessionData `json:"sessions"`
}

// DeleteSessionRequest deletes one session.
type DeleteSessionRequest struct {
	Query RawUserQuery `json:"query"`
}

// DeleteSessionResponse reports whether a session was removed.
type DeleteSessionResponse struct {
	Deleted bool `json:"deleted"`
}

// CheckUserTokenRequest validates a gateway token against the store.
type CheckUserTokenRequest struct {
	UserID    int32  `json:"user_id"`
	SessionID string `json:"session_id"`
	Signature string `json:"signature"`
}

// CheckUserTokenResponse reports token validity.
type CheckUserTokenResponse struct {
	IsValid bool `json:"is_valid"`
}

// PushPacketsRequest enqueues packets to a session's outbound queue.
type PushPacketsRequest struct {
	Query   RawUserQuery `json:"query"`
	Packets []byte       `json:"packets"`
}

// PushPacketsResponse reports the queue depth after the push.
type PushPacketsResponse struct {
	Queued int `json:"queued"`
}

// DequeuePacketsRequest drains a session's outbound queue.
type DequeuePacketsRequest struct {
	Query RawUserQuery `json:"query"`
}

// DequeuePacketsResponse carries the drained bytes.
type DequeuePacketsResponse struct {
	Data []byte `json:"data"`
}

// BroadcastNotifyRequest pushes a packet batch onto the notify queue.
type BroadcastNotifyRequest struct {
	Packets  []byte  `json:"packets"`
	Excludes []int32 `json:"excludes,omitempty"`
}

// BroadcastNotifyResponse carries the assigned message id.
type BroadcastNotifyResponse struct {
	MessageID string `json:"message_id"`
}

// WatchSessionEventsRequest subscribes to session lifecycle events.
type WatchSessionEventsRequest struct {
	// IncludeCurrent replays the live sessions as created events first.
	IncludeCurrent bool `json:"include_current"`
}

// SessionEventMessage is one streamed lifecycle event.
type SessionEventMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	UserID    int32     `json:"user_id"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

// -------------------------------------------------------------------------
// Collaborator Messages
// -------------------------------------------------------------------------

// FindByUsernameRequest resolves a user row by name.
type FindByUsernameRequest struct {
	Name        string `json:"name"`
	NameUnicode string `json:"name_unicode,omitempty"`
}

// FindByUsernameResponse carries the user row.
type FindByUsernameResponse struct {
	User service.UserRow `json:"user"`
}

// ChangePasswordRequest replaces a user's password hash.
type ChangePasswordRequest struct {
	UserID     int32  `json:"user_id"`
	Argon2Hash string `json:"argon2_hash"`
}

// ChangePasswordResponse acknowledges the write.
type ChangePasswordResponse struct{}

// SignMessageRequest signs a message.
type SignMessageRequest struct {
	Message string `json:"message"`
}

// SignMessageResponse carries the hex signature.
type SignMessageResponse struct {
	Signature string `json:"signature"`
}

// VerifyMessageRequest verifies a hex signature.
type VerifyMessageRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// VerifyMessageResponse reports signature validity.
type VerifyMessageResponse struct {
	IsValid bool `json:"is_valid"`
}

// ReloadFromPemRequest swaps the signing key. Exactly one of Pem or
// Path is set.
type ReloadFromPemRequest struct {
	Pem  []byte `json:"pem,omitempty"`
	Path string `json:"path,omitempty"`
}

// ReloadFromPemResponse acknowledges the reload.
type ReloadFromPemResponse struct{}

// GetPublicKeyRequest fetches the verification key.
type GetPublicKeyRequest struct{}

// GetPublicKeyResponse carries the hex public key.
type GetPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// GeoLookupRequest resolves an address.
type GeoLookupRequest struct {
	IP string `json:"ip"`
}

// GeoLookupResponse carries the location.
type GeoLookupResponse struct {
	Location service.Location `json:"location"`
}

// ChatChannelsRequest lists public channels.
type ChatChannelsRequest struct{}

// ChatChannelsResponse carries the channel summaries.
type ChatChannelsResponse struct {
	Channels []service.ChannelSummary `json:"channels"`
}

// ChatJoinRequest subscribes a user to a channel.
type ChatJoinRequest struct {
	UserID  int32  `json:"user_id"`
	Channel string `json:"channel"`
}

// ChatJoinResponse carries the packets for the joining user.
type ChatJoinResponse struct {
	Packets []byte `json:"packets"`
}

// ChatPartRequest unsubscribes a user from a channel.
type ChatPartRequest struct {
	UserID  int32  `json:"user_id"`
	Channel string `json:"channel"`
}

// ChatPartResponse acknowledges the part.
type ChatPartResponse struct{}

// ChatSendRequest routes one chat message.
type ChatSendRequest struct {
	SenderID   int32  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Target     string `json:"target"`
}

// ChatSendResponse acknowledges the send.
type ChatSendResponse struct{}

// ChatDequeueRequest drains a user's pending chat packets.
type ChatDequeueRequest struct {
	UserID int32 `json:"user_id"`
}

// ChatDequeueResponse carries the drained bytes.
type ChatDequeueResponse struct {
	Data []byte `json:"data"`
}

// ChatLogoutRequest drops a user from every channel.
type ChatLogoutRequest struct {
	UserID int32 `json:"user_id"`
}

// ChatLogoutResponse acknowledges the logout.
type ChatLogoutResponse struct{}
