package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/dantte-lp/gobancho/internal/bancho"
	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
)

// -------------------------------------------------------------------------
// Login Envelope
// -------------------------------------------------------------------------

// Login errors. Unknown users, wrong passwords and malformed envelopes
// all reach the client as invalid credentials; loginFailure gives
// throttling (server error) and client version problems (outdated
// client) their own reply codes.
var (
	// ErrInvalidLoginData indicates a malformed login envelope.
	ErrInvalidLoginData = errors.New("invalid login data")

	// ErrInvalidUserInfo indicates a bad username or password digest.
	ErrInvalidUserInfo = errors.New("invalid user info")

	// ErrInvalidClientInfo indicates a short client info line.
	ErrInvalidClientInfo = errors.New("invalid client info")

	// ErrInvalidClientHashes indicates a short hardware hash set.
	ErrInvalidClientHashes = errors.New("invalid client hashes")

	// ErrEmptyClientVersion indicates a missing osu-version header.
	ErrEmptyClientVersion = errors.New("empty client version header")

	// ErrMismatchedClientVersion indicates header/body version skew.
	ErrMismatchedClientVersion = errors.New("mismatched client version")

	// ErrInvalidCredentials covers unknown users and password failures.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLoginThrottled indicates the per-IP retry ceiling was hit.
	ErrLoginThrottled = errors.New("login throttled")
)

// md5HexLen is the fixed length of the MD5-hex password digest.
const md5HexLen = 32

// ClientHashes is the `:`-separated hardware identifier set from the
// login envelope.
type ClientHashes struct {
	PathHash     string
	Adapters     string
	AdaptersHash string
	UninstallID  string
	DiskID       string
}

// LoginRequest is the parsed login envelope.
type LoginRequest struct {
	Username       string
	PasswordMD5    string
	ClientVersion  string
	UTCOffset      int8
	DisplayCity    bool
	OnlyFriendPM   bool
	ClientHashes   ClientHashes
}

// ParseLoginBody parses the three-line plaintext login envelope:
// username, MD5-hex password, and the `|`-separated client info line.
func ParseLoginBody(body []byte) (LoginRequest, error) {
	var req LoginRequest

	lines := strings.Split(string(body), "\n")
	if len(lines) < 3 {
		return req, fmt.Errorf("expected 3 lines, got %d: %w", len(lines), ErrInvalidLoginData)
	}

	req.Username = lines[0]
	req.PasswordMD5 = lines[1]
	if req.Username == "" || len(req.PasswordMD5) != md5HexLen {
		return req, fmt.Errorf("parse login: %w", ErrInvalidUserInfo)
	}

	info := strings.Split(lines[2], "|")
	if len(info) < 5 {
		return req, fmt.Errorf("expected 5 client info fields, got %d: %w", len(info), ErrInvalidClientInfo)
	}

	req.ClientVersion = info[0]
	if off, err := strconv.ParseInt(info[1], 10, 8); err == nil {
		req.UTCOffset = int8(off)
	}
	req.DisplayCity = info[2] == "1"

	hashes := strings.Split(info[3], ":")
	if len(hashes) < 5 {
		return req, fmt.Errorf("expected 5 client hashes, got %d: %w", len(hashes), ErrInvalidClientHashes)
	}
	req.ClientHashes = ClientHashes{
		PathHash:     hashes[0],
		Adapters:     hashes[1],
		AdaptersHash: hashes[2],
		UninstallID:  hashes[3],
		DiskID:       hashes[4],
	}

	req.OnlyFriendPM = info[4] == "1"

	return req, nil
}

// -------------------------------------------------------------------------
// Login Flow
// -------------------------------------------------------------------------

// LoginSuccess carries everything the HTTP layer needs to answer a
// successful login.
type LoginSuccess struct {
	Token   string
	Packets []byte
}

// login authenticates the envelope and creates the session, returning
// the token and the initial packet train.
func (g *Gateway) login(ctx context.Context, body []byte, clientIP netip.Addr, versionHeader string) (LoginSuccess, error) {
	now := time.Now()

	if versionHeader == "" {
		return LoginSuccess{}, ErrEmptyClientVersion
	}

	req, err := ParseLoginBody(body)
	if err != nil {
		return LoginSuccess{}, err
	}
	if req.ClientVersion != versionHeader {
		return LoginSuccess{}, fmt.Errorf("header %q body %q: %w", versionHeader, req.ClientVersion, ErrMismatchedClientVersion)
	}

	if !g.limiter.Allow(clientIP, now) {
		return LoginSuccess{}, fmt.Errorf("ip %s: %w", clientIP, ErrLoginThrottled)
	}

	row, err := g.users.FindByUsername(ctx, req.Username, req.Username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			g.limiter.Failure(clientIP, now)
			return LoginSuccess{}, fmt.Errorf("user %q: %w", req.Username, ErrInvalidCredentials)
		}
		return LoginSuccess{}, fmt.Errorf("find user: %w", err)
	}

	if err := g.pwcache.Verify(row.Argon2Hash, req.PasswordMD5, now); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			g.limiter.Failure(clientIP, now)
			return LoginSuccess{}, fmt.Errorf("user %q: %w", req.Username, ErrInvalidCredentials)
		}
		return LoginSuccess{}, fmt.Errorf("verify password: %w", err)
	}
	g.limiter.Success(clientIP)

	conn := g.resolveConn(ctx, clientIP, row.Country)

	sess, replaced, err := g.store.Create(state.CreateSessionDto{
		UserID:          row.ID,
		Username:        row.Name,
		UsernameUnicode: row.NameUnicode,
		Privileges:      row.Privileges,
		ClientVersion:   req.ClientVersion,
		UTCOffset:       req.UTCOffset,
		DisplayCity:     req.DisplayCity,
		OnlyFriendPM:    req.OnlyFriendPM,
		Conn:            conn,
		Status:          state.GameStatus{},
	})
	if err != nil {
		return LoginSuccess{}, fmt.Errorf("create session: %w", err)
	}
	if replaced != nil {
		// Observers see the old connection log out before the new
		// presence lands.
		g.notify.PushExcluding(bancho.UserLogoutNotice(replaced.UserID), []int32{row.ID}, nil)
	}

	signature, err := g.signature.Sign(ctx, TokenPayload(sess.UserID, sess.ID))
	if err != nil {
		g.store.Delete(state.BySessionID(sess.ID))
		return LoginSuccess{}, fmt.Errorf("mint token: %w", err)
	}

	packets := g.loginTrain(ctx, sess)

	// Announce the arrival to everyone already online.
	g.notify.PushExcluding(
		bancho.NewBuilder().
			Add(bancho.PresenceOf(sess.Presence())).
			Add(bancho.StatsOf(sess.StatsSnapshot())).
			Build(),
		[]int32{sess.UserID},
		g.sessionAlive(sess),
	)

	g.logger.Info("login complete",
		slog.Int("user_id", int(sess.UserID)),
		slog.String("username", sess.Username()),
		slog.String("session_id", sess.ID.String()),
		slog.String("ip", clientIP.String()),
	)

	return LoginSuccess{
		Token:   EncodeClientToken(sess.UserID, sess.ID, signature),
		Packets: packets,
	}, nil
}

// resolveConn builds the session connection info from GeoIP. Lookup
// failures are tolerated: the session starts with a zeroed location.
func (g *Gateway) resolveConn(ctx context.Context, clientIP netip.Addr, country string) state.ConnectionInfo {
	conn := state.ConnectionInfo{
		IP:          clientIP,
		Country:     country,
		CountryCode: service.CountryCode(country),
	}

	loc, err := g.geoip.Lookup(ctx, clientIP)
	if err != nil {
		g.logger.Debug("geoip lookup failed",
			slog.String("ip", clientIP.String()),
			slog.String("error", err.Error()),
		)
		return conn
	}

	conn.Latitude = loc.Latitude
	conn.Longitude = loc.Longitude
	conn.City = loc.City
	conn.TimeZone = loc.TimeZone
	if loc.Country != "" {
		conn.Country = loc.Country
		conn.CountryCode = service.CountryCode(loc.Country)
	}
	return conn
}

// sessionAlive returns a notify validator that holds while the session
// is still registered.
func (g *Gateway) sessionAlive(sess *state.Session) state.Validator {
	id := sess.ID
	return func() bool {
		return g.store.Exists(state.BySessionID(id))
	}
}

// loginTrain composes the initial packet train for a fresh session.
func (g *Gateway) loginTrain(ctx context.Context, sess *state.Session) []byte {
	b := bancho.NewBuilder().
		Add(bancho.LoginReply(bancho.LoginReplyCode(sess.UserID))).
		Add(bancho.ProtocolVersion(bancho.ProtocolVersionValue)).
		Add(bancho.Privileges(int32(clientPrivByte(sess)))).
		Add(bancho.Notification(g.welcome)).
		Add(bancho.PresenceOf(sess.Presence())).
		Add(bancho.StatsOf(sess.StatsSnapshot()))

	channels, err := g.chat.Channels(ctx)
	if err != nil {
		g.logger.Warn("channel listing failed",
			slog.String("error", err.Error()),
		)
	}
	for _, ch := range channels {
		b.Add(bancho.ChannelInfo(ch.Name, ch.Topic, ch.MemberCount))
		if ch.AutoJoin {
			if joined, err := g.chat.JoinChannel(ctx, sess.UserID, ch.Name); err == nil {
				b.Add(joined)
			}
		}
	}

	b.Add(bancho.FriendsList(nil)).
		Add(bancho.MainMenuIcon(g.menuIcon)).
		Add(bancho.SilenceEnd(0)).
		Add(bancho.ChannelInfoEnd())

	return b.Build()
}

// clientPrivByte renders the session's client-facing privilege byte.
func clientPrivByte(sess *state.Session) uint8 {
	return sess.Presence().PrivilegesByte
}

// loginFailure maps a login error to the reply code, the user-facing
// notification, and the metrics label.
func (g *Gateway) loginFailure(err error) (bancho.LoginReplyCode, string, string) {
	switch {
	case errors.Is(err, ErrLoginThrottled):
		msg := fmt.Sprintf("Too many login attempts. Try again in %s.", g.limiter.Window())
		return bancho.LoginServerError, msg, banchometrics.LoginResultThrottled
	case errors.Is(err, ErrInvalidCredentials):
		return bancho.LoginInvalidCredentials, "Invalid username or password.", banchometrics.LoginResultRejected
	case errors.Is(err, ErrMismatchedClientVersion),
		errors.Is(err, ErrEmptyClientVersion):
		return bancho.LoginOutdatedClient, "Client version mismatch. Please update your client.", banchometrics.LoginResultRejected
	case errors.Is(err, ErrInvalidLoginData),
		errors.Is(err, ErrInvalidUserInfo),
		errors.Is(err, ErrInvalidClientInfo),
		errors.Is(err, ErrInvalidClientHashes):
		return bancho.LoginInvalidCredentials, "Malformed login request.", banchometrics.LoginResultRejected
	default:
		return bancho.LoginServerError, "Server error. Please try again later.", banchometrics.LoginResultError
	}
}
