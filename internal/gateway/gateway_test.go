package gateway_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/gateway"
	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
)

// testEnv wires a gateway against local service implementations.
type testEnv struct {
	gw    *gateway.Gateway
	store *state.Store
	queue *state.NotifyQueue
	users *service.LocalUserRepository
}

const (
	testClientVersion = "20230101.0"
	testLoginBody     = "alice\n" + testPasswordMD5 + "\n" + testClientVersion + "|0|1|p:a:ah:u:d|0"
)

// argonOfTestPassword is computed once; Argon2id is deliberately slow.
var argonOfTestPassword string

func argonHash(t *testing.T) string {
	t.Helper()
	if argonOfTestPassword == "" {
		h, err := gateway.HashArgon2(testPasswordMD5)
		if err != nil {
			t.Fatalf("HashArgon2: %v", err)
		}
		argonOfTestPassword = h
	}
	return argonOfTestPassword
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.Default()
	store := state.NewStore(logger)
	queue := state.NewNotifyQueue()

	users := service.NewLocalUserRepository()
	users.Seed(service.UserRow{
		ID:         42,
		Name:       "alice",
		Argon2Hash: argonHash(t),
		Privileges: state.PrivilegeNormal,
		Country:    "DE",
	})

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signature := service.NewLocalSignatureFromKey(priv)

	chat := service.NewLocalChat(func(username string) (int32, bool) {
		sess, ok := store.Get(state.ByUsername(username))
		if !ok {
			return 0, false
		}
		return sess.UserID, true
	})

	gw := gateway.New(
		store, queue, users, signature, service.NewLocalGeoIP(), chat,
		banchometrics.NewCollector(prometheus.NewRegistry()),
		logger,
		gateway.Options{
			RequestTimeout:   5 * time.Second,
			LoginRetryMax:    3,
			LoginRetryWindow: time.Minute,
		},
	)

	return &testEnv{gw: gw, store: store, queue: queue, users: users}
}

// doLogin posts the standard login envelope and returns the recorder.
func (env *testEnv) doLogin(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("User-Agent", "osu!")
	req.Header.Set(gateway.HeaderOsuVersion, testClientVersion)
	req.Header.Set(gateway.HeaderRealIP, "203.0.113.9")
	rec := httptest.NewRecorder()
	env.gw.Echo().ServeHTTP(rec, req)
	return rec
}

// doBancho posts an authenticated packet batch.
func (env *testEnv) doBancho(t *testing.T, token string, packets []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(packets))
	req.Header.Set("User-Agent", "osu!")
	req.Header.Set(gateway.HeaderOsuToken, token)
	req.Header.Set(gateway.HeaderRealIP, "203.0.113.9")
	rec := httptest.NewRecorder()
	env.gw.Echo().ServeHTTP(rec, req)
	return rec
}

// decodeIDs returns the opcode sequence of a response body.
func decodeIDs(t *testing.T, body []byte) []bancho.PacketID {
	t.Helper()
	var ids []bancho.PacketID
	r := bancho.NewPacketReader(body)
	for {
		pkt, ok := r.Next()
		if !ok {
			break
		}
		ids = append(ids, pkt.ID)
	}
	if r.Err() != nil {
		t.Fatalf("decode response: %v", r.Err())
	}
	return ids
}

// assertContainsInOrder checks want appears in ids as a subsequence.
func assertContainsInOrder(t *testing.T, ids []bancho.PacketID, want ...bancho.PacketID) {
	t.Helper()
	i := 0
	for _, id := range ids {
		if i < len(want) && id == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("opcodes %v missing ordered subsequence %v", ids, want)
	}
}

// -------------------------------------------------------------------------
// Scenario 1: happy login
// -------------------------------------------------------------------------

func TestLoginHappyPath(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doLogin(t, testLoginBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	token := rec.Header().Get(gateway.HeaderChoToken)
	if token == "" || token == "failed" {
		t.Fatalf("cho-token = %q", token)
	}
	if got := rec.Header().Get(gateway.HeaderChoProtocol); got != "19" {
		t.Fatalf("cho-protocol = %q", got)
	}

	ids := decodeIDs(t, rec.Body.Bytes())
	assertContainsInOrder(t, ids,
		bancho.BanchoLoginReply,
		bancho.BanchoProtocolVersion,
		bancho.BanchoNotification,
		bancho.BanchoUserPresence,
		bancho.BanchoUserStats,
		bancho.BanchoChannelInfoEnd,
	)

	// The login reply carries the user id.
	r := bancho.NewPacketReader(rec.Body.Bytes())
	first, _ := r.Next()
	if first.ID != bancho.BanchoLoginReply {
		t.Fatalf("first packet = %v", first.ID)
	}
	uid, err := bancho.NewPayloadReader(first.Payload).ReadInt32()
	if err != nil || uid != 42 {
		t.Fatalf("login reply = (%d, %v)", uid, err)
	}

	if env.store.Len() != 1 {
		t.Fatalf("Len() = %d after login", env.store.Len())
	}
}

// -------------------------------------------------------------------------
// Scenario 2: bad password
// -------------------------------------------------------------------------

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t)
	body := "alice\n" + strings.Repeat("0", 32) + "\n" + testClientVersion + "|0|1|p:a:ah:u:d|0"
	rec := env.doLogin(t, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get(gateway.HeaderChoToken); got != "failed" {
		t.Fatalf("cho-token = %q", got)
	}

	ids := decodeIDs(t, rec.Body.Bytes())
	assertContainsInOrder(t, ids, bancho.BanchoLoginReply, bancho.BanchoNotification)

	r := bancho.NewPacketReader(rec.Body.Bytes())
	first, _ := r.Next()
	code, err := bancho.NewPayloadReader(first.Payload).ReadInt32()
	if err != nil || code != int32(bancho.LoginInvalidCredentials) {
		t.Fatalf("login reply = (%d, %v), want -1", code, err)
	}

	if env.store.Len() != 0 {
		t.Fatalf("Len() = %d after failed login", env.store.Len())
	}
}

// -------------------------------------------------------------------------
// Scenario 3: authenticated ping
// -------------------------------------------------------------------------

func TestAuthenticatedPing(t *testing.T) {
	env := newTestEnv(t)
	token := env.doLogin(t, testLoginBody).Header().Get(gateway.HeaderChoToken)

	sess, ok := env.store.Get(state.ByUserID(42))
	if !ok {
		t.Fatal("session missing after login")
	}
	before := sess.LastActive()

	// last_active has one-second granularity; cross the boundary so the
	// ping's touch is observable.
	time.Sleep(1100 * time.Millisecond)
	rec := env.doBancho(t, token, pingPacket())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("ping response body = %v, want empty", rec.Body.Bytes())
	}
	if sess.LastActive() <= before {
		t.Fatal("last_active not bumped by ping")
	}
}

// pingPacket frames an OSU_PING client packet.
func pingPacket() []byte {
	return []byte{4, 0, 0, 0, 0, 0, 0}
}

// -------------------------------------------------------------------------
// Scenario 4: stale token
// -------------------------------------------------------------------------

func TestStaleTokenYieldsRestart(t *testing.T) {
	env := newTestEnv(t)
	token := env.doLogin(t, testLoginBody).Header().Get(gateway.HeaderChoToken)

	// Kill the session out from under the client.
	env.store.Delete(state.ByUserID(42))

	rec := env.doBancho(t, token, pingPacket())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), bancho.Restart(0)) {
		t.Fatalf("body = %v, want single restart packet", rec.Body.Bytes())
	}
}

// -------------------------------------------------------------------------
// Scenario 5: duplicate login
// -------------------------------------------------------------------------

func TestDuplicateLoginReplacesSession(t *testing.T) {
	env := newTestEnv(t)

	env.doLogin(t, testLoginBody)
	first, ok := env.store.Get(state.ByUserID(42))
	if !ok {
		t.Fatal("first session missing")
	}
	firstID := first.ID

	env.doLogin(t, testLoginBody)
	second, ok := env.store.Get(state.ByUserID(42))
	if !ok {
		t.Fatal("second session missing")
	}

	if second.ID == firstID {
		t.Fatal("second login did not mint a new session")
	}
	if env.store.Exists(state.BySessionID(firstID)) {
		t.Fatal("first session still resolves")
	}
	if env.store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", env.store.Len())
	}
}

// -------------------------------------------------------------------------
// Scenario 6: notify broadcast ordering
// -------------------------------------------------------------------------

func TestNotifyBroadcastOrderingAcrossReaders(t *testing.T) {
	env := newTestEnv(t)

	m1 := bancho.Notification("m1")
	m2 := bancho.Notification("m2")
	m3 := bancho.Notification("m3")
	env.queue.Push(m1, nil)
	env.queue.Push(m2, nil)
	env.queue.Push(m3, nil)

	want := bancho.NewBuilder().Add(m1).Add(m2).Add(m3).Build()

	collect := func(reader int32) []byte {
		var out []byte
		var cursor ulid.ULID
		for {
			chunk, last, ok := env.queue.Receive(reader, cursor, 1)
			if !ok {
				break
			}
			out = append(out, chunk...)
			cursor = last
		}
		return out
	}
	gotA := collect(100)
	gotB := collect(200)

	if !bytes.Equal(gotA, want) || !bytes.Equal(gotB, want) {
		t.Fatalf("readers diverged:\n a=%v\n b=%v\n want=%v", gotA, gotB, want)
	}
}

// -------------------------------------------------------------------------
// Extra gateway behaviors
// -------------------------------------------------------------------------

func TestBadUserAgentRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(testLoginBody))
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()
	env.gw.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	body := "alice\n" + testPasswordMD5 + "\nsomeotherversion|0|1|p:a:ah:u:d|0"
	rec := env.doLogin(t, body)

	if got := rec.Header().Get(gateway.HeaderChoToken); got != "failed" {
		t.Fatalf("cho-token = %q", got)
	}
	r := bancho.NewPacketReader(rec.Body.Bytes())
	first, _ := r.Next()
	code, _ := bancho.NewPayloadReader(first.Payload).ReadInt32()
	if code != int32(bancho.LoginOutdatedClient) {
		t.Fatalf("login reply = %d, want -2", code)
	}
}

func TestLoginThrottleAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	bad := "alice\n" + strings.Repeat("0", 32) + "\n" + testClientVersion + "|0|1|p:a:ah:u:d|0"

	for i := 0; i < 3; i++ {
		env.doLogin(t, bad)
	}

	// Fourth attempt, even with correct credentials, is throttled.
	rec := env.doLogin(t, testLoginBody)
	r := bancho.NewPacketReader(rec.Body.Bytes())
	first, _ := r.Next()
	code, _ := bancho.NewPayloadReader(first.Payload).ReadInt32()
	if code != int32(bancho.LoginServerError) {
		t.Fatalf("login reply = %d, want -5 (throttled)", code)
	}
	if env.store.Len() != 0 {
		t.Fatal("throttled login created a session")
	}
}

func TestGetServesBanner(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	env.gw.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gobancho") {
		t.Fatalf("banner = %q", rec.Body.String())
	}
}

func TestLogoutPacketDeletesSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.doLogin(t, testLoginBody).Header().Get(gateway.HeaderChoToken)

	// OSU_LOGOUT with the i32 flag payload.
	logout := []byte{2, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0}
	rec := env.doBancho(t, token, logout)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.store.Len() != 0 {
		t.Fatalf("Len() = %d after logout", env.store.Len())
	}
}
