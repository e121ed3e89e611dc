package state_test

import (
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gobancho/internal/state"
)

// timeUnix wraps time.Unix for terse touch tests.
func timeUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}

// defaultDto returns a valid CreateSessionDto for store tests.
func defaultDto(userID int32, username string) state.CreateSessionDto {
	return state.CreateSessionDto{
		UserID:        userID,
		Username:      username,
		Privileges:    state.PrivilegeNormal,
		ClientVersion: "b20260101",
		UTCOffset:     8,
		Conn: state.ConnectionInfo{
			IP:          netip.MustParseAddr("198.51.100.7"),
			CountryCode: 48,
		},
		Status: state.GameStatus{Action: 0, Info: ""},
	}
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	return state.NewStore(slog.Default())
}

func TestStoreCreateIndexesAllFourWays(t *testing.T) {
	st := newTestStore(t)

	dto := defaultDto(42, "Alice Fox")
	dto.UsernameUnicode = "アリス"
	sess, replaced, err := st.Create(dto)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if replaced != nil {
		t.Fatalf("unexpected replaced session %v", replaced.ID)
	}

	queries := []state.UserQuery{
		state.BySessionID(sess.ID),
		state.ByUserID(42),
		state.ByUsername("alice_fox"),
		state.ByUsername("Alice Fox"),
		state.ByUsernameUnicode("アリス"),
	}
	for _, q := range queries {
		got, ok := st.Get(q)
		if !ok {
			t.Fatalf("Get(%s): not found", q)
		}
		if got != sess {
			t.Fatalf("Get(%s) resolved a different session", q)
		}
		if !st.Exists(q) {
			t.Fatalf("Exists(%s) = false", q)
		}
	}

	if st.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", st.Len())
	}
}

func TestStoreCreateRejectsInvalidConnection(t *testing.T) {
	st := newTestStore(t)

	dto := defaultDto(1, "bob")
	dto.Conn.IP = netip.Addr{}
	if _, _, err := st.Create(dto); err == nil {
		t.Fatal("Create with invalid address succeeded")
	}
	if st.Len() != 0 {
		t.Fatalf("Len() = %d after failed create", st.Len())
	}
}

func TestStoreDuplicateLoginReplaces(t *testing.T) {
	st := newTestStore(t)

	first, _, err := st.Create(defaultDto(42, "alice"))
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, replaced, err := st.Create(defaultDto(42, "alice"))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if replaced != first {
		t.Fatal("second create did not report the first session as replaced")
	}

	if st.Exists(state.BySessionID(first.ID)) {
		t.Fatal("first session id still resolves after replacement")
	}
	got, ok := st.Get(state.ByUserID(42))
	if !ok || got != second {
		t.Fatal("ByUserID does not resolve the second session")
	}
	if st.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", st.Len())
	}
}

func TestStoreDeleteRemovesEveryIndex(t *testing.T) {
	st := newTestStore(t)

	dto := defaultDto(7, "carol")
	dto.UsernameUnicode = "キャロル"
	sess, _, err := st.Create(dto)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	removed := st.Delete(state.ByUsername("carol"))
	if removed != sess {
		t.Fatal("Delete returned a different session")
	}

	for _, q := range []state.UserQuery{
		state.BySessionID(sess.ID),
		state.ByUserID(7),
		state.ByUsername("carol"),
		state.ByUsernameUnicode("キャロル"),
	} {
		if st.Exists(q) {
			t.Fatalf("Exists(%s) = true after delete", q)
		}
	}

	// Idempotent.
	if again := st.Delete(state.ByUserID(7)); again != nil {
		t.Fatal("second delete returned a session")
	}
}

func TestStoreRenameReindexes(t *testing.T) {
	st := newTestStore(t)

	sess, _, err := st.Create(defaultDto(9, "dave"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := st.Rename(state.ByUserID(9), "David Jones"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if st.Exists(state.ByUsername("dave")) {
		t.Fatal("old username still resolves")
	}
	got, ok := st.Get(state.ByUsername("david_jones"))
	if !ok || got != sess {
		t.Fatal("new username does not resolve")
	}
	if sess.Username() != "David Jones" {
		t.Fatalf("Username() = %q", sess.Username())
	}
}

func TestStoreSnapshotIsConsistentCopy(t *testing.T) {
	st := newTestStore(t)
	for i := int32(1); i <= 5; i++ {
		if _, _, err := st.Create(defaultDto(i, state.NormalizeUsername("user"+string(rune('a'+i))))); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}

	snap := st.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("Snapshot len = %d, want 5", len(snap))
	}

	// Mutating the store afterwards must not affect the snapshot slice.
	st.Delete(state.ByUserID(1))
	if len(snap) != 5 {
		t.Fatal("snapshot changed after delete")
	}
}

func TestStoreEventsCarryLifecycle(t *testing.T) {
	st := newTestStore(t)

	sess, _, err := st.Create(defaultDto(42, "alice"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.Delete(state.BySessionID(sess.ID))

	var types []state.EventType
	for len(st.Events()) > 0 {
		types = append(types, (<-st.Events()).Type)
	}
	if len(types) != 2 || types[0] != state.EventCreated || types[1] != state.EventDeleted {
		t.Fatalf("event types = %v, want [created deleted]", types)
	}
}

func TestSessionTouchMonotonic(t *testing.T) {
	st := newTestStore(t)
	sess, _, err := st.Create(defaultDto(1, "eve"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	before := sess.LastActive()
	// A touch in the past must not move last_active backwards.
	sess.Touch(timeUnix(before - 100))
	if sess.LastActive() != before {
		t.Fatalf("last_active moved backwards: %d -> %d", before, sess.LastActive())
	}
	sess.Touch(timeUnix(before + 100))
	if sess.LastActive() != before+100 {
		t.Fatalf("last_active = %d, want %d", sess.LastActive(), before+100)
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := map[string]string{
		"Alice":       "alice",
		"  Bob  ":     "bob",
		"Big Fish":    "big_fish",
		"MIXED case ": "mixed_case",
	}
	for in, want := range cases {
		if got := state.NormalizeUsername(in); got != want {
			t.Fatalf("NormalizeUsername(%q) = %q, want %q", in, got, want)
		}
	}
}
