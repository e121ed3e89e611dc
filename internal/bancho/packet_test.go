package bancho_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/dantte-lp/gobancho/internal/bancho"
)

// -------------------------------------------------------------------------
// Wire Vectors — from the original implementation's tests
// -------------------------------------------------------------------------

func TestLoginReplyInvalidCredentials(t *testing.T) {
	got := bancho.LoginReply(bancho.LoginInvalidCredentials)
	want := []byte{5, 0, 0, 4, 0, 0, 0, 255, 255, 255, 255}
	if !bytes.Equal(got, want) {
		t.Fatalf("LoginReply(-1) = %v, want %v", got, want)
	}
}

func TestNotificationVector(t *testing.T) {
	got := bancho.Notification("hello")
	want := []byte{24, 0, 0, 7, 0, 0, 0, 11, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(got, want) {
		t.Fatalf("Notification = %v, want %v", got, want)
	}
}

func TestSendMessageVector(t *testing.T) {
	got := bancho.SendMessage(bancho.Message{
		Sender:   "PurePeace",
		Content:  "hello",
		Target:   "osu",
		SenderID: 1001,
	})
	want := []byte{
		7, 0, 0, 27, 0, 0, 0,
		11, 9, 'P', 'u', 'r', 'e', 'P', 'e', 'a', 'c', 'e',
		11, 5, 'h', 'e', 'l', 'l', 'o',
		11, 3, 'o', 's', 'u',
		233, 3, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("SendMessage = %v, want %v", got, want)
	}
}

func TestChangeUsernameVector(t *testing.T) {
	got := bancho.ChangeUsername("PurePeace", "peppy")
	want := []byte{
		9, 0, 0, 20, 0, 0, 0,
		11, 18, 'P', 'u', 'r', 'e', 'P', 'e', 'a', 'c', 'e',
		'>', '>', '>', '>', 'p', 'e', 'p', 'p', 'y',
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ChangeUsername = %v, want %v", got, want)
	}
}

func TestRtxVector(t *testing.T) {
	got := bancho.Rtx("Peace")
	want := []byte{105, 0, 0, 7, 0, 0, 0, 11, 5, 'P', 'e', 'a', 'c', 'e'}
	if !bytes.Equal(got, want) {
		t.Fatalf("Rtx = %v, want %v", got, want)
	}
}

func TestUserPresenceVector(t *testing.T) {
	got := bancho.PresenceOf(bancho.UserPresence{
		UserID:         5,
		Username:       "PurePeace",
		UTCOffset:      8,
		CountryCode:    48,
		PrivilegesByte: 1,
		Longitude:      1.0,
		Latitude:       1.0,
		Rank:           666,
	})
	want := []byte{
		83, 0, 0, 30, 0, 0, 0,
		5, 0, 0, 0,
		11, 9, 'P', 'u', 'r', 'e', 'P', 'e', 'a', 'c', 'e',
		32, 48, 1,
		0, 0, 128, 63,
		0, 0, 128, 63,
		154, 2, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("PresenceOf = %v, want %v", got, want)
	}
}

func TestLoginTrainVector(t *testing.T) {
	got := bancho.NewBuilder().
		Add(bancho.LoginReply(1009)).
		Add(bancho.ProtocolVersion(19)).
		Add(bancho.Notification("Welcome to Peace!")).
		Add(bancho.MainMenuIcon("https://i.kafuu.pro/welcome.png|https://www.baidu.com")).
		Add(bancho.SilenceEnd(0)).
		Add(bancho.ChannelInfoEnd()).
		Build()
	want := []byte{
		5, 0, 0, 4, 0, 0, 0, 241, 3, 0, 0,
		75, 0, 0, 4, 0, 0, 0, 19, 0, 0, 0,
		24, 0, 0, 19, 0, 0, 0, 11, 17,
		'W', 'e', 'l', 'c', 'o', 'm', 'e', ' ', 't', 'o', ' ', 'P', 'e', 'a', 'c', 'e', '!',
		76, 0, 0, 55, 0, 0, 0, 11, 53,
		'h', 't', 't', 'p', 's', ':', '/', '/', 'i', '.', 'k', 'a', 'f', 'u', 'u',
		'.', 'p', 'r', 'o', '/', 'w', 'e', 'l', 'c', 'o', 'm', 'e', '.', 'p', 'n', 'g',
		'|',
		'h', 't', 't', 'p', 's', ':', '/', '/', 'w', 'w', 'w', '.', 'b', 'a', 'i',
		'd', 'u', '.', 'c', 'o', 'm',
		92, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0,
		89, 0, 0, 0, 0, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("login train = %v, want %v", got, want)
	}
}

// -------------------------------------------------------------------------
// Round Trips
// -------------------------------------------------------------------------

func TestULEB128RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 129, 300, 16383, 16384, 1<<21 - 1, 1 << 21, math.MaxUint32}
	for _, v := range cases {
		enc := bancho.AppendULEB128(nil, v)
		dec, n, err := bancho.ReadULEB128(enc)
		if err != nil {
			t.Fatalf("ReadULEB128(%d): %v", v, err)
		}
		if dec != v || n != len(enc) {
			t.Fatalf("ReadULEB128(%d) = (%d, %d), want (%d, %d)", v, dec, n, v, len(enc))
		}
	}
}

func TestULEB128Truncated(t *testing.T) {
	if _, _, err := bancho.ReadULEB128([]byte{0x80}); !errors.Is(err, bancho.ErrShortRead) {
		t.Fatalf("truncated uleb128 error = %v, want ErrShortRead", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "hello", "ナルト", "a longer string with spaces and 数字 123"}
	for _, s := range cases {
		enc := bancho.AppendString(nil, s)
		if s == "" && !bytes.Equal(enc, []byte{0}) {
			t.Fatalf("empty string encodes to %v, want [0]", enc)
		}
		r := bancho.NewPayloadReader(enc)
		dec, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString(%q): %v", s, err)
		}
		if dec != s {
			t.Fatalf("ReadString = %q, want %q", dec, s)
		}
	}
}

func TestStringNonEmptyPrefix(t *testing.T) {
	enc := bancho.AppendString(nil, "hi")
	want := []byte{0x0b, 2, 'h', 'i'}
	if !bytes.Equal(enc, want) {
		t.Fatalf("AppendString = %v, want %v", enc, want)
	}
}

func TestStringBadTag(t *testing.T) {
	r := bancho.NewPayloadReader([]byte{0x07, 1, 'x'})
	if _, err := r.ReadString(); !errors.Is(err, bancho.ErrBadStringTag) {
		t.Fatalf("bad tag error = %v, want ErrBadStringTag", err)
	}
}

func TestStringBadUTF8(t *testing.T) {
	r := bancho.NewPayloadReader([]byte{0x0b, 2, 0xff, 0xfe})
	if _, err := r.ReadString(); !errors.Is(err, bancho.ErrBadUTF8) {
		t.Fatalf("bad utf8 error = %v, want ErrBadUTF8", err)
	}
}

func TestPrimitiveRoundTrips(t *testing.T) {
	buf := bancho.AppendInt32(nil, -42)
	buf = bancho.AppendInt64(buf, -1<<40)
	buf = bancho.AppendUint16(buf, 65535)
	buf = bancho.AppendFloat32(buf, 3.5)
	buf = bancho.AppendFloat64(buf, -0.25)
	buf = bancho.AppendBool(buf, true)
	buf = bancho.AppendInt32List(buf, []int32{1, -2, 3})

	r := bancho.NewPayloadReader(buf)
	if v, err := r.ReadInt32(); err != nil || v != -42 {
		t.Fatalf("ReadInt32 = (%d, %v)", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -1<<40 {
		t.Fatalf("ReadInt64 = (%d, %v)", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 65535 {
		t.Fatalf("ReadUint16 = (%d, %v)", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.5 {
		t.Fatalf("ReadFloat32 = (%v, %v)", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != -0.25 {
		t.Fatalf("ReadFloat64 = (%v, %v)", v, err)
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Fatalf("ReadBool = (%v, %v)", v, err)
	}
	list, err := r.ReadInt32List()
	if err != nil || len(list) != 3 || list[0] != 1 || list[1] != -2 || list[2] != 3 {
		t.Fatalf("ReadInt32List = (%v, %v)", list, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestMessageRoundTrip(t *testing.T) {
	in := bancho.Message{Sender: "alice", Content: "hi there", Target: "#osu", SenderID: 42}
	r := bancho.NewPayloadReader(bancho.AppendMessage(nil, in))
	out, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if out != in {
		t.Fatalf("ReadMessage = %+v, want %+v", out, in)
	}
}

func TestScoreFrameRoundTrip(t *testing.T) {
	in := bancho.ScoreFrame{
		Time: 12345, ID: 3, Count300: 100, Count100: 20, Count50: 5,
		CountGeki: 10, CountKatu: 4, CountMiss: 1, TotalScore: 987654,
		MaxCombo: 250, CurrentCombo: 80, Perfect: false, CurrentHP: 200,
		TagByte: 0, ScoreV2: true, ComboPortion: 0.7, BonusPortion: 0.3,
	}
	r := bancho.NewPayloadReader(bancho.AppendScoreFrame(nil, in))
	out, err := r.ReadScoreFrame()
	if err != nil {
		t.Fatalf("ReadScoreFrame: %v", err)
	}
	if out != in {
		t.Fatalf("ReadScoreFrame = %+v, want %+v", out, in)
	}
}

func TestMatchDataRoundTrip(t *testing.T) {
	in := bancho.MatchData{
		MatchID:      7,
		InProgress:   true,
		Mods:         64,
		Name:         "test lobby",
		Password:     "",
		BeatmapName:  "artist - title [diff]",
		BeatmapID:    1234,
		BeatmapMD5:   "0f343b0931126a20f133d67c2b018a3b",
		HostID:       1001,
		Mode:         0,
		WinCondition: 1,
		TeamType:     0,
		FreeMods:     true,
		Seed:         99,
	}
	in.SlotStatuses[0] = bancho.SlotStatusReady
	in.SlotPlayers[0] = 1001
	in.SlotStatuses[1] = bancho.SlotStatusOpen
	in.SlotMods[0] = 8

	r := bancho.NewPayloadReader(bancho.AppendMatchData(nil, in))
	out, err := r.ReadMatchData()
	if err != nil {
		t.Fatalf("ReadMatchData: %v", err)
	}
	if out != in {
		t.Fatalf("ReadMatchData = %+v, want %+v", out, in)
	}
}

// TestMatchPasswordAlwaysPresent verifies an unset password still
// occupies the single empty-string byte so the frame stays parseable.
func TestMatchPasswordAlwaysPresent(t *testing.T) {
	var m bancho.MatchData
	enc := bancho.AppendMatchData(nil, m)
	// u16 + bool + u8 + i32 put the name tag at offset 8 and the
	// password tag right after it when both are empty.
	if enc[8] != 0x00 || enc[9] != 0x00 {
		t.Fatalf("empty name/password not encoded as 0x00 tags: % x", enc[:12])
	}
	r := bancho.NewPayloadReader(enc)
	if _, err := r.ReadMatchData(); err != nil {
		t.Fatalf("decode all-zero match: %v", err)
	}
}

// -------------------------------------------------------------------------
// Batch Iteration
// -------------------------------------------------------------------------

func TestPacketReaderBatchOrder(t *testing.T) {
	body := bancho.NewBuilder().
		Add(bancho.Notification("one")).
		Add(bancho.Pong()).
		Add(bancho.SilenceEnd(5)).
		Build()

	r := bancho.NewPacketReader(body)
	wantIDs := []bancho.PacketID{bancho.BanchoNotification, bancho.BanchoPong, bancho.BanchoSilenceEnd}
	for i, want := range wantIDs {
		p, ok := r.Next()
		if !ok {
			t.Fatalf("Next() #%d: unexpected end of stream", i)
		}
		if p.ID != want {
			t.Fatalf("packet #%d id = %v, want %v", i, p.ID, want)
		}
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected end of stream after three packets")
	}
	if r.Err() != nil {
		t.Fatalf("Err() = %v, want nil", r.Err())
	}
}

func TestPacketReaderTruncatedPayload(t *testing.T) {
	// Header declares 100 payload bytes but only 3 follow.
	body := []byte{4, 0, 0, 100, 0, 0, 0, 1, 2, 3}
	r := bancho.NewPacketReader(body)
	if _, ok := r.Next(); ok {
		t.Fatal("expected truncated frame to end iteration")
	}
	if !errors.Is(r.Err(), bancho.ErrShortRead) {
		t.Fatalf("Err() = %v, want ErrShortRead", r.Err())
	}
}

func TestPacketReaderUnknownOpcode(t *testing.T) {
	body := bancho.NewBuilder().
		Add([]byte{0xff, 0x3f, 0, 2, 0, 0, 0, 0xaa, 0xbb}).
		Add(bancho.Pong()).
		Build()

	r := bancho.NewPacketReader(body)
	p, ok := r.Next()
	if !ok || !p.UnknownOpcode() {
		t.Fatalf("first packet = (%+v, %v), want unknown opcode", p, ok)
	}
	p, ok = r.Next()
	if !ok || p.ID != bancho.BanchoPong {
		t.Fatalf("second packet = (%+v, %v), want pong", p, ok)
	}
}

func TestPacketReaderTrailingGarbageShorterThanHeader(t *testing.T) {
	body := append(bancho.Pong(), 1, 2, 3)
	r := bancho.NewPacketReader(body)
	if _, ok := r.Next(); !ok {
		t.Fatal("expected first packet")
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected end of stream on sub-header trailer")
	}
	if r.Err() != nil {
		t.Fatalf("sub-header trailer should not be an error, got %v", r.Err())
	}
}

func TestUserStatsLayout(t *testing.T) {
	p := bancho.StatsOf(bancho.UserStats{
		UserID: 5, Action: 1, Info: "idle",
		BeatmapMD5:  "asdqwezxcasdqwezxcasdqwezxcasdqw",
		Mods:        0,
		Mode:        0,
		BeatmapID:   1,
		RankedScore: 10000000,
		Accuracy:    0.998 / 100,
		PlayCount:   10000,
		TotalScore:  100000000,
		Rank:        100,
		PP:          10000,
	})
	if p[0] != 11 || p[1] != 0 {
		t.Fatalf("opcode bytes = %v, want [11 0]", p[:2])
	}
	if got := len(p) - 7; got != 84 {
		t.Fatalf("payload length = %d, want 84", got)
	}

	r := bancho.NewPayloadReader(p[7:])
	if v, _ := r.ReadInt32(); v != 5 {
		t.Fatalf("user id = %d", v)
	}
	if v, _ := r.ReadUint8(); v != 1 {
		t.Fatalf("action = %d", v)
	}
	if s, _ := r.ReadString(); s != "idle" {
		t.Fatalf("info = %q", s)
	}
}
