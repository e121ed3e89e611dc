package gateway_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/dantte-lp/gobancho/internal/gateway"
)

const testPasswordMD5 = "098f6bcd4621d373cade4e832627b4f6"

func TestParseLoginBody(t *testing.T) {
	body := "alice\n" + testPasswordMD5 + "\n20230101.0|8|1|p:a:ah:u:d|1"
	req, err := gateway.ParseLoginBody([]byte(body))
	if err != nil {
		t.Fatalf("ParseLoginBody: %v", err)
	}

	if req.Username != "alice" {
		t.Fatalf("Username = %q", req.Username)
	}
	if req.PasswordMD5 != testPasswordMD5 {
		t.Fatalf("PasswordMD5 = %q", req.PasswordMD5)
	}
	if req.ClientVersion != "20230101.0" {
		t.Fatalf("ClientVersion = %q", req.ClientVersion)
	}
	if req.UTCOffset != 8 {
		t.Fatalf("UTCOffset = %d", req.UTCOffset)
	}
	if !req.DisplayCity {
		t.Fatal("DisplayCity = false")
	}
	if !req.OnlyFriendPM {
		t.Fatal("OnlyFriendPM = false")
	}
	want := gateway.ClientHashes{
		PathHash: "p", Adapters: "a", AdaptersHash: "ah", UninstallID: "u", DiskID: "d",
	}
	if req.ClientHashes != want {
		t.Fatalf("ClientHashes = %+v", req.ClientHashes)
	}
}

func TestParseLoginBodyRejectsMalformed(t *testing.T) {
	cases := map[string]struct {
		body string
		want error
	}{
		"too few lines":   {"alice\npw", gateway.ErrInvalidLoginData},
		"empty username":  {"\n" + testPasswordMD5 + "\nv|0|0|a:b:c:d:e|0", gateway.ErrInvalidUserInfo},
		"short password":  {"alice\nnot-a-md5\nv|0|0|a:b:c:d:e|0", gateway.ErrInvalidUserInfo},
		"short info":      {"alice\n" + testPasswordMD5 + "\nv|0|0", gateway.ErrInvalidClientInfo},
		"short hashes":    {"alice\n" + testPasswordMD5 + "\nv|0|0|a:b|0", gateway.ErrInvalidClientHashes},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := gateway.ParseLoginBody([]byte(tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClientTokenRoundTrip(t *testing.T) {
	id := ulid.Make()
	raw := gateway.EncodeClientToken(42, id, "deadbeef")

	tok, err := gateway.ParseClientToken(raw)
	if err != nil {
		t.Fatalf("ParseClientToken: %v", err)
	}
	if tok.UserID != 42 || tok.SessionID != id || tok.Signature != "deadbeef" {
		t.Fatalf("token = %+v", tok)
	}
	if tok.Payload() != "42."+id.String() {
		t.Fatalf("Payload = %q", tok.Payload())
	}
}

func TestClientTokenMalformed(t *testing.T) {
	cases := []string{
		"",
		"no-dots-here",
		"42." + ulid.Make().String(),
		"notanumber." + ulid.Make().String() + ".sig",
		"42.notaulid.sig",
		"42." + ulid.Make().String() + ".",
	}
	for _, raw := range cases {
		if _, err := gateway.ParseClientToken(raw); !errors.Is(err, gateway.ErrInvalidOsuTokenHeader) {
			t.Fatalf("ParseClientToken(%q) error = %v, want ErrInvalidOsuTokenHeader", raw, err)
		}
	}
}

func TestArgon2VerifyRoundTrip(t *testing.T) {
	encoded, err := gateway.HashArgon2(testPasswordMD5)
	if err != nil {
		t.Fatalf("HashArgon2: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("hash format = %q", encoded)
	}

	if err := gateway.VerifyArgon2(encoded, testPasswordMD5); err != nil {
		t.Fatalf("VerifyArgon2: %v", err)
	}
	if err := gateway.VerifyArgon2(encoded, "wrong-password"); !errors.Is(err, gateway.ErrPasswordMismatch) {
		t.Fatalf("wrong password error = %v", err)
	}
	if err := gateway.VerifyArgon2("$bcrypt$nope", testPasswordMD5); !errors.Is(err, gateway.ErrBadArgon2Hash) {
		t.Fatalf("bad hash error = %v", err)
	}
}
