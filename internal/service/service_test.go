package service_test

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/service"
)

func TestLocalUserRepositoryLookup(t *testing.T) {
	repo := service.NewLocalUserRepository()
	repo.Seed(service.UserRow{ID: 1, Name: "Alice Fox", NameUnicode: "アリス", Argon2Hash: "h"})
	ctx := context.Background()

	// Lookups are normalized.
	row, err := repo.FindByUsername(ctx, "alice_fox", "")
	if err != nil || row.ID != 1 {
		t.Fatalf("FindByUsername = (%+v, %v)", row, err)
	}
	row, err = repo.FindByUsername(ctx, "", "アリス")
	if err != nil || row.ID != 1 {
		t.Fatalf("unicode lookup = (%+v, %v)", row, err)
	}

	if _, err := repo.FindByUsername(ctx, "bob", ""); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("missing user error = %v", err)
	}

	if err := repo.ChangeUserPassword(ctx, 1, "new"); !errors.Is(err, service.ErrNotSupported) {
		t.Fatalf("ChangeUserPassword error = %v, want ErrNotSupported", err)
	}
}

func TestLocalGeoIPLongestPrefixWins(t *testing.T) {
	g := service.NewLocalGeoIP()
	g.Add(netip.MustParsePrefix("10.0.0.0/8"), service.Location{Country: "US"})
	g.Add(netip.MustParsePrefix("10.1.0.0/16"), service.Location{Country: "DE", City: "Berlin"})

	loc, err := g.Lookup(context.Background(), netip.MustParseAddr("10.1.2.3"))
	if err != nil || loc.City != "Berlin" {
		t.Fatalf("Lookup = (%+v, %v)", loc, err)
	}

	loc, err = g.Lookup(context.Background(), netip.MustParseAddr("10.9.9.9"))
	if err != nil || loc.Country != "US" {
		t.Fatalf("Lookup = (%+v, %v)", loc, err)
	}

	if _, err := g.Lookup(context.Background(), netip.MustParseAddr("203.0.113.1")); !errors.Is(err, service.ErrGeoNotFound) {
		t.Fatalf("uncovered error = %v", err)
	}
}

func TestCountryCodeTable(t *testing.T) {
	cases := map[string]uint8{
		"DE": 56, "CN": 48, "US": 225, "JP": 111, "XX": 244, "??": 0,
	}
	for iso, want := range cases {
		if got := service.CountryCode(iso); got != want {
			t.Fatalf("CountryCode(%q) = %d, want %d", iso, got, want)
		}
	}
}

func TestLocalChatChannelFanout(t *testing.T) {
	chat := service.NewLocalChat(nil)
	ctx := context.Background()

	if _, err := chat.JoinChannel(ctx, 1, "#osu"); err != nil {
		t.Fatalf("JoinChannel(1): %v", err)
	}
	if _, err := chat.JoinChannel(ctx, 2, "#osu"); err != nil {
		t.Fatalf("JoinChannel(2): %v", err)
	}

	if err := chat.SendMessage(ctx, 1, "alice", bancho.Message{Content: "hi", Target: "#osu"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Only the other member hears it.
	data, _ := chat.DequeueChatPackets(ctx, 2)
	want := bancho.SendMessage(bancho.Message{Sender: "alice", Content: "hi", Target: "#osu", SenderID: 1})
	if !bytes.Equal(data, want) {
		t.Fatalf("member 2 packets = %v, want %v", data, want)
	}
	if data, _ := chat.DequeueChatPackets(ctx, 1); len(data) != 0 {
		t.Fatalf("sender received own message: %v", data)
	}

	// Draining is destructive.
	if data, _ := chat.DequeueChatPackets(ctx, 2); len(data) != 0 {
		t.Fatalf("second drain = %v", data)
	}
}

func TestLocalChatPrivateMessage(t *testing.T) {
	resolve := func(username string) (int32, bool) {
		if username == "bob" {
			return 7, true
		}
		return 0, false
	}
	chat := service.NewLocalChat(resolve)
	ctx := context.Background()

	if err := chat.SendMessage(ctx, 1, "alice", bancho.Message{Content: "psst", Target: "bob"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	data, _ := chat.DequeueChatPackets(ctx, 7)
	if len(data) == 0 {
		t.Fatal("private message not delivered")
	}

	if err := chat.SendMessage(ctx, 1, "alice", bancho.Message{Content: "psst", Target: "ghost"}); !errors.Is(err, service.ErrChatSessionNotFound) {
		t.Fatalf("offline target error = %v", err)
	}
}

func TestLocalChatLogoutClearsState(t *testing.T) {
	chat := service.NewLocalChat(nil)
	ctx := context.Background()

	if _, err := chat.JoinChannel(ctx, 1, "#osu"); err != nil {
		t.Fatal(err)
	}
	if _, err := chat.JoinChannel(ctx, 2, "#osu"); err != nil {
		t.Fatal(err)
	}
	if err := chat.SendMessage(ctx, 2, "bob", bancho.Message{Content: "x", Target: "#osu"}); err != nil {
		t.Fatal(err)
	}

	if err := chat.Logout(ctx, 1); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if data, _ := chat.DequeueChatPackets(ctx, 1); len(data) != 0 {
		t.Fatal("pending packets survived logout")
	}

	// After logout the user no longer hears the channel.
	if err := chat.SendMessage(ctx, 2, "bob", bancho.Message{Content: "y", Target: "#osu"}); err != nil {
		t.Fatal(err)
	}
	if data, _ := chat.DequeueChatPackets(ctx, 1); len(data) != 0 {
		t.Fatal("logged-out user still receives channel traffic")
	}
}
