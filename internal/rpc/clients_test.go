package rpc_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gobancho/internal/bancho"
	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
	"github.com/dantte-lp/gobancho/internal/rpc"
	"github.com/dantte-lp/gobancho/internal/service"
)

// collaboratorServer mounts the collaborator handlers over local
// implementations, the same wiring a peer microservice would use.
func collaboratorServer(t *testing.T) (*httptest.Server, *service.LocalUserRepository, *service.LocalSignature) {
	t.Helper()

	users := service.NewLocalUserRepository()
	users.Seed(service.UserRow{ID: 42, Name: "alice", Argon2Hash: "$argon2id$...", Country: "DE"})

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig := service.NewLocalSignatureFromKey(priv)

	geoip := service.NewLocalGeoIP()
	geoip.Add(netip.MustParsePrefix("198.51.100.0/24"), service.Location{
		Country: "DE", City: "Berlin", Latitude: 52.5, Longitude: 13.4,
	})

	chat := service.NewLocalChat(nil)

	// Same interceptors the daemon uses, to keep the wiring honest.
	logger := slog.Default()
	collector := banchometrics.NewCollector(prometheus.NewRegistry())
	mux := http.NewServeMux()
	rpc.RegisterCollaborators(mux, users, sig, geoip, chat,
		connect.WithInterceptors(
			rpc.LoggingInterceptor(logger, collector),
			rpc.RecoveryInterceptor(logger, collector),
		),
	)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, users, sig
}

func TestRemoteUserRepositoryRoundTrip(t *testing.T) {
	ts, _, _ := collaboratorServer(t)

	client := rpc.NewRemoteUserRepository(ts.Client(), ts.URL)
	row, err := client.FindByUsername(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if row.ID != 42 || row.Name != "alice" {
		t.Fatalf("row = %+v", row)
	}

	if _, err := client.FindByUsername(context.Background(), "nobody", ""); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("missing user error = %v, want ErrUserNotFound", err)
	}

	if err := client.ChangeUserPassword(context.Background(), 42, "x"); !errors.Is(err, service.ErrNotSupported) {
		t.Fatalf("change password error = %v, want ErrNotSupported", err)
	}
}

func TestRemoteSignatureRoundTrip(t *testing.T) {
	ts, _, local := collaboratorServer(t)

	client := rpc.NewRemoteSignature(ts.Client(), ts.URL)
	sig, err := client.Sign(context.Background(), "42.somesession")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := client.Verify(context.Background(), "42.somesession", sig)
	if err != nil || !ok {
		t.Fatalf("Verify = (%v, %v)", ok, err)
	}

	// Cross-check against the local service: same key, same answer.
	ok, err = local.Verify(context.Background(), "42.somesession", sig)
	if err != nil || !ok {
		t.Fatalf("local Verify = (%v, %v)", ok, err)
	}

	pub, err := client.PublicKey(context.Background())
	if err != nil || pub == "" {
		t.Fatalf("PublicKey = (%q, %v)", pub, err)
	}
}

func TestRemoteGeoIPRoundTrip(t *testing.T) {
	ts, _, _ := collaboratorServer(t)

	client := rpc.NewRemoteGeoIP(ts.Client(), ts.URL)
	loc, err := client.Lookup(context.Background(), netip.MustParseAddr("198.51.100.7"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if loc.City != "Berlin" || loc.Country != "DE" {
		t.Fatalf("loc = %+v", loc)
	}

	if _, err := client.Lookup(context.Background(), netip.MustParseAddr("192.0.2.1")); !errors.Is(err, service.ErrGeoNotFound) {
		t.Fatalf("uncovered ip error = %v, want ErrGeoNotFound", err)
	}
}

func TestRemoteChatRoundTrip(t *testing.T) {
	ts, _, _ := collaboratorServer(t)

	client := rpc.NewRemoteChat(ts.Client(), ts.URL)

	channels, err := client.Channels(context.Background())
	if err != nil || len(channels) == 0 {
		t.Fatalf("Channels = (%v, %v)", channels, err)
	}

	joinPackets, err := client.JoinChannel(context.Background(), 42, "#osu")
	if err != nil || len(joinPackets) == 0 {
		t.Fatalf("JoinChannel = (%d bytes, %v)", len(joinPackets), err)
	}
	if _, err := client.JoinChannel(context.Background(), 42, "#absent"); !errors.Is(err, service.ErrChannelNotFound) {
		t.Fatalf("missing channel error = %v", err)
	}

	// Second member hears the first one's message.
	if _, err := client.JoinChannel(context.Background(), 7, "#osu"); err != nil {
		t.Fatalf("JoinChannel(7): %v", err)
	}
	if err := client.SendMessage(context.Background(), 42, "alice", bancho.Message{
		Content: "hello", Target: "#osu",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	data, err := client.DequeueChatPackets(context.Background(), 7)
	if err != nil {
		t.Fatalf("DequeueChatPackets: %v", err)
	}
	want := bancho.SendMessage(bancho.Message{Sender: "alice", Content: "hello", Target: "#osu", SenderID: 42})
	if !bytes.Equal(data, want) {
		t.Fatalf("chat packets = %v, want %v", data, want)
	}

	// The sender's own queue stays empty.
	data, err = client.DequeueChatPackets(context.Background(), 42)
	if err != nil || len(data) != 0 {
		t.Fatalf("sender queue = (%v, %v)", data, err)
	}

	if err := client.Logout(context.Background(), 42); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}
