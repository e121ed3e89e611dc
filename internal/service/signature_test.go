package service_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dantte-lp/gobancho/internal/service"
)

// pemOfKey encodes a private key as PKCS8 PEM.
func pemOfKey(t *testing.T, key ed25519.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestSignatureSignVerify(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sig := service.NewLocalSignatureFromKey(priv)
	ctx := context.Background()

	s, err := sig.Sign(ctx, "42.01H455VB4M3K6PZQRJ8ZJC0XYZ")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := sig.Verify(ctx, "42.01H455VB4M3K6PZQRJ8ZJC0XYZ", s)
	if err != nil || !ok {
		t.Fatalf("Verify = (%v, %v)", ok, err)
	}

	ok, err = sig.Verify(ctx, "43.01H455VB4M3K6PZQRJ8ZJC0XYZ", s)
	if err != nil || ok {
		t.Fatalf("Verify of wrong payload = (%v, %v)", ok, err)
	}

	if _, err := sig.Verify(ctx, "m", "not-hex!"); !errors.Is(err, service.ErrDecodeHex) {
		t.Fatalf("bad hex error = %v", err)
	}
}

func TestSignatureKeyUnavailable(t *testing.T) {
	sig := service.NewLocalSignature()
	if _, err := sig.Sign(context.Background(), "m"); !errors.Is(err, service.ErrKeyUnavailable) {
		t.Fatalf("Sign without key error = %v", err)
	}
}

func TestSignatureReloadFromPem(t *testing.T) {
	_, oldKey, _ := ed25519.GenerateKey(rand.Reader)
	_, newKey, _ := ed25519.GenerateKey(rand.Reader)
	ctx := context.Background()

	sig := service.NewLocalSignatureFromKey(oldKey)
	oldSig, err := sig.Sign(ctx, "msg")
	if err != nil {
		t.Fatal(err)
	}

	if err := sig.ReloadFromPem(ctx, pemOfKey(t, newKey)); err != nil {
		t.Fatalf("ReloadFromPem: %v", err)
	}

	// Signatures from the old key no longer verify under the new one.
	ok, err := sig.Verify(ctx, "msg", oldSig)
	if err != nil || ok {
		t.Fatalf("old signature after reload = (%v, %v)", ok, err)
	}

	if err := sig.ReloadFromPem(ctx, []byte("not pem")); !errors.Is(err, service.ErrPemParse) {
		t.Fatalf("garbage pem error = %v", err)
	}
}

func TestSignatureReloadFromPemFile(t *testing.T) {
	_, key, _ := ed25519.GenerateKey(rand.Reader)
	path := filepath.Join(t.TempDir(), "signing.pem")
	if err := os.WriteFile(path, pemOfKey(t, key), 0o600); err != nil {
		t.Fatal(err)
	}

	sig, err := service.NewLocalSignatureFromFile(path)
	if err != nil {
		t.Fatalf("NewLocalSignatureFromFile: %v", err)
	}
	if _, err := sig.Sign(context.Background(), "m"); err != nil {
		t.Fatalf("Sign: %v", err)
	}
}
