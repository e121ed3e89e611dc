package service

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// -------------------------------------------------------------------------
// Signature Errors
// -------------------------------------------------------------------------

var (
	// ErrKeyUnavailable indicates no signing key is loaded.
	ErrKeyUnavailable = errors.New("ed25519 key unavailable")

	// ErrDecodeHex indicates a signature that is not valid hex.
	ErrDecodeHex = errors.New("signature is not valid hex")

	// ErrPemParse indicates PEM bytes that do not contain an Ed25519
	// private key.
	ErrPemParse = errors.New("pem does not contain an ed25519 private key")
)

// -------------------------------------------------------------------------
// Signature Contract
// -------------------------------------------------------------------------

// Signer produces hex signatures over UTF-8 messages.
type Signer interface {
	Sign(ctx context.Context, message string) (string, error)
}

// Verifier checks hex signatures over UTF-8 messages.
type Verifier interface {
	Verify(ctx context.Context, message, signatureHex string) (bool, error)
}

// KeyReloader swaps the signing key at runtime.
type KeyReloader interface {
	ReloadFromPem(ctx context.Context, pemBytes []byte) error
	ReloadFromPemFile(ctx context.Context, path string) error
}

// PublicKeyProvider exposes the verification key.
type PublicKeyProvider interface {
	PublicKey(ctx context.Context) (string, error)
}

// SignatureService bundles the signature capabilities the gateway and
// its peers need. Kept as composed small interfaces rather than one
// deep hierarchy so callers can depend on just the slice they use.
type SignatureService interface {
	Signer
	Verifier
	KeyReloader
	PublicKeyProvider
}

// -------------------------------------------------------------------------
// Local Implementation
// -------------------------------------------------------------------------

// LocalSignature signs and verifies with an in-process Ed25519 keypair.
// The key is swapped whole on reload, so concurrent signers never see a
// partial update.
type LocalSignature struct {
	key atomic.Pointer[ed25519.PrivateKey]
}

// NewLocalSignature returns a service with no key loaded. Sign fails
// with ErrKeyUnavailable until a key is loaded.
func NewLocalSignature() *LocalSignature {
	return &LocalSignature{}
}

// NewLocalSignatureFromFile loads the Ed25519 private key PEM at path.
func NewLocalSignatureFromFile(path string) (*LocalSignature, error) {
	s := NewLocalSignature()
	if err := s.ReloadFromPemFile(context.Background(), path); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLocalSignatureFromKey wraps an existing private key (tests).
func NewLocalSignatureFromKey(key ed25519.PrivateKey) *LocalSignature {
	s := NewLocalSignature()
	s.key.Store(&key)
	return s
}

// Sign implements Signer.
func (s *LocalSignature) Sign(_ context.Context, message string) (string, error) {
	kp := s.key.Load()
	if kp == nil {
		return "", fmt.Errorf("sign: %w", ErrKeyUnavailable)
	}
	sig := ed25519.Sign(*kp, []byte(message))
	return hex.EncodeToString(sig), nil
}

// Verify implements Verifier.
func (s *LocalSignature) Verify(_ context.Context, message, signatureHex string) (bool, error) {
	kp := s.key.Load()
	if kp == nil {
		return false, fmt.Errorf("verify: %w", ErrKeyUnavailable)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("verify: %w: %w", ErrDecodeHex, err)
	}
	pub := (*kp).Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, []byte(message), sig), nil
}

// ReloadFromPem implements KeyReloader.
func (s *LocalSignature) ReloadFromPem(_ context.Context, pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("reload key: no pem block: %w", ErrPemParse)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("reload key: %w: %w", ErrPemParse, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return fmt.Errorf("reload key: got %T: %w", parsed, ErrPemParse)
	}
	s.key.Store(&key)
	return nil
}

// ReloadFromPemFile implements KeyReloader.
func (s *LocalSignature) ReloadFromPemFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read key file %s: %w", path, err)
	}
	return s.ReloadFromPem(ctx, raw)
}

// PublicKey implements PublicKeyProvider. Returns the hex-encoded
// public key.
func (s *LocalSignature) PublicKey(_ context.Context) (string, error) {
	kp := s.key.Load()
	if kp == nil {
		return "", fmt.Errorf("public key: %w", ErrKeyUnavailable)
	}
	return hex.EncodeToString((*kp).Public().(ed25519.PublicKey)), nil
}
