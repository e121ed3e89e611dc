package gateway

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// -------------------------------------------------------------------------
// Argon2id Password Verification
// -------------------------------------------------------------------------

// Password hashing errors.
var (
	// ErrBadArgon2Hash indicates a stored hash that is not a valid
	// argon2id PHC string.
	ErrBadArgon2Hash = errors.New("malformed argon2id hash")

	// ErrPasswordMismatch indicates the password does not match.
	ErrPasswordMismatch = errors.New("password mismatch")
)

// argon2Params mirrors the PHC string parameters.
type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// parseArgon2 parses "$argon2id$v=19$m=...,t=...,p=...$salt$hash".
func parseArgon2(encoded string) (argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Params{}, fmt.Errorf("hash %q: %w", encoded, ErrBadArgon2Hash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argon2Params{}, fmt.Errorf("hash version: %w", ErrBadArgon2Hash)
	}

	var p argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return argon2Params{}, fmt.Errorf("hash params: %w", ErrBadArgon2Hash)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argon2Params{}, fmt.Errorf("hash salt: %w", ErrBadArgon2Hash)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return argon2Params{}, fmt.Errorf("hash digest: %w", ErrBadArgon2Hash)
	}
	return p, nil
}

// VerifyArgon2 checks password against an argon2id PHC string.
func VerifyArgon2(encoded, password string) error {
	p, err := parseArgon2(encoded)
	if err != nil {
		return err
	}
	derived := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash)))
	if subtle.ConstantTimeCompare(derived, p.hash) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// HashArgon2 produces an argon2id PHC string for password. Used by
// seeding tools and tests; the gateway itself only verifies.
func HashArgon2(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	const (
		timeCost = 1
		memory   = 64 * 1024
		threads  = 4
		keyLen   = 32
	)
	hash := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, timeCost, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// -------------------------------------------------------------------------
// Verification Cache
// -------------------------------------------------------------------------

// pwCacheEntry records one verified (hash, password) pair.
type pwCacheEntry struct {
	verified bool
	lastHit  int64
}

// PasswordCache memoizes Argon2 verifications so repeated logins skip
// the expensive key derivation. Entries carry a last-hit timestamp and
// are recycled by the cache sweep once idle past the TTL.
type PasswordCache struct {
	mu      sync.Mutex
	entries map[string]*pwCacheEntry
}

// NewPasswordCache returns an empty cache.
func NewPasswordCache() *PasswordCache {
	return &PasswordCache{entries: make(map[string]*pwCacheEntry)}
}

// cacheKey joins the stored hash and the candidate password.
func cacheKey(encoded, password string) string {
	return encoded + "\x00" + password
}

// Verify checks password against encoded, consulting the cache first.
func (c *PasswordCache) Verify(encoded, password string, now time.Time) error {
	key := cacheKey(encoded, password)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.lastHit = now.Unix()
		verified := e.verified
		c.mu.Unlock()
		if verified {
			return nil
		}
		return ErrPasswordMismatch
	}
	c.mu.Unlock()

	// Slow path outside the lock; Argon2 takes tens of milliseconds.
	err := VerifyArgon2(encoded, password)
	if err != nil && !errors.Is(err, ErrPasswordMismatch) {
		return err
	}

	c.mu.Lock()
	c.entries[key] = &pwCacheEntry{verified: err == nil, lastHit: now.Unix()}
	c.mu.Unlock()
	return err
}

// Len returns the number of cached entries.
func (c *PasswordCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts entries idle past ttl. Returns the eviction count.
func (c *PasswordCache) Sweep(now time.Time, ttl time.Duration) int {
	dead := int64(ttl.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if now.Unix()-e.lastHit > dead {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
