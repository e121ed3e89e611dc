package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidOsuTokenHeader indicates an osu-token header that does not
// parse as "<user_id>.<session_id>.<signature>".
var ErrInvalidOsuTokenHeader = errors.New("invalid osu-token header")

// ClientToken is the parsed session token. The signature is an Ed25519
// signature over Payload(), produced and verified by the signature
// service; the gateway never reconstructs it locally.
type ClientToken struct {
	UserID    int32
	SessionID ulid.ULID
	Signature string
}

// ParseClientToken splits and validates the three dot-separated token
// components.
func ParseClientToken(raw string) (ClientToken, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[2] == "" {
		return ClientToken{}, fmt.Errorf("token %q: %w", raw, ErrInvalidOsuTokenHeader)
	}

	userID, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return ClientToken{}, fmt.Errorf("token user id %q: %w", parts[0], ErrInvalidOsuTokenHeader)
	}

	sessionID, err := ulid.Parse(parts[1])
	if err != nil {
		return ClientToken{}, fmt.Errorf("token session id %q: %w", parts[1], ErrInvalidOsuTokenHeader)
	}

	return ClientToken{
		UserID:    int32(userID),
		SessionID: sessionID,
		Signature: parts[2],
	}, nil
}

// EncodeClientToken assembles the token string for the cho-token header.
func EncodeClientToken(userID int32, sessionID ulid.ULID, signature string) string {
	return fmt.Sprintf("%d.%s.%s", userID, sessionID, signature)
}

// Payload returns the signed portion of the token.
func (t ClientToken) Payload() string {
	return fmt.Sprintf("%d.%s", t.UserID, t.SessionID)
}

// TokenPayload builds the signed portion during minting.
func TokenPayload(userID int32, sessionID ulid.ULID) string {
	return fmt.Sprintf("%d.%s", userID, sessionID)
}
