package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token has expired")
)

// Claims mirrors the session token issued by the CRM backend. The
// backend signs and verifies tokens; the client only inspects them, so
// no key material lives here.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Type     string `json:"token_type"`
}

// Identity is the current-user view extracted from a session token. It
// distinguishes own messages from others' and gates opening the
// realtime transport.
type Identity struct {
	UserID    int64
	Username  string
	Email     string
	ExpiresAt time.Time
}

// Decode extracts the identity from a session token without verifying
// the signature. Verification happens server-side on every REST call
// and websocket handshake; a forged token buys nothing here.
func Decode(tokenString string) (*Identity, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	id := &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Expired reports whether the token's expiry has passed. Tokens without
// an exp claim never expire client-side.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
