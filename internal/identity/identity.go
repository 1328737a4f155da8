// Package identity supplies the authenticated actor for a request.
//
// The ledger itself only cares about two facts: which member is acting,
// and whether they are an admin. Token issuance and session storage are
// someone else's problem; this package just validates bearer tokens and
// carries the actor through the context.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("authorization token required")
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	MemberID string
	Admin    bool
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	MemberID string `json:"member_id"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Manager signs and validates session tokens.
type Manager struct {
	secret   []byte
	duration time.Duration
}

// NewManager creates a token manager. The secret should be a strong
// random string; duration is how long issued tokens stay valid.
func NewManager(secret string, duration time.Duration) *Manager {
	return &Manager{secret: []byte(secret), duration: duration}
}

// Issue creates a signed token for the given actor.
func (m *Manager) Issue(actor Actor) (string, error) {
	now := time.Now()
	claims := &Claims{
		MemberID: actor.MemberID,
		Admin:    actor.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and validates a token, returning the actor it names.
func (m *Manager) Validate(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
	)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.MemberID == "" {
		return Actor{}, ErrInvalidToken
	}

	return Actor{MemberID: claims.MemberID, Admin: claims.Admin}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// contextKey is a private type so no other package can collide with our
// context values.
type contextKey struct{}

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// FromContext extracts the actor from the context. The second return is
// false when no actor was attached.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
