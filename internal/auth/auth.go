// Package auth resolves the acting user of an inbound request.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

// ErrUnauthenticated is returned when no valid identity is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserHeader is set by a trusted gateway in front of the service.
const UserHeader = "X-User-ID"

// Verifier extracts the user id from request headers.
type Verifier interface {
	Identify(header func(string) string) (string, error)
}

// Claims mirrors tokens issued by the account service: {"user":{"id":...}}.
// A plain "sub" is accepted as well.
type Claims struct {
	jwt.RegisteredClaims
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

// JWTVerifier validates HS256 bearer tokens.
type JWTVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewJWTVerifier(secret string, clock clockwork.Clock) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JWTVerifier{secret: []byte(secret), clock: clock}, nil
}

// Identify reads "Authorization: Bearer <token>".
func (v *JWTVerifier) Identify(header func(string) string) (string, error) {
	raw := strings.TrimSpace(header("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		token, ok = strings.CutPrefix(raw, "bearer ")
	}
	if !ok {
		return "", ErrUnauthenticated
	}
	return v.Verify(token)
}

// Verify checks token and returns its user id.
func (v *JWTVerifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id := strings.TrimSpace(claims.User.ID)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" {
		return "", fmt.Errorf("%w: token carries no user id", ErrUnauthenticated)
	}
	return id, nil
}

// Issue mints a token for userID. Used by tooling and tests.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	var claims Claims
	claims.User.ID = userID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// HeaderVerifier trusts the user header injected by an upstream gateway.
type HeaderVerifier struct{}

func (HeaderVerifier) Identify(header func(string) string) (string, error) {
	id := strings.TrimSpace(header(UserHeader))
	if id == "" {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// Chain tries each verifier in order and returns the first identity found.
type Chain []Verifier

func (c Chain) Identify(header func(string) string) (string, error) {
	for _, v := range c {
		if id, err := v.Identify(header); err == nil {
			return id, nil
		}
	}
	return "", ErrUnauthenticated
}
