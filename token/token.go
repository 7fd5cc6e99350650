package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is an exported constant or variable used by the session client.
var ErrMalformed = errors.New("malformed access token")

// ErrNoExpiry is an exported constant or variable used by the session client.
var ErrNoExpiry = errors.New("access token carries no exp claim")

// Claims is the subset of the access token payload the client inspects.
// Values are read from the unsigned payload and must never feed
// authorization decisions; the server remains the authority.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Peek decodes the payload segment of a JWT without verifying its
// signature and returns the claims the client cares about.
//
// Peek may return an error when the token is not a three-segment JWT or the
// payload is not valid base64 JSON.
func Peek(raw string) (Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return Claims{}, ErrMalformed
	}

	registered := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(raw, &registered); err != nil {
		return Claims{}, ErrMalformed
	}

	claims := Claims{Subject: registered.Subject}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}

// ExpiresWithin reports whether the token expires before now+skew.
//
// A token without an exp claim, or one that cannot be decoded at all, is
// reported as not expiring: the pre-flight check is an optimization and the
// server's 401 remains the authoritative signal.
func ExpiresWithin(raw string, skew time.Duration) bool {
	claims, err := Peek(raw)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return !claims.ExpiresAt.After(time.Now().Add(skew))
}
