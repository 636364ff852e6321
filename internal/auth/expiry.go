package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by CheckExpiry for a token past its exp claim.
var ErrTokenExpired = errors.New("session token expired")

// CheckExpiry inspects a JWT's exp claim without verifying the signature;
// the backend remains the authority. Tokens that are not JWTs, or that carry
// no exp claim, pass. leeway absorbs clock skew.
func CheckExpiry(token string, now time.Time, leeway time.Duration) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if now.After(exp.Add(leeway)) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}
	return nil
}
