package mockbackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/storefront/pkg/sessionvalidator"
)

var errEmptySubject = errors.New("jwt.mint.empty_subject")

// MintAccessToken creates a signed HS256 access token for user.
func MintAccessToken(user UserRecord, issuer string, signingKey []byte, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	if user.ID <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	claims := sessionvalidator.NewClaims(user.ID, user.Name, user.Email, user.Role, issuer, issuedAt, ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}
