package upstream

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedSession indicates a bearer token that cannot possibly be a
// valid session JWT, rejected before any upstream round-trip.
var ErrMalformedSession = errors.New("malformed session token")

// CheckSessionToken pre-validates a bearer session token locally. With a
// secret it verifies the HS256 signature and expiry; without one it only
// checks structure. Either way a passing token must still be resolved
// against the upstream auth service — this check exists to shed garbage
// and long-expired tokens without a network call.
func CheckSessionToken(tokenStr, secret string) error {
	if secret == "" {
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{}); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSession, err)
		}
		return nil
	}

	_, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	return nil
}
