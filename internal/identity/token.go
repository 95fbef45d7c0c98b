package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the profile claims the auth system puts in its access
// tokens. The chat core only reads them; issuing tokens is not its job.
type Claims struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// FromToken validates the bearer token and extracts the caller's
// profile. The subject claim is the user ID.
func FromToken(tokenString string, secret []byte) (*Profile, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Profile{
		ID:        claims.Subject,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Avatar:    claims.Avatar,
	}, nil
}
