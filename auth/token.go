// Package auth issues and validates the JWT access tokens the API uses for
// identity. Tokens are HS256-signed, carry the user id and role, and are
// revocable by jti.
package auth

import (
	"errors"
	"time"

	"civicvoice-backend/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims represents the JWT claims carried by an access token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a new access token for user with the given lifetime.
func Issue(secret []byte, user *models.User, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID.String(),
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse validates a token signature and expiry and returns its claims.
func Parse(secret []byte, tokenString string) (*Claims, error) {
	claims, err := parse(secret, tokenString, false)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil || time.Now().After(claims.ExpiresAt.Time) {
		return nil, ErrExpiredToken
	}
	return claims, nil
}

// ParseAllowExpired validates signature only, so a refresh can accept a
// token whose expiry has passed. The caller decides how stale is too stale.
func ParseAllowExpired(secret []byte, tokenString string) (*Claims, error) {
	return parse(secret, tokenString, true)
}

func parse(secret []byte, tokenString string, allowExpired bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
