package auth_service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken the token is missing, malformed, expired or unsigned
	ErrInvalidToken = errors.New("invalid or expired token")
)

// AuthService verifies bearer tokens and resolves the caller identity.
// Verification fails closed: any doubt about the token rejects the request.
type AuthService struct {
	secret []byte
}

// NewAuthService create an auth service with the HMAC signing secret
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// Verify parse and verify the token, returning the caller's user ID from the
// subject claim.
func (a *AuthService) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}

	return sub, nil
}

// Issue sign a token for a user, used by tests and tooling
func (a *AuthService) Issue(userId string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = userId
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
