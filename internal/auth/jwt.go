package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

// JWTValidator checks the session token presented on the websocket upgrade.
type JWTValidator struct {
	method jwt.SigningMethod
	key    any
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty HS256 secret")
	}
	return &JWTValidator{method: jwt.SigningMethodHS256, key: []byte(secret)}, nil
}

// NewJWTValidatorRS256 loads a PEM encoded RSA public key from pubPath.
func NewJWTValidatorRS256(pubPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return NewJWTValidatorRSA(pub), nil
}

func NewJWTValidatorRSA(pub *rsa.PublicKey) *JWTValidator {
	return &JWTValidator{method: jwt.SigningMethodRS256, key: pub}
}

// Validate returns the token subject, falling back to a "user_id" claim.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("%w: empty token", apperr.ErrUnauthorized)
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return j.key, nil
	}, jwt.WithValidMethods([]string{j.method.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid claims", apperr.ErrUnauthorized)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch u := claims["user_id"].(type) {
	case string:
		if u != "" {
			return u, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", u), nil
	}
	return "", fmt.Errorf("%w: subject missing", apperr.ErrUnauthorized)
}
