package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// adminTokenIssuer is the issuer claim of admin tokens.
const adminTokenIssuer = "portal-admin"

var (
	// ErrMissingJWTSecret indicates admin tokens cannot be signed or verified.
	ErrMissingJWTSecret = errors.New("security: missing jwt secret")
	// ErrInvalidToken indicates the admin token is malformed, expired or forged.
	ErrInvalidToken = errors.New("security: invalid admin token")
)

// AdminClaims are the claims carried by admin bearer tokens.
type AdminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for username.
func IssueAdminToken(secret, username string, expiry time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingJWTSecret
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("security: missing admin username")
	}
	claims := AdminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminTokenIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign admin token: %w", errSign)
	}
	return signed, nil
}

// ParseAdminToken verifies an admin token and returns its claims.
func ParseAdminToken(secret, token string, now time.Time) (*AdminClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingJWTSecret
	}
	claims := &AdminClaims{}
	parsed, errParse := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminTokenIssuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if errParse != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if strings.TrimSpace(claims.Username) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
