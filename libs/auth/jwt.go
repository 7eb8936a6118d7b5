package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles recognised by the booking service.
const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// Claims identify a staff member of one tenant.
type Claims struct {
	Tenant string `json:"tenant"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry any of roles.
func (c *Claims) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(c.Role, r) {
			return true
		}
	}
	return false
}

// SignHS256 issues a token for subject valid for ttl.
func SignHS256(subject, tenant, role string, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := Claims{
		Tenant: tenant,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Tenant == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
