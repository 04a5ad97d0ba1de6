package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clinigate.org/internal/access"
)

const issuer = "clinigate"

// SessionClaims is the session token payload. It carries everything the
// route guard reads per request so no store lookup happens on the hot path.
type SessionClaims struct {
	Role            string                `json:"role"`
	TenantID        string                `json:"tenant_id"`
	Permissions     access.PermissionTree `json:"permissions,omitempty"`
	IsOwner         bool                  `json:"is_owner"`
	PasswordExpired bool                  `json:"password_expired"`
	Departments     []string              `json:"departments,omitempty"`
	Email           string                `json:"email,omitempty"`
	SessionID       string                `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens with HS256. The secret is
// injected from configuration; there is no ambient global.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec builds a codec from the configured signing secret.
func NewTokenCodec(secret string) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	return &TokenCodec{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a session token for the actor, expiring together with the
// tracked session.
func (c *TokenCodec) Issue(actor access.Actor, expiresAt time.Time) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", errors.New("auth: actor id is required")
	}
	now := c.now().UTC()
	if !expiresAt.After(now) {
		return "", errors.New("auth: expiry must be in the future")
	}
	claims := SessionClaims{
		Role:            actor.Role.String(),
		TenantID:        actor.TenantID,
		Permissions:     actor.Permissions,
		IsOwner:         actor.IsOwner,
		PasswordExpired: actor.PasswordExpired,
		Departments:     actor.Departments,
		Email:           actor.Email,
		SessionID:       actor.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token and reconstructs the actor it was issued for.
func (c *TokenCodec) Parse(token string) (access.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return access.Actor{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return access.Actor{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return access.Actor{}, ErrInvalidToken
	}
	if err := validateClaims(claims, c.now().UTC()); err != nil {
		return access.Actor{}, ErrInvalidToken
	}
	departments := claims.Departments
	if departments == nil {
		departments = []string{}
	}
	return access.Actor{
		ID:              claims.Subject,
		Email:           claims.Email,
		Role:            access.NormalizeRole(claims.Role),
		TenantID:        claims.TenantID,
		IsOwner:         claims.IsOwner,
		Departments:     departments,
		Permissions:     claims.Permissions,
		SessionID:       claims.SessionID,
		PasswordExpired: claims.PasswordExpired,
	}, nil
}

func validateClaims(claims *SessionClaims, now time.Time) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		return errors.New("tenant missing")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
