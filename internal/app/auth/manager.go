// Package auth issues and verifies the bearer credentials the HTTP API
// accepts: HS256 JWTs minted for the static user list, and fixed service
// tokens that map to the system actor.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/EstateOps/admin_core/internal/app/domain/actor"
)

// ErrInvalidCredentials is returned by Login on a bad username or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned by Verify for expired or malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenTTL is the lifetime of issued JWTs.
const TokenTTL = 24 * time.Hour

// User is one entry of the static user list.
type User struct {
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	Role     actor.Role `yaml:"role"`
	TenantID string     `yaml:"tenant_id"`
}

// Claims are the JWT claims carried by issued tokens.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Manager verifies credentials and tokens.
type Manager struct {
	secret        []byte
	users         map[string]User
	serviceTokens map[string]struct{}
	now           func() time.Time
}

// NewManager creates a Manager over the given signing secret, user list and
// static service tokens.
func NewManager(secret string, users []User, serviceTokens []string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	byName := make(map[string]User, len(users))
	for _, u := range users {
		if u.Username == "" {
			return nil, errors.New("auth: user with empty username")
		}
		if _, dup := byName[u.Username]; dup {
			return nil, fmt.Errorf("auth: duplicate user %q", u.Username)
		}
		byName[u.Username] = u
	}
	tokens := make(map[string]struct{}, len(serviceTokens))
	for _, t := range serviceTokens {
		if t != "" {
			tokens[t] = struct{}{}
		}
	}
	return &Manager{
		secret:        []byte(secret),
		users:         byName,
		serviceTokens: tokens,
		now:           time.Now,
	}, nil
}

// LoadUsers reads a static user list from a YAML file.
func LoadUsers(path string) ([]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var doc struct {
		Users []User `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return doc.Users, nil
}

// Login checks the credentials and mints a signed token.
func (m *Manager) Login(username, password string) (string, error) {
	u, ok := m.users[username]
	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return "", ErrInvalidCredentials
	}

	now := m.now()
	claims := Claims{
		Role:     string(u.Role),
		TenantID: u.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify resolves a bearer credential to an actor. Static service tokens map
// to the system actor; anything else is parsed as a JWT.
func (m *Manager) Verify(credential string) (actor.Actor, error) {
	if _, ok := m.serviceTokens[credential]; ok {
		return actor.System, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return actor.Actor{}, ErrInvalidToken
	}

	role := actor.Role(claims.Role)
	switch role {
	case actor.RoleAdmin, actor.RoleOwner, actor.RoleOperator, actor.RoleSystem:
	default:
		return actor.Actor{}, ErrInvalidToken
	}

	return actor.Actor{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Roles:    []actor.Role{role},
	}, nil
}
