// Package auth issues and verifies the bearer tokens that identify API actors.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goatkit/phonedesk/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const minSecretLen = 32

// Claims carries the actor identity. Either id may be zero, not both.
type Claims struct {
	UserID     int64 `json:"uid,omitempty"`
	EmployeeID int64 `json:"eid,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns the actor the claims describe.
func (c *Claims) Actor() models.Actor {
	return models.Actor{UserID: c.UserID, EmployeeID: c.EmployeeID}
}

// JWTManager signs and verifies HS256 tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a manager. The secret must be at least 32 bytes.
func NewJWTManager(secret, issuer string, ttl time.Duration) (*JWTManager, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// SecretOrRandom returns secret, or outside production a random secret
// when none is configured. Tokens signed with a random secret do not
// survive a restart.
func SecretOrRandom(secret, env string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if strings.EqualFold(env, "production") {
		return "", errors.New("auth.jwt.secret is required in production")
	}
	b := make([]byte, minSecretLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue signs a token for actor.
func (m *JWTManager) Issue(actor models.Actor) (string, time.Time, error) {
	if actor.IsZero() {
		return "", time.Time{}, errors.New("cannot issue a token for an empty actor")
	}
	if actor.UserID == models.SystemUserID {
		return "", time.Time{}, errors.New("cannot issue a token for the system actor")
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		UserID:     actor.UserID,
		EmployeeID: actor.EmployeeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject(actor),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns its actor.
func (m *JWTManager) Parse(token string) (models.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Actor{}, ErrTokenExpired
		}
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	actor := claims.Actor()
	if actor.IsZero() || actor.UserID == models.SystemUserID {
		return models.Actor{}, ErrInvalidToken
	}
	return actor, nil
}

func subject(a models.Actor) string {
	if a.UserID != 0 {
		return "user:" + strconv.FormatInt(a.UserID, 10)
	}
	return "employee:" + strconv.FormatInt(a.EmployeeID, 10)
}
