package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Grant is what a verified token entitles a connection to.
type Grant struct {
	ClientID string
	// Channels lists permitted channel names. Empty or "*" permits every channel.
	Channels []string
}

// Allows reports whether the grant covers channel.
func (g Grant) Allows(channel string) bool {
	if len(g.Channels) == 0 {
		return true
	}
	for _, c := range g.Channels {
		if c == "*" || c == channel {
			return true
		}
	}
	return false
}

// TokenVerifier turns a presented token into a Grant.
type TokenVerifier interface {
	VerifyToken(token string) (Grant, error)
}

// Claims represents relay capability token claims
type Claims struct {
	ClientID string   `json:"client_id"`
	Channels []string `json:"channels,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer issues and verifies HS256 capability tokens.
type JWTIssuer struct {
	secret   []byte
	ttl      time.Duration
	channels []string
}

// NewJWTIssuer creates an issuer. Tokens it issues grant the given channels.
func NewJWTIssuer(secret string, ttl time.Duration, channels []string) (*JWTIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, channels: channels}, nil
}

// IssueToken returns a signed token for clientID; a random id is generated
// when clientID is empty.
func (i *JWTIssuer) IssueToken(_ context.Context, clientID string) (string, time.Time, error) {
	if clientID == "" {
		clientID = uuid.New().String()
	}

	now := time.Now()
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		ClientID: clientID,
		Channels: i.channels,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "relay",
			Subject:   clientID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken validates a token and returns the grant it carries.
func (i *JWTIssuer) VerifyToken(tokenString string) (Grant, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Grant{}, ErrInvalidToken
	}
	return Grant{ClientID: claims.ClientID, Channels: claims.Channels}, nil
}
