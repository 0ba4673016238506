// Package auth issues and checks the bearer tokens of the HTTP API and
// manages account registration.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenKind separates access, refresh and email verification tokens so one
// cannot be used in place of another.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
	VerifyToken  TokenKind = "verify"
)

var tokenTTL = map[TokenKind]time.Duration{
	AccessToken:  30 * time.Minute,
	RefreshToken: 7 * 24 * time.Hour,
	VerifyToken:  24 * time.Hour,
}

// Claims are the JWT claims of every PixPursuit token.
type Claims struct {
	Username string    `json:"username"`
	Kind     TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is returned on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

// Issue signs a token of kind for username.
func (t *Tokens) Issue(username string, kind TokenKind) (string, error) {
	ttl, ok := tokenTTL[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	now := t.now()
	claims := Claims{
		Username: username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Pair issues a fresh access and refresh token.
func (t *Tokens) Pair(username string) (TokenPair, error) {
	access, err := t.Issue(username, AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.Issue(username, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// Verify checks signature, expiry and kind, and returns the username.
func (t *Tokens) Verify(token string, kind TokenKind) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Kind != kind || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
