package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AnonymousUserID scopes conversations when auth is disabled.
const AnonymousUserID = "anonymous"

// AuthConfig controls bearer-token validation. When Enabled is false
// every request runs under the anonymous identity.
type AuthConfig struct {
	Enabled   bool   `split_words:"true" default:"false"`
	JWTSecret string `split_words:"true"`
}

// Identity is the authenticated caller. It scopes conversation
// ownership and nothing else.
type Identity struct {
	UserID    string
	Anonymous bool
}

// AuthService validates Authorization headers into identities.
type AuthService struct {
	enabled bool
	secret  []byte
}

func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("auth is enabled but no jwt secret is configured")
	}
	return &AuthService{enabled: cfg.Enabled, secret: []byte(cfg.JWTSecret)}, nil
}

// Identify resolves the caller of r. With auth disabled it always
// returns the anonymous identity.
func (s *AuthService) Identify(r *http.Request) (Identity, error) {
	if !s.enabled {
		return Identity{UserID: AnonymousUserID, Anonymous: true}, nil
	}

	tokenStr := bearerToken(r)
	if tokenStr == "" {
		return Identity{}, errors.New("missing bearer token")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, errors.New("token has no sub claim")
	}
	return Identity{UserID: sub}, nil
}

// MintToken signs a token for userID; test and tooling helper.
func (s *AuthService) MintToken(userID string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = userID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(r *http.Request) Identity {
	id, _ := r.Context().Value(identityKey{}).(Identity)
	return id
}
