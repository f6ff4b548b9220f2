package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// KeyPrefix starts every guardbench API key.
const KeyPrefix = "gbk_"

// keyIDLen is how much of the key identifies it in storage and logs.
const keyIDLen = 8

// KeyID returns the part of an API key that identifies it in storage and logs.
func KeyID(apiKey string) string {
	if len(apiKey) < keyIDLen {
		return apiKey
	}
	return apiKey[:keyIDLen]
}

// Principal is the caller an API key resolves to.
type Principal struct {
	KeyID string // first 8 chars of the key, e.g. "gbk_abcd"
	Name  string
}

// Authenticator resolves a raw API key to a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*Principal, error)
}

// BearerToken extracts the API key from an Authorization header value.
// The "Bearer" scheme is case-insensitive (RFC 6750).
func BearerToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	} else if strings.EqualFold(token, "bearer") {
		token = ""
	}
	if !strings.HasPrefix(token, KeyPrefix) || len(token) < keyIDLen {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// FromMetadata extracts the API key from incoming gRPC metadata.
func FromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return BearerToken(values[0])
}

// HashAuthenticator accepts the single key matching a configured bcrypt hash.
// Verified keys are cached so bcrypt runs once per TTL, not once per request.
type HashAuthenticator struct {
	hash  []byte
	name  string
	cache *AuthCache
}

// NewHashAuthenticator creates an authenticator for one bcrypt hash.
func NewHashAuthenticator(hash, name string, ttl time.Duration) *HashAuthenticator {
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &HashAuthenticator{hash: []byte(hash), name: name, cache: NewAuthCache(ttl)}
}

func (a *HashAuthenticator) Authenticate(_ context.Context, apiKey string) (*Principal, error) {
	if !strings.HasPrefix(apiKey, KeyPrefix) || len(apiKey) < keyIDLen {
		return nil, ErrInvalidAPIKey
	}
	if r := a.cache.Get(apiKey); r.Hit && !r.NeedsRefresh {
		return r.Principal, nil
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(apiKey)); err != nil {
		a.cache.Delete(apiKey)
		return nil, ErrInvalidAPIKey
	}
	p := &Principal{KeyID: KeyID(apiKey), Name: a.name}
	a.cache.Set(apiKey, p)
	return p, nil
}
