package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies ResiGate tokens
	TokenPrefix = "rg_"
	// TokenLength is the number of random bytes in a token (256 bits)
	TokenLength = 32
)

var (
	// ErrInvalidToken is returned when a token is unknown or malformed
	ErrInvalidToken = errors.New("invalid or expired token")
)

// TokenVerifier maps a bearer token to the user it was issued for.
// Session verification proper lives outside this service; implementations
// adapt whatever issuer the deployment uses.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*AuthContext, error)
}

// TokenGenerator generates and hashes API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new token of the form rg_<base64url(32 random bytes)>
// and returns it together with its SHA256 hash.
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, tg.HashToken(token), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// DisplayPrefix returns the first characters of a token, safe to log
func (tg *TokenGenerator) DisplayPrefix(token string) string {
	if len(token) <= len(TokenPrefix)+8 {
		return TokenPrefix
	}
	return token[:len(TokenPrefix)+8]
}

// StaticTokenVerifier verifies a fixed set of tokens configured at startup.
// Only token hashes are retained.
type StaticTokenVerifier struct {
	generator *TokenGenerator
	users     map[string]string
	now       func() time.Time
}

// NewStaticTokenVerifier creates a verifier from a token to user ID map
func NewStaticTokenVerifier(tokens map[string]string) *StaticTokenVerifier {
	v := &StaticTokenVerifier{
		generator: NewTokenGenerator(),
		users:     make(map[string]string, len(tokens)),
		now:       time.Now,
	}
	for token, userID := range tokens {
		v.users[v.generator.HashToken(token)] = userID
	}
	return v
}

// Verify returns the auth context for a configured token
func (v *StaticTokenVerifier) Verify(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	hash := v.generator.HashToken(token)
	for stored, userID := range v.users {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(hash)) == 1 {
			return &AuthContext{
				UserID:          userID,
				Method:          MethodStaticToken,
				TokenPrefix:     v.generator.DisplayPrefix(token),
				AuthenticatedAt: v.now(),
			}, nil
		}
	}
	return nil, ErrInvalidToken
}

// Len returns the number of configured tokens
func (v *StaticTokenVerifier) Len() int {
	return len(v.users)
}

// ParseStaticTokens parses "token=userID,token2=userID2" into a map
func ParseStaticTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, "=")
		token, userID = strings.TrimSpace(token), strings.TrimSpace(userID)
		if !ok || token == "" || userID == "" {
			return nil, fmt.Errorf("invalid token entry %q: expected token=userID", pair)
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("duplicate token entry for user %q", userID)
		}
		tokens[token] = userID
	}
	return tokens, nil
}
