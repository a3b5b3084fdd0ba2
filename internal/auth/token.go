package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"
)

const tokenPrefix = "ldk_"

var DefaultTokenParams = &argon2id.Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty")
	}
	return argon2id.CreateHash(token, DefaultTokenParams)
}

func CompareToken(token, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(token, hash)
}

// GenerateToken returns a new random API token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenVerifier checks bearer tokens against one argon2id hash. argon2id is slow on
// purpose, so the digest of the last accepted token is remembered.
type TokenVerifier struct {
	hash string

	mu       sync.Mutex
	accepted [sha256.Size]byte
	cached   bool
}

// NewTokenVerifier validates the hash format up front so a typo in API_TOKEN_HASH fails
// at startup instead of on the first request.
func NewTokenVerifier(hash string) (*TokenVerifier, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, errors.New("API_TOKEN_HASH is empty")
	}
	if _, _, _, err := argon2id.DecodeHash(hash); err != nil {
		return nil, err
	}
	return &TokenVerifier{hash: hash}, nil
}

func (v *TokenVerifier) Verify(token string) bool {
	if v == nil || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))
	v.mu.Lock()
	hit := v.cached && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.Unlock()
	if hit {
		return true
	}

	ok, err := CompareToken(token, v.hash)
	if err != nil || !ok {
		return false
	}
	v.mu.Lock()
	v.accepted, v.cached = digest, true
	v.mu.Unlock()
	return true
}
