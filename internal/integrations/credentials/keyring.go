package credentials

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 210_000
	keyLen        = 32 // AES-256
)

// kdfSalt is fixed so the same secret always yields the same key across processes.
var kdfSalt = []byte("lexdesk.integrations.credentials.v1")

// KeyRing holds the derived encryption keys. The active key encrypts; any key decrypts.
type KeyRing struct {
	active string
	keys   map[string][]byte
}

// NewKeyRing derives the active key from secret. previous maps retired key ids to their secrets.
func NewKeyRing(activeID, secret string, previous map[string]string) (*KeyRing, error) {
	activeID = strings.TrimSpace(activeID)
	if activeID == "" {
		return nil, errors.New("credentials key id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("credentials secret is required")
	}
	kr := &KeyRing{active: activeID, keys: map[string][]byte{activeID: deriveKey(secret)}}
	for id, s := range previous {
		id = strings.TrimSpace(id)
		if id == "" || id == activeID {
			continue
		}
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("credentials key %q has an empty secret", id)
		}
		kr.keys[id] = deriveKey(s)
	}
	return kr, nil
}

// ParsePreviousKeys parses "id:secret,id:secret".
func ParsePreviousKeys(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(id) == "" || secret == "" {
			return nil, fmt.Errorf("invalid previous key entry %q (want id:secret)", redactEntry(part))
		}
		out[strings.TrimSpace(id)] = secret
	}
	return out, nil
}

func redactEntry(part string) string {
	if id, _, ok := strings.Cut(part, ":"); ok {
		return id + ":***"
	}
	return "***"
}

// ActiveID is the key id new envelopes are sealed with.
func (k *KeyRing) ActiveID() string { return k.active }

// IDs lists every key id, sorted.
func (k *KeyRing) IDs() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (k *KeyRing) key(id string) ([]byte, bool) {
	if id == "" {
		id = k.active
	}
	key, ok := k.keys[id]
	return key, ok
}

func deriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLen, sha256.New)
}
