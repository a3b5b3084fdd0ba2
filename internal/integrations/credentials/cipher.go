package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/lexdesk/lexdesk/internal/integrations"
)

// Algorithm is recorded on every envelope.
const Algorithm = "AES-256-GCM"

const nonceSize = 12

// ErrCrypto is returned for any encryption or decryption failure. It never carries key material.
var ErrCrypto = errors.New("credential encryption/decryption failed")

func seal(key []byte, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, aad), nonce, nil
}

func open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, errors.New("bad nonce length")
	}
	return aesgcm.Open(nil, nonce, ciphertext, aad)
}

// additionalData binds the credential type and key id to the ciphertext.
func additionalData(t integrations.CredentialType, keyID string) []byte {
	return []byte(string(t) + "|" + keyID)
}

// encryptData seals data with the active key.
func (k *KeyRing) encryptData(t integrations.CredentialType, data map[string]string) (*integrations.Envelope, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, ErrCrypto
	}
	key, _ := k.key(k.active)
	ciphertext, nonce, err := seal(key, plaintext, additionalData(t, k.active))
	if err != nil {
		return nil, ErrCrypto
	}
	return &integrations.Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Algorithm:  Algorithm,
		IV:         base64.StdEncoding.EncodeToString(nonce),
		KeyID:      k.active,
	}, nil
}

func (k *KeyRing) decryptData(t integrations.CredentialType, env *integrations.Envelope) (map[string]string, error) {
	if env == nil || (env.Algorithm != "" && env.Algorithm != Algorithm) {
		return nil, ErrCrypto
	}
	key, ok := k.key(env.KeyID)
	if !ok {
		return nil, ErrCrypto
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrCrypto
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, ErrCrypto
	}
	plaintext, err := open(key, ciphertext, nonce, additionalData(t, env.KeyID))
	if err != nil {
		return nil, ErrCrypto
	}
	var data map[string]string
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, ErrCrypto
	}
	if data == nil {
		data = map[string]string{}
	}
	return data, nil
}
