package market

import (
	"fmt"

	"github.com/fernet/fernet-go"
)

// SecretBox authenticated-encrypts reservation codes with a process-wide
// Fernet key so the database never holds a secret in the clear.
type SecretBox struct {
	keys []*fernet.Key
}

// NewSecretBox parses the configured base64 key. One key for now; the slice
// form keeps room for rotation.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	keys, err := fernet.DecodeKeys(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return &SecretBox{keys: keys}, nil
}

// Seal encrypts and signs a secret, returning the token text.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), b.keys[0])
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	return string(tok), nil
}

// Open verifies and decrypts a token. Tokens never expire here; deal expiry
// is tracked on the deal row, not in the ciphertext.
func (b *SecretBox) Open(token string) (string, error) {
	plain := fernet.VerifyAndDecrypt([]byte(token), 0, b.keys)
	if plain == nil {
		return "", fmt.Errorf("open secret: token invalid")
	}
	return string(plain), nil
}
