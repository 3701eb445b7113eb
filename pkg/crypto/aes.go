package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

// hkdfInfo binds derived keys to this use so the same secret can serve other
// purposes without key reuse.
var hkdfInfo = []byte("task-field-encryption")

// FieldCipher seals single string fields with AES-256-GCM.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher derives a 32-byte key from secret with HKDF-SHA256.
func NewFieldCipher(secret string) (*FieldCipher, error) {
	if secret == "" {
		return nil, ErrInvalidKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &FieldCipher{aead: gcm}, nil
}

// Encrypt returns base64(nonce || ciphertext). Empty input stays empty.
func (c *FieldCipher) Encrypt(plainText string) (string, error) {
	if plainText == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *FieldCipher) Decrypt(cipherText string) (string, error) {
	if cipherText == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", ErrInvalidCipherText
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCipherText
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plainText, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plainText), nil
}
