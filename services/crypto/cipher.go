// Package cryptosvc encrypts message contents at rest with AES-256-GCM.
package cryptosvc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	ErrInvalidKeySize    = errors.New("invalid key size: must be 32 bytes for AES-256")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

type Cipher struct {
	aead cipher.AEAD
}

// NewCipher returns a Cipher using the 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCM")
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromConfig uses the base64 encoded compliance encryption key, or derives one from the secret key.
func NewCipherFromConfig(conf *core.Config) (*Cipher, error) {
	if conf.Compliance.EncryptionKey == "" {
		key := sha256.Sum256([]byte(conf.SecretKey))
		return NewCipher(key[:])
	}
	key, err := base64.StdEncoding.DecodeString(conf.Compliance.EncryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "decoding encryption key")
	}
	return NewCipher(key)
}

// Encrypt returns base64(nonce + ciphertext + tag).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generating nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// GenerateKey returns a random base64 encoded key, suitable for the compliance encryption key setting.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
