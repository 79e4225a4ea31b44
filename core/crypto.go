package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption secret must be at least 16 bytes")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

const keyDerivationInfo = "pixieauth credential store v1"

type CryptoService struct {
	encryptionKey []byte
}

// NewCryptoService derives an AES-256 key from secret with HKDF-SHA256.
// salt may be nil; the store passes a per-database salt.
func NewCryptoService(secret string, salt []byte) (*CryptoService, error) {
	if len(secret) < 16 {
		return nil, ErrInvalidEncryptionKey
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), salt, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return &CryptoService{
		encryptionKey: key,
	}, nil
}

// EncryptToken encrypts a token using AES-256-GCM.
// Returns base64-encoded ciphertext with nonce prepended.
func (cs *CryptoService) EncryptToken(plaintext string) (string, error) {
	gcm, err := cs.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (cs *CryptoService) DecryptToken(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := cs.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, cipherbytes := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherbytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (cs *CryptoService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cs.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
