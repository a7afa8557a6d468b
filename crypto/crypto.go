// Package crypto seals credential files at rest, primarily the YouTube OAuth token.
// It implements AES-256-GCM authenticated encryption and a small text envelope so a
// sealed file can be told apart from a plaintext one.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Encryptor defines authenticated encryption (AEAD) of small payloads.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key, e.g. one
// generated with:
//
//	openssl rand -base64 32
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext || tag with a fresh random nonce.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt verifies and opens a payload produced by Encrypt.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		// do not leak details of the failure
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// ErrAuthFailed is returned when a sealed payload fails authentication, usually
// because the key is wrong or the file was edited.
var ErrAuthFailed = errors.New("decryption failed: authentication or integrity check failed")

// sealedPrefix marks an envelope written by Seal. Version 1 is AES-256-GCM.
var sealedPrefix = []byte("vod-archiver:sealed:v1:")

// IsSealed reports whether data carries the sealed envelope.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), sealedPrefix)
}

// Seal encrypts plaintext into a single-line text envelope suitable for a file.
func Seal(enc Encryptor, plaintext []byte) ([]byte, error) {
	ct, err := enc.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(ct))+1)
	out = append(out, sealedPrefix...)
	out = base64.StdEncoding.AppendEncode(out, ct)
	return append(out, '\n'), nil
}

// Open reverses Seal. Data without the envelope is returned unchanged so plaintext
// token files keep working after a key is configured; sealed data without an
// encryptor is an error.
func Open(enc Encryptor, data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if enc == nil {
		return nil, errors.New("file is sealed but no ENCRYPTION_KEY is configured")
	}
	body := bytes.TrimPrefix(bytes.TrimSpace(data), sealedPrefix)
	ct, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	return enc.Decrypt(ct)
}
