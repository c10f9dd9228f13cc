package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/medvault/dlt-phr/pkg/types"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// IVSize is the AES block size used for CBC initialization vectors
const IVSize = aes.BlockSize

// ErrDecryptionFailed signals a padding or format mismatch during decryption.
// It is the wrong-key signal: callers must map it to a forbidden error and
// never retry, since retrying with the same key cannot succeed.
var ErrDecryptionFailed = errors.New("decryption failed")

// DeriveKey derives a 32-byte AES key from an owner signature. The derivation
// is deterministic so the owner can regenerate the same key from the same
// signature on every call; no key material is ever persisted.
func DeriveKey(signature []byte) ([]byte, error) {
	if len(signature) == 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "signature must not be empty", nil)
	}
	key := sha256.Sum256(signature)
	return key[:], nil
}

// Encrypt encrypts plaintext with AES-256-CBC and PKCS#7 padding. A fresh
// random 16-byte IV is generated for every call and returned alongside the
// ciphertext; an IV is never reused.
func Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("key must be %d bytes", KeySize), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. A wrong key or corrupted ciphertext surfaces as
// ErrDecryptionFailed through the padding check.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("key must be %d bytes", KeySize), nil)
	}
	if len(iv) != IVSize {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("iv must be %d bytes", IVSize), nil)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// Hash returns the hex-encoded SHA-256 of data. Used for both content
// fingerprints and signature-based key derivation.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// pkcs7Pad appends PKCS#7 padding up to the block size
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// pkcs7Unpad strips and validates PKCS#7 padding
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, errors.New("invalid padding length")
	}
	pad := data[len(data)-padLen:]
	expected := bytes.Repeat([]byte{byte(padLen)}, padLen)
	if subtle.ConstantTimeCompare(pad, expected) != 1 {
		return nil, errors.New("invalid padding bytes")
	}
	return data[:len(data)-padLen], nil
}
