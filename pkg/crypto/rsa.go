package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"github.com/medvault/dlt-phr/pkg/types"
)

// RSAKeyBits is the modulus size for delegate keypairs
const RSAKeyBits = 2048

// scrypt parameters for password-wrapping private keys. The salt is fixed so
// the same password always derives the same wrapping key.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var wrapSalt = []byte("dlt-phr-keywrap-v1")

// GenerateKeyPair generates an RSA-2048 keypair for the delegate exchange
// channel. The public key is SPKI PEM, the private key PKCS#8 PEM.
func GenerateKeyPair() (publicPEM, privatePEM string, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}))

	return publicPEM, privatePEM, nil
}

// WrapPrivateKey encrypts a PEM private key under a password-derived key.
// The blob format is ivHex:ciphertextHex. There is no authentication tag; a
// wrong password surfaces as the generic decryption failure on unwrap.
func WrapPrivateKey(privatePEM, password string) (string, error) {
	if password == "" {
		return "", types.NewValidationError(types.ErrCodeInvalidInput, "password must not be empty", nil)
	}

	key, err := scrypt.Key([]byte(password), wrapSalt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return "", fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	ciphertext, iv, err := Encrypt([]byte(privatePEM), key)
	if err != nil {
		return "", fmt.Errorf("failed to wrap private key: %w", err)
	}

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// UnwrapPrivateKey reverses WrapPrivateKey. A wrong password is reported as
// ErrDecryptionFailed, indistinguishable from a corrupted blob.
func UnwrapPrivateKey(blob, password string) (string, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return "", ErrDecryptionFailed
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrDecryptionFailed
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptionFailed
	}

	key, err := scrypt.Key([]byte(password), wrapSalt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return "", fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	plaintext, err := Decrypt(ciphertext, key, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// WrapKeyForDelegate encrypts a hex symmetric key under a delegate's public
// key with RSA-OAEP and returns it base64 encoded.
func WrapKeyForDelegate(symmetricKeyHex, publicPEM string) (string, error) {
	keyBytes, err := hex.DecodeString(symmetricKeyHex)
	if err != nil {
		return "", types.NewValidationError(types.ErrCodeInvalidInput, "symmetric key is not valid hex", nil)
	}

	pubKey, err := parsePublicKey(publicPEM)
	if err != nil {
		return "", err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pubKey, keyBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to wrap symmetric key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// UnwrapKeyForDelegate reverses WrapKeyForDelegate using the delegate's
// private key PEM and returns the hex symmetric key.
func UnwrapKeyForDelegate(wrappedBase64, privatePEM string) (string, error) {
	wrapped, err := base64.StdEncoding.DecodeString(wrappedBase64)
	if err != nil {
		return "", types.NewValidationError(types.ErrCodeInvalidInput, "wrapped key is not valid base64", nil)
	}

	privKey, err := parsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}

	keyBytes, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privKey, wrapped, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return hex.EncodeToString(keyBytes), nil
}

// parsePublicKey parses an SPKI PEM public key
func parsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

// parsePrivateKey parses a PKCS#8 PEM private key
func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaPriv, nil
}
