// Package crypto protects the Kalshi API private key at rest.
//
// A sealed key is a small JSON document holding the PBKDF2 parameters and an
// AES-256-GCM ciphertext of the PEM bytes. The KDF parameters travel with the
// file so the work factor can be raised without breaking existing keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealVersion = 1
	kdfName     = "pbkdf2-sha256"

	// defaultIterations follows the OWASP guidance for PBKDF2-HMAC-SHA256.
	defaultIterations = 480_000
	minIterations     = 100_000
	saltSize          = 16
	keySize           = 32
)

var (
	errEmptyPassword = errors.New("crypto: password must not be empty")
	errWrongPassword = errors.New("crypto: wrong password or corrupted key file")
)

// sealedKey is the on-disk form. []byte fields are base64 in JSON.
type sealedKey struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// aad binds the header fields to the ciphertext.
func (s sealedKey) aad() []byte {
	return fmt.Appendf(nil, "precog-key/v%d/%s/%d", s.Version, s.KDF, s.Iterations)
}

// KeyConfig names where LoadKey finds the PEM key.
type KeyConfig struct {
	// PEMPath is a plaintext PEM file. It wins over EncryptedKeyPath.
	PEMPath          string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals pemBytes under password and returns the JSON document.
func EncryptKey(pemBytes []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	if !isPEM(pemBytes) {
		return nil, errors.New("crypto: no PEM block found in key")
	}

	s := sealedKey{Version: sealVersion, KDF: kdfName, Iterations: defaultIterations}
	s.Salt = make([]byte, saltSize)
	if _, err := rand.Read(s.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := deriveAEAD(password, s.Salt, s.Iterations)
	if err != nil {
		return nil, err
	}
	s.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(s.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	s.Ciphertext = aead.Seal(nil, s.Nonce, pemBytes, s.aad())

	return json.MarshalIndent(s, "", "  ")
}

// DecryptKey opens a document produced by EncryptKey.
func DecryptKey(doc []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}

	var s sealedKey
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("crypto: parse sealed key: %w", err)
	}
	switch {
	case s.Version != sealVersion:
		return nil, fmt.Errorf("crypto: unsupported sealed key version %d", s.Version)
	case s.KDF != kdfName:
		return nil, fmt.Errorf("crypto: unsupported kdf %q", s.KDF)
	case s.Iterations < minIterations:
		return nil, fmt.Errorf("crypto: %d kdf iterations is below the minimum %d", s.Iterations, minIterations)
	}

	aead, err := deriveAEAD(password, s.Salt, s.Iterations)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce is %d bytes, want %d", len(s.Nonce), aead.NonceSize())
	}
	plain, err := aead.Open(nil, s.Nonce, s.Ciphertext, s.aad())
	if err != nil {
		return nil, errWrongPassword
	}
	return plain, nil
}

func deriveAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// LoadKey returns the PEM key from cfg.PEMPath, or else by opening
// cfg.EncryptedKeyPath with cfg.KeyPassword.
func LoadKey(cfg KeyConfig) ([]byte, error) {
	switch {
	case cfg.PEMPath != "":
		data, err := os.ReadFile(cfg.PEMPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key: %w", err)
		}
		if !isPEM(data) {
			return nil, fmt.Errorf("crypto: %s holds no PEM block", cfg.PEMPath)
		}
		return data, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read sealed key: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no private key configured")
	}
}

func isPEM(b []byte) bool {
	block, _ := pem.Decode(b)
	return block != nil
}
