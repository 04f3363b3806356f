// Package creds stores the WiGLE API token encrypted at rest. The token
// grants query quota on a paid account, so it never touches disk in the
// clear.
package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
	saltLen      = 16
	nonceLen     = 12 // AES-GCM standard nonce size
)

// verificationMagic is a known plaintext encrypted with the derived key
// to distinguish a wrong passphrase from a corrupt file.
var verificationMagic = []byte("tailchase-creds-v1")

// ErrBadPassphrase is returned when the passphrase does not decrypt the
// credentials file.
var ErrBadPassphrase = errors.New("wrong passphrase")

type credsFile struct {
	Salt         []byte `json:"salt"`
	Verification []byte `json:"verification"`
	Token        []byte `json:"token"`
}

// Save encrypts the token with a key derived from the passphrase and
// writes it to path with owner-only permissions.
func Save(path, passphrase, token string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt)
	defer zeroBytes(key)

	verification, err := encrypt(key, verificationMagic)
	if err != nil {
		return fmt.Errorf("encrypt verification blob: %w", err)
	}
	sealed, err := encrypt(key, []byte(token))
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	data, err := json.Marshal(credsFile{
		Salt:         salt,
		Verification: verification,
		Token:        sealed,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Load decrypts the token stored at path. Returns ErrBadPassphrase when
// the passphrase does not match.
func Load(path, passphrase string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}

	var f credsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	if len(f.Salt) != saltLen {
		return "", errors.New("credentials file corrupt: bad salt")
	}

	key := deriveKey(passphrase, f.Salt)
	defer zeroBytes(key)

	if !verifyKey(key, f.Verification) {
		return "", ErrBadPassphrase
	}

	token, err := decrypt(key, f.Token)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(token), nil
}

// deriveKey derives a 32-byte key from a passphrase and salt using
// Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// verifyKey decrypts the verification blob and checks it matches the
// expected magic string.
func verifyKey(key, blob []byte) bool {
	plain, err := decrypt(key, blob)
	if err != nil {
		return false
	}
	if len(plain) != len(verificationMagic) {
		return false
	}
	// Constant-time compare is not necessary here because the magic
	// string is not secret -- it's just a known plaintext.
	for i := range plain {
		if plain[i] != verificationMagic[i] {
			return false
		}
	}
	return true
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// encrypt performs AES-256-GCM encryption. Returns nonce || ciphertext+tag.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt performs AES-256-GCM decryption. Expects nonce || ciphertext+tag.
func decrypt(key, data []byte) ([]byte, error) {
	if len(data) < nonceLen {
		return nil, errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:nonceLen], data[nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
