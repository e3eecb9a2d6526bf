// Package crypto protects venue credentials at rest and derives the
// time-based guard codes the venue asks for at login.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-file JSON schema version.
	currentVersion = 1
)

// encryptedFileJSON is the on-disk format for encrypted credentials.
type encryptedFileJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Credentials is the venue account secret bundle.
type Credentials struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	SteamID        string `json:"steam_id"`
	SharedSecret   string `json:"shared_secret"`
	IdentitySecret string `json:"identity_secret"`
	APIKey         string `json:"api_key"`
}

// Complete reports whether the bundle is enough to log in.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != "" && c.SharedSecret != ""
}

// CredentialConfig carries the information LoadCredentials needs.
type CredentialConfig struct {
	// Plain credentials from config or environment. Used when Complete.
	Plain Credentials

	// EncryptedPath is the path to a JSON file produced by EncryptCredentials.
	EncryptedPath string

	// Passphrase decrypts the file at EncryptedPath.
	Passphrase string
}

// Encrypt seals plaintext with a password using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM. It returns the JSON blob to write to disk.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := encryptedFileJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedFileJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptCredentials serialises and seals a credential bundle.
func EncryptCredentials(c Credentials, password string) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("crypto: encoding credentials: %w", err)
	}
	return Encrypt(raw, password)
}

// LoadCredentials resolves the venue credentials.
//
// Resolution order:
//  1. If Plain is complete, return it.
//  2. If EncryptedPath is set, read the file and decrypt with Passphrase.
//     Non-empty Plain fields override the decrypted ones.
//  3. Otherwise, return an error.
func LoadCredentials(cfg CredentialConfig) (Credentials, error) {
	if cfg.Plain.Complete() {
		return cfg.Plain, nil
	}

	if cfg.EncryptedPath == "" {
		return Credentials{}, errors.New("crypto: no credential source configured (set plain credentials or an encrypted file)")
	}

	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: reading credential file: %w", err)
	}
	raw, err := Decrypt(data, cfg.Passphrase)
	if err != nil {
		return Credentials{}, err
	}

	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding credentials: %w", err)
	}
	overlay(&c.Username, cfg.Plain.Username)
	overlay(&c.Password, cfg.Plain.Password)
	overlay(&c.SteamID, cfg.Plain.SteamID)
	overlay(&c.SharedSecret, cfg.Plain.SharedSecret)
	overlay(&c.IdentitySecret, cfg.Plain.IdentitySecret)
	overlay(&c.APIKey, cfg.Plain.APIKey)

	if !c.Complete() {
		return Credentials{}, errors.New("crypto: credential file is missing username, password or shared secret")
	}
	return c, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
