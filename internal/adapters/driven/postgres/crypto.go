package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// Sealed blob layout: format(1) | nonce(12) | AES-256-GCM ciphertext+tag.
// The additional data is "<subscription id>/<column>", so a blob copied to
// another row or column no longer opens.
const (
	blobFormatV2 byte = 0x02
	gcmNonceLen       = 12
	aesKeyLen         = 32
	hkdfInfo          = "sercha-poller/subscription-credentials/v2"
)

// Credential columns used as part of the additional data.
const (
	columnSettings      = "settings"
	columnAuthorization = "authorization_override"
)

var (
	ErrEmptySecret       = errors.New("encryption secret must not be empty")
	ErrInvalidKeySize    = errors.New("encryption key must be 32 bytes")
	ErrMalformedBlob     = errors.New("sealed credentials are malformed")
	ErrUnknownBlobFormat = errors.New("sealed credentials use an unknown format")
	ErrOpenFailed        = errors.New("sealed credentials could not be opened")
)

// DeriveKey stretches an operator secret of any length into an AES-256 key
// with HKDF-SHA256. It is deterministic, so restarts keep reading old rows.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, aesKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretEncryptor seals subscription credentials before they reach the
// subscriptions table.
type SecretEncryptor struct {
	aead cipher.AEAD
}

func NewSecretEncryptorFromSecret(secret string) (*SecretEncryptor, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return NewSecretEncryptor(key)
}

func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != aesKeyLen {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &SecretEncryptor{aead: aead}, nil
}

func additionalData(subscriptionID, column string) []byte {
	return []byte(subscriptionID + "/" + column)
}

// seal encrypts plaintext for one subscription column.
func (e *SecretEncryptor) seal(subscriptionID, column string, plaintext []byte) ([]byte, error) {
	blob := make([]byte, 1+gcmNonceLen, 1+gcmNonceLen+len(plaintext)+e.aead.Overhead())
	blob[0] = blobFormatV2
	if _, err := rand.Read(blob[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return e.aead.Seal(blob, blob[1:], plaintext, additionalData(subscriptionID, column)), nil
}

// open reverses seal. A wrong key, a tampered blob and a blob from another
// row all fail with ErrOpenFailed.
func (e *SecretEncryptor) open(subscriptionID, column string, blob []byte) ([]byte, error) {
	if len(blob) < 1+gcmNonceLen+e.aead.Overhead() {
		return nil, ErrMalformedBlob
	}
	if blob[0] != blobFormatV2 {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownBlobFormat, blob[0])
	}
	plaintext, err := e.aead.Open(nil, blob[1:1+gcmNonceLen], blob[1+gcmNonceLen:], additionalData(subscriptionID, column))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// sealedCredentials mirrors domain.Credentials, whose JSON form hides the secrets.
type sealedCredentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	SecurityToken string `json:"security_token"`
	LoginURL      string `json:"login_url,omitempty"`
}

// sealCredentials returns nil for nil credentials so the column stays NULL.
func (e *SecretEncryptor) sealCredentials(subscriptionID, column string, c *domain.Credentials) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	plaintext, err := json.Marshal(sealedCredentials(*c))
	if err != nil {
		return nil, err
	}
	return e.seal(subscriptionID, column, plaintext)
}

// openCredentials maps an empty column back to nil.
func (e *SecretEncryptor) openCredentials(subscriptionID, column string, blob []byte) (*domain.Credentials, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	plaintext, err := e.open(subscriptionID, column, blob)
	if err != nil {
		return nil, err
	}
	var sc sealedCredentials
	if err := json.Unmarshal(plaintext, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	c := domain.Credentials(sc)
	return &c, nil
}
