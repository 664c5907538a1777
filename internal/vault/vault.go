package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"vinc-payment-service/internal/models"
)

// Key derivation parameters. The salt is intentionally static: the same
// master key must always derive the same cipher key so that previously
// stored blobs stay decryptable across restarts.
const (
	keyIterations = 100000
	keyLength     = 32
	keySalt       = "vinc_payment_salt_2024"
)

var (
	// ErrNoEncryptionKey is returned when no master key is configured.
	// There is no plaintext fallback.
	ErrNoEncryptionKey = errors.New("vault: encryption key is not configured")

	// ErrDecryption is returned when a blob is malformed, truncated, or was
	// encrypted under a different master key.
	ErrDecryption = errors.New("vault: failed to decrypt credentials")
)

// Vault encrypts and decrypts credential maps with AES-256-GCM. The cipher
// key is derived once at construction and never mutated.
type Vault struct {
	aead cipher.AEAD
}

// New derives the cipher key from masterKey and returns a ready Vault.
// Fails fast when masterKey is empty.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrNoEncryptionKey
	}

	key := pbkdf2.Key([]byte(masterKey), []byte(keySalt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt serializes credentials and seals them into an opaque blob of the
// form {"encrypted": true, "data": "<base64(nonce || ciphertext)>"}.
func (v *Vault) Encrypt(credentials map[string]interface{}) (models.JSONB, error) {
	if credentials == nil {
		credentials = map[string]interface{}{}
	}

	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("vault: marshal credentials: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)

	return models.JSONB{
		"encrypted": true,
		"data":      base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or foreign-key
// blob yields ErrDecryption; credentials are never silently treated as
// empty on failure.
func (v *Vault) Decrypt(blob models.JSONB) (map[string]interface{}, error) {
	if blob == nil {
		return nil, fmt.Errorf("%w: empty blob", ErrDecryption)
	}

	encrypted, _ := blob["encrypted"].(bool)
	if !encrypted {
		return nil, fmt.Errorf("%w: blob is not marked encrypted", ErrDecryption)
	}

	data, ok := blob["data"].(string)
	if !ok || data == "" {
		return nil, fmt.Errorf("%w: missing data field", ErrDecryption)
	}

	sealed, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", ErrDecryption)
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryption)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	var credentials map[string]interface{}
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", ErrDecryption)
	}
	return credentials, nil
}
