package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const envelopeVersion = "v1"

// EncryptedData is an AES-256-GCM envelope: the value is sealed with a fresh
// data key, and the data key itself is wrapped by the KeyProvider.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// KeyProvider issues and unwraps per-envelope data keys.
type KeyProvider interface {
	GenerateDataKey(ctx context.Context) (*DataKey, error)
	DecryptDataKey(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type EncryptionManager struct {
	provider KeyProvider
	logger   *zap.Logger
	keyCache sync.Map // wrapped DEK (base64) -> plaintext DEK
}

func NewEncryptionManager(provider KeyProvider, logger *zap.Logger) *EncryptionManager {
	return &EncryptionManager{
		provider: provider,
		logger:   util.OrNop(logger),
	}
}

// Seal encrypts plaintext under a newly issued data key.
func (em *EncryptionManager) Seal(ctx context.Context, plaintext []byte) (*EncryptedData, error) {
	dataKey, err := em.provider.GenerateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", ErrEncryptionFailed, err)
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(wrapped, dataKey.Plaintext)

	em.logger.Debug("Envelope sealed", zap.String("key_id", dataKey.KeyID))

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Open decrypts an envelope produced by Seal.
func (em *EncryptionManager) Open(ctx context.Context, data *EncryptedData) ([]byte, error) {
	if data == nil || data.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope", ErrDecryptionFailed)
	}

	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, cached.([]byte))
	}

	wrapped, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	plaintextDEK, err := em.provider.DecryptDataKey(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap DEK: %v", ErrDecryptionFailed, err)
	}

	em.keyCache.Store(data.EncryptedDEK, plaintextDEK)
	return decryptWithKey(data.EncryptedValue, plaintextDEK)
}

// Forget drops the cached data key of an envelope, e.g. once its session ends.
func (em *EncryptionManager) Forget(data *EncryptedData) {
	if data != nil {
		em.keyCache.Delete(data.EncryptedDEK)
	}
}

func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) CacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func decryptWithKey(encryptedValue string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
