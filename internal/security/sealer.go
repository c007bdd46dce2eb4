package security

import (
	"context"
	"encoding/json"
	"fmt"

	"tenant-console/internal/encryption"
)

// Sealer protects the serialized session record at rest in the tab store.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) (string, error)
	Open(ctx context.Context, sealed string) ([]byte, error)
	// Discard releases anything held for a record that is being removed.
	Discard(ctx context.Context, sealed string)
}

// PlainSealer stores the record as-is and relies on transport security and
// the tab-scoped store for confidentiality.
type PlainSealer struct{}

func (PlainSealer) Seal(_ context.Context, plaintext []byte) (string, error) {
	return string(plaintext), nil
}

func (PlainSealer) Open(_ context.Context, sealed string) ([]byte, error) {
	return []byte(sealed), nil
}

func (PlainSealer) Discard(context.Context, string) {}

// AEADSealer seals every record under its own data key issued by the
// encryption manager's key provider.
type AEADSealer struct {
	manager *encryption.EncryptionManager
}

func NewAEADSealer(manager *encryption.EncryptionManager) *AEADSealer {
	return &AEADSealer{manager: manager}
}

func (s *AEADSealer) Seal(ctx context.Context, plaintext []byte) (string, error) {
	envelope, err := s.manager.Seal(ctx, plaintext)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(out), nil
}

func (s *AEADSealer) Open(ctx context.Context, sealed string) ([]byte, error) {
	var envelope encryption.EncryptedData
	if err := json.Unmarshal([]byte(sealed), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", encryption.ErrDecryptionFailed, err)
	}
	return s.manager.Open(ctx, &envelope)
}

// Discard evicts the record's cached data key from the encryption manager.
func (s *AEADSealer) Discard(_ context.Context, sealed string) {
	var envelope encryption.EncryptedData
	if err := json.Unmarshal([]byte(sealed), &envelope); err != nil {
		return
	}
	s.manager.Forget(&envelope)
}
