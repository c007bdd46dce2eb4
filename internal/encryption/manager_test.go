package encryption

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalManager(t *testing.T) *EncryptionManager {
	t.Helper()
	provider, err := NewLocalKeyProvider()
	require.NoError(t, err)
	return NewEncryptionManager(provider, nil)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, []byte(`{"token":"omt_abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "v1", sealed.Version)
	assert.NotContains(t, sealed.EncryptedValue, "omt_abc")

	plain, err := em.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"omt_abc"}`, string(plain))
}

func TestOpen_WithoutCacheUnwrapsThroughProvider(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, []byte("payload"))
	require.NoError(t, err)
	em.ClearCache()
	assert.Equal(t, 0, em.CacheSize())

	plain, err := em.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
	assert.Equal(t, 1, em.CacheSize())
}

func TestOpen_OtherProcessKeyFails(t *testing.T) {
	ctx := context.Background()
	sealed, err := newLocalManager(t).Seal(ctx, []byte("payload"))
	require.NoError(t, err)

	_, err = newLocalManager(t).Open(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_TamperedValueFails(t *testing.T) {
	em := newLocalManager(t)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, []byte("payload"))
	require.NoError(t, err)
	sealed.EncryptedValue = sealed.EncryptedValue[:len(sealed.EncryptedValue)-4] + "AAAA"

	_, err = em.Open(ctx, sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_RejectsUnknownVersion(t *testing.T) {
	em := newLocalManager(t)
	_, err := em.Open(context.Background(), &EncryptedData{Version: "v0"})
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

type fakeKMS struct {
	key     []byte
	wrapped []byte
	fail    error
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &kms.GenerateDataKeyOutput{
		Plaintext:      f.key,
		CiphertextBlob: f.wrapped,
		KeyId:          in.KeyId,
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if !bytes.Equal(in.CiphertextBlob, f.wrapped) {
		return nil, errors.New("invalid ciphertext")
	}
	return &kms.DecryptOutput{Plaintext: f.key}, nil
}

func TestKMSKeyProvider_SealOpen(t *testing.T) {
	fake := &fakeKMS{key: bytes.Repeat([]byte{7}, 32), wrapped: []byte("wrapped-by-kms")}
	em := NewEncryptionManager(NewKMSKeyProvider(fake, "alias/console"), nil)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, []byte("session"))
	require.NoError(t, err)
	assert.Equal(t, "alias/console", sealed.KeyID)

	em.ClearCache()
	plain, err := em.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "session", string(plain))
}

func TestKMSKeyProvider_GenerateFailure(t *testing.T) {
	fake := &fakeKMS{fail: errors.New("throttled")}
	em := NewEncryptionManager(NewKMSKeyProvider(fake, "alias/console"), nil)

	_, err := em.Seal(context.Background(), []byte("session"))
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}
