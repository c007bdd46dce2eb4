package encryption

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
)

// LocalKeyProvider wraps data keys with a master key that only lives in
// process memory, so sealed records cannot be opened by another process.
type LocalKeyProvider struct {
	keyID  string
	master []byte
}

func NewLocalKeyProvider() (*LocalKeyProvider, error) {
	master := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, master); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return &LocalKeyProvider{
		keyID:  uuid.New().String(),
		master: master,
	}, nil
}

func (p *LocalKeyProvider) GenerateDataKey(_ context.Context) (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}

	gcm, err := newGCM(p.master)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return &DataKey{
		Plaintext:  key,
		Ciphertext: gcm.Seal(nonce, nonce, key, []byte(p.keyID)),
		KeyID:      p.keyID,
	}, nil
}

func (p *LocalKeyProvider) DecryptDataKey(_ context.Context, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(p.master)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("wrapped key too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, []byte(p.keyID))
}

// kmsAPI is the subset of the KMS client used here.
type kmsAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSKeyProvider issues data keys from AWS KMS.
type KMSKeyProvider struct {
	client kmsAPI
	keyID  string
}

func NewKMSKeyProvider(client kmsAPI, keyID string) *KMSKeyProvider {
	return &KMSKeyProvider{client: client, keyID: keyID}
}

// NewKMSKeyProviderFromEnv loads the default AWS configuration for region.
func NewKMSKeyProviderFromEnv(ctx context.Context, region, keyID string) (*KMSKeyProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewKMSKeyProvider(kms.NewFromConfig(awsCfg), keyID), nil
}

func (p *KMSKeyProvider) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(p.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{
		Plaintext:  out.Plaintext,
		Ciphertext: out.CiphertextBlob,
		KeyID:      p.keyID,
	}, nil
}

func (p *KMSKeyProvider) DecryptDataKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
		KeyId:          aws.String(p.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}
	return out.Plaintext, nil
}
