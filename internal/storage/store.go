// Package storage defines the key/value stores the console keeps its client
// side state in: a tab-scoped store for the session record and a durable
// store shared by every tab of the same browser profile.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorage wraps every failure of an underlying store write or read.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")
)

// Store is a string key/value store. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Keys lists the keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Wrap annotates err as a storage failure for op on key.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s %q: %v", ErrStorage, op, key, err)
}
