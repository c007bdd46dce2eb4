package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tenant-console/internal/storage"
)

// LoginAttemptsPrefix prefixes every ledger key; the suffix is the hashed
// identity.
const LoginAttemptsPrefix = "login_attempts_"

// AttemptLedger records failed login timestamps per identity key.
type AttemptLedger interface {
	// Attempts returns the failures recorded strictly after since.
	Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error)
	// Append trims entries at or before at-window, records at and returns
	// the number of failures now in the window.
	Append(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	Clear(ctx context.Context, key string) error
}

// StoreLedger keeps each identity's failures as a JSON array of unix
// milliseconds in a storage.Store.
type StoreLedger struct {
	store storage.Store
}

func NewStoreLedger(store storage.Store) *StoreLedger {
	return &StoreLedger{store: store}
}

func (l *StoreLedger) load(ctx context.Context, key string) ([]time.Time, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Wrap("get", key, err)
	}

	var millis []int64
	if err := json.Unmarshal([]byte(raw), &millis); err != nil {
		// A corrupt entry counts as no history.
		return nil, nil
	}
	out := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		out = append(out, time.UnixMilli(ms))
	}
	return out, nil
}

func (l *StoreLedger) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	all, err := l.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return after(all, since), nil
}

func (l *StoreLedger) Append(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	all, err := l.load(ctx, key)
	if err != nil {
		return 0, err
	}
	recent := append(after(all, at.Add(-window)), at)

	millis := make([]int64, len(recent))
	for i, t := range recent {
		millis[i] = t.UnixMilli()
	}
	payload, err := json.Marshal(millis)
	if err != nil {
		return 0, fmt.Errorf("marshal attempts: %w", err)
	}
	// Nothing in the entry matters once the newest failure leaves the window.
	if err := l.store.Set(ctx, key, string(payload), window); err != nil {
		return 0, storage.Wrap("set", key, err)
	}
	return len(recent), nil
}

func (l *StoreLedger) Clear(ctx context.Context, key string) error {
	return storage.Wrap("delete", key, l.store.Delete(ctx, key))
}

func after(ts []time.Time, since time.Time) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.After(since) {
			out = append(out, t)
		}
	}
	return out
}
