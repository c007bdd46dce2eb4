package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tenant-console/internal/client"
	"tenant-console/internal/security"
	"tenant-console/internal/util"
)

// TabChannel carries tab announcements over Redis pub/sub, so consoles in
// different processes sharing one Redis detect each other.
type TabChannel struct {
	client  *client.RedisClient
	channel string
}

func NewTabChannel(client *client.RedisClient) *TabChannel {
	return &TabChannel{client: client, channel: security.TabCheckChannel}
}

func (t *TabChannel) Publish(ctx context.Context, signal security.TabSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to encode tab signal: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, payload); err != nil {
		util.Error("Failed to publish tab signal", zap.String("tab_id", signal.TabID), zap.Error(err))
		return fmt.Errorf("failed to publish tab signal: %w", err)
	}
	return nil
}

func (t *TabChannel) Subscribe(ctx context.Context) (<-chan security.TabSignal, func(), error) {
	sub, err := t.client.Subscribe(ctx, t.channel)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan security.TabSignal, 16)
	done := make(chan struct{})
	messages := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var signal security.TabSignal
				if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
					util.Warn("Ignoring malformed tab signal", zap.Error(err))
					continue
				}
				select {
				case out <- signal:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
