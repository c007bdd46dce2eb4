package security

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TabCheckChannel is the channel name tab announcements travel on.
const TabCheckChannel = "tab_check"

// TabSignal announces that a tab with TabID holds the session.
type TabSignal struct {
	TabID string    `json:"tabId"`
	At    time.Time `json:"at"`
}

// Broadcaster carries tab announcements between tabs of the same profile.
type Broadcaster interface {
	Publish(ctx context.Context, signal TabSignal) error
	// Subscribe returns a channel of announcements and a func that ends the
	// subscription and closes the channel.
	Subscribe(ctx context.Context) (<-chan TabSignal, func(), error)
}

// MemoryBroadcaster fans announcements out to every subscriber in the
// process. Slow subscribers lose signals instead of blocking publishers.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan TabSignal
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]chan TabSignal)}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, signal TabSignal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- signal:
		default:
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(_ context.Context) (<-chan TabSignal, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan TabSignal, 16)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// TabMonitor announces this tab on start and reports announcements from any
// other tab.
type TabMonitor struct {
	id          string
	broadcaster Broadcaster
	clock       Clock
	onForeign   func(TabSignal)

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

func NewTabMonitor(broadcaster Broadcaster, clock Clock, onForeign func(TabSignal)) *TabMonitor {
	return &TabMonitor{
		id:          uuid.NewString(),
		broadcaster: broadcaster,
		clock:       clock,
		onForeign:   onForeign,
	}
}

func (t *TabMonitor) ID() string { return t.id }

// Start subscribes, then announces this tab. Subscribing first keeps the
// monitor from missing a tab that starts concurrently.
func (t *TabMonitor) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	signals, unsubscribe, err := t.broadcaster.Subscribe(ctx)
	if err != nil {
		return err
	}
	t.cancel = unsubscribe
	t.done = make(chan struct{})

	go t.listen(signals, t.done)

	return t.broadcaster.Publish(ctx, TabSignal{TabID: t.id, At: t.clock.Now()})
}

func (t *TabMonitor) listen(signals <-chan TabSignal, done chan struct{}) {
	defer close(done)
	for signal := range signals {
		if signal.TabID != t.id {
			t.onForeign(signal)
		}
	}
}

// Stop ends the subscription and waits for the listener to exit.
func (t *TabMonitor) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
