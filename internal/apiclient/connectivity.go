package apiclient

import (
	"context"
	"sync"
	"time"
)

// Connectivity tracks whether the backend is believed reachable.
type Connectivity struct {
	mu     sync.Mutex
	online bool
	// ready is closed while online and replaced when going offline.
	ready chan struct{}
}

func NewConnectivity(online bool) *Connectivity {
	c := &Connectivity{online: online, ready: make(chan struct{})}
	if online {
		close(c.ready)
	}
	return c
}

func (c *Connectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline records a connectivity change and releases waiters when the
// backend comes back.
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if online == c.online {
		return
	}
	c.online = online
	if online {
		close(c.ready)
	} else {
		c.ready = make(chan struct{})
	}
}

// WaitForOnline blocks until the backend is online or ctx is done.
func (c *Connectivity) WaitForOnline(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe calls check every interval until ctx is done and records whether it
// succeeded.
func (c *Connectivity) Probe(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SetOnline(check(ctx) == nil)
		}
	}
}

func (c *Client) IsOnline() bool { return c.conn.IsOnline() }

func (c *Client) WaitForOnline(ctx context.Context) error { return c.conn.WaitForOnline(ctx) }

// StartProbe runs the /health probe in the background when a probe interval
// is configured. It stops with ctx.
func (c *Client) StartProbe(ctx context.Context) {
	if c.cfg.ProbeInterval <= 0 {
		return
	}
	go c.conn.Probe(ctx, c.cfg.ProbeInterval, func(ctx context.Context) error {
		_, err := c.HealthCheck(ctx)
		return err
	})
}
