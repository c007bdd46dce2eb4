package security

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultDevtoolsInterval  = time.Second
	DefaultDevtoolsThreshold = 200
)

// WindowSize is the outer and inner size of the console's window in pixels.
type WindowSize struct {
	OuterWidth, OuterHeight int
	InnerWidth, InnerHeight int
}

// WindowMetrics reports the current window size.
type WindowMetrics interface {
	WindowSize() WindowSize
}

// FrameInspector tells whether the console is embedded in a foreign frame
// and can hide it when it is.
type FrameInspector interface {
	Framed() bool
	Hide()
}

// DevtoolsMonitor polls window metrics and reports each transition into a
// docked-devtools layout once.
type DevtoolsMonitor struct {
	metrics   WindowMetrics
	interval  time.Duration
	threshold int
	onOpen    func()

	mu     sync.Mutex
	open   bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDevtoolsMonitor(metrics WindowMetrics, interval time.Duration, threshold int, onOpen func()) *DevtoolsMonitor {
	if interval <= 0 {
		interval = DefaultDevtoolsInterval
	}
	if threshold <= 0 {
		threshold = DefaultDevtoolsThreshold
	}
	return &DevtoolsMonitor{
		metrics:   metrics,
		interval:  interval,
		threshold: threshold,
		onOpen:    onOpen,
	}
}

func (d *DevtoolsMonitor) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Check()
			}
		}
	}(d.done)
}

// Check samples the window once and reports whether devtools look open.
func (d *DevtoolsMonitor) Check() bool {
	size := d.metrics.WindowSize()
	open := size.OuterHeight-size.InnerHeight > d.threshold ||
		size.OuterWidth-size.InnerWidth > d.threshold

	d.mu.Lock()
	transition := open && !d.open
	d.open = open
	d.mu.Unlock()

	if transition {
		d.onOpen()
	}
	return open
}

func (d *DevtoolsMonitor) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// InsecureTransport reports whether baseURL would send credentials in clear
// text to something other than the local machine.
func InsecureTransport(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return u.Scheme != "https" && host != "localhost" && host != "127.0.0.1"
}
