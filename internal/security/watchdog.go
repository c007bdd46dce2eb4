package security

import (
	"sync"
	"time"
)

// Watchdog fires its callbacks once after timeout elapses without a Reset.
type Watchdog struct {
	timeout time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	callbacks []func()
	stopped   bool

	// generation invalidates timers that fired while a Reset was pending.
	generation uint64
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout}
}

// OnTimeout registers cb to run, on the timer goroutine, when the watchdog
// fires.
func (w *Watchdog) OnTimeout(cb func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Reset arms the watchdog, restarting the countdown if it was running.
// It is a no-op after Stop.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.generation++
	gen := w.generation
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

// Stop disarms the watchdog permanently.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	w.generation++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if w.stopped || gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	callbacks := append([]func(){}, w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
