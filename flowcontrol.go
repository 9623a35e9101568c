package spdy

import (
	"sync"
	"time"
)

// window models a signed flow-control credit counter. It may go transiently
// negative when data already in flight exceeds a newly reduced window; that
// is tolerated, never a fault. Senders that need to block on credit wait for
// the window to become positive again.
type window struct {
	size    int
	initial int
	// signal is closed to broadcast a non-positive -> positive transition
	// (or closure) and then replaced. Waiters snapshot it under mx together
	// with the size check, so a credit can never slip between the check and
	// the wait.
	signal chan struct{}
	closed bool
	mx     sync.Mutex
}

func newWindow(initial int) *window {
	return &window{
		size:    initial,
		initial: initial,
		signal:  make(chan struct{}),
	}
}

func (w *window) current() int {
	w.mx.Lock()
	size := w.size
	w.mx.Unlock()
	return size
}

// set changes the initial window size, e.g. when the peer's SETTINGS change
// it. The difference against the previous initial size is applied as a delta
// rather than overwriting the value, so in-flight accounting survives.
func (w *window) set(size int) {
	w.mx.Lock()
	delta := size - w.initial
	w.initial = size
	w.mx.Unlock()
	w.add(delta)
}

// add credits the window, waking any blocked senders on a transition to
// positive.
func (w *window) add(delta int) {
	w.mx.Lock()
	wasNonPositive := w.size <= 0
	w.size += delta
	if wasNonPositive && w.size > 0 && !w.closed {
		close(w.signal)
		w.signal = make(chan struct{})
	}
	w.mx.Unlock()
}

// sub debits the window without blocking. The result may be negative.
func (w *window) sub(delta int) {
	w.add(-delta)
}

// awaitCredit blocks until the window is positive, the deadline passes or
// the window closes. A zero deadline waits indefinitely.
func (w *window) awaitCredit(deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}
	for {
		w.mx.Lock()
		if w.closed {
			w.mx.Unlock()
			return ErrSessionClosed
		}
		if w.size > 0 {
			w.mx.Unlock()
			return nil
		}
		signal := w.signal
		w.mx.Unlock()
		select {
		case <-signal:
			// state changed, re-check
		case <-timeout:
			return ErrTimeout
		}
	}
}

// close releases any blocked senders.
func (w *window) close() {
	w.mx.Lock()
	if !w.closed {
		w.closed = true
		close(w.signal)
	}
	w.mx.Unlock()
}

// FlowControlStrategy governs the session-level send window. The strategy is
// selected purely by protocol version at session construction: version 2 has
// no real flow control on the wire so its strategy only accounts, version 3
// enforces the window by stalling senders that run out of credit.
type FlowControlStrategy interface {
	// Version is the protocol version this strategy serves.
	Version() uint16

	// WindowSize is the current send window in bytes. May be negative.
	WindowSize() int

	// SetWindowSize (re)initializes the window, preserving in-flight debits.
	SetWindowSize(size int)

	// DataSent debits the window by n bytes.
	DataSent(n int)

	// WindowUpdated credits the window by delta bytes on receipt of a
	// window-update signal.
	WindowUpdated(delta int)

	// AwaitCredit blocks until the window can absorb a send, honoring the
	// strategy's enforcement rules. A zero deadline waits indefinitely.
	AwaitCredit(deadline time.Time) error

	// Close releases any senders blocked on credit.
	Close()
}

// flowControlStrategyFor builds the strategy matching the given protocol
// version.
func flowControlStrategyFor(version uint16) FlowControlStrategy {
	switch version {
	case Version3:
		return &windowFlowControl{version: version, window: newWindow(DefaultInitialWindowSize), enforce: true}
	default:
		return &windowFlowControl{version: version, window: newWindow(DefaultInitialWindowSize)}
	}
}

type windowFlowControl struct {
	version uint16
	window  *window
	enforce bool
}

func (fc *windowFlowControl) Version() uint16 {
	return fc.version
}

func (fc *windowFlowControl) WindowSize() int {
	return fc.window.current()
}

func (fc *windowFlowControl) SetWindowSize(size int) {
	fc.window.set(size)
}

func (fc *windowFlowControl) DataSent(n int) {
	fc.window.sub(n)
}

func (fc *windowFlowControl) WindowUpdated(delta int) {
	fc.window.add(delta)
}

func (fc *windowFlowControl) AwaitCredit(deadline time.Time) error {
	if !fc.enforce {
		return nil
	}
	return fc.window.awaitCredit(deadline)
}

func (fc *windowFlowControl) Close() {
	fc.window.close()
}
