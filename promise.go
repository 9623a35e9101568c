package spdy

import (
	"sync"
	"time"
)

// PromiseState is the observable state of a SessionPromise.
type PromiseState int32

const (
	PromisePending PromiseState = iota
	PromiseCompleted
	PromiseFailed
	PromiseCancelled
)

// SessionPromise is the one-shot result handle returned immediately by
// Connect. Completion is single-writer: at most one of completed/failed ever
// takes effect, and a completion racing a cancellation is silently dropped.
//
// The promise also carries the typed context for the connect attempt (the
// originating client and the caller's frame listener), so the reactor never
// needs to downcast an opaque attachment.
type SessionPromise struct {
	client   *Client
	listener SessionFrameListener

	mx        sync.Mutex
	state     PromiseState
	session   *Session
	err       error
	done      chan struct{}
	canceller func()
}

func newSessionPromise(client *Client, listener SessionFrameListener) *SessionPromise {
	return &SessionPromise{
		client:   client,
		listener: listener,
		done:     make(chan struct{}),
	}
}

// bindCanceller attaches the hook that aborts the in-flight connect (closing
// the still-connecting socket). If the promise was already cancelled the
// hook runs immediately.
func (p *SessionPromise) bindCanceller(cancel func()) {
	p.mx.Lock()
	cancelled := p.state == PromiseCancelled
	if !cancelled {
		p.canceller = cancel
	}
	p.mx.Unlock()
	if cancelled {
		cancel()
	}
}

// complete fulfills the promise. It reports whether the session was
// accepted; completion after cancellation is a no-op and the caller owns
// disposal of the session's socket.
func (p *SessionPromise) complete(s *Session) bool {
	p.mx.Lock()
	if p.state != PromisePending {
		p.mx.Unlock()
		return false
	}
	p.state = PromiseCompleted
	p.session = s
	p.mx.Unlock()
	close(p.done)
	return true
}

// fail moves the promise to the failed state. Failing after completion or
// cancellation is a no-op.
func (p *SessionPromise) fail(err error) bool {
	p.mx.Lock()
	if p.state != PromisePending {
		p.mx.Unlock()
		return false
	}
	p.state = PromiseFailed
	p.err = err
	p.mx.Unlock()
	close(p.done)
	return true
}

// Cancel aborts a pending connect, closing the underlying socket. It always
// reports success from the canceller's viewpoint, even when the promise had
// already reached a terminal state or closing the socket fails.
func (p *SessionPromise) Cancel() bool {
	p.mx.Lock()
	if p.state != PromisePending {
		p.mx.Unlock()
		return true
	}
	p.state = PromiseCancelled
	cancel := p.canceller
	p.mx.Unlock()
	if cancel != nil {
		// close errors during cancel are swallowed: cancellation succeeds
		cancel()
	}
	close(p.done)
	return true
}

// State returns the promise's current state.
func (p *SessionPromise) State() PromiseState {
	p.mx.Lock()
	state := p.state
	p.mx.Unlock()
	return state
}

// Cancelled reports whether the promise was cancelled.
func (p *SessionPromise) Cancelled() bool {
	return p.State() == PromiseCancelled
}

// Session waits up to timeout for the promise to settle and returns the
// session or the terminal error. A timeout of 0 waits indefinitely.
func (p *SessionPromise) Session(timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		<-p.done
	} else {
		t := time.NewTimer(timeout)
		select {
		case <-p.done:
			t.Stop()
		case <-t.C:
			return nil, ErrTimeout
		}
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	switch p.state {
	case PromiseCompleted:
		return p.session, nil
	case PromiseFailed:
		return nil, p.err
	default:
		return nil, ErrConnectCancelled
	}
}

// Done exposes a channel that closes when the promise settles.
func (p *SessionPromise) Done() <-chan struct{} {
	return p.done
}
