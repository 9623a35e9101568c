package spdy

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromiseCompleteOnce(t *testing.T) {
	p := newSessionPromise(nil, nil)
	assert.Equal(t, PromisePending, p.State())

	s := &Session{}
	assert.True(t, p.complete(s))
	assert.False(t, p.complete(&Session{}), "Second completion should lose")
	assert.False(t, p.fail(ErrTimeout), "Failure after completion should lose")
	assert.Equal(t, PromiseCompleted, p.State())

	got, err := p.Session(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestPromiseFail(t *testing.T) {
	p := newSessionPromise(nil, nil)
	assert.True(t, p.fail(ErrNoProtocol))
	assert.False(t, p.complete(&Session{}))
	_, err := p.Session(time.Second)
	assert.Equal(t, ErrNoProtocol, err)
}

func TestPromiseIndependence(t *testing.T) {
	p1 := newSessionPromise(nil, nil)
	p2 := newSessionPromise(nil, nil)

	assert.True(t, p1.complete(&Session{}))
	assert.Equal(t, PromisePending, p2.State(), "Completing one promise should never touch another")

	assert.True(t, p2.fail(ErrTimeout))
	assert.Equal(t, PromiseCompleted, p1.State())
	assert.Equal(t, PromiseFailed, p2.State())
}

func TestPromiseCancel(t *testing.T) {
	p := newSessionPromise(nil, nil)
	var socketClosed int32
	p.bindCanceller(func() {
		atomic.StoreInt32(&socketClosed, 1)
	})

	assert.True(t, p.Cancel(), "Cancellation always succeeds")
	assert.Equal(t, int32(1), atomic.LoadInt32(&socketClosed), "Cancel should close the in-flight socket")
	assert.True(t, p.Cancelled())

	// a racing completion after cancel is silently dropped
	assert.False(t, p.complete(&Session{}))
	assert.Equal(t, PromiseCancelled, p.State())

	_, err := p.Session(time.Second)
	assert.Equal(t, ErrConnectCancelled, err)

	// cancelling again still reports success
	assert.True(t, p.Cancel())
}

func TestPromiseCancelAfterComplete(t *testing.T) {
	p := newSessionPromise(nil, nil)
	p.complete(&Session{})
	assert.True(t, p.Cancel(), "Cancel after completion still reports success to the canceller")
	assert.Equal(t, PromiseCompleted, p.State(), "Only one terminal state is ever observable")
}

func TestPromiseCancellerBoundAfterCancel(t *testing.T) {
	p := newSessionPromise(nil, nil)
	assert.True(t, p.Cancel())

	// the reactor may bind the canceller after cancellation already
	// happened; it must run immediately so the socket still gets closed
	var closed int32
	p.bindCanceller(func() { atomic.AddInt32(&closed, 1) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestPromiseTimeout(t *testing.T) {
	p := newSessionPromise(nil, nil)
	_, err := p.Session(20 * time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
}
