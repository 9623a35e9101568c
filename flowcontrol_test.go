package spdy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAccounting(t *testing.T) {
	w := newWindow(10)
	assert.Equal(t, 10, w.current())

	w.sub(4)
	assert.Equal(t, 6, w.current())

	w.add(3)
	assert.Equal(t, 9, w.current())

	// overdrawing must not fault, the window just goes negative
	w.sub(20)
	assert.Equal(t, -11, w.current())

	w.add(11)
	assert.Equal(t, 0, w.current())
}

func TestWindowSetPreservesInFlight(t *testing.T) {
	w := newWindow(100)
	w.sub(40) // 60 left, 40 in flight
	w.set(50) // shrink initial from 100 to 50
	assert.Equal(t, 10, w.current())

	w.set(20)
	assert.Equal(t, -20, w.current(), "Shrinking below in-flight data should go negative, not fault")
}

func TestWindowAwaitCredit(t *testing.T) {
	w := newWindow(1)
	assert.NoError(t, w.awaitCredit(time.Time{}), "Positive window should not block")

	w.sub(5)
	err := w.awaitCredit(time.Now().Add(25 * time.Millisecond))
	assert.Equal(t, ErrTimeout, err, "Negative window should time out when no credit arrives")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, w.awaitCredit(time.Now().Add(time.Second)))
	}()
	time.Sleep(10 * time.Millisecond)
	w.add(10)
	wg.Wait()

	w.close()
	assert.Equal(t, ErrSessionClosed, w.awaitCredit(time.Time{}), "Closed window should release blocked senders")
}

func TestWindowCreditNeverLost(t *testing.T) {
	// hammer the race between a sender arming its wait and the credit
	// arriving; the sender must always observe the credit
	w := newWindow(1)
	for i := 0; i < 10000; i++ {
		w.sub(1)
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.awaitCredit(time.Now().Add(5 * time.Second))
		}()
		w.add(1)
		if err := <-errCh; err != nil {
			t.Fatalf("sender missed credit on iteration %d with window=%d: %v", i, w.current(), err)
		}
	}
}

func TestFlowControlStrategyByVersion(t *testing.T) {
	fc2 := flowControlStrategyFor(Version2)
	assert.Equal(t, Version2, fc2.Version())
	fc3 := flowControlStrategyFor(Version3)
	assert.Equal(t, Version3, fc3.Version())

	// v3 enforces, v2 only accounts
	fc2.SetWindowSize(0)
	assert.NoError(t, fc2.AwaitCredit(time.Now().Add(10*time.Millisecond)))
	fc3.SetWindowSize(0)
	assert.Equal(t, ErrTimeout, fc3.AwaitCredit(time.Now().Add(10*time.Millisecond)))

	fc3.SetWindowSize(DefaultInitialWindowSize)
	fc3.DataSent(1000)
	assert.Equal(t, DefaultInitialWindowSize-1000, fc3.WindowSize())
	fc3.WindowUpdated(400)
	assert.Equal(t, DefaultInitialWindowSize-600, fc3.WindowSize())

	// a shrink that puts the window below in-flight data must be tolerated
	fc3.SetWindowSize(100)
	assert.True(t, fc3.WindowSize() < 0)
	fc3.Close()
}
