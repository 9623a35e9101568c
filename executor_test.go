package spdy

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	p := newWorkerPool(4)
	defer p.stop()

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			atomic.AddInt32(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.EqualValues(t, 100, atomic.LoadInt32(&count))
}

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	p := newWorkerPool(1)
	defer p.stop()

	p.Submit(func() { panic("boom") })

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panicking task")
	}
}

func TestWorkerPoolStopDiscardsNewTasks(t *testing.T) {
	p := newWorkerPool(1)
	assert.NoError(t, p.stop())

	ran := make(chan struct{}, 1)
	p.Submit(func() { ran <- struct{}{} })
	select {
	case <-ran:
		t.Fatal("task ran after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSerialExecutorPreservesOrder(t *testing.T) {
	p := newWorkerPool(8)
	defer p.stop()
	s := newSerialExecutor(p)

	var mx sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		i := i
		wg.Add(1)
		s.Submit(func() {
			mx.Lock()
			got = append(got, i)
			mx.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestSchedulerFiresAndCancels(t *testing.T) {
	s := newScheduler()
	defer s.stop()

	fired := make(chan struct{})
	s.Schedule(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never fired")
	}

	var ran int32
	task := s.Schedule(50*time.Millisecond, func() { atomic.AddInt32(&ran, 1) })
	assert.True(t, task.Cancel())
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&ran), "cancelled task must not fire")
}

func TestSchedulerStopCancelsOutstanding(t *testing.T) {
	s := newScheduler()
	var ran int32
	s.Schedule(20*time.Millisecond, func() { atomic.AddInt32(&ran, 1) })
	assert.NoError(t, s.stop())
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&ran), "stop should cancel outstanding timers")

	// scheduling after stop is inert
	s.Schedule(time.Millisecond, func() { atomic.AddInt32(&ran, 1) })
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&ran))
}
