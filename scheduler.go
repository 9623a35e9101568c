package spdy

import (
	"sync"
	"time"
)

// Scheduler is the timer service used for idle timeouts, pings and other
// delayed tasks. Outstanding timers are cancelled in bulk when the owning
// Factory stops.
type Scheduler interface {
	// Schedule runs task after delay unless cancelled first.
	Schedule(delay time.Duration, task func()) *ScheduledTask
}

// ScheduledTask is a handle to a pending timer.
type ScheduledTask struct {
	timer     *time.Timer
	scheduler *timerScheduler
}

// Cancel stops the task if it hasn't fired yet and reports whether it did.
func (t *ScheduledTask) Cancel() bool {
	stopped := t.timer.Stop()
	t.scheduler.remove(t)
	return stopped
}

type timerScheduler struct {
	mx      sync.Mutex
	pending map[*ScheduledTask]struct{}
	stopped bool
}

func newScheduler() *timerScheduler {
	return &timerScheduler{pending: make(map[*ScheduledTask]struct{})}
}

func (s *timerScheduler) Schedule(delay time.Duration, task func()) *ScheduledTask {
	t := &ScheduledTask{scheduler: s}
	s.mx.Lock()
	if s.stopped {
		s.mx.Unlock()
		// fire nothing after stop; hand back an already-expired handle
		t.timer = time.NewTimer(0)
		t.timer.Stop()
		return t
	}
	t.timer = time.AfterFunc(delay, func() {
		s.remove(t)
		runTask(task)
	})
	s.pending[t] = struct{}{}
	s.mx.Unlock()
	return t
}

func (s *timerScheduler) remove(t *ScheduledTask) {
	s.mx.Lock()
	delete(s.pending, t)
	s.mx.Unlock()
}

func (s *timerScheduler) stop() error {
	s.mx.Lock()
	s.stopped = true
	for t := range s.pending {
		t.timer.Stop()
		delete(s.pending, t)
	}
	s.mx.Unlock()
	return nil
}
