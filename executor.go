package spdy

import (
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/getlantern/ops"
)

// Executor runs application-level callbacks (frame processing,
// connection-established callbacks, negotiation steps) off the reactor's
// loops so that slow application code can never stall readiness dispatch.
type Executor interface {
	// Submit schedules a task for execution. Submit never blocks; tasks
	// queue without bound.
	Submit(task func())
}

// workerPool is the default Executor: a fixed set of worker goroutines
// draining an unbounded FIFO task queue.
type workerPool struct {
	mx     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	closed bool
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &workerPool{tasks: queue.New()}
	p.cond = sync.NewCond(&p.mx)
	for i := 0; i < workers; i++ {
		ops.Go(p.work)
	}
	return p
}

func (p *workerPool) Submit(task func()) {
	p.mx.Lock()
	if p.closed {
		p.mx.Unlock()
		log.Debugf("Discarding task submitted after executor stop")
		return
	}
	p.tasks.Add(task)
	p.mx.Unlock()
	p.cond.Signal()
}

func (p *workerPool) work() {
	for {
		p.mx.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 && p.closed {
			p.mx.Unlock()
			return
		}
		task := p.tasks.Remove().(func())
		p.mx.Unlock()
		runTask(task)
	}
}

func runTask(task func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Panic in submitted task: %v", p)
		}
	}()
	task()
}

// stop lets in-flight tasks finish, drops nothing already queued, and
// releases the workers once the queue drains.
func (p *workerPool) stop() error {
	p.mx.Lock()
	p.closed = true
	p.mx.Unlock()
	p.cond.Broadcast()
	return nil
}

// serialExecutor runs tasks on an underlying Executor while preserving
// submission order, with at most one task in flight. Each session uses one
// to keep frame callbacks ordered the way bytes arrived on the wire.
type serialExecutor struct {
	executor Executor
	mx       sync.Mutex
	pending  *queue.Queue
	draining bool
}

func newSerialExecutor(executor Executor) *serialExecutor {
	return &serialExecutor{executor: executor, pending: queue.New()}
}

func (s *serialExecutor) Submit(task func()) {
	s.mx.Lock()
	s.pending.Add(task)
	if s.draining {
		s.mx.Unlock()
		return
	}
	s.draining = true
	s.mx.Unlock()
	s.executor.Submit(s.drain)
}

func (s *serialExecutor) drain() {
	for {
		s.mx.Lock()
		if s.pending.Length() == 0 {
			s.draining = false
			s.mx.Unlock()
			return
		}
		task := s.pending.Remove().(func())
		s.mx.Unlock()
		runTask(task)
	}
}
