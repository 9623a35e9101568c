package spdy

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getlantern/ops"
)

// reactor multiplexes connection establishment and acceptance across a small
// number of selector loops. Each selector owns a disjoint set of registered
// operations; registrations are spread round-robin. All completion callbacks
// are handed to the Executor, never run on a selector's own goroutine, so
// slow application code cannot stall registration and teardown.
type reactor struct {
	selectors []*selector
	executor  Executor
	next      uint32
}

func newReactor(numSelectors int, executor Executor) *reactor {
	if numSelectors <= 0 {
		numSelectors = defaultSelectorCount()
	}
	r := &reactor{executor: executor}
	for i := 0; i < numSelectors; i++ {
		r.selectors = append(r.selectors, newSelector(i, executor))
	}
	return r
}

func (r *reactor) chooseSelector() *selector {
	n := atomic.AddUint32(&r.next, 1)
	return r.selectors[int(n)%len(r.selectors)]
}

// registerConnect starts a non-blocking connect of addr, optionally bound to
// laddr, carrying the promise as the typed attachment. On connectability the
// socket is configured (Nagle off) and onConnected runs on the executor; on
// failure the promise is failed. Cancelling the promise aborts the attempt
// and closes the in-flight socket.
func (r *reactor) registerConnect(addr string, laddr net.Addr, promise *SessionPromise, onConnected func(net.Conn, *SessionPromise)) {
	r.chooseSelector().registerConnect(addr, laddr, promise, onConnected)
}

// registerAccept runs `acceptors` accept loops against l, dispatching each
// accepted socket to onAccepted via the executor. More acceptors only help
// when a single one cannot keep up with the accept rate.
func (r *reactor) registerAccept(l net.Listener, acceptors int, onAccepted func(net.Conn), onError func(error)) {
	if acceptors <= 0 {
		acceptors = defaultAcceptorCount()
	}
	s := r.chooseSelector()
	for i := 0; i < acceptors; i++ {
		s.registerAccept(l, onAccepted, onError)
	}
}

func (r *reactor) stop() error {
	for _, s := range r.selectors {
		s.stop()
	}
	return nil
}

// selector owns the registrations assigned to it and can abort them all on
// stop.
type selector struct {
	id       int
	executor Executor
	mx       sync.Mutex
	nextOp   uint64
	ops      map[uint64]*connectOp
	stopped  bool
}

func newSelector(id int, executor Executor) *selector {
	return &selector{id: id, executor: executor, ops: make(map[uint64]*connectOp)}
}

type connectOp struct {
	cancel  context.CancelFunc
	promise *SessionPromise
}

func (s *selector) registerConnect(addr string, laddr net.Addr, promise *SessionPromise, onConnected func(net.Conn, *SessionPromise)) {
	ctx, cancel := context.WithCancel(context.Background())
	op := &connectOp{cancel: cancel, promise: promise}

	s.mx.Lock()
	if s.stopped {
		s.mx.Unlock()
		cancel()
		promise.fail(ErrFactoryNotRunning)
		return
	}
	s.nextOp++
	id := s.nextOp
	s.ops[id] = op
	s.mx.Unlock()

	promise.bindCanceller(cancel)

	ops.Go(func() {
		d := net.Dialer{LocalAddr: laddr}
		conn, err := d.DialContext(ctx, "tcp", addr)
		aborted := ctx.Err() != nil
		// the dial is over either way, release the context
		cancel()
		if err != nil {
			s.deregister(id)
			if aborted {
				// cancellation or stop already settled the promise
				return
			}
			promise.fail(err)
			return
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		// From here cancellation must close the established socket instead
		// of aborting the dial.
		promise.bindCanceller(func() { conn.Close() })
		if promise.State() != PromisePending {
			// cancelled, or failed by a racing stop
			s.deregister(id)
			conn.Close()
			return
		}
		s.executor.Submit(func() {
			onConnected(conn, promise)
			s.deregister(id)
		})
	})
}

func (s *selector) registerAccept(l net.Listener, onAccepted func(net.Conn), onError func(error)) {
	ops.Go(func() {
		var tempDelay time.Duration // how long to sleep on accept failure
		for {
			conn, err := l.Accept()
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Temporary() {
					// delay code based on net/http.Server
					if tempDelay == 0 {
						tempDelay = 5 * time.Millisecond
					} else {
						tempDelay *= 2
					}
					if max := 1 * time.Second; tempDelay > max {
						tempDelay = max
					}
					log.Errorf("Accept error: %v; retrying in %v", err, tempDelay)
					time.Sleep(tempDelay)
					continue
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			tempDelay = 0
			accepted := conn
			s.executor.Submit(func() { onAccepted(accepted) })
		}
	})
}

func (s *selector) deregister(id uint64) {
	s.mx.Lock()
	delete(s.ops, id)
	s.mx.Unlock()
}

// stop aborts every registered op and settles its promise, so no consumer is
// left suspended on a connect that can no longer finish.
func (s *selector) stop() {
	s.mx.Lock()
	s.stopped = true
	pending := make([]*connectOp, 0, len(s.ops))
	for _, op := range s.ops {
		pending = append(pending, op)
	}
	s.ops = make(map[uint64]*connectOp)
	s.mx.Unlock()
	for _, op := range pending {
		op.cancel()
		op.promise.fail(ErrFactoryNotRunning)
	}
}
