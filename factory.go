package spdy

import (
	"crypto/tls"
	"net"
	"runtime"
	"sync"
	"time"
)

// FactoryOpts configures a Factory. The zero value is usable; every field
// has a sensible default.
type FactoryOpts struct {
	// Pool - BufferPool shared by all connections. Defaults to a 1MB pool.
	Pool BufferPool

	// Executor - worker pool for connection callbacks. When nil the factory
	// owns a pool of WorkerCount workers and stops it on Stop.
	Executor Executor

	// WorkerCount - workers in the owned executor. If <= 0, defaults to the
	// core count.
	WorkerCount int

	// SelectorCount - reactor selector loops. If <= 0, defaults to a
	// heuristic based on core count.
	SelectorCount int

	// AcceptorCount - accept loops per wrapped listener. If <= 0, defaults
	// to a heuristic based on core count.
	AcceptorCount int

	// TLSConfig - when set, connects perform a TLS handshake with
	// application-protocol negotiation before a connection is built.
	TLSConfig *tls.Config

	// IdleTimeout - endpoints idle longer than this are closed. If <= 0,
	// defaults to 30s. Clients may override per client.
	IdleTimeout time.Duration

	// InitialWindowSize - flow-control window for new sessions. If <= 0,
	// defaults to 65536.
	InitialWindowSize int
}

func defaultSelectorCount() int {
	n := (runtime.NumCPU() + 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}

func defaultAcceptorCount() int {
	n := runtime.NumCPU() / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Factory is the process-wide owner of the shared resources every
// connection needs (buffer pool, executor, scheduler, TLS config, reactor)
// and of the live-session set used for coordinated shutdown. It has an
// explicit Start/Stop lifecycle; sessions may only be registered while it is
// running.
type Factory struct {
	pool              BufferPool
	executor          Executor
	scheduler         *timerScheduler
	reactor           *reactor
	tlsConfig         *tls.Config
	idleTimeout       time.Duration
	initialWindowSize int
	acceptorCount     int

	registry *connectionFactoryRegistry

	lc         lifecycle
	sessionsMx sync.Mutex
	sessions   map[*Session]struct{}
}

// NewFactory builds a stopped Factory from opts.
func NewFactory(opts *FactoryOpts) *Factory {
	if opts == nil {
		opts = &FactoryOpts{}
	}
	pool := opts.Pool
	if pool == nil {
		pool = NewBufferPool(1024 * 1024)
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	initialWindowSize := opts.InitialWindowSize
	if initialWindowSize <= 0 {
		initialWindowSize = DefaultInitialWindowSize
	}
	f := &Factory{
		pool:              pool,
		tlsConfig:         opts.TLSConfig,
		idleTimeout:       idleTimeout,
		initialWindowSize: initialWindowSize,
		acceptorCount:     opts.AcceptorCount,
		registry:          newConnectionFactoryRegistry(),
		sessions:          make(map[*Session]struct{}),
	}
	executor := opts.Executor
	if executor == nil {
		owned := newWorkerPool(opts.WorkerCount)
		f.lc.onStop(owned.stop)
		executor = owned
	}
	f.executor = executor
	f.scheduler = newScheduler()
	f.lc.onStop(f.scheduler.stop)
	f.reactor = newReactor(opts.SelectorCount, executor)
	f.lc.onStop(f.reactor.stop)

	f.registry.put(ProtocolSPDY2, &sessionConnectionFactory{factory: f, version: Version2})
	f.registry.put(ProtocolSPDY3, &sessionConnectionFactory{factory: f, version: Version3})

	log.Debugf("Initialized Factory with   idleTimeout: %v   initialWindowSize: %v   tls: %v",
		idleTimeout, initialWindowSize, opts.TLSConfig != nil)
	return f
}

// Start moves the factory to the running state. Connects and session
// registration are only accepted while running.
func (f *Factory) Start() error {
	return f.lc.start()
}

// Stop broadcasts GoAway to every live session exactly once, clears the
// live-session set without waiting for acknowledgments, then shuts down the
// owned resources in reverse dependency order.
func (f *Factory) Stop() error {
	return f.lc.stop(f.closeSessions)
}

// Running reports whether the factory is in the running state.
func (f *Factory) Running() bool {
	return f.lc.isRunning()
}

func (f *Factory) closeSessions() {
	f.sessionsMx.Lock()
	live := make([]*Session, 0, len(f.sessions))
	for s := range f.sessions {
		live = append(live, s)
	}
	f.sessions = make(map[*Session]struct{})
	f.sessionsMx.Unlock()
	for _, s := range live {
		if err := s.GoAway(); err != nil {
			log.Debugf("Unable to send GoAway during stop: %v", err)
		}
	}
}

// sessionOpened registers a live session. It reports whether the session
// was actually added; additions are refused once the factory has left the
// running state, preventing races between shutdown iteration and session
// churn.
func (f *Factory) sessionOpened(s *Session) bool {
	if !f.lc.isRunning() {
		return false
	}
	f.sessionsMx.Lock()
	_, already := f.sessions[s]
	if !already {
		f.sessions[s] = struct{}{}
	}
	f.sessionsMx.Unlock()
	return !already
}

// sessionClosed removes a session from the live set at most once, and only
// while the factory is running (shutdown clears the set itself).
func (f *Factory) sessionClosed(s *Session) bool {
	if !f.lc.isRunning() {
		return false
	}
	f.sessionsMx.Lock()
	_, found := f.sessions[s]
	if found {
		delete(f.sessions, s)
	}
	f.sessionsMx.Unlock()
	return found
}

// Sessions snapshots the live sessions.
func (f *Factory) Sessions() []*Session {
	f.sessionsMx.Lock()
	out := make([]*Session, 0, len(f.sessions))
	for s := range f.sessions {
		out = append(out, s)
	}
	f.sessionsMx.Unlock()
	return out
}

// Scheduler exposes the factory's timer service.
func (f *Factory) Scheduler() Scheduler {
	return f.scheduler
}

// NewClient builds a client for the given protocol version, inheriting the
// factory's defaults until overridden.
func (f *Factory) NewClient(version uint16) *Client {
	return &Client{
		version:           version,
		factory:           f,
		registry:          newConnectionFactoryRegistry(),
		idleTimeout:       -1,
		initialWindowSize: f.initialWindowSize,
	}
}

// PutConnectionFactory registers a factory-level connection factory.
func (f *Factory) PutConnectionFactory(protocol string, factory ConnectionFactory) {
	f.registry.put(protocol, factory)
}

// RemoveConnectionFactory drops a factory-level entry and returns it.
func (f *Factory) RemoveConnectionFactory(protocol string) ConnectionFactory {
	return f.registry.remove(protocol)
}

// GetConnectionFactory returns the factory-level entry for protocol, or nil.
func (f *Factory) GetConnectionFactory(protocol string) ConnectionFactory {
	return f.registry.get(protocol)
}

// onConnected runs on the executor when a client connect becomes ready. It
// builds the endpoint, negotiates if TLS is configured, constructs the
// connection via the registry and settles the promise. Construction panics
// are recovered and used to fail the promise so they can never fire
// uncaught on a worker.
func (f *Factory) onConnected(conn net.Conn, promise *SessionPromise) {
	defer func() {
		if p := recover(); p != nil {
			err := log.Errorf("Panic building connection: %v", p)
			promise.fail(err)
			conn.Close()
		}
	}()

	client := promise.client
	if f.tlsConfig != nil {
		f.negotiate(conn, promise)
		return
	}

	ep := newEndPoint(conn, client.effectiveIdleTimeout())
	protocol := client.SelectProtocol(nil)
	f.buildConnection(ep, protocol, promise)
}

// buildConnection looks the protocol up in the two-tier registry and asks
// the matching factory to construct the connection. Errors fail the promise
// and close the endpoint.
func (f *Factory) buildConnection(ep *EndPoint, protocol string, promise *SessionPromise) {
	cf := promise.client.GetConnectionFactory(protocol)
	if cf == nil {
		promise.fail(ErrNoProtocol)
		ep.Close()
		return
	}
	c, err := cf.NewConnection(ep, promise)
	if err != nil {
		promise.fail(err)
		ep.Close()
		return
	}
	c.Opened()
}

// sessionConnectionFactory is the default ConnectionFactory: it wires the
// buffer pool, a generator/parser pair with matched compression, and a
// session with the flow-control strategy for its protocol version.
type sessionConnectionFactory struct {
	factory *Factory
	version uint16
}

func (cf *sessionConnectionFactory) NewConnection(ep *EndPoint, promise *SessionPromise) (Connection, error) {
	// on the client side the session speaks the client's version; the
	// registry key only picked the factory
	version := cf.version
	if promise != nil {
		version = promise.client.version
	}
	_, err := cf.factory.buildSession(ep, version, promise, nil)
	if err != nil {
		return nil, err
	}
	return ep.Connection(), nil
}

// buildSession is the single construction path shared by the client connect
// pipeline and the accept side. The promise is nil on the accept side.
func (f *Factory) buildSession(ep *EndPoint, version uint16, promise *SessionPromise, listener SessionFrameListener) (*Session, error) {
	compression := StandardCompressionFactory{}
	parser := NewParser(f.pool, compression.NewDecompressor())
	generator := NewGenerator(f.pool, compression.NewCompressor())
	conn := newSessionConnection(ep, f.pool, parser, generator, f)
	ep.setConnection(conn)

	client := promise != nil
	windowSize := f.initialWindowSize
	if client {
		listener = promise.listener
		windowSize = promise.client.InitialWindowSize()
	}

	session := newSession(version, conn, f, listener, flowControlStrategyFor(version), f.executor, client)
	session.SetWindowSize(windowSize)
	parser.SetListener(session)
	conn.setSession(session)

	if client && !promise.complete(session) {
		// lost the race against cancellation; the completion is dropped and
		// the socket disposed of here
		ep.Close()
		return nil, ErrConnectCancelled
	}
	f.sessionOpened(session)
	return session, nil
}
