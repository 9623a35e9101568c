package spdy

import (
	"crypto/tls"
	"net"

	"github.com/getlantern/ops"
)

// ServerOpts configures the accept side of a factory.
type ServerOpts struct {
	// Version - protocol version for accepted sessions. Defaults to 2.
	Version uint16

	// Listener - frame listener installed on every accepted session.
	Listener SessionFrameListener

	// Acceptors - number of accept loops. If <= 0, defaults to a heuristic
	// based on core count.
	Acceptors int
}

// SessionListener yields the sessions accepted on a wrapped net.Listener.
type SessionListener struct {
	factory   *Factory
	wrapped   net.Listener
	sessionCh chan *Session
	errCh     chan error
}

// WrapListener arranges for sockets accepted on wrapped to be negotiated
// and bound to sessions using this factory's resources. When the factory
// carries a TLS config, accepted connections are handshaken in server mode
// and the negotiated protocol selects the connection factory; otherwise the
// default protocol applies. The factory must be running.
func (f *Factory) WrapListener(wrapped net.Listener, opts *ServerOpts) (*SessionListener, error) {
	if !f.lc.isRunning() {
		return nil, ErrFactoryNotRunning
	}
	if opts == nil {
		opts = &ServerOpts{}
	}
	version := opts.Version
	if version == 0 {
		version = Version2
	}
	l := &SessionListener{
		factory:   f,
		wrapped:   wrapped,
		sessionCh: make(chan *Session),
		errCh:     make(chan error, 1),
	}
	f.lc.onStop(l.closeWrapped)
	f.reactor.registerAccept(wrapped, opts.Acceptors, func(conn net.Conn) {
		l.onConn(conn, version, opts.Listener)
	}, func(err error) {
		select {
		case l.errCh <- err:
		default:
		}
	})
	return l, nil
}

// AcceptSession blocks until a session has been established on an accepted
// socket, or the listener fails.
func (l *SessionListener) AcceptSession() (*Session, error) {
	select {
	case s := <-l.sessionCh:
		return s, nil
	case err := <-l.errCh:
		return nil, err
	}
}

// Addr returns the wrapped listener's address.
func (l *SessionListener) Addr() net.Addr {
	return l.wrapped.Addr()
}

// Close closes the wrapped listener. Pending AcceptSession calls fail.
func (l *SessionListener) Close() error {
	select {
	case l.errCh <- ErrListenerClosed:
	default:
	}
	return l.wrapped.Close()
}

func (l *SessionListener) closeWrapped() error {
	// double closes during factory stop are fine
	l.wrapped.Close()
	return nil
}

// onConn runs on the executor for each accepted socket.
func (l *SessionListener) onConn(conn net.Conn, version uint16, listener SessionFrameListener) {
	f := l.factory
	protocol := ProtocolSPDY2

	if f.tlsConfig != nil {
		cfg := f.tlsConfig.Clone()
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = f.registry.protocols()
		}
		engine := tls.Server(conn, cfg)
		if err := engine.Handshake(); err != nil {
			log.Errorf("TLS handshake failed for %v: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		if negotiated := engine.ConnectionState().NegotiatedProtocol; negotiated != "" {
			protocol = negotiated
		}
		conn = engine
	}

	ep := newEndPoint(conn, f.idleTimeout)
	cf := f.registry.get(protocol)
	if cf == nil {
		log.Errorf("No connection factory for negotiated protocol %q", protocol)
		ep.Close()
		return
	}
	if scf, ok := cf.(*sessionConnectionFactory); ok {
		if f.tlsConfig != nil {
			// under TLS the negotiated protocol decides the version
			version = scf.version
		}
		s, err := f.buildSession(ep, version, nil, listener)
		if err != nil {
			log.Errorf("Unable to build accepted session: %v", err)
			ep.Close()
			return
		}
		ep.Connection().Opened()
		// don't hold an executor worker hostage waiting for AcceptSession
		ops.Go(func() { l.sessionCh <- s })
		return
	}
	c, err := cf.NewConnection(ep, nil)
	if err != nil {
		log.Errorf("Unable to build accepted connection: %v", err)
		ep.Close()
		return
	}
	c.Opened()
}
