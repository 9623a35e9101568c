package spdy

import (
	"crypto/tls"
	"net"
	"sync"
)

// negotiator performs the TLS handshake for a client connect and picks the
// application protocol cooperatively with the peer. The negotiation listener
// (the endpoint the negotiated connection is built on) is an explicit field
// owned for the lifetime of this negotiator and cleared exactly once when
// negotiation finishes or the TLS layer closes; there is no process-wide
// engine-to-listener table.
type negotiator struct {
	factory *Factory
	promise *SessionPromise
	raw     net.Conn
	engine  *tls.Conn

	mx       sync.Mutex
	listener *EndPoint
	cleared  bool
}

// negotiate wraps the raw socket in a client-mode TLS layer offering the
// client's registered protocols and drives the handshake on the calling
// (executor) goroutine. On success the negotiated protocol drives the
// registry lookup of the connection factory; on failure the promise is
// failed and the raw socket closed.
func (f *Factory) negotiate(raw net.Conn, promise *SessionPromise) {
	client := promise.client
	cfg := f.tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = client.advertisedProtocols()
	}
	n := &negotiator{factory: f, promise: promise, raw: raw, engine: tls.Client(raw, cfg)}
	n.run()
}

func (n *negotiator) run() {
	if err := n.engine.Handshake(); err != nil {
		n.raw.Close()
		n.promise.fail(log.Errorf("TLS handshake failed: %v", err))
		return
	}

	client := n.promise.client
	negotiated := n.engine.ConnectionState().NegotiatedProtocol
	var serverOffered []string
	if negotiated != "" {
		serverOffered = []string{negotiated}
	}
	protocol := client.SelectProtocol(serverOffered)
	if protocol == "" {
		n.close()
		n.promise.fail(ErrNoProtocol)
		return
	}

	ep := newEndPoint(n.engine, client.effectiveIdleTimeout())
	n.mx.Lock()
	n.listener = ep
	n.mx.Unlock()

	n.factory.buildConnection(ep, protocol, n.promise)

	// construction done, the engine-to-listener association must not outlive
	// negotiation
	n.clearListener()
}

// clearListener detaches the negotiation listener, exactly once.
func (n *negotiator) clearListener() *EndPoint {
	n.mx.Lock()
	defer n.mx.Unlock()
	if n.cleared {
		return nil
	}
	n.cleared = true
	ep := n.listener
	n.listener = nil
	return ep
}

func (n *negotiator) close() {
	n.clearListener()
	n.engine.Close()
}
