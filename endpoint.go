package spdy

import (
	"net"
	"sync"
	"time"

	"github.com/getlantern/idletiming"
)

// EndPoint binds one socket to its bound Connection and exposes the
// non-blocking style fill/flush surface the engine works against. At most
// one Connection is bound at a time; replacing it (e.g. for a protocol
// upgrade) hands off without losing buffered bytes.
type EndPoint struct {
	conn net.Conn
	raw  net.Conn

	mx         sync.RWMutex
	connection Connection
	pending    *buffer
	closed     bool
}

// newEndPoint wraps conn. When idleTimeout > 0 the endpoint tracks activity
// and closes itself once the connection has sat idle that long.
func newEndPoint(conn net.Conn, idleTimeout time.Duration) *EndPoint {
	e := &EndPoint{raw: conn, pending: newBuffer()}
	if idleTimeout > 0 {
		e.conn = idletiming.Conn(conn, idleTimeout, func() {
			log.Debugf("Closing idle endpoint to %v", conn.RemoteAddr())
		})
	} else {
		e.conn = conn
	}
	return e
}

// Fill reads available bytes into b, draining any bytes buffered across a
// connection handoff before touching the socket.
func (e *EndPoint) Fill(b []byte) (int, error) {
	if n := e.pending.read(b); n > 0 {
		return n, nil
	}
	return e.conn.Read(b)
}

// Read makes the endpoint usable as an io.Reader for the parser.
func (e *EndPoint) Read(b []byte) (int, error) {
	return e.Fill(b)
}

// Flush writes b fully to the socket.
func (e *EndPoint) Flush(b []byte) (int, error) {
	return e.conn.Write(b)
}

// Connection returns the currently bound connection.
func (e *EndPoint) Connection() Connection {
	e.mx.RLock()
	c := e.connection
	e.mx.RUnlock()
	return c
}

func (e *EndPoint) setConnection(c Connection) {
	e.mx.Lock()
	e.connection = c
	e.mx.Unlock()
}

// ReplaceConnection swaps the bound connection, buffering any bytes the old
// connection had read but not consumed so the new one sees them first. It
// returns the previous connection.
func (e *EndPoint) ReplaceConnection(c Connection, unconsumed []byte) Connection {
	e.mx.Lock()
	old := e.connection
	e.connection = c
	e.mx.Unlock()
	e.pending.write(unconsumed)
	return old
}

// LocalAddr returns the local address of the underlying socket.
func (e *EndPoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the underlying socket.
func (e *EndPoint) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

// Close closes the socket and notifies the bound connection exactly once.
func (e *EndPoint) Close() error {
	e.mx.Lock()
	if e.closed {
		e.mx.Unlock()
		return nil
	}
	e.closed = true
	c := e.connection
	e.mx.Unlock()

	err := e.conn.Close()
	if c != nil {
		c.OnClose()
	}
	return err
}
