package spdy

import (
	"sync"

	"github.com/getlantern/ops"
)

// Connection is the protocol byte-handling logic bound 1:1 to an EndPoint.
// Implementations receive Opened once the endpoint is ready and OnClose
// exactly once when it goes away.
type Connection interface {
	// Opened tells the connection its endpoint is live; decoding may begin.
	Opened()

	// OnClose notifies the connection that its endpoint closed, so owners
	// can clean up (e.g. session deregistration).
	OnClose()
}

// sessionConnection pumps bytes between an EndPoint and a Session's
// generator/parser pair.
type sessionConnection struct {
	ep        *EndPoint
	pool      BufferPool
	parser    *Parser
	generator *Generator
	factory   *Factory

	writeMx   sync.Mutex
	sessionMx sync.RWMutex
	session   *Session
	closeOnce sync.Once
}

func newSessionConnection(ep *EndPoint, pool BufferPool, parser *Parser, generator *Generator, factory *Factory) *sessionConnection {
	return &sessionConnection{
		ep:        ep,
		pool:      pool,
		parser:    parser,
		generator: generator,
		factory:   factory,
	}
}

func (c *sessionConnection) setSession(s *Session) {
	c.sessionMx.Lock()
	c.session = s
	c.sessionMx.Unlock()
}

func (c *sessionConnection) getSession() *Session {
	c.sessionMx.RLock()
	s := c.session
	c.sessionMx.RUnlock()
	return s
}

func (c *sessionConnection) Opened() {
	ops.Go(c.readLoop)
}

// readLoop drives the parser against the endpoint. Frame callbacks fire on
// this goroutine in wire order; anything slow is handed to the executor by
// the session's dispatcher.
func (c *sessionConnection) readLoop() {
	for {
		if err := c.parser.Parse(c.ep); err != nil {
			log.Debugf("Read loop ending for %v: %v", c.ep.RemoteAddr(), err)
			c.ep.Close()
			return
		}
	}
}

func (c *sessionConnection) writeControlFrame(f *ControlFrame) error {
	b, err := c.generator.ControlFrame(f)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *sessionConnection) writeDataFrame(f *DataFrame) error {
	b, err := c.generator.DataFrame(f)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *sessionConnection) write(b []byte) error {
	c.writeMx.Lock()
	_, err := c.ep.Flush(b)
	c.writeMx.Unlock()
	c.generator.Release(b)
	return err
}

func (c *sessionConnection) OnClose() {
	c.closeOnce.Do(func() {
		if s := c.getSession(); s != nil {
			s.onConnectionClosed()
		}
	})
}
