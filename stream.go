package spdy

import (
	"sync"
)

// stream is the per-stream bookkeeping a session keeps: its identifier and
// its own flow-control window. Stream semantics above that (headers,
// request/response mapping) belong to higher layers; what matters here is
// that stream lifetimes are bounded by the session's.
type stream struct {
	id      uint32
	session *Session
	window  *window

	mx     sync.Mutex
	closed bool
}

func newStream(id uint32, s *Session) *stream {
	return &stream{
		id:      id,
		session: s,
		window:  newWindow(DefaultInitialWindowSize),
	}
}

func (c *stream) close() {
	c.mx.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mx.Unlock()
	if !wasClosed {
		c.window.close()
	}
}
