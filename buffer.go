package spdy

import (
	"sync"
)

// buffer is a FIFO of byte chunks used by an endpoint to hold inbound bytes
// that were read but not yet consumed, in particular across a connection
// upgrade so that no buffered bytes are lost in the handoff.
type buffer struct {
	head *bufferEntry
	tail *bufferEntry
	size int
	mx   sync.Mutex
}

type bufferEntry struct {
	data []byte
	next *bufferEntry
}

func newBuffer() *buffer {
	return &buffer{}
}

// write appends a copy of p, so callers may reuse p immediately.
func (b *buffer) write(p []byte) {
	if len(p) == 0 {
		return
	}
	owned := make([]byte, len(p))
	copy(owned, p)
	b.mx.Lock()
	e := &bufferEntry{data: owned}
	if b.tail == nil {
		b.head = e
	} else {
		b.tail.next = e
	}
	b.tail = e
	b.size += len(owned)
	b.mx.Unlock()
}

// read drains up to len(p) buffered bytes without blocking and reports how
// many were copied. A return of 0 means the buffer is empty.
func (b *buffer) read(p []byte) (totalN int) {
	b.mx.Lock()
	for b.head != nil && totalN < len(p) {
		n := copy(p[totalN:], b.head.data)
		totalN += n
		b.size -= n
		if n < len(b.head.data) {
			b.head.data = b.head.data[n:]
			break
		}
		b.head = b.head.next
		if b.head == nil {
			b.tail = nil
		}
	}
	b.mx.Unlock()
	return
}

func (b *buffer) len() int {
	b.mx.Lock()
	size := b.size
	b.mx.Unlock()
	return size
}
