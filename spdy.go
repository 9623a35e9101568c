// Package spdy implements the connection-establishment and
// session-multiplexing engine for a binary, framed, multi-stream protocol
// in the SPDY family, spoken over TCP and optionally under TLS with
// application-protocol negotiation.
//
// The package covers how connections come into existence, how they are
// negotiated and bound to a protocol handler, how a session is kept alive
// and torn down, and how flow control governs data exchange across a
// multiplexed connection. Frame semantics above that boundary (HTTP
// mapping, stream routing) belong to higher layers.
//
// Definitions:
//
//   physical connection - an underlying (e.g. TCP) connection
//
//   endpoint            - the per-socket I/O abstraction bound to one
//                         connection handler at a time
//
//   connection          - protocol byte-handling logic bound to an endpoint,
//                         decoding inbound bytes into frames and encoding
//                         outbound frames
//
//   session             - unit for managing multiplexed streams, corresponds
//                         1 to 1 with a physical connection and owns the
//                         frame generator/parser pair and flow control
//
//   factory             - process-wide owner of shared resources (buffer
//                         pool, executor, scheduler, TLS config, reactor)
//                         and the live-session registry, with an explicit
//                         start/stop lifecycle
//
// Lifecycle of a client connection:
//
//   Connect  --> reactor dials  --> endpoint built --> protocol negotiated
//            --> connection built via factory registry --> session built
//            --> promise completed --> session registered with factory
//
// Inbound bytes flow endpoint -> connection -> parser -> session; outbound
// frames flow session -> generator -> endpoint.
//
// Framing:
//
//   All numeric fields are unsigned integers in BigEndian format. Frames
//   come in two shapes, distinguished by the high bit of the first byte.
//
//   control frame (high bit set)
//
//     +----------------+---------+-------+--------+---------+
//     | 1 | Version    |  Type   | Flags | Length | Payload |
//     +----------------+---------+-------+--------+---------+
//     |       2        |    2    |   1   |    3   |  <= 16M |
//     +----------------+---------+-------+--------+---------+
//
//   data frame (high bit clear)
//
//     +----------------+-------+--------+---------+
//     | 0 | Stream ID  | Flags | Length |  Data   |
//     +----------------+-------+--------+---------+
//     |       4        |   1   |    3   |  <= 16M |
//     +----------------+-------+--------+---------+
//
//   Header-bearing control payloads (SYN_STREAM, SYN_REPLY, HEADERS) are
//   run through a compressor before framing; everything else is carried
//   verbatim. Beyond these boundaries the engine treats frames as opaque.
//
// Flow Control:
//
//   Flow control is managed with windows similarly to HTTP/2.
//
//     - the window is a signed credit counter, initialized to a configurable
//       size (default 65536)
//     - as the sender transmits data the window decreases by the number of
//       bytes sent
//     - WINDOW_UPDATE frames received from the peer increase it again
//     - the window may go transiently negative when in-flight data exceeds
//       a newly shrunk window; that is tolerated, never a fault
//
package spdy

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/getlantern/golog"
	"github.com/oxtoacart/bpool"
)

// Protocol identifiers used during negotiation. ProtocolSPDY2 is the
// hard-coded default when the peer offers no protocol list at all.
const (
	ProtocolSPDY2 = "spdy/2"
	ProtocolSPDY3 = "spdy/3"
)

// Protocol versions. The flow-control strategy is keyed purely off the
// version, no negotiation.
const (
	Version2 uint16 = 2
	Version3 uint16 = 3
)

const (
	// DefaultInitialWindowSize is the flow-control window applied to new
	// sessions unless overridden on the client.
	DefaultInitialWindowSize = 64 * 1024

	// framing
	frameHeaderSize = 8
	maxFrameDataLen = 1<<24 - 1

	// frameBufferSize is the width of pooled frame buffers. Frames larger
	// than this are rare and fall back to direct allocation.
	frameBufferSize = 16 * 1024

	defaultIdleTimeout = 30 * time.Second
)

var (
	log = golog.LoggerFor("spdy")

	// ErrFactoryNotRunning indicates that an operation requiring a running
	// Factory was attempted before Start or after Stop.
	ErrFactoryNotRunning = &netError{"factory not running", false, false}
	// ErrTimeout indicates that an i/o operation timed out.
	ErrTimeout = &netError{"i/o timeout", true, true}
	// ErrSessionClosed indicates that an operation was attempted on a
	// session whose underlying connection is gone.
	ErrSessionClosed = &netError{"session closed", false, false}
	// ErrConnectCancelled indicates that a session promise was cancelled
	// before the connect completed.
	ErrConnectCancelled = &netError{"connect cancelled", false, false}
	// ErrListenerClosed indicates that an accept was attempted on a closed
	// session listener.
	ErrListenerClosed = &netError{"listener closed", false, false}
	// ErrNoProtocol indicates that protocol negotiation found no mutually
	// supported protocol identifier.
	ErrNoProtocol = &netError{"no mutually supported protocol", false, false}

	binaryEncoding = binary.BigEndian
)

// netError implements the interface net.Error
type netError struct {
	err       string
	timeout   bool
	temporary bool
}

func (e *netError) Error() string   { return e.err }
func (e *netError) Timeout() bool   { return e.timeout }
func (e *netError) Temporary() bool { return e.temporary }

// BufferPool is a pool of reusable buffers shared by all connections to
// avoid per-frame allocation.
type BufferPool interface {
	// Get gets a buffer large enough to hold a pooled frame.
	Get() []byte

	// Put returns a buffer back to the pool, indicating that it is safe to
	// reuse.
	Put([]byte)
}

// NewBufferPool constructs a BufferPool with the given maximum size in bytes.
func NewBufferPool(maxBytes int) BufferPool {
	count := maxBytes / frameBufferSize
	if count < 1 {
		count = 1
	}
	return &bufferPool{bpool.NewBytePool(count, frameBufferSize)}
}

type bufferPool struct {
	pool *bpool.BytePool
}

func (p *bufferPool) Get() []byte {
	return p.pool.Get()
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) < frameBufferSize {
		// not one of ours
		return
	}
	p.pool.Put(b[:frameBufferSize])
}

var _ net.Error = &netError{}
