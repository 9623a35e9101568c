package spdy

import (
	"net"
	"sync"
	"time"
)

// Client issues connect requests against a Factory for one protocol
// version. Clients carry their own connection-factory registry whose entries
// shadow the factory-level registry during lookup, plus per-client tunables
// (bind address, idle timeout, initial window size).
type Client struct {
	version uint16
	factory *Factory

	registry *connectionFactoryRegistry

	mx                sync.RWMutex
	bindAddr          net.Addr
	idleTimeout       time.Duration // < 0 means "use the factory default"
	initialWindowSize int
}

// Connect begins establishing a session to addr and returns the promise
// immediately; it never blocks on the network. It fails synchronously with
// ErrFactoryNotRunning when the owning factory is not running.
func (c *Client) Connect(addr string, listener SessionFrameListener) (*SessionPromise, error) {
	if !c.factory.lc.isRunning() {
		return nil, ErrFactoryNotRunning
	}
	promise := newSessionPromise(c, listener)
	c.factory.reactor.registerConnect(addr, c.BindAddress(), promise, c.factory.onConnected)
	return promise, nil
}

// SelectProtocol picks the application protocol for a session given the
// protocols the server offered. A nil or empty offer falls back to the
// default identifier. Otherwise the server's order wins: for each offered
// protocol the client registry is consulted first, then the factory
// registry. No match returns "".
func (c *Client) SelectProtocol(serverOffered []string) string {
	if len(serverOffered) == 0 {
		return ProtocolSPDY2
	}
	for _, protocol := range serverOffered {
		if c.registry.has(protocol) {
			return protocol
		}
		if c.factory.registry.has(protocol) {
			return protocol
		}
	}
	return ""
}

// PutConnectionFactory registers a client-level connection factory,
// shadowing any factory-level entry with the same protocol identifier.
func (c *Client) PutConnectionFactory(protocol string, factory ConnectionFactory) {
	c.registry.put(protocol, factory)
}

// RemoveConnectionFactory drops a client-level entry and returns it.
func (c *Client) RemoveConnectionFactory(protocol string) ConnectionFactory {
	return c.registry.remove(protocol)
}

// GetConnectionFactory looks a protocol up client-registry first, then
// factory-registry, and returns nil when neither has it.
func (c *Client) GetConnectionFactory(protocol string) ConnectionFactory {
	if factory := c.registry.get(protocol); factory != nil {
		return factory
	}
	return c.factory.registry.get(protocol)
}

// BindAddress returns the local address connects are bound to, if any.
func (c *Client) BindAddress() net.Addr {
	c.mx.RLock()
	addr := c.bindAddr
	c.mx.RUnlock()
	return addr
}

// SetBindAddress binds future connects to a local address.
func (c *Client) SetBindAddress(addr net.Addr) {
	c.mx.Lock()
	c.bindAddr = addr
	c.mx.Unlock()
}

// IdleTimeout returns the client's idle timeout override; negative means
// the factory default applies.
func (c *Client) IdleTimeout() time.Duration {
	c.mx.RLock()
	t := c.idleTimeout
	c.mx.RUnlock()
	return t
}

// SetIdleTimeout overrides the factory's idle timeout for this client's
// endpoints. A negative value restores the factory default.
func (c *Client) SetIdleTimeout(t time.Duration) {
	c.mx.Lock()
	c.idleTimeout = t
	c.mx.Unlock()
}

func (c *Client) effectiveIdleTimeout() time.Duration {
	if t := c.IdleTimeout(); t >= 0 {
		return t
	}
	return c.factory.idleTimeout
}

// InitialWindowSize returns the flow-control window applied to this
// client's new sessions.
func (c *Client) InitialWindowSize() int {
	c.mx.RLock()
	size := c.initialWindowSize
	c.mx.RUnlock()
	return size
}

// SetInitialWindowSize adjusts the window applied to future sessions.
func (c *Client) SetInitialWindowSize(size int) {
	c.mx.Lock()
	c.initialWindowSize = size
	c.mx.Unlock()
}

// Version returns the protocol version this client speaks.
func (c *Client) Version() uint16 {
	return c.version
}

// advertisedProtocols is what the client offers during TLS negotiation: its
// own registrations shadowing the factory's, with the default identifier
// always present as a last resort.
func (c *Client) advertisedProtocols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, lists := range [][]string{c.registry.protocols(), c.factory.registry.protocols(), {ProtocolSPDY2}} {
		for _, protocol := range lists {
			if !seen[protocol] {
				seen[protocol] = true
				out = append(out, protocol)
			}
		}
	}
	return out
}
