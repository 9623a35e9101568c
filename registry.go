package spdy

import (
	"sync"
)

// ConnectionFactory builds a Connection for a newly established endpoint,
// keyed in the registry by the protocol identifier it serves. The promise is
// the typed context of a client connect; it is nil on the accept side.
type ConnectionFactory interface {
	NewConnection(ep *EndPoint, promise *SessionPromise) (Connection, error)
}

// connectionFactoryRegistry maps protocol identifiers to connection
// factories. Registries are layered: client-level entries shadow
// factory-level entries of the same key during lookup.
type connectionFactoryRegistry struct {
	mx        sync.RWMutex
	factories map[string]ConnectionFactory
}

func newConnectionFactoryRegistry() *connectionFactoryRegistry {
	return &connectionFactoryRegistry{factories: make(map[string]ConnectionFactory)}
}

func (r *connectionFactoryRegistry) put(protocol string, factory ConnectionFactory) {
	r.mx.Lock()
	r.factories[protocol] = factory
	r.mx.Unlock()
}

func (r *connectionFactoryRegistry) remove(protocol string) ConnectionFactory {
	r.mx.Lock()
	factory := r.factories[protocol]
	delete(r.factories, protocol)
	r.mx.Unlock()
	return factory
}

func (r *connectionFactoryRegistry) get(protocol string) ConnectionFactory {
	r.mx.RLock()
	factory := r.factories[protocol]
	r.mx.RUnlock()
	return factory
}

func (r *connectionFactoryRegistry) has(protocol string) bool {
	r.mx.RLock()
	_, found := r.factories[protocol]
	r.mx.RUnlock()
	return found
}

// protocols snapshots the registered identifiers.
func (r *connectionFactoryRegistry) protocols() []string {
	r.mx.RLock()
	out := make([]string, 0, len(r.factories))
	for protocol := range r.factories {
		out = append(out, protocol)
	}
	r.mx.RUnlock()
	return out
}

// selectProtocol scans the server-offered protocols in the server's order
// and returns the first one registered here, or "" when none match.
func (r *connectionFactoryRegistry) selectProtocol(serverOffered []string) string {
	for _, protocol := range serverOffered {
		if r.has(protocol) {
			return protocol
		}
	}
	return ""
}
