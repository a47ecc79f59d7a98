package chain

// Registry holds chain clients in configured priority order. The order is
// the sole tie-break when a transaction hash is probed across chains.
type Registry struct {
	clients []*Client
}

// NewRegistry builds a registry; the argument order is the probing order.
func NewRegistry(clients ...*Client) *Registry {
	return &Registry{clients: clients}
}

// ByID returns the client for a chain id.
func (r *Registry) ByID(chainID uint64) (*Client, bool) {
	for _, c := range r.clients {
		if c.Chain().ChainID == chainID {
			return c, true
		}
	}
	return nil, false
}

// All returns the clients in priority order.
func (r *Registry) All() []*Client {
	return r.clients
}

// Close closes every client.
func (r *Registry) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
