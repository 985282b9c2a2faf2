package protocol

import (
	"sync"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

var errNoSuchProvider = status.New(status.ServiceProtocol, status.CodeNotFound)

// Forwarder delivers extended-API traffic to whichever connection owns
// it, asynchronously with respect to the caller — cmd/agentd's
// protocolConn encodes and encrypts an authenticated packet and writes
// it to that connection's socket under the connection's write lock.
type Forwarder interface {
	DeliverExtendedAPIRequest(offset uint32, fromEntity ids.EntityID, body []byte)
	DeliverExtendedAPIResponse(offset uint32, body []byte)
}

// ExtendedAPIRegistry tracks which entities have registered as API
// providers and which requesting entity a still-outstanding
// extended-API request belongs to, so the eventual VERB_EXTENDED_API_RESPOND
// can be routed back to the right connection by offset.
type ExtendedAPIRegistry struct {
	mu        sync.Mutex
	providers map[ids.EntityID]Forwarder
	pending   map[uint32]Forwarder
}

// NewExtendedAPIRegistry builds an empty registry.
func NewExtendedAPIRegistry() *ExtendedAPIRegistry {
	return &ExtendedAPIRegistry{
		providers: make(map[ids.EntityID]Forwarder),
		pending:   make(map[uint32]Forwarder),
	}
}

// Enable registers entity as an API provider, routed through fwd.
func (r *ExtendedAPIRegistry) Enable(entity ids.EntityID, fwd Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[entity] = fwd
}

// Disable removes entity's provider registration, e.g. on disconnect.
func (r *ExtendedAPIRegistry) Disable(entity ids.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, entity)
}

// Send forwards a client's extended-API request to the entity named by
// provider, remembering requester so the eventual Respond call can route
// back to it by offset. Fails with CodeNotFound if provider never
// registered.
func (r *ExtendedAPIRegistry) Send(offset uint32, provider, fromEntity ids.EntityID, body []byte, requester Forwarder) error {
	r.mu.Lock()
	fwd, ok := r.providers[provider]
	if ok {
		r.pending[offset] = requester
	}
	r.mu.Unlock()

	if !ok {
		return errNoSuchProvider
	}
	fwd.DeliverExtendedAPIRequest(offset, fromEntity, body)
	return nil
}

// Respond routes a provider's answer back to the connection that sent
// the matching request, by offset. Fails with CodeNotFound if no
// request is outstanding at that offset (already answered, or never
// sent).
func (r *ExtendedAPIRegistry) Respond(offset uint32, body []byte) error {
	r.mu.Lock()
	requester, ok := r.pending[offset]
	if ok {
		delete(r.pending, offset)
	}
	r.mu.Unlock()

	if !ok {
		return errNoSuchProvider
	}
	requester.DeliverExtendedAPIResponse(offset, body)
	return nil
}
