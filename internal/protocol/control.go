package protocol

import (
	"crypto/ecdh"
	"sync"

	"github.com/cuemby/agentd/internal/capability"
)

// Control is the supervisor-only control socket: it owns the service's
// long-term handshake key alongside the
// shared capability.Table, since both are configured once at startup and
// neither accepts further mutation after Finalize.
type Control struct {
	Table *capability.Table

	mu        sync.RWMutex
	key       *ecdh.PrivateKey
	finalized bool
}

// NewControl builds a Control wrapping table.
func NewControl(table *capability.Table) *Control {
	return &Control{Table: table}
}

// SetPrivateKey installs the service's handshake key. Returns
// ErrAlreadyConfigured after Finalize.
func (c *Control) SetPrivateKey(key *ecdh.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return capability.ErrAlreadyConfigured
	}
	c.key = key
	return nil
}

// PrivateKey returns the configured handshake key, or nil if none has
// been set yet.
func (c *Control) PrivateKey() *ecdh.PrivateKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Finalize locks both the private key and the capability table against
// further control mutation.
func (c *Control) Finalize() {
	c.mu.Lock()
	c.finalized = true
	c.mu.Unlock()
	c.Table.Finalize()
}
