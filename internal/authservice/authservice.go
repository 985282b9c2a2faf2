// Package authservice implements the one-shot AGENT_IDENTITY_SET service:
// the supervisor hands this service the node's
// long-term entity id and handshake keypair exactly once at startup, and
// every call after that first success is rejected rather than silently
// overwriting the identity a running node is already using.
package authservice

import (
	"crypto/ecdh"
	"sync"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

var errAlreadyConfigured = status.New(status.ServiceAuth, status.CodeAlreadyConfigured)
var errNotYetConfigured = status.New(status.ServiceAuth, status.CodeNotYetConfigured)

// Identity is the entity id and long-term handshake key AGENT_IDENTITY_SET
// installs.
type Identity struct {
	EntityID ids.EntityID
	Key      *ecdh.PrivateKey
}

// Service holds the node's identity once it has been set.
type Service struct {
	mu       sync.RWMutex
	identity *Identity
}

// NewService builds an unconfigured Service.
func NewService() *Service {
	return &Service{}
}

// SetIdentity installs the node's identity. Returns errAlreadyConfigured
// on every call after the first success.
func (s *Service) SetIdentity(entityID ids.EntityID, key *ecdh.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return errAlreadyConfigured
	}
	s.identity = &Identity{EntityID: entityID, Key: key}
	return nil
}

// Identity returns the configured identity, or errNotYetConfigured if
// SetIdentity has not succeeded yet.
func (s *Service) Identity() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, errNotYetConfigured
	}
	return *s.identity, nil
}
