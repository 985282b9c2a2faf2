// Package notification implements the block-update / block-id assertion
// / cancellation state machine: a fiber-per-
// connection scheduler multiplexes the canonization and protocol
// service sockets, and this package holds the per-connection assertion
// bookkeeping those fibers drive.
package notification

import (
	"sync"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/ids"
)

// ConnID identifies one multiplexed connection (canonization, protocol,
// or log).
type ConnID int

// CanonizationReservedOffset is the offset the canonization service uses
// for its own BLOCK_UPDATE announcements, which carry no client-chosen
// correlation token of their own.
const CanonizationReservedOffset uint32 = 0xA9E2D000

// Responder delivers the three response kinds the service produces,
// each keyed by (connection, offset).
type Responder interface {
	Ack(conn ConnID, offset uint32)
	Invalidate(conn ConnID, offset uint32, blockID ids.BlockID)
	CancelAck(conn ConnID, offset uint32)
}

type connState struct {
	caps       bitcap.Map
	assertions map[uint32]ids.BlockID
}

// Service holds the notification service's full state: the current
// latest block id and every connection's reduced caps and outstanding
// assertions.
type Service struct {
	mu            sync.Mutex
	latestBlockID ids.BlockID
	conns         map[ConnID]*connState
	out           Responder
}

// NewService constructs a Service that delivers responses through out.
func NewService(out Responder) *Service {
	return &Service{conns: make(map[ConnID]*connState), out: out}
}

func (s *Service) connLocked(conn ConnID) *connState {
	c, ok := s.conns[conn]
	if !ok {
		c = &connState{assertions: make(map[uint32]ids.BlockID)}
		s.conns[conn] = c
	}
	return c
}

// ReduceCaps replaces a connection's caps with caps ∧ requested. Calling
// it for an unseen connection registers it. Idempotent.
func (s *Service) ReduceCaps(conn ConnID, requested bitcap.Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.connLocked(conn)
	if c.caps.Width() == 0 {
		c.caps = requested.Clone()
		return
	}
	c.caps = c.caps.Reduce(requested)
}

// BlockUpdate announces a new latest block id on behalf of conn at
// offset. It stores the id, then scans every connection's outstanding
// assertions, invalidating and removing any that no longer match, and
// only then acknowledges the announcer: the announce-ack always
// follows every invalidation it provoked.
func (s *Service) BlockUpdate(conn ConnID, offset uint32, blockID ids.BlockID) {
	s.mu.Lock()
	s.latestBlockID = blockID

	type invalidation struct {
		conn   ConnID
		offset uint32
	}
	var toInvalidate []invalidation
	for id, c := range s.conns {
		for off, asserted := range c.assertions {
			if asserted != blockID {
				delete(c.assertions, off)
				toInvalidate = append(toInvalidate, invalidation{id, off})
			}
		}
	}
	s.mu.Unlock()

	for _, inv := range toInvalidate {
		s.out.Invalidate(inv.conn, inv.offset, blockID)
	}
	s.out.Ack(conn, offset)
}

// BlockAssertion registers (offset, blockID) on behalf of conn. The
// asserter is always acked first; if blockID is already stale, an
// invalidation follows immediately in the same call instead of the
// assertion being stored for later.
func (s *Service) BlockAssertion(conn ConnID, offset uint32, blockID ids.BlockID) {
	s.mu.Lock()
	current := s.latestBlockID
	c := s.connLocked(conn)
	stale := blockID != current
	if !stale {
		c.assertions[offset] = blockID
	}
	s.mu.Unlock()

	s.out.Ack(conn, offset)
	if stale {
		s.out.Invalidate(conn, offset, current)
	}
}

// BlockAssertionCancel removes the assertion at offset, if any, and
// always emits a cancel-acknowledgment (idempotent).
func (s *Service) BlockAssertionCancel(conn ConnID, offset uint32) {
	s.mu.Lock()
	c := s.connLocked(conn)
	delete(c.assertions, offset)
	s.mu.Unlock()

	s.out.CancelAck(conn, offset)
}
