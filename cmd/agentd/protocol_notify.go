package main

import (
	"io"
	"sync"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/protocol"
)

// assertionSink is how a protocolSessionNotify delivers an async
// notification reply back onto the one client TCP connection that asked
// for it, keyed by the client's own offset (the value it used on its
// VerbAssertLatestBlockID/VerbCancelAssertion request).
type assertionSink interface {
	DeliverAck(offset uint32)
	DeliverInvalidate(offset uint32, blockID ids.BlockID)
	DeliverCancelAck(offset uint32)
}

// protocolNotifyRouter multiplexes every client session's assertion
// calls onto protocol's single shared notification-service socket
// (fdlayout.ProtocolNotification). notification.Service correlates a
// reply to its request by (ConnID, offset) alone, and every session here
// shares one ConnID, so client-chosen offsets from different sessions
// could collide; the router allocates a process-wide unique internal
// offset per assertion and keeps the client-offset mapping per session
// so VerbCancelAssertion — which only ever carries the client's original
// offset back (internal/protocol/session.go) — can still find it.
type protocolNotifyRouter struct {
	client *notificationClient
	connID notification.ConnID

	mu      sync.Mutex
	next    uint32
	pending map[uint32]*protocolSessionNotify
}

func newProtocolNotifyRouter(client *notificationClient, connID notification.ConnID) *protocolNotifyRouter {
	return &protocolNotifyRouter{
		client:  client,
		connID:  connID,
		pending: make(map[uint32]*protocolSessionNotify),
	}
}

// Run drains replies off the shared notification connection until it
// errors, routing each to the session that owns its internal offset.
// Callers run this in its own goroutine, once per protocol process.
func (r *protocolNotifyRouter) Run(conn io.Reader) error {
	return ReadLoop(conn, r.dispatch)
}

func (r *protocolNotifyRouter) dispatch(reply NotificationReply) {
	r.mu.Lock()
	session := r.pending[reply.Offset]
	r.mu.Unlock()
	if session == nil {
		return
	}
	session.handleReply(reply)
}

func (r *protocolNotifyRouter) allocate(session *protocolSessionNotify) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	internal := r.next
	r.pending[internal] = session
	return internal
}

func (r *protocolNotifyRouter) release(internalOffset uint32) {
	r.mu.Lock()
	delete(r.pending, internalOffset)
	r.mu.Unlock()
}

// NewSession builds the protocol.NotifyClient one client TCP connection
// uses, delivering replies to sink.
func (r *protocolNotifyRouter) NewSession(sink assertionSink) *protocolSessionNotify {
	return &protocolSessionNotify{
		router:         r,
		sink:           sink,
		byClientOffset: make(map[uint32]uint32),
	}
}

// protocolSessionNotify is one client connection's view of the shared
// notification socket: it satisfies protocol.NotifyClient, translating
// the client's chosen offset to and from the router's internal offset.
type protocolSessionNotify struct {
	router *protocolNotifyRouter
	sink   assertionSink

	mu             sync.Mutex
	byClientOffset map[uint32]uint32
}

var _ protocol.NotifyClient = (*protocolSessionNotify)(nil)

func (s *protocolSessionNotify) BlockAssertion(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	internal := s.router.allocate(s)
	s.mu.Lock()
	s.byClientOffset[offset] = internal
	s.mu.Unlock()
	s.router.client.BlockAssertion(s.router.connID, internal, blockID)
}

func (s *protocolSessionNotify) BlockAssertionCancel(conn notification.ConnID, offset uint32) {
	s.mu.Lock()
	internal, ok := s.byClientOffset[offset]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.router.client.BlockAssertionCancel(s.router.connID, internal)
}

// handleReply finds the client offset behind reply's internal offset
// and delivers to the owning connection's sink. An Ack leaves the
// assertion pending, so its later Invalidate or CancelAck still maps
// back to the client offset; Invalidate and CancelAck resolve it.
func (s *protocolSessionNotify) handleReply(reply NotificationReply) {
	s.mu.Lock()
	var clientOffset uint32
	found := false
	for co, internal := range s.byClientOffset {
		if internal == reply.Offset {
			clientOffset, found = co, true
			break
		}
	}
	resolves := reply.Kind != methodAck
	if found && resolves {
		delete(s.byClientOffset, clientOffset)
	}
	s.mu.Unlock()
	if !found {
		return
	}
	if resolves {
		s.router.release(reply.Offset)
	}

	switch reply.Kind {
	case methodAck:
		s.sink.DeliverAck(clientOffset)
	case methodInvalidate:
		s.sink.DeliverInvalidate(clientOffset, reply.BlockID)
	case methodCancelAck:
		s.sink.DeliverCancelAck(clientOffset)
	}
}
