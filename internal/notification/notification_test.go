package notification

import (
	"sync"
	"testing"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	conn   ConnID
	offset uint32
	block  ids.BlockID
}

type fakeResponder struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeResponder) Ack(conn ConnID, offset uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "ack", conn: conn, offset: offset})
}

func (f *fakeResponder) Invalidate(conn ConnID, offset uint32, blockID ids.BlockID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "invalidate", conn: conn, offset: offset, block: blockID})
}

func (f *fakeResponder) CancelAck(conn ConnID, offset uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{kind: "cancelack", conn: conn, offset: offset})
}

const (
	connCanonization ConnID = 1
	connProtocol     ConnID = 2
)

func TestBlockAssertionMatchingCurrentIsAckedAndStored(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	blockID := ids.New()
	s.BlockUpdate(connCanonization, CanonizationReservedOffset, blockID)

	s.BlockAssertion(connProtocol, 10, blockID)

	require.Len(t, out.events, 2)
	assert.Equal(t, "ack", out.events[1].kind)
	assert.Equal(t, uint32(10), out.events[1].offset)
}

func TestBlockAssertionStaleInvalidatesImmediatelyAfterAck(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	current := ids.New()
	s.BlockUpdate(connCanonization, CanonizationReservedOffset, current)

	stale := ids.New()
	s.BlockAssertion(connProtocol, 20, stale)

	require.Len(t, out.events, 3)
	assert.Equal(t, "ack", out.events[1].kind)
	assert.Equal(t, "invalidate", out.events[2].kind)
	assert.Equal(t, current, out.events[2].block)
}

func TestBlockUpdateInvalidatesMismatchedAssertionsBeforeAnnouncerAck(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	first := ids.New()
	s.BlockUpdate(connCanonization, CanonizationReservedOffset, first)
	s.BlockAssertion(connProtocol, 1, first)
	out.events = nil // discard setup noise

	second := ids.New()
	s.BlockUpdate(connCanonization, CanonizationReservedOffset, second)

	require.Len(t, out.events, 2)
	assert.Equal(t, "invalidate", out.events[0].kind)
	assert.Equal(t, ConnID(connProtocol), out.events[0].conn)
	assert.Equal(t, uint32(1), out.events[0].offset)
	assert.Equal(t, second, out.events[0].block)

	assert.Equal(t, "ack", out.events[1].kind)
	assert.Equal(t, connCanonization, out.events[1].conn)
	assert.Equal(t, CanonizationReservedOffset, out.events[1].offset)
}

func TestBlockUpdateLeavesMatchingAssertionsInPlace(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	blockID := ids.New()
	s.BlockUpdate(connCanonization, CanonizationReservedOffset, blockID)
	s.BlockAssertion(connProtocol, 5, blockID)
	out.events = nil

	s.BlockUpdate(connCanonization, CanonizationReservedOffset, blockID)

	require.Len(t, out.events, 1)
	assert.Equal(t, "ack", out.events[0].kind)
}

func TestBlockAssertionCancelIsIdempotent(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	s.BlockAssertionCancel(connProtocol, 99)
	s.BlockAssertionCancel(connProtocol, 99)

	require.Len(t, out.events, 2)
	assert.Equal(t, "cancelack", out.events[0].kind)
	assert.Equal(t, "cancelack", out.events[1].kind)
}

func TestReduceCapsIsIdempotentAndNeverGrows(t *testing.T) {
	out := &fakeResponder{}
	s := NewService(out)

	full := bitcap.New(4)
	full.Set(0)
	full.Set(1)
	s.ReduceCaps(connProtocol, full)

	narrow := bitcap.New(4)
	narrow.Set(0)
	s.ReduceCaps(connProtocol, narrow)

	c := s.conns[connProtocol]
	assert.True(t, c.caps.Test(0))
	assert.False(t, c.caps.Test(1))

	// Reducing again with the same narrow set changes nothing.
	s.ReduceCaps(connProtocol, narrow)
	assert.True(t, c.caps.Test(0))
	assert.False(t, c.caps.Test(1))
}
