package dataservice

import (
	"sync"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/status"
)

// MaxChildContexts bounds the number of live child contexts a data
// service process will track.
const MaxChildContexts = 16

// Capability bit indices into a data-service bitcap.Map, one per
// dispatched method. Root-context setup methods aren't gated — they are
// only ever invoked once, by the supervisor, before any child exists.
const (
	CapChildContextCreate = iota
	CapChildContextClose
	CapBlockRead
	CapBlockIDByHeightRead
	CapBlockIDLatestRead
	CapTransactionRead
	CapCanonizedTransactionRead
	CapArtifactRead
	CapGlobalSettingsRead
	CapGlobalSettingsWrite
	CapTransactionSubmit
	CapTransactionPromote
	CapTransactionDrop
	CapBlockMake
	CapTransactionGetFirst
	CapTransactionGetNext
	capCount
)

// NewCaps returns a zeroed bitcap.Map sized for the data-service method
// set.
func NewCaps() bitcap.Map {
	return bitcap.New(capCount)
}

// ChildContext is one caller's reduced view onto the root context: up
// to MaxChildContexts live at once, each with its own bitcap, a subset
// of root's.
type ChildContext struct {
	Caps  bitcap.Map
	inUse bool
}

// RootContext owns the K/V store handle and the global bitcap of
// permitted operations for one data-service process.
type RootContext struct {
	mu       sync.Mutex
	store    *Store
	caps     bitcap.Map
	children [MaxChildContexts]*ChildContext
}

// NewRootContext creates a root context over an already-open Store with
// no capabilities granted yet. Callers follow up with ReduceCapsRoot
// once before minting any child context.
func NewRootContext(store *Store) *RootContext {
	return &RootContext{store: store, caps: NewCaps()}
}

// ReduceCapsRoot intersects the root's capability set with requested.
// Capabilities can only shrink, never grow.
func (rc *RootContext) ReduceCapsRoot(requested bitcap.Map) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.caps = rc.caps.Reduce(requested)
}

// CreateChild allocates a free child-context slot with caps reduced
// against the root's own caps, and returns its stable index. Gated on
// the root's own CapChildContextCreate bit, since a process whose root
// caps were reduced without it has no business minting child contexts
// at all.
func (rc *RootContext) CreateChild(requested bitcap.Map) (int, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.caps.Test(CapChildContextCreate) {
		return -1, status.New(status.ServiceData, status.CodeNotAuthorized)
	}

	for i, c := range rc.children {
		if c == nil || !c.inUse {
			rc.children[i] = &ChildContext{Caps: rc.caps.Reduce(requested), inUse: true}
			return i, nil
		}
	}
	return -1, status.New(status.ServiceData, status.CodeInvariantViolation)
}

// CloseChild frees a child-context slot. Gated on the root's own
// CapChildContextClose bit, mirroring CreateChild.
func (rc *RootContext) CloseChild(child int) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.caps.Test(CapChildContextClose) {
		return status.New(status.ServiceData, status.CodeNotAuthorized)
	}

	c, err := rc.childLocked(child)
	if err != nil {
		return err
	}
	c.inUse = false
	return nil
}

func (rc *RootContext) childLocked(child int) (*ChildContext, error) {
	if child < 0 || child >= MaxChildContexts || rc.children[child] == nil || !rc.children[child].inUse {
		return nil, status.New(status.ServiceData, status.CodeNotFound)
	}
	return rc.children[child], nil
}

// checkCap validates that child exists and its bitcap permits bit,
// as every dispatched method requires.
func (rc *RootContext) checkCap(child int, bit int) error {
	rc.mu.Lock()
	c, err := rc.childLocked(child)
	rc.mu.Unlock()
	if err != nil {
		return err
	}
	if !c.Caps.Test(bit) {
		return status.New(status.ServiceData, status.CodeNotAuthorized)
	}
	return nil
}
