// Package capability implements the protocol service's UUID capability
// triple model: an authorized entity record maps
// (subject_entity_id, verb_uuid, object_entity_id) -> allowed.
package capability

import (
	"sync"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/google/uuid"
)

// Verb identifies one of the closed set of client-invocable operations.
// The UUIDs are pinned string literals so the set is stable across
// rebuilds.
type Verb uuid.UUID

var (
	VerbLatestBlockIDRead    = Verb(uuid.MustParse("8f14e45f-ceea-467e-bd7a-2d0004ab3e66"))
	VerbTransactionSubmit    = Verb(uuid.MustParse("a9d1f2b0-6b1b-4e1a-9a9b-5f3a1b9c8d2e"))
	VerbBlockRead            = Verb(uuid.MustParse("3b1d2c4e-9f8a-4a6b-8c3d-1e2f3a4b5c6d"))
	VerbBlockIDByHeightRead  = Verb(uuid.MustParse("c7a8b9d0-1e2f-4a3b-9c4d-5e6f7a8b9c0d"))
	VerbTransactionRead      = Verb(uuid.MustParse("d4e5f6a7-2b3c-4d5e-8f9a-0b1c2d3e4f5a"))
	VerbArtifactRead         = Verb(uuid.MustParse("e1f2a3b4-5c6d-4e7f-9a0b-1c2d3e4f5a6b"))
	VerbAssertLatestBlockID  = Verb(uuid.MustParse("f2a3b4c5-6d7e-4f8a-9b0c-1d2e3f4a5b6c"))
	VerbCancelAssertion      = Verb(uuid.MustParse("a3b4c5d6-7e8f-4a9b-8c0d-2e3f4a5b6c7d"))
	VerbExtendedAPIEnable    = Verb(uuid.MustParse("b4c5d6e7-8f9a-4b0c-9d1e-3f4a5b6c7d8e"))
	VerbExtendedAPIRespond   = Verb(uuid.MustParse("c5d6e7f8-9a0b-4c1d-8e2f-4a5b6c7d8e9f"))
	VerbExtendedAPISend      = Verb(uuid.MustParse("d6e7f8a9-0b1c-4d2e-9f3a-5b6c7d8e9f0a"))
	VerbExtendedAPIReceive   = Verb(uuid.MustParse("e7f8a9b0-1c2d-4e3f-8a4b-6c7d8e9f0a1b"))
	VerbGlobalSettingsRead   = Verb(uuid.MustParse("f8a9b0c1-2d3e-4f5a-9b6c-7d8e9f0a1b2c"))
	VerbGlobalSettingsWrite  = Verb(uuid.MustParse("a9b0c1d2-3e4f-4a5b-8c7d-8e9f0a1b2c3d"))
)

// AnyObject is the sentinel object id meaning "any" — a capability triple
// with this object authorizes the verb against every target entity.
var AnyObject = ids.Zero

// Triple is a (subject, verb, object) key into the authorization table.
type Triple struct {
	Subject ids.EntityID
	Verb    Verb
	Object  ids.EntityID
}

// Table is the protocol service's authorized entity + capability map.
// Table is safe for concurrent read access once Finalize has been called;
// writes before Finalize are expected to be single-threaded (the
// supervisor-only control socket).
type Table struct {
	mu        sync.RWMutex
	entities  map[ids.EntityID]bool
	triples   map[Triple]bool
	finalized bool
}

func NewTable() *Table {
	return &Table{
		entities: make(map[ids.EntityID]bool),
		triples:  make(map[Triple]bool),
	}
}

// ErrAlreadyConfigured is returned by any control mutation attempted after
// Finalize.
var ErrAlreadyConfigured = &configError{"capability table already finalized"}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

// AddEntity registers an authorized entity. Returns ErrAlreadyConfigured
// after Finalize.
func (t *Table) AddEntity(entity ids.EntityID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return ErrAlreadyConfigured
	}
	t.entities[entity] = true
	return nil
}

// AddCapability grants a (subject, verb, object) triple. Returns
// ErrAlreadyConfigured after Finalize.
func (t *Table) AddCapability(subject ids.EntityID, verb Verb, object ids.EntityID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return ErrAlreadyConfigured
	}
	t.triples[Triple{Subject: subject, Verb: verb, Object: object}] = true
	return nil
}

// Finalize locks the table; no further AddEntity/AddCapability calls
// succeed after this point.
func (t *Table) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalized = true
}

// IsAuthorizedEntity reports whether entity was registered via AddEntity.
func (t *Table) IsAuthorizedEntity(entity ids.EntityID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entities[entity]
}

// Allowed reports whether (subject, verb, object) is authorized. It also
// checks the AnyObject sentinel, so a triple granted against AnyObject
// authorizes the verb against every target entity.
func (t *Table) Allowed(subject ids.EntityID, verb Verb, object ids.EntityID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.triples[Triple{Subject: subject, Verb: verb, Object: object}] {
		return true
	}
	return t.triples[Triple{Subject: subject, Verb: verb, Object: AnyObject}]
}
