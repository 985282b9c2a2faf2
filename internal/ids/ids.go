// Package ids defines agentd's 128-bit opaque identifier types. Equality
// is byte-equality; ordering is undefined except where an explicit index
// (height) is used.
package ids

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID is a 128-bit opaque identifier shared by entities, transactions,
// artifacts, and blocks.
type ID [16]byte

// Zero is the reserved all-zero identifier (e.g. the process-queue
// block_id sentinel).
var Zero ID

// New mints a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// FromBytes copies up to 16 bytes of b into an ID. It does not panic: a
// shorter b leaves the trailing bytes zero and extra bytes are ignored,
// so callers validate wire sizes before calling this.
func FromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)
	return id
}

func (id ID) Bytes() []byte {
	return id[:]
}

func (id ID) IsZero() bool {
	return id == Zero
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// EntityID, TransactionID, ArtifactID, and BlockID are distinct names for
// ID used at call sites to keep intent legible; all share ID's
// byte-equality semantics.
type (
	EntityID      = ID
	TransactionID = ID
	ArtifactID    = ID
	BlockID       = ID
)

// Height is the unsigned 64-bit block height, monotonically increasing
// from 0 (the root block).
type Height uint64
