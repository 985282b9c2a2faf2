package capability

import (
	"testing"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnauthorizedWithoutTriple(t *testing.T) {
	tbl := NewTable()
	subject := ids.New()
	object := ids.New()

	assert.False(t, tbl.Allowed(subject, VerbBlockRead, object))
}

func TestAllowedAfterAddCapability(t *testing.T) {
	tbl := NewTable()
	subject := ids.New()
	object := ids.New()

	require.NoError(t, tbl.AddCapability(subject, VerbBlockRead, object))
	assert.True(t, tbl.Allowed(subject, VerbBlockRead, object))
	assert.False(t, tbl.Allowed(subject, VerbTransactionSubmit, object))
}

func TestAnyObjectGrantsEveryTarget(t *testing.T) {
	tbl := NewTable()
	subject := ids.New()

	require.NoError(t, tbl.AddCapability(subject, VerbLatestBlockIDRead, AnyObject))
	assert.True(t, tbl.Allowed(subject, VerbLatestBlockIDRead, ids.New()))
	assert.True(t, tbl.Allowed(subject, VerbLatestBlockIDRead, ids.New()))
}

func TestFinalizeRejectsFurtherMutation(t *testing.T) {
	tbl := NewTable()
	entity := ids.New()
	tbl.Finalize()

	err := tbl.AddEntity(entity)
	assert.ErrorIs(t, err, ErrAlreadyConfigured)

	err = tbl.AddCapability(entity, VerbBlockRead, entity)
	assert.ErrorIs(t, err, ErrAlreadyConfigured)
}

func TestIsAuthorizedEntity(t *testing.T) {
	tbl := NewTable()
	entity := ids.New()
	assert.False(t, tbl.IsAuthorizedEntity(entity))

	require.NoError(t, tbl.AddEntity(entity))
	assert.True(t, tbl.IsAuthorizedEntity(entity))
}
