package attestation

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowVerifier struct{ rejectArtifact ids.ArtifactID }

func (v allowVerifier) VerifyTransaction(node dataservice.TransactionNode) (bool, error) {
	return node.ArtifactID != v.rejectArtifact, nil
}

func newTestRootContext(t *testing.T) *dataservice.RootContext {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bolt")
	store, err := dataservice.Open(path, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rc := dataservice.NewRootContext(store)
	all := dataservice.NewCaps()
	for i := 0; i < 32; i++ {
		all.Set(i)
	}
	rc.ReduceCapsRoot(all)
	return rc
}

func submitterChild(t *testing.T, rc *dataservice.RootContext) int {
	t.Helper()
	all := dataservice.NewCaps()
	for i := 0; i < 32; i++ {
		all.Set(i)
	}
	idx, err := rc.CreateChild(all)
	require.NoError(t, err)
	return idx
}

func TestTickPromotesEveryVerifiedTransaction(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)

	id1, id2 := ids.New(), ids.New()
	require.NoError(t, rc.TransactionSubmit(submitter, id1, ids.New(), nil))
	require.NoError(t, rc.TransactionSubmit(submitter, id2, ids.New(), nil))

	svc := NewService(rc, allowVerifier{})
	require.NoError(t, svc.Tick())
	assert.Equal(t, StateIdle, svc.State())

	n1, err := rc.TransactionRead(submitter, id1, false)
	require.NoError(t, err)
	assert.Equal(t, dataservice.TxnPromoted, n1.State)

	n2, err := rc.TransactionRead(submitter, id2, false)
	require.NoError(t, err)
	assert.Equal(t, dataservice.TxnPromoted, n2.State)
}

func TestTickLeavesRejectedTransactionSubmitted(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)

	rejectedArtifact := ids.New()
	id := ids.New()
	require.NoError(t, rc.TransactionSubmit(submitter, id, rejectedArtifact, nil))

	svc := NewService(rc, allowVerifier{rejectArtifact: rejectedArtifact})
	require.NoError(t, svc.Tick())

	node, err := rc.TransactionRead(submitter, id, false)
	require.NoError(t, err)
	assert.Equal(t, dataservice.TxnSubmitted, node.State)
}

func TestTickSkipsAlreadyPromotedTransactions(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)

	id := ids.New()
	require.NoError(t, rc.TransactionSubmit(submitter, id, ids.New(), nil))
	require.NoError(t, rc.TransactionPromote(submitter, id))

	verifier := &callCountingVerifier{}
	svc := NewService(rc, verifier)
	require.NoError(t, svc.Tick())

	assert.Equal(t, 0, verifier.calls)
}

type callCountingVerifier struct{ calls int }

func (v *callCountingVerifier) VerifyTransaction(node dataservice.TransactionNode) (bool, error) {
	v.calls++
	return true, nil
}

func TestTickWithEmptyQueueDoesNothing(t *testing.T) {
	rc := newTestRootContext(t)
	svc := NewService(rc, allowVerifier{})
	require.NoError(t, svc.Tick())
	assert.Equal(t, StateIdle, svc.State())
}

func TestForceExitSkipsTick(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)
	id := ids.New()
	require.NoError(t, rc.TransactionSubmit(submitter, id, ids.New(), nil))

	svc := NewService(rc, allowVerifier{})
	svc.ForceExit()
	require.NoError(t, svc.Tick())

	node, err := rc.TransactionRead(submitter, id, false)
	require.NoError(t, err)
	assert.Equal(t, dataservice.TxnSubmitted, node.State)
}

func TestCapsGrantsOnlyAttestationMethods(t *testing.T) {
	c := Caps()
	assert.True(t, c.Test(dataservice.CapChildContextCreate))
	assert.True(t, c.Test(dataservice.CapChildContextClose))
	assert.True(t, c.Test(dataservice.CapBlockRead))
	assert.True(t, c.Test(dataservice.CapTransactionRead))
	assert.True(t, c.Test(dataservice.CapArtifactRead))
	assert.True(t, c.Test(dataservice.CapTransactionGetFirst))
	assert.True(t, c.Test(dataservice.CapTransactionGetNext))
	assert.True(t, c.Test(dataservice.CapTransactionPromote))
	assert.True(t, c.Test(dataservice.CapTransactionDrop))
	assert.False(t, c.Test(dataservice.CapBlockMake))
	assert.False(t, c.Test(dataservice.CapGlobalSettingsRead))
}
