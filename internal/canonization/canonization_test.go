package canonization

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCertBuilder struct{}

func (fakeCertBuilder) BuildBlock(blockID, prevBlockID ids.BlockID, prevCert []byte, txnIDs []ids.TransactionID) ([]byte, error) {
	return []byte("cert"), nil
}

// recordingCertBuilder returns a distinct, deterministic cert per call
// and records every argument BuildBlock was invoked with, so a test can
// assert the previous block's actual stored certificate round-tripped
// through BlockRead into the next round's build.
type recordingCertBuilder struct {
	calls     int
	prevCerts [][]byte
}

func (r *recordingCertBuilder) BuildBlock(blockID, prevBlockID ids.BlockID, prevCert []byte, txnIDs []ids.TransactionID) ([]byte, error) {
	r.calls++
	r.prevCerts = append(r.prevCerts, append([]byte(nil), prevCert...))
	return []byte(fmt.Sprintf("cert-%d", r.calls)), nil
}

type fakeNotify struct {
	updates []ids.BlockID
}

func (f *fakeNotify) BlockUpdate(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	f.updates = append(f.updates, blockID)
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

// submitterChild grants a separate child context the full capability set,
// standing in for the protocol service submitting transactions ahead of a
// canonization round — canonization's own Caps() never includes
// CapTransactionSubmit.
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

func TestTickBuildsBlockFromQueuedTransactions(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)
	require.NoError(t, rc.TransactionSubmit(submitter, ids.New(), ids.New(), []byte("t1")))

	notify := &fakeNotify{}
	svc := NewService(rc, notify, notification.ConnID(1), fakeCertBuilder{}, 500)

	require.NoError(t, svc.Tick())

	assert.Len(t, notify.updates, 1)
	assert.Equal(t, StateIdle, svc.State())

	latest, err := rc.BlockIDLatestRead(submitter)
	require.NoError(t, err)
	assert.Equal(t, notify.updates[0], latest)
}

func TestTickWithEmptyQueueDoesNothing(t *testing.T) {
	rc := newTestRootContext(t)
	notify := &fakeNotify{}
	svc := NewService(rc, notify, notification.ConnID(1), fakeCertBuilder{}, 500)

	require.NoError(t, svc.Tick())
	assert.Empty(t, notify.updates)
}

func TestTickRespectsBlockMaxTransactions(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)
	for i := 0; i < 5; i++ {
		require.NoError(t, rc.TransactionSubmit(submitter, ids.New(), ids.New(), nil))
	}

	notify := &fakeNotify{}
	svc := NewService(rc, notify, notification.ConnID(1), fakeCertBuilder{}, 2)
	require.NoError(t, svc.Tick())
	assert.Len(t, notify.updates, 1)

	// Exactly 2 transactions should have left the queue; 3 remain.
	first, err := rc.TransactionGetFirst(submitter)
	require.NoError(t, err)
	assert.NotEqual(t, ids.Zero, first.ID)
}

func TestForceExitSkipsTick(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)
	require.NoError(t, rc.TransactionSubmit(submitter, ids.New(), ids.New(), nil))

	notify := &fakeNotify{}
	svc := NewService(rc, notify, notification.ConnID(1), fakeCertBuilder{}, 500)
	svc.ForceExit()

	require.NoError(t, svc.Tick())
	assert.Empty(t, notify.updates)
}

func TestTickReadsPreviousBlockCertificate(t *testing.T) {
	rc := newTestRootContext(t)
	submitter := submitterChild(t, rc)
	require.NoError(t, rc.TransactionSubmit(submitter, ids.New(), ids.New(), []byte("t1")))

	notify := &fakeNotify{}
	builder := &recordingCertBuilder{}
	svc := NewService(rc, notify, notification.ConnID(1), builder, 500)

	require.NoError(t, svc.Tick())
	require.Len(t, builder.prevCerts, 1)
	assert.Empty(t, builder.prevCerts[0], "first round has no previous block")

	require.NoError(t, rc.TransactionSubmit(submitter, ids.New(), ids.New(), []byte("t2")))
	require.NoError(t, svc.Tick())
	require.Len(t, builder.prevCerts, 2)
	assert.Equal(t, []byte("cert-1"), builder.prevCerts[1], "second round must carry the first block's own stored certificate")
}

func TestCapsGrantsOnlyCanonizationMethods(t *testing.T) {
	c := Caps()
	assert.True(t, c.Test(dataservice.CapBlockIDLatestRead))
	assert.True(t, c.Test(dataservice.CapBlockRead))
	assert.True(t, c.Test(dataservice.CapBlockMake))
	assert.False(t, c.Test(dataservice.CapTransactionSubmit))
}
