package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRootContext(t *testing.T) *dataservice.RootContext {
	t.Helper()
	store, err := dataservice.Open(filepath.Join(t.TempDir(), "data.bolt"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rc := dataservice.NewRootContext(store)
	all := dataservice.NewCaps()
	for i := 0; i < 16; i++ {
		all.Set(i)
	}
	rc.ReduceCapsRoot(all)
	return rc
}

func startDataServer(t *testing.T, rc *dataservice.RootContext) *dataServiceClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	go func() { _ = dispatch.Serve(serverConn, newDataDispatcher(rc)) }()
	return newDataServiceClient(clientConn)
}

func TestDataServiceClientCreateChildAndBlockMake(t *testing.T) {
	rc := newTestRootContext(t)
	client := startDataServer(t, rc)

	caps := dataservice.NewCaps()
	caps.Set(dataservice.CapBlockMake)
	caps.Set(dataservice.CapBlockIDLatestRead)
	caps.Set(dataservice.CapTransactionSubmit)
	caps.Set(dataservice.CapTransactionGetFirst)

	child, err := client.CreateChild(caps)
	require.NoError(t, err)

	latest, err := client.BlockIDLatestRead(child)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	txnID := ids.New()
	require.NoError(t, client.TransactionSubmit(child, txnID, ids.New(), []byte("cert")))

	first, err := client.TransactionGetFirst(child)
	require.NoError(t, err)
	assert.Equal(t, txnID, first.ID)

	blockID := ids.New()
	require.NoError(t, client.BlockMake(child, blockID, ids.Zero, []byte("blockcert"), []ids.TransactionID{txnID}))

	latest, err = client.BlockIDLatestRead(child)
	require.NoError(t, err)
	assert.Equal(t, blockID, latest)

	require.NoError(t, client.CloseChild(child))
}

func TestDataServiceClientGlobalSettingsRoundTrip(t *testing.T) {
	rc := newTestRootContext(t)
	client := startDataServer(t, rc)

	caps := dataservice.NewCaps()
	caps.Set(dataservice.CapGlobalSettingsRead)
	caps.Set(dataservice.CapGlobalSettingsWrite)
	child, err := client.CreateChild(caps)
	require.NoError(t, err)

	require.NoError(t, client.GlobalSettingsWrite(child, 7, []byte("node-name")))

	value, err := client.GlobalSettingsRead(child, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("node-name"), value)
}

func TestDataServiceClientNotFoundPropagatesStatus(t *testing.T) {
	rc := newTestRootContext(t)
	client := startDataServer(t, rc)

	caps := dataservice.NewCaps()
	caps.Set(dataservice.CapArtifactRead)
	child, err := client.CreateChild(caps)
	require.NoError(t, err)

	_, err = client.ArtifactRead(child, ids.New())
	assert.Error(t, err)
}
