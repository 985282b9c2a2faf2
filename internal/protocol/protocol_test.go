package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/dataservice"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeDerivesIdenticalSecretBothSides(t *testing.T) {
	clientKey, err := GenerateEphemeralKey()
	require.NoError(t, err)
	serverKey, err := GenerateEphemeralKey()
	require.NoError(t, err)

	clientNonce, err := NewNonce()
	require.NoError(t, err)
	serverNonce, err := NewNonce()
	require.NoError(t, err)

	clientSecret, err := DeriveSharedSecret(clientKey, serverKey.PublicKey().Bytes(), clientNonce, serverNonce)
	require.NoError(t, err)
	serverSecret, err := DeriveSharedSecret(serverKey, clientKey.PublicKey().Bytes(), clientNonce, serverNonce)
	require.NoError(t, err)

	assert.Equal(t, clientSecret, serverSecret)
	assert.Len(t, clientSecret, 32)
}

func TestHandshakeDifferentNoncesDeriveDifferentSecrets(t *testing.T) {
	clientKey, err := GenerateEphemeralKey()
	require.NoError(t, err)
	serverKey, err := GenerateEphemeralKey()
	require.NoError(t, err)

	n1, _ := NewNonce()
	n2, _ := NewNonce()
	n3, _ := NewNonce()

	s1, err := DeriveSharedSecret(clientKey, serverKey.PublicKey().Bytes(), n1, n2)
	require.NoError(t, err)
	s2, err := DeriveSharedSecret(clientKey, serverKey.PublicKey().Bytes(), n1, n3)
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
}

func TestClientRequestRoundTrip(t *testing.T) {
	req := ClientRequest{
		Offset: 42,
		Verb:   capability.VerbBlockRead,
		Object: ids.New(),
		Params: []byte("hello"),
	}
	decoded, err := DecodeClientRequest(EncodeClientRequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestClientResponseRoundTrip(t *testing.T) {
	resp := ClientResponse{Offset: 7, Status: status.CodeNotFound, Payload: []byte("x")}
	decoded, err := DecodeClientResponse(EncodeClientResponse(resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

type fakeForwarder struct {
	requests  []struct {
		offset uint32
		from   ids.EntityID
		body   []byte
	}
	responses []struct {
		offset uint32
		body   []byte
	}
}

func (f *fakeForwarder) DeliverExtendedAPIRequest(offset uint32, fromEntity ids.EntityID, body []byte) {
	f.requests = append(f.requests, struct {
		offset uint32
		from   ids.EntityID
		body   []byte
	}{offset, fromEntity, body})
}

func (f *fakeForwarder) DeliverExtendedAPIResponse(offset uint32, body []byte) {
	f.responses = append(f.responses, struct {
		offset uint32
		body   []byte
	}{offset, body})
}

func TestExtendedAPIRoundTrip(t *testing.T) {
	reg := NewExtendedAPIRegistry()
	provider := ids.New()
	providerFwd := &fakeForwarder{}
	reg.Enable(provider, providerFwd)

	requesterFwd := &fakeForwarder{}
	client := ids.New()
	require.NoError(t, reg.Send(100, provider, client, []byte("req"), requesterFwd))

	require.Len(t, providerFwd.requests, 1)
	assert.Equal(t, uint32(100), providerFwd.requests[0].offset)
	assert.Equal(t, client, providerFwd.requests[0].from)

	require.NoError(t, reg.Respond(100, []byte("resp")))
	require.Len(t, requesterFwd.responses, 1)
	assert.Equal(t, []byte("resp"), requesterFwd.responses[0].body)
}

func TestExtendedAPISendToUnknownProviderFails(t *testing.T) {
	reg := NewExtendedAPIRegistry()
	err := reg.Send(1, ids.New(), ids.New(), nil, &fakeForwarder{})
	assert.ErrorIs(t, err, status.New(status.ServiceProtocol, status.CodeNotFound))
}

func TestExtendedAPIRespondWithoutPendingRequestFails(t *testing.T) {
	reg := NewExtendedAPIRegistry()
	err := reg.Respond(999, nil)
	assert.ErrorIs(t, err, status.New(status.ServiceProtocol, status.CodeNotFound))
}

type fakeDataClient struct {
	latest ids.BlockID
}

func (f *fakeDataClient) BlockIDLatestRead(child int) (ids.BlockID, error) { return f.latest, nil }
func (f *fakeDataClient) BlockRead(child int, id ids.BlockID, includeCert bool) (dataservice.BlockNode, error) {
	return dataservice.BlockNode{ID: id, Cert: []byte("cert")}, nil
}
func (f *fakeDataClient) BlockIDByHeightRead(child int, height ids.Height) (ids.BlockID, error) {
	return f.latest, nil
}
func (f *fakeDataClient) TransactionRead(child int, id ids.TransactionID, includeCert bool) (dataservice.TransactionNode, error) {
	return dataservice.TransactionNode{ID: id, Cert: []byte("txcert")}, nil
}
func (f *fakeDataClient) ArtifactRead(child int, id ids.ArtifactID) (dataservice.ArtifactNode, error) {
	return dataservice.ArtifactNode{ID: id, LatestTxnID: ids.New()}, nil
}
func (f *fakeDataClient) TransactionSubmit(child int, id ids.TransactionID, artifactID ids.ArtifactID, cert []byte) error {
	return nil
}

func (f *fakeDataClient) GlobalSettingsRead(child int, key uint64) ([]byte, error) {
	return []byte("value"), nil
}
func (f *fakeDataClient) GlobalSettingsWrite(child int, key uint64, value []byte) error {
	return nil
}

type fakeNotifyClient struct {
	asserted []uint32
	canceled []uint32
}

func (f *fakeNotifyClient) BlockAssertion(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	f.asserted = append(f.asserted, offset)
}
func (f *fakeNotifyClient) BlockAssertionCancel(conn notification.ConnID, offset uint32) {
	f.canceled = append(f.canceled, offset)
}

func newTestSession(t *testing.T, entity ids.EntityID, data DataClient, notify NotifyClient) (*Session, *capability.Table) {
	t.Helper()
	table := capability.NewTable()
	require.NoError(t, table.AddEntity(entity))
	return NewSession(entity, 0, notification.ConnID(1), table, data, notify, NewExtendedAPIRegistry(), &fakeForwarder{}), table
}

func TestHandleRejectsMissingCapability(t *testing.T) {
	entity := ids.New()
	session, _ := newTestSession(t, entity, &fakeDataClient{}, &fakeNotifyClient{})

	resp, ok := session.Handle(ClientRequest{Offset: 1, Verb: capability.VerbLatestBlockIDRead, Object: ids.Zero})
	require.True(t, ok)
	assert.Equal(t, status.CodeUnauthorized, resp.Status)
}

func TestHandleLatestBlockIDRead(t *testing.T) {
	entity := ids.New()
	latest := ids.New()
	session, table := newTestSession(t, entity, &fakeDataClient{latest: latest}, &fakeNotifyClient{})
	require.NoError(t, table.AddCapability(entity, capability.VerbLatestBlockIDRead, capability.AnyObject))

	resp, ok := session.Handle(ClientRequest{Offset: 5, Verb: capability.VerbLatestBlockIDRead, Object: capability.AnyObject})
	require.True(t, ok)
	assert.Equal(t, status.Success, resp.Status)
	assert.Equal(t, latest.Bytes(), resp.Payload)
}

func TestHandleAssertionsAreAsynchronous(t *testing.T) {
	entity := ids.New()
	notify := &fakeNotifyClient{}
	session, table := newTestSession(t, entity, &fakeDataClient{}, notify)
	require.NoError(t, table.AddCapability(entity, capability.VerbAssertLatestBlockID, capability.AnyObject))
	require.NoError(t, table.AddCapability(entity, capability.VerbCancelAssertion, capability.AnyObject))

	_, ok := session.Handle(ClientRequest{Offset: 9, Verb: capability.VerbAssertLatestBlockID, Object: ids.New()})
	assert.False(t, ok)
	assert.Equal(t, []uint32{9}, notify.asserted)

	_, ok = session.Handle(ClientRequest{Offset: 10, Verb: capability.VerbCancelAssertion})
	assert.False(t, ok)
	assert.Equal(t, []uint32{10}, notify.canceled)
}

func TestHandleTransactionSubmit(t *testing.T) {
	entity := ids.New()
	session, table := newTestSession(t, entity, &fakeDataClient{}, &fakeNotifyClient{})
	require.NoError(t, table.AddCapability(entity, capability.VerbTransactionSubmit, capability.AnyObject))

	artifactID := ids.New()
	req := ClientRequest{Offset: 1, Verb: capability.VerbTransactionSubmit, Object: capability.AnyObject, Params: append(artifactID.Bytes(), []byte("cert")...)}
	resp, ok := session.Handle(req)
	require.True(t, ok)
	assert.Equal(t, status.Success, resp.Status)
	assert.Len(t, resp.Payload, 16)
}

func TestHandleGlobalSettingsReadAndWrite(t *testing.T) {
	entity := ids.New()
	session, table := newTestSession(t, entity, &fakeDataClient{}, &fakeNotifyClient{})
	require.NoError(t, table.AddCapability(entity, capability.VerbGlobalSettingsRead, capability.AnyObject))
	require.NoError(t, table.AddCapability(entity, capability.VerbGlobalSettingsWrite, capability.AnyObject))

	keyBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(keyBuf, 42)

	readResp, ok := session.Handle(ClientRequest{Offset: 1, Verb: capability.VerbGlobalSettingsRead, Object: capability.AnyObject, Params: keyBuf})
	require.True(t, ok)
	assert.Equal(t, status.Success, readResp.Status)
	assert.Equal(t, []byte("value"), readResp.Payload)

	writeResp, ok := session.Handle(ClientRequest{Offset: 2, Verb: capability.VerbGlobalSettingsWrite, Object: capability.AnyObject, Params: append(keyBuf, []byte("new-value")...)})
	require.True(t, ok)
	assert.Equal(t, status.Success, writeResp.Status)
}
