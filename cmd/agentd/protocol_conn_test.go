package main

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/agentd/internal/authpacket"
	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/ipc"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/randomservice"
	"github.com/cuemby/agentd/internal/status"
	"github.com/stretchr/testify/require"
)

func newTestProtocolDeps(t *testing.T) (protocolDeps, ids.EntityID) {
	t.Helper()

	table := capability.NewTable()
	entity := ids.New()
	require.NoError(t, table.AddEntity(entity))
	require.NoError(t, table.AddCapability(entity, capability.VerbLatestBlockIDRead, capability.AnyObject))
	require.NoError(t, table.AddCapability(entity, capability.VerbAssertLatestBlockID, capability.AnyObject))

	ctrl := protocol.NewControl(table)
	key, err := protocol.GenerateEphemeralKey()
	require.NoError(t, err)
	require.NoError(t, ctrl.SetPrivateKey(key))
	ctrl.Finalize()

	rc := newTestRootContext(t)
	dataClient := startDataServer(t, rc)

	notifServer, notifClientConn := net.Pipe()
	t.Cleanup(func() { notifServer.Close(); notifClientConn.Close() })
	responder := newNotificationResponder()
	responder.Register(notification.ConnID(2), notifServer)
	svc := notification.NewService(responder)
	go func() { _ = serveNotificationConn(svc, notification.ConnID(2), notifServer) }()
	notifClient := newNotificationClient(notifClientConn, nil)
	router := newProtocolNotifyRouter(notifClient, notification.ConnID(2))
	go func() { _ = router.Run(notifClientConn) }()

	randServer, randClientConn := net.Pipe()
	t.Cleanup(func() { randServer.Close(); randClientConn.Close() })
	randSvc := randomservice.NewService()
	go func() { _ = dispatch.Serve(randServer, newRandomDispatcher(randSvc)) }()
	randClient := newRandomServiceClient(randClientConn)

	deps := protocolDeps{
		control:  ctrl,
		data:     dataClient,
		notify:   router,
		random:   randClient,
		extended: protocol.NewExtendedAPIRegistry(),
	}
	return deps, entity
}

func TestHandleProtocolConnHandshakeAndRequest(t *testing.T) {
	deps, entity := newTestProtocolDeps(t)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() { done <- handleProtocolConn(serverConn, deps) }()

	clientKey, err := protocol.GenerateEphemeralKey()
	require.NoError(t, err)
	clientNonce := make([]byte, protocol.NonceSize)

	serverPub, err := ipc.ReadData(clientConn)
	require.NoError(t, err)
	serverNonce, err := ipc.ReadData(clientConn)
	require.NoError(t, err)

	require.NoError(t, ipc.WriteData(clientConn, clientKey.PublicKey().Bytes()))
	require.NoError(t, ipc.WriteData(clientConn, clientNonce))

	secret, err := protocol.DeriveSharedSecret(clientKey, serverPub, clientNonce, serverNonce)
	require.NoError(t, err)
	codec := authpacket.NewCodec(secret)

	require.NoError(t, ipc.WriteData(clientConn, entity.Bytes()))

	authStatus, err := ipc.ReadUint64(clientConn)
	require.NoError(t, err)
	require.Equal(t, uint64(status.Success), authStatus)

	req := protocol.ClientRequest{Offset: 1, Verb: capability.VerbLatestBlockIDRead, Object: capability.AnyObject}
	buf, err := codec.Encode(protocol.ClientRequestType, protocol.EncodeClientRequest(req))
	require.NoError(t, err)
	require.NoError(t, ipc.WriteAuthedPacket(clientConn, buf))

	respBuf, err := ipc.ReadAuthedPacket(clientConn)
	require.NoError(t, err)
	innerType, payload, err := codec.Decode(respBuf)
	require.NoError(t, err)
	require.Equal(t, protocol.ClientResponseType, innerType)

	resp, err := protocol.DecodeClientResponse(payload)
	require.NoError(t, err)
	require.Equal(t, status.Success, resp.Status)
	require.True(t, ids.FromBytes(resp.Payload).IsZero())

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleProtocolConn did not return after connection close")
	}
}

func TestHandleProtocolConnRejectsUnauthorizedEntity(t *testing.T) {
	deps, _ := newTestProtocolDeps(t)
	stranger := ids.New()

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() { done <- handleProtocolConn(serverConn, deps) }()

	clientKey, err := protocol.GenerateEphemeralKey()
	require.NoError(t, err)
	clientNonce := make([]byte, protocol.NonceSize)

	_, err = ipc.ReadData(clientConn)
	require.NoError(t, err)
	_, err = ipc.ReadData(clientConn)
	require.NoError(t, err)

	require.NoError(t, ipc.WriteData(clientConn, clientKey.PublicKey().Bytes()))
	require.NoError(t, ipc.WriteData(clientConn, clientNonce))
	require.NoError(t, ipc.WriteData(clientConn, stranger.Bytes()))

	authStatus, err := ipc.ReadUint64(clientConn)
	require.NoError(t, err)
	require.Equal(t, uint64(status.CodeUnauthorized), authStatus)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handleProtocolConn did not return after rejecting an unauthorized entity")
	}
}
