package main

import (
	"crypto/ecdh"
	"crypto/rand"
	"net"
	"testing"

	"github.com/cuemby/agentd/internal/authservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAgentIdentityRoundTrip(t *testing.T) {
	svc := authservice.NewService()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	go func() { _ = dispatch.Serve(serverConn, newAuthDispatcher(svc)) }()

	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	entityID := ids.New()

	require.NoError(t, setAgentIdentity(clientConn, entityID, key))

	identity, err := svc.Identity()
	require.NoError(t, err)
	assert.Equal(t, entityID, identity.EntityID)
}

func TestSetAgentIdentityRejectsSecondCall(t *testing.T) {
	svc := authservice.NewService()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	go func() { _ = dispatch.Serve(serverConn, newAuthDispatcher(svc)) }()

	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, setAgentIdentity(clientConn, ids.New(), key))

	key2, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.Error(t, setAgentIdentity(clientConn, ids.New(), key2))
}
