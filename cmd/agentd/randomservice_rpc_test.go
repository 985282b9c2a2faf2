package main

import (
	"net"
	"testing"

	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/randomservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomServiceClientReturnsRequestedLength(t *testing.T) {
	svc := randomservice.NewService()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	go func() { _ = dispatch.Serve(serverConn, newRandomDispatcher(svc)) }()

	client := newRandomServiceClient(clientConn)
	buf, err := client.RandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, buf, 32)

	buf2, err := client.RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, buf, buf2)
}

func TestRandomServiceClientRejectsOversizedRequest(t *testing.T) {
	svc := randomservice.NewService()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })
	go func() { _ = dispatch.Serve(serverConn, newRandomDispatcher(svc)) }()

	client := newRandomServiceClient(clientConn)
	_, err := client.RandomBytes(randomservice.MaxRequestSize + 1)
	assert.Error(t, err)
}
