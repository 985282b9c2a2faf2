package protocol

import (
	"testing"

	"github.com/cuemby/agentd/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendedAPIRequestRoundTrip(t *testing.T) {
	req := ExtendedAPIRequest{Offset: 42, FromEntity: ids.New(), Body: []byte("hello")}
	decoded, err := DecodeExtendedAPIRequest(EncodeExtendedAPIRequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestExtendedAPIResponseRoundTrip(t *testing.T) {
	resp := ExtendedAPIResponse{Offset: 7, Body: []byte("world")}
	decoded, err := DecodeExtendedAPIResponse(EncodeExtendedAPIResponse(resp))
	require.NoError(t, err)
	assert.Equal(t, resp, decoded)
}

func TestDecodeExtendedAPIRequestRejectsShortBuffer(t *testing.T) {
	_, err := DecodeExtendedAPIRequest([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeExtendedAPIResponseRejectsShortBuffer(t *testing.T) {
	_, err := DecodeExtendedAPIResponse([]byte{1, 2, 3})
	require.Error(t, err)
}
