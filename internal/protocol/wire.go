// Package protocol implements the client-facing protocol service:
// per-connection handshake, entity authorization,
// and a request loop that decodes an authenticated packet's verb and
// dispatches it to the data or notification service, correlating on the
// client's offset.
package protocol

import (
	"encoding/binary"

	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/ipc"
	"github.com/cuemby/agentd/internal/status"
)

const clientRequestHeaderSize = 4 + 16 + 16

// ClientRequestType and ClientResponseType are the inner type markers an
// AUTHED_PACKET's decrypted payload carries (authpacket.Encode/Decode's
// innerType parameter), distinguishing a client's call from the
// service's reply once both are flowing over the same connection.
const (
	ClientRequestType  ipc.Type = 0x100
	ClientResponseType ipc.Type = 0x101

	// ExtendedAPIRequestType and ExtendedAPIResponseType carry a
	// provider-bound push rather than a reply to the client's own
	// request: a Forwarder writes one of these onto a connection
	// asynchronously, outside the request/response correlation every
	// other inner type follows.
	ExtendedAPIRequestType  ipc.Type = 0x102
	ExtendedAPIResponseType ipc.Type = 0x103
)

// ClientRequest is the decoded body of an AUTHED_PACKET carrying a
// client method invocation: [offset:4][verb:16][object:16][params...].
type ClientRequest struct {
	Offset uint32
	Verb   capability.Verb
	Object ids.EntityID
	Params []byte
}

// DecodeClientRequest parses a ClientRequest from an authenticated
// packet's decrypted payload.
func DecodeClientRequest(buf []byte) (ClientRequest, error) {
	if len(buf) < clientRequestHeaderSize {
		return ClientRequest{}, status.New(status.ServiceProtocol, status.CodeRequestPacketInvalidSize)
	}
	var req ClientRequest
	req.Offset = binary.BigEndian.Uint32(buf[0:4])
	copy(req.Verb[:], buf[4:20])
	req.Object = ids.FromBytes(buf[20:36])
	req.Params = buf[36:]
	return req, nil
}

// EncodeClientRequest serializes a ClientRequest to the bytes carried as
// an authenticated packet's inner payload.
func EncodeClientRequest(req ClientRequest) []byte {
	buf := make([]byte, clientRequestHeaderSize+len(req.Params))
	binary.BigEndian.PutUint32(buf[0:4], req.Offset)
	copy(buf[4:20], req.Verb[:])
	copy(buf[20:36], req.Object.Bytes())
	copy(buf[36:], req.Params)
	return buf
}

// ClientResponse is the decoded body of the AUTHED_PACKET sent back for
// a ClientRequest, correlated by Offset.
type ClientResponse struct {
	Offset  uint32
	Status  status.Code
	Payload []byte
}

// EncodeClientResponse serializes a ClientResponse.
func EncodeClientResponse(resp ClientResponse) []byte {
	buf := make([]byte, 8+len(resp.Payload))
	binary.BigEndian.PutUint32(buf[0:4], resp.Offset)
	binary.BigEndian.PutUint32(buf[4:8], uint32(resp.Status))
	copy(buf[8:], resp.Payload)
	return buf
}

// DecodeClientResponse parses a ClientResponse.
func DecodeClientResponse(buf []byte) (ClientResponse, error) {
	if len(buf) < 8 {
		return ClientResponse{}, status.New(status.ServiceProtocol, status.CodeRequestPacketInvalidSize)
	}
	return ClientResponse{
		Offset:  binary.BigEndian.Uint32(buf[0:4]),
		Status:  status.Code(binary.BigEndian.Uint32(buf[4:8])),
		Payload: buf[8:],
	}, nil
}

// ExtendedAPIRequest is a provider-bound push: [offset:4][fromEntity:16][body...].
type ExtendedAPIRequest struct {
	Offset     uint32
	FromEntity ids.EntityID
	Body       []byte
}

func EncodeExtendedAPIRequest(req ExtendedAPIRequest) []byte {
	buf := make([]byte, 20+len(req.Body))
	binary.BigEndian.PutUint32(buf[0:4], req.Offset)
	copy(buf[4:20], req.FromEntity.Bytes())
	copy(buf[20:], req.Body)
	return buf
}

func DecodeExtendedAPIRequest(buf []byte) (ExtendedAPIRequest, error) {
	if len(buf) < 20 {
		return ExtendedAPIRequest{}, status.New(status.ServiceProtocol, status.CodeRequestPacketInvalidSize)
	}
	return ExtendedAPIRequest{
		Offset:     binary.BigEndian.Uint32(buf[0:4]),
		FromEntity: ids.FromBytes(buf[4:20]),
		Body:       buf[20:],
	}, nil
}

// ExtendedAPIResponse is a requester-bound push: [offset:4][body...].
type ExtendedAPIResponse struct {
	Offset uint32
	Body   []byte
}

func EncodeExtendedAPIResponse(resp ExtendedAPIResponse) []byte {
	buf := make([]byte, 4+len(resp.Body))
	binary.BigEndian.PutUint32(buf[0:4], resp.Offset)
	copy(buf[4:], resp.Body)
	return buf
}

func DecodeExtendedAPIResponse(buf []byte) (ExtendedAPIResponse, error) {
	if len(buf) < 4 {
		return ExtendedAPIResponse{}, status.New(status.ServiceProtocol, status.CodeRequestPacketInvalidSize)
	}
	return ExtendedAPIResponse{
		Offset: binary.BigEndian.Uint32(buf[0:4]),
		Body:   buf[4:],
	}, nil
}
