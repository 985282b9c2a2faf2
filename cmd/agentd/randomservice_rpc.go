package main

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/randomservice"
	"github.com/cuemby/agentd/internal/status"
)

// methodRandomBytes is the random service's only verb: draw n bytes from
// its entropy source.
const methodRandomBytes dispatch.MethodID = 0

func newRandomDispatcher(svc *randomservice.Service) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(methodRandomBytes, methodRandomBytes)
	d.Register(methodRandomBytes, func(req dispatch.Request) ([]byte, status.Code) {
		if len(req.Body) < 4 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		n := int(binary.BigEndian.Uint32(req.Body[0:4]))
		buf, err := svc.RandomBytes(n)
		if err != nil {
			return nil, codeOf(err)
		}
		return buf, status.Success
	})
	return d
}

// randomServiceClient calls RANDOM_BYTES over one socket shared by
// protocol's many concurrently handshaking connections, offset-correlated
// the same way dataServiceClient is.
type randomServiceClient struct {
	c *dispatch.Client
}

func newRandomServiceClient(conn io.ReadWriter) *randomServiceClient {
	return &randomServiceClient{c: dispatch.NewClient(conn)}
}

func (r *randomServiceClient) RandomBytes(n int) ([]byte, error) {
	var body [4]byte
	binary.BigEndian.PutUint32(body[:], uint32(n))
	resp, err := r.c.Call(methodRandomBytes, body[:])
	if err := errFromCall(resp, err); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}
