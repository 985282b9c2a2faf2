package main

import (
	"crypto/ecdh"
	"io"

	"github.com/cuemby/agentd/internal/authservice"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/status"
)

// Auth-service control verb. AGENT_IDENTITY_SET is the only call this
// socket ever carries: one shot, before any other
// step that might need the node's identity.
const methodAgentIdentitySet dispatch.MethodID = 0

func newAuthDispatcher(svc *authservice.Service) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(methodAgentIdentitySet, methodAgentIdentitySet)
	d.Register(methodAgentIdentitySet, func(req dispatch.Request) ([]byte, status.Code) {
		if len(req.Body) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		entityID := ids.FromBytes(req.Body[0:16])
		key, err := ecdh.X25519().NewPrivateKey(req.Body[16:])
		if err != nil {
			return nil, status.CodeRequestPacketInvalidSize
		}
		if err := svc.SetIdentity(entityID, key); err != nil {
			return nil, codeOf(err)
		}
		return nil, status.Success
	})
	return d
}

// setAgentIdentity drives the one-shot AGENT_IDENTITY_SET call over an
// already-connected auth-service control socket. Wired as the
// supervisor.AuthControlInit hook.
func setAgentIdentity(ctrl io.ReadWriter, entityID ids.EntityID, key *ecdh.PrivateKey) error {
	body := append(append([]byte{}, entityID.Bytes()...), key.Bytes()...)
	if err := dispatch.WriteMessage(ctrl, dispatch.EncodeRequest(dispatch.Request{MethodID: methodAgentIdentitySet, Body: body})); err != nil {
		return err
	}
	buf, err := dispatch.ReadMessage(ctrl)
	if err != nil {
		return err
	}
	resp, err := dispatch.DecodeResponse(buf)
	if err != nil {
		return err
	}
	if resp.Status != status.Success {
		return status.New(status.ServiceAuth, resp.Status)
	}
	return nil
}
