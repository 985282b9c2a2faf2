package main

import (
	"crypto/ecdh"
	"io"

	"github.com/cuemby/agentd/internal/capability"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/status"
)

// Protocol control-socket verbs: set the private key, add authorized
// entities, add capabilities, then finalize.
const (
	methodProtocolSetPrivateKey dispatch.MethodID = iota
	methodProtocolAddEntity
	methodProtocolAddCapability
	methodProtocolFinalize
	protocolControlMethodUpperBound
)

func newProtocolControlDispatcher(ctrl *protocol.Control) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(0, protocolControlMethodUpperBound-1)

	d.Register(methodProtocolSetPrivateKey, func(req dispatch.Request) ([]byte, status.Code) {
		key, err := ecdh.X25519().NewPrivateKey(req.Body)
		if err != nil {
			return nil, status.CodeRequestPacketInvalidSize
		}
		if err := ctrl.SetPrivateKey(key); err != nil {
			return nil, status.CodeAlreadyConfigured
		}
		return nil, status.Success
	})

	d.Register(methodProtocolAddEntity, func(req dispatch.Request) ([]byte, status.Code) {
		if len(req.Body) < 16 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		if err := ctrl.Table.AddEntity(ids.FromBytes(req.Body[0:16])); err != nil {
			return nil, status.CodeAlreadyConfigured
		}
		return nil, status.Success
	})

	d.Register(methodProtocolAddCapability, func(req dispatch.Request) ([]byte, status.Code) {
		if len(req.Body) < 48 {
			return nil, status.CodeRequestPacketInvalidSize
		}
		subject := ids.FromBytes(req.Body[0:16])
		var verb capability.Verb
		copy(verb[:], req.Body[16:32])
		object := ids.FromBytes(req.Body[32:48])
		if err := ctrl.Table.AddCapability(subject, verb, object); err != nil {
			return nil, status.CodeAlreadyConfigured
		}
		return nil, status.Success
	})

	d.Register(methodProtocolFinalize, func(req dispatch.Request) ([]byte, status.Code) {
		ctrl.Finalize()
		return nil, status.Success
	})

	return d
}

// protocolControlClient drives the protocol service's one-shot control
// handshake over an already-connected control socket: set the
// long-term handshake key, register every authorized entity and
// capability triple, then finalize.
type protocolControlClient struct {
	rw io.ReadWriter
}

func newProtocolControlClient(rw io.ReadWriter) *protocolControlClient {
	return &protocolControlClient{rw: rw}
}

func (p *protocolControlClient) call(method dispatch.MethodID, body []byte) error {
	if err := dispatch.WriteMessage(p.rw, dispatch.EncodeRequest(dispatch.Request{MethodID: method, Body: body})); err != nil {
		return err
	}
	buf, err := dispatch.ReadMessage(p.rw)
	if err != nil {
		return err
	}
	resp, err := dispatch.DecodeResponse(buf)
	if err != nil {
		return err
	}
	if resp.Status != status.Success {
		return status.New(status.ServiceProtocol, resp.Status)
	}
	return nil
}

func (p *protocolControlClient) SetPrivateKey(key *ecdh.PrivateKey) error {
	return p.call(methodProtocolSetPrivateKey, key.Bytes())
}

func (p *protocolControlClient) AddEntity(entity ids.EntityID) error {
	return p.call(methodProtocolAddEntity, entity.Bytes())
}

func (p *protocolControlClient) AddCapability(subject ids.EntityID, verb capability.Verb, object ids.EntityID) error {
	body := make([]byte, 0, 48)
	body = append(body, subject.Bytes()...)
	body = append(body, verb[:]...)
	body = append(body, object.Bytes()...)
	return p.call(methodProtocolAddCapability, body)
}

func (p *protocolControlClient) Finalize() error {
	return p.call(methodProtocolFinalize, nil)
}
