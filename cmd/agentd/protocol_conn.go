package main

import (
	"context"
	"net"
	"sync"

	"github.com/cuemby/agentd/internal/authpacket"
	"github.com/cuemby/agentd/internal/fiber"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/ipc"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/status"
)

// protocolDeps bundles the long-lived dependencies every accepted
// connection shares: the handshake key and capability table (configured
// once over the control socket), the data-service child-context
// allocator, the notification router multiplexing the shared
// notification socket, the random-service client supplying the server's
// handshake nonce, and the extended-API registry every provider and
// requester on this process shares.
type protocolDeps struct {
	control  *protocol.Control
	data     *dataServiceClient
	notify   *protocolNotifyRouter
	random   *randomServiceClient
	extended *protocol.ExtendedAPIRegistry
}

// serveProtocolListener accepts connections on ln until it errors (e.g.
// on listener close during shutdown), handing each to sched as its own
// fiber: one fiber per client connection, yielding at
// every I/O suspension point. A per-connection error ends only that
// fiber; sched.Spawn itself returns false once sched has quiesced,
// which simply drops any connection accepted in the shutdown race.
func serveProtocolListener(ln net.Listener, deps protocolDeps, sched *fiber.Scheduler) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		sched.Spawn(func(ctx context.Context) error {
			defer conn.Close()
			return handleProtocolConn(conn, deps)
		})
	}
}

// handleProtocolConn runs one client connection's handshake followed by
// its request loop, until the connection errs or closes.
func handleProtocolConn(conn net.Conn, deps protocolDeps) error {
	serverKey, err := protocol.GenerateEphemeralKey()
	if err != nil {
		return err
	}
	serverNonce, err := deps.random.RandomBytes(protocol.NonceSize)
	if err != nil {
		return err
	}

	if err := ipc.WriteData(conn, serverKey.PublicKey().Bytes()); err != nil {
		return err
	}
	if err := ipc.WriteData(conn, serverNonce); err != nil {
		return err
	}

	clientPub, err := ipc.ReadData(conn)
	if err != nil {
		return err
	}
	clientNonce, err := ipc.ReadData(conn)
	if err != nil {
		return err
	}

	secret, err := protocol.DeriveSharedSecret(serverKey, clientPub, clientNonce, serverNonce)
	if err != nil {
		return err
	}
	codec := authpacket.NewCodec(secret)

	entityBytes, err := ipc.ReadData(conn)
	if err != nil {
		return err
	}
	if len(entityBytes) < 16 {
		return status.New(status.ServiceProtocol, status.CodeRequestPacketInvalidSize)
	}
	entity := ids.FromBytes(entityBytes[0:16])

	if !protocol.Authorize(deps.control.Table, entity) {
		_ = ipc.WriteUint64(conn, uint64(status.CodeUnauthorized))
		return status.New(status.ServiceProtocol, status.CodeUnauthorized)
	}
	if err := ipc.WriteUint64(conn, uint64(status.Success)); err != nil {
		return err
	}

	child, err := deps.data.CreateChild(protocol.Caps())
	if err != nil {
		return err
	}
	defer deps.data.CloseChild(child)

	pc := &protocolConn{conn: conn, codec: codec}
	sink := deps.notify.NewSession(pc)
	session := protocol.NewSession(entity, child, notification.ConnID(0), deps.control.Table, deps.data, sink, deps.extended, pc)

	defer deps.extended.Disable(entity)

	return pc.serve(session)
}

// protocolConn owns one client connection's wire-level framing: a
// shared authpacket.Codec and a write mutex, since the request loop and
// asynchronous assertion/extended-API deliveries both write to the same
// socket. It implements protocol.Forwarder and assertionSink.
type protocolConn struct {
	conn  net.Conn
	codec *authpacket.Codec

	mu sync.Mutex
}

var (
	_ protocol.Forwarder = (*protocolConn)(nil)
	_ assertionSink      = (*protocolConn)(nil)
)

func (p *protocolConn) serve(session *protocol.Session) error {
	for {
		buf, err := ipc.ReadAuthedPacket(p.conn)
		if err != nil {
			return err
		}
		innerType, payload, err := p.codec.Decode(buf)
		if err != nil {
			return err
		}
		if innerType != protocol.ClientRequestType {
			continue
		}
		req, err := protocol.DecodeClientRequest(payload)
		if err != nil {
			continue
		}
		resp, ok := session.Handle(req)
		if !ok {
			continue
		}
		if err := p.writeInner(protocol.ClientResponseType, protocol.EncodeClientResponse(resp)); err != nil {
			return err
		}
	}
}

func (p *protocolConn) writeInner(innerType ipc.Type, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, err := p.codec.Encode(innerType, payload)
	if err != nil {
		return err
	}
	return ipc.WriteAuthedPacket(p.conn, buf)
}

// DeliverExtendedAPIRequest implements protocol.Forwarder: pushes an
// inbound extended-API request onto this provider's own connection.
func (p *protocolConn) DeliverExtendedAPIRequest(offset uint32, fromEntity ids.EntityID, body []byte) {
	_ = p.writeInner(protocol.ExtendedAPIRequestType, protocol.EncodeExtendedAPIRequest(protocol.ExtendedAPIRequest{
		Offset: offset, FromEntity: fromEntity, Body: body,
	}))
}

// DeliverExtendedAPIResponse implements protocol.Forwarder: pushes a
// provider's answer back onto the original requester's connection.
func (p *protocolConn) DeliverExtendedAPIResponse(offset uint32, body []byte) {
	_ = p.writeInner(protocol.ExtendedAPIResponseType, protocol.EncodeExtendedAPIResponse(protocol.ExtendedAPIResponse{
		Offset: offset, Body: body,
	}))
}

// DeliverAck, DeliverInvalidate, and DeliverCancelAck implement
// assertionSink: the three asynchronous replies the notification
// service's Responder produces for this connection's assertion calls,
// each carried as a ClientResponse correlated by the client's own
// offset.
func (p *protocolConn) DeliverAck(offset uint32) {
	_ = p.writeInner(protocol.ClientResponseType, protocol.EncodeClientResponse(protocol.ClientResponse{
		Offset: offset, Status: status.Success,
	}))
}

func (p *protocolConn) DeliverInvalidate(offset uint32, blockID ids.BlockID) {
	_ = p.writeInner(protocol.ClientResponseType, protocol.EncodeClientResponse(protocol.ClientResponse{
		Offset: offset, Status: status.Success, Payload: blockID.Bytes(),
	}))
}

func (p *protocolConn) DeliverCancelAck(offset uint32) {
	_ = p.writeInner(protocol.ClientResponseType, protocol.EncodeClientResponse(protocol.ClientResponse{
		Offset: offset, Status: status.Success,
	}))
}

