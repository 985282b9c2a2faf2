package main

import (
	"io"
	"sync"

	"github.com/cuemby/agentd/internal/bitcap"
	"github.com/cuemby/agentd/internal/canonization"
	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/protocol"
	"github.com/cuemby/agentd/internal/status"
)

var (
	_ canonization.NotifyClient = (*notificationClient)(nil)
	_ protocol.NotifyClient     = (*notificationClient)(nil)
)

// notificationClient drives one end of a notification-service wire
// connection and satisfies both canonization.NotifyClient and
// protocol.NotifyClient. conn is accepted on every call to match those
// interfaces but unused here: this client owns exactly one socket, so
// the connection identity is already implicit in which client the
// caller holds. Requests are fire-and-forget (the socket carries no
// synchronous call/response pairing, since a BlockUpdate's invalidations
// can land on a sibling connection rather than this one) — callers that
// need to observe acks/invalidations drain them from ReadLoop.
type notificationClient struct {
	mu  sync.Mutex
	w   io.Writer
	log func(error)
}

func newNotificationClient(w io.Writer, log func(error)) *notificationClient {
	return &notificationClient{w: w, log: log}
}

func (n *notificationClient) send(method dispatch.MethodID, offset uint32, body []byte) {
	n.mu.Lock()
	err := dispatch.WriteMessage(n.w, dispatch.EncodeRequest(dispatch.Request{MethodID: method, Offset: offset, Body: body}))
	n.mu.Unlock()
	if err != nil && n.log != nil {
		n.log(err)
	}
}

func (n *notificationClient) ReduceCaps(caps bitcap.Map) {
	n.send(methodReduceCaps, 0, encodeCaps(caps))
}

func (n *notificationClient) BlockUpdate(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	n.send(methodBlockUpdate, offset, blockID.Bytes())
}

func (n *notificationClient) BlockAssertion(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	n.send(methodBlockAssertion, offset, blockID.Bytes())
}

func (n *notificationClient) BlockAssertionCancel(conn notification.ConnID, offset uint32) {
	n.send(methodBlockAssertionCancel, offset, nil)
}

// NotificationReply is one decoded Ack/Invalidate/CancelAck arriving
// asynchronously on a notificationClient's read side.
type NotificationReply struct {
	Kind    dispatch.MethodID
	Offset  uint32
	BlockID ids.BlockID
}

// ReadLoop decodes replies off r until it errors, handing each to onReply.
// Callers run this in its own goroutine per connection.
func ReadLoop(r io.Reader, onReply func(NotificationReply)) error {
	for {
		buf, err := dispatch.ReadMessage(r)
		if err != nil {
			return err
		}
		resp, err := dispatch.DecodeResponse(buf)
		if err != nil {
			continue
		}
		if resp.Status != status.Success {
			continue
		}
		reply := NotificationReply{Kind: resp.MethodID, Offset: resp.Offset}
		if resp.MethodID == methodInvalidate && len(resp.Payload) >= 16 {
			reply.BlockID = ids.FromBytes(resp.Payload[0:16])
		}
		onReply(reply)
	}
}
