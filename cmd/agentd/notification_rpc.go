package main

import (
	"io"
	"sync"

	"github.com/cuemby/agentd/internal/dispatch"
	"github.com/cuemby/agentd/internal/ids"
	"github.com/cuemby/agentd/internal/notification"
	"github.com/cuemby/agentd/internal/status"
)

// Notification-service wire verbs. These don't share dispatch.Dispatcher's
// request/response round trip: a response can land on a connection
// other than the one that made the call
// (BlockUpdate's invalidations), so the server side drives the real
// notification.Responder directly instead of returning one matched
// Response per Request.
const (
	methodReduceCaps dispatch.MethodID = iota
	methodBlockUpdate
	methodBlockAssertion
	methodBlockAssertionCancel
)

// Reply kinds a notificationResponder writes back, asynchronously with
// respect to whichever request provoked them.
const (
	methodAck dispatch.MethodID = iota
	methodInvalidate
	methodCancelAck
)

// serveNotificationConn reads verb requests off rw for conn until it
// errors or the connection closes, driving svc directly. Any response
// this call or another connection's call provokes is written by
// svc's shared Responder, not by this loop.
func serveNotificationConn(svc *notification.Service, conn notification.ConnID, rw io.Reader) error {
	for {
		buf, err := dispatch.ReadMessage(rw)
		if err != nil {
			return err
		}
		req, err := dispatch.DecodeRequest(buf)
		if err != nil {
			continue
		}
		switch req.MethodID {
		case methodReduceCaps:
			svc.ReduceCaps(conn, decodeCaps(req.Body))
		case methodBlockUpdate:
			if len(req.Body) < 16 {
				continue
			}
			svc.BlockUpdate(conn, req.Offset, ids.FromBytes(req.Body[0:16]))
		case methodBlockAssertion:
			if len(req.Body) < 16 {
				continue
			}
			svc.BlockAssertion(conn, req.Offset, ids.FromBytes(req.Body[0:16]))
		case methodBlockAssertionCancel:
			svc.BlockAssertionCancel(conn, req.Offset)
		}
	}
}

// notificationResponder implements notification.Responder for a Service
// shared by several wire connections (one per consumer role), routing
// each reply to whichever connection's socket owns it.
type notificationResponder struct {
	mu      sync.Mutex
	writers map[notification.ConnID]*muxWriter
}

type muxWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newNotificationResponder() *notificationResponder {
	return &notificationResponder{writers: make(map[notification.ConnID]*muxWriter)}
}

// Register associates conn with the writer half of its socket. Call
// this once per connection before any request on it can provoke a reply.
func (r *notificationResponder) Register(conn notification.ConnID, w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[conn] = &muxWriter{w: w}
}

func (r *notificationResponder) writeTo(conn notification.ConnID, resp dispatch.Response) {
	r.mu.Lock()
	cw := r.writers[conn]
	r.mu.Unlock()
	if cw == nil {
		return
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_ = dispatch.WriteMessage(cw.w, dispatch.EncodeResponse(resp))
}

func (r *notificationResponder) Ack(conn notification.ConnID, offset uint32) {
	r.writeTo(conn, dispatch.Response{MethodID: methodAck, Offset: offset, Status: status.Success})
}

func (r *notificationResponder) Invalidate(conn notification.ConnID, offset uint32, blockID ids.BlockID) {
	r.writeTo(conn, dispatch.Response{MethodID: methodInvalidate, Offset: offset, Status: status.Success, Payload: blockID.Bytes()})
}

func (r *notificationResponder) CancelAck(conn notification.ConnID, offset uint32) {
	r.writeTo(conn, dispatch.Response{MethodID: methodCancelAck, Offset: offset, Status: status.Success})
}

var _ notification.Responder = (*notificationResponder)(nil)
