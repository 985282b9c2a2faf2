// Package dispatch implements the request/response method envelope shared
// by every control socket:
//
//	[method_id : u32][request_offset : u32][method-specific body...]
//	[method_id : u32][request_offset : u32][status : u32][optional payload...]
package dispatch

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/agentd/internal/status"
)

// maxMessageSize bounds a single control-socket message, guarding against
// a corrupt or hostile length prefix driving an unbounded allocation.
const maxMessageSize = 1 << 20

// WriteMessage frames buf with a 4-byte big-endian length prefix and
// writes it whole, the same length-delimited style internal/ipc's frame
// reader uses for the client-facing wire protocol, generalized here for
// the control sockets between the supervisor and each private service.
func WriteMessage(w io.Writer, buf []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one length-prefixed message written by WriteMessage.
func ReadMessage(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size > maxMessageSize {
		return nil, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MethodID identifies a per-service method number.
type MethodID uint32

// Request is a decoded method invocation.
type Request struct {
	MethodID MethodID
	Offset   uint32
	Body     []byte
}

// Response is a decoded method result.
type Response struct {
	MethodID MethodID
	Offset   uint32
	Status   status.Code
	Payload  []byte
}

// EncodeRequest serializes a Request to its wire form.
func EncodeRequest(req Request) []byte {
	buf := make([]byte, 8+len(req.Body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(req.MethodID))
	binary.BigEndian.PutUint32(buf[4:8], req.Offset)
	copy(buf[8:], req.Body)
	return buf
}

// DecodeRequest parses the fixed method_id/offset header from a request
// body, returning the remaining method-specific bytes.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) < 8 {
		return Request{}, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	return Request{
		MethodID: MethodID(binary.BigEndian.Uint32(buf[0:4])),
		Offset:   binary.BigEndian.Uint32(buf[4:8]),
		Body:     buf[8:],
	}, nil
}

// EncodeResponse serializes a Response to its wire form.
func EncodeResponse(resp Response) []byte {
	buf := make([]byte, 12+len(resp.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(resp.MethodID))
	binary.BigEndian.PutUint32(buf[4:8], resp.Offset)
	binary.BigEndian.PutUint32(buf[8:12], uint32(resp.Status))
	copy(buf[12:], resp.Payload)
	return buf
}

// DecodeResponse parses a wire Response.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 12 {
		return Response{}, status.New(status.ServiceIPC, status.CodeRequestPacketInvalidSize)
	}
	return Response{
		MethodID: MethodID(binary.BigEndian.Uint32(buf[0:4])),
		Offset:   binary.BigEndian.Uint32(buf[4:8]),
		Status:   status.Code(binary.BigEndian.Uint32(buf[8:12])),
		Payload:  buf[12:],
	}, nil
}

// HandlerFunc answers one decoded Request with a Response payload+status.
type HandlerFunc func(req Request) (payload []byte, code status.Code)

// Dispatcher maps a closed, contiguous range of method IDs
// [lowerBound, upperBound] to handler functions; a method outside that
// range is rejected with INVALID_REQUEST_ID.
type Dispatcher struct {
	lowerBound MethodID
	upperBound MethodID
	handlers   map[MethodID]HandlerFunc
}

// NewDispatcher creates a Dispatcher whose valid method range is
// [lowerBound, upperBound] inclusive.
func NewDispatcher(lowerBound, upperBound MethodID) *Dispatcher {
	return &Dispatcher{
		lowerBound: lowerBound,
		upperBound: upperBound,
		handlers:   make(map[MethodID]HandlerFunc),
	}
}

// Register binds a handler to a method ID. It panics if the method ID
// falls outside the Dispatcher's declared range — that is a programmer
// error, not a runtime condition.
func (d *Dispatcher) Register(method MethodID, handler HandlerFunc) {
	if method < d.lowerBound || method > d.upperBound {
		panic("dispatch: method id out of declared range")
	}
	d.handlers[method] = handler
}

// Dispatch decodes buf as a Request and invokes its registered handler,
// producing a wire-ready Response. A method outside [lowerBound,
// upperBound], or one with no registered handler, yields
// INVALID_REQUEST_ID without invoking anything.
func (d *Dispatcher) Dispatch(buf []byte) Response {
	req, err := DecodeRequest(buf)
	if err != nil {
		return Response{Status: status.CodeRequestPacketInvalidSize}
	}

	if req.MethodID < d.lowerBound || req.MethodID > d.upperBound {
		return Response{MethodID: req.MethodID, Offset: req.Offset, Status: status.CodeInvalidRequestID}
	}

	handler, ok := d.handlers[req.MethodID]
	if !ok {
		return Response{MethodID: req.MethodID, Offset: req.Offset, Status: status.CodeInvalidRequestID}
	}

	payload, code := handler(req)
	return Response{MethodID: req.MethodID, Offset: req.Offset, Status: code, Payload: payload}
}
