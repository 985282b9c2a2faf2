package dispatch

import (
	"io"
	"sync"
)

// Serve runs one connection's server side: read a framed request, hand
// it to d, write back the framed response, until conn errors or closes.
// Each private service's control or data socket runs exactly one Serve
// loop per connection — the dispatch model is
// inherently one-request-at-a-time per socket; a process fielding
// several consumers (e.g. the data service) runs one Serve goroutine
// per consumer socket instead of multiplexing them onto one.
func Serve(conn io.ReadWriter, d *Dispatcher) error {
	for {
		buf, err := ReadMessage(conn)
		if err != nil {
			return err
		}
		resp := d.Dispatch(buf)
		if err := WriteMessage(conn, EncodeResponse(resp)); err != nil {
			return err
		}
	}
}

// Client is an offset-correlated caller over one control-socket
// connection, for consumer processes (attestation, canonization,
// protocol) that may have several logical calls in flight against the
// same socket at once — the same offset-as-correlation-token idea
// internal/protocol's ExtendedAPIRegistry uses for its own pending-reply
// map, generalized here to the control-socket wire.
type Client struct {
	writeMu sync.Mutex
	conn    io.ReadWriter

	mu      sync.Mutex
	offset  uint32
	pending map[uint32]chan Response
	closed  bool
	readErr error
}

// NewClient starts a background read loop over conn that routes each
// incoming Response to the Call that is waiting on its offset.
func NewClient(conn io.ReadWriter) *Client {
	c := &Client{conn: conn, pending: make(map[uint32]chan Response)}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		buf, err := ReadMessage(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		resp, err := DecodeResponse(buf)
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.Offset]
		if ok {
			delete(c.pending, resp.Offset)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.readErr = err
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
}

// Call sends a request for method and blocks for the matching response.
func (c *Client) Call(method MethodID, body []byte) (Response, error) {
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return Response{}, err
	}
	offset := c.offset
	c.offset++
	ch := make(chan Response, 1)
	c.pending[offset] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := WriteMessage(c.conn, EncodeRequest(Request{MethodID: method, Offset: offset, Body: body}))
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, offset)
		c.mu.Unlock()
		return Response{}, err
	}

	resp, ok := <-ch
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return Response{}, err
	}
	return resp, nil
}

// Send writes a request without waiting for its response, for verbs
// whose acknowledgment the caller doesn't need synchronously (the
// notification assertion verbs: the asserter is acked, but the
// connection that made the call doesn't block on it).
func (c *Client) Send(method MethodID, offset uint32, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(c.conn, EncodeRequest(Request{MethodID: method, Offset: offset, Body: body}))
}

// NextOffset allocates an offset from the same counter Call uses,
// without registering a pending wait — for Send callers that still need
// a fresh correlation token.
func (c *Client) NextOffset() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.offset
	c.offset++
	return o
}
