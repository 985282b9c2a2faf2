package ipc

import (
	"encoding/binary"
)

// RawFrame is a decoded packet header plus its raw payload bytes, used by
// the non-blocking event loop once a full length-prefixed body has
// arrived in a connection's read buffer.
type RawFrame struct {
	Type    Type
	Payload []byte
}

// fixedPayloadSize returns the payload size for fixed-width types, or -1
// if t is variable-length (STRING/DATA/AUTHED_PACKET carry their own
// 4-byte size field).
func fixedPayloadSize(t Type) int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt64, TypeUint64:
		return 8
	default:
		return -1
	}
}

// DecodeRawFrame attempts to decode one complete packet from the front of
// buf. It returns (nil, 0, ErrWouldBlock) when buf does not yet hold a
// full packet — the caller should keep accumulating reads. It never
// consumes a partial packet.
func DecodeRawFrame(buf []byte) (*RawFrame, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrWouldBlock
	}
	t := Type(binary.BigEndian.Uint32(buf[0:4]))

	if fixed := fixedPayloadSize(t); fixed >= 0 {
		total := 4 + fixed
		if len(buf) < total {
			return nil, 0, ErrWouldBlock
		}
		payload := make([]byte, fixed)
		copy(payload, buf[4:total])
		return &RawFrame{Type: t, Payload: payload}, total, nil
	}

	switch t {
	case TypeString, TypeData, TypeAuthedPacket:
		if len(buf) < 8 {
			return nil, 0, ErrWouldBlock
		}
		size := binary.BigEndian.Uint32(buf[4:8])
		if t == TypeString && size > MaxStringSize {
			return nil, 0, ErrUnexpectedSize
		}
		total := 8 + int(size)
		if len(buf) < total {
			return nil, 0, ErrWouldBlock
		}
		payload := make([]byte, size)
		copy(payload, buf[8:total])
		return &RawFrame{Type: t, Payload: payload}, total, nil
	default:
		return nil, 0, ErrUnexpectedType
	}
}

// Buffer is the accumulating read/write byte buffer: partial reads
// accumulate until a full
// length-prefixed packet is present; writes append and are drained as the
// underlying descriptor becomes writable.
type Buffer struct {
	data []byte
}

// Add appends b to the buffer. It never fails in this in-memory
// implementation and always returns nil; the error result exists for
// symmetry with Drain.
func (b *Buffer) Add(data []byte) error {
	b.data = append(b.data, data...)
	return nil
}

// Len reports the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffered bytes without consuming them.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Drain removes and returns the first n bytes. It fails with
// ErrBufferDrain if n exceeds the buffered length.
func (b *Buffer) Drain(n int) ([]byte, error) {
	if n > len(b.data) {
		return nil, ErrBufferDrain
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = append(b.data[:0:0], b.data[n:]...)
	return out, nil
}

// NextFrame tries to decode and consume one full frame from the buffer.
// It returns (nil, ErrWouldBlock) if the buffer does not yet hold a
// complete packet.
func (b *Buffer) NextFrame() (*RawFrame, error) {
	frame, consumed, err := DecodeRawFrame(b.data)
	if err != nil {
		return nil, err
	}
	b.data = append(b.data[:0:0], b.data[consumed:]...)
	return frame, nil
}

// Conn pairs a read Buffer and write Buffer for one cooperative
// connection. Whoever owns the underlying net.Conn calls Feed with the
// bytes it reads and PendingWrite/TakeWrites to drain what is queued;
// internal/fiber's Scheduler does not drive a Conn itself.
type Conn struct {
	Read  Buffer
	Write Buffer
}

// Feed appends newly-read bytes to the read buffer.
func (c *Conn) Feed(data []byte) error {
	return c.Read.Add(data)
}

// QueueWrite appends a fully-encoded frame to the write buffer. The write
// callback is conceptually "re-armed" whenever Write.Len() > 0 — callers
// poll that directly rather than through a callback registry here.
func (c *Conn) QueueWrite(frame []byte) error {
	return c.Write.Add(frame)
}

// PendingWrite reports whether there is buffered, unflushed write data.
func (c *Conn) PendingWrite() bool {
	return c.Write.Len() > 0
}

// TakeWrites removes and returns all buffered write bytes, for a caller to
// hand to the real socket write call.
func (c *Conn) TakeWrites() []byte {
	out, _ := c.Write.Drain(c.Write.Len())
	return out
}
