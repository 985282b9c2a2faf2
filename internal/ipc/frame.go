package ipc

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/agentd/internal/status"
)

// WriteInt8 writes a one-byte INT8 packet: no size field.
func WriteInt8(w io.Writer, v int8) error {
	return writeFixed(w, TypeInt8, []byte{byte(v)})
}

// WriteUint8 writes a one-byte UINT8 packet.
func WriteUint8(w io.Writer, v uint8) error {
	return writeFixed(w, TypeUint8, []byte{v})
}

// WriteInt64 writes an eight-byte big-endian INT64 packet.
func WriteInt64(w io.Writer, v int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return writeFixed(w, TypeInt64, buf)
}

// WriteUint64 writes an eight-byte big-endian UINT64 packet.
func WriteUint64(w io.Writer, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return writeFixed(w, TypeUint64, buf)
}

// WriteString writes a length-prefixed STRING packet. Returns
// ErrUnexpectedSize if s exceeds MaxStringSize.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringSize {
		return ErrUnexpectedSize
	}
	return writeSized(w, TypeString, []byte(s))
}

// WriteData writes a length-prefixed DATA (boxed blob) packet.
func WriteData(w io.Writer, b []byte) error {
	return writeSized(w, TypeData, b)
}

// MaxAuthedPacketSize bounds an AUTHED_PACKET's encrypted payload, wide
// enough for the largest block/transaction certificate a client request
// or response carries.
const MaxAuthedPacketSize = 16 * 1024 * 1024

// WriteAuthedPacket writes a length-prefixed AUTHED_PACKET frame. buf is
// already the authpacket-encoded ciphertext+MAC; this layer only adds
// the outer type/size framing every packet type shares.
func WriteAuthedPacket(w io.Writer, buf []byte) error {
	return writeSized(w, TypeAuthedPacket, buf)
}

// ReadAuthedPacket reads one AUTHED_PACKET frame's raw (still encrypted)
// payload.
func ReadAuthedPacket(r io.Reader) ([]byte, error) {
	return readSized(r, TypeAuthedPacket, MaxAuthedPacketSize)
}

func writeFixed(w io.Writer, t Type, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(t))
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return status.Wrap(status.ServiceIPC, status.CodeBufferDrainFailure, err)
	}
	return nil
}

func writeSized(w io.Writer, t Type, payload []byte) error {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(t))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	if _, err := w.Write(buf); err != nil {
		return status.Wrap(status.ServiceIPC, status.CodeBufferDrainFailure, err)
	}
	return nil
}

// ReadHeader reads just the 4-byte type header, for callers that need to
// branch on type before reading the rest of the packet.
func ReadHeader(r io.Reader) (Type, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, shortReadErr(err)
	}
	return Type(binary.BigEndian.Uint32(hdr[:])), nil
}

// ReadInt8 reads a one-byte INT8 packet, failing with ErrUnexpectedType if
// the header names a different type.
func ReadInt8(r io.Reader) (int8, error) {
	t, err := ReadHeader(r)
	if err != nil {
		return 0, err
	}
	if t != TypeInt8 {
		return 0, ErrUnexpectedType
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, shortReadErr(err)
	}
	return int8(b[0]), nil
}

// ReadUint8 reads a one-byte UINT8 packet.
func ReadUint8(r io.Reader) (uint8, error) {
	t, err := ReadHeader(r)
	if err != nil {
		return 0, err
	}
	if t != TypeUint8 {
		return 0, ErrUnexpectedType
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, shortReadErr(err)
	}
	return b[0], nil
}

// ReadInt64 reads an eight-byte big-endian INT64 packet.
func ReadInt64(r io.Reader) (int64, error) {
	t, err := ReadHeader(r)
	if err != nil {
		return 0, err
	}
	if t != TypeInt64 {
		return 0, ErrUnexpectedType
	}
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, shortReadErr(err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// ReadUint64 reads an eight-byte big-endian UINT64 packet.
func ReadUint64(r io.Reader) (uint64, error) {
	t, err := ReadHeader(r)
	if err != nil {
		return 0, err
	}
	if t != TypeUint64 {
		return 0, ErrUnexpectedType
	}
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, shortReadErr(err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// ReadString reads a length-prefixed STRING packet, rejecting a declared
// size over MaxStringSize before allocating.
func ReadString(r io.Reader) (string, error) {
	b, err := readSized(r, TypeString, MaxStringSize)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadData reads a length-prefixed DATA packet.
func ReadData(r io.Reader) ([]byte, error) {
	return readSized(r, TypeData, 0)
}

func readSized(r io.Reader, want Type, maxSize uint32) ([]byte, error) {
	t, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, ErrUnexpectedType
	}
	var szBuf [4]byte
	if _, err := io.ReadFull(r, szBuf[:]); err != nil {
		return nil, shortReadErr(err)
	}
	size := binary.BigEndian.Uint32(szBuf[:])
	if maxSize > 0 && size > maxSize {
		return nil, ErrUnexpectedSize
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, shortReadErr(err)
		}
	}
	return payload, nil
}

func shortReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrShortRead
	}
	return status.Wrap(status.ServiceIPC, status.CodeShortRead, err)
}
