// Package ipc implements inter-service packet framing: a small typed
// set of packets, each carrying a 4-byte
// big-endian type header, a 4-byte big-endian size for variable-length
// types, and a payload. Both blocking (frame.go) and cooperative
// non-blocking (eventloop.go) I/O modes are provided.
package ipc

import "github.com/cuemby/agentd/internal/status"

// Type identifies the shape of a packet on the wire.
type Type uint32

const (
	TypeInt8         Type = 1
	TypeUint8        Type = 2
	TypeInt64        Type = 3
	TypeUint64       Type = 4
	TypeString       Type = 5
	TypeData         Type = 6
	TypeAuthedPacket Type = 0x00000030
)

// MaxStringSize is the maximum payload size accepted for a STRING
// packet: 10 MiB.
const MaxStringSize = 10 * 1024 * 1024

// Failure kinds specific to framing.
var (
	ErrShortRead      = status.New(status.ServiceIPC, status.CodeShortRead)
	ErrUnexpectedType = status.New(status.ServiceIPC, status.CodeUnexpectedType)
	ErrUnexpectedSize = status.New(status.ServiceIPC, status.CodeUnexpectedSize)
	ErrWouldBlock     = status.New(status.ServiceIPC, status.CodeWouldBlock)
	ErrBufferAdd      = status.New(status.ServiceIPC, status.CodeBufferAddFailure)
	ErrBufferDrain    = status.New(status.ServiceIPC, status.CodeBufferDrainFailure)
)
