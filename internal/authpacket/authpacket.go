// Package authpacket implements an authenticated packet codec:
// an AES-CTR stream cipher plus a detached HMAC-SHA256 MAC,
// keyed by a shared secret established once per connection, with a
// monotonic per-direction IV that rejects replay.
//
// The codec produces the payload carried inside an ipc.TypeAuthedPacket
// frame: [enc_type:4][enc_size:4][mac:32][enc_payload...]. The IV itself
// never travels on the wire — sender and receiver each keep a counter and
// must stay in lockstep, which is what makes a resent packet detectable.
package authpacket

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"

	"github.com/cuemby/agentd/internal/ipc"
	"github.com/cuemby/agentd/internal/status"
)

// KeySize is the required shared-secret length (AES-256).
const KeySize = 32

// MACSize is the HMAC-SHA256 digest length.
const MACSize = sha256.Size

const headerSize = 8

// Failure kinds returned by Decode and IVCounter.Accept.
var (
	ErrAuthenticationFailure = status.New(status.ServiceIPC, status.CodeAuthenticationFailure)
	ErrReplayedIV            = status.New(status.ServiceIPC, status.CodeReplayedIV)
)

// IVCounter tracks the next IV a direction will use or expect. The first
// IV issued by a fresh counter is 1.
type IVCounter struct {
	next atomic.Uint64
}

// NewIVCounter returns a counter whose first IV is 1.
func NewIVCounter() *IVCounter {
	c := &IVCounter{}
	c.next.Store(1)
	return c
}

// Take returns the IV the sender should use for its next packet and
// advances the counter past it.
func (c *IVCounter) Take() uint64 {
	return c.next.Add(1) - 1
}

// Peek returns the IV the receiver currently expects, without consuming it.
func (c *IVCounter) Peek() uint64 {
	return c.next.Load()
}

// Accept consumes iv if it matches the expected next value, advancing the
// counter. It fails with ErrReplayedIV if iv is stale or out of order.
func (c *IVCounter) Accept(iv uint64) error {
	expected := c.next.Load()
	if iv != expected {
		return ErrReplayedIV
	}
	c.next.Store(expected + 1)
	return nil
}

func nonceFor(block cipher.Block, iv uint64) []byte {
	nonce := make([]byte, block.BlockSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], iv)
	return nonce
}

// Encode draws the next IV from out, encrypts innerType+payload under
// secret, and returns the authpacket buffer (the bytes carried inside an
// AUTHED_PACKET frame).
func Encode(secret []byte, out *IVCounter, innerType ipc.Type, payload []byte) ([]byte, error) {
	if len(secret) != KeySize {
		return nil, status.New(status.ServiceIPC, status.CodeUnexpectedSize)
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, status.Wrap(status.ServiceIPC, status.CodeAuthenticationFailure, err)
	}

	iv := out.Take()
	stream := cipher.NewCTR(block, nonceFor(block, iv))

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(innerType))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	buf := make([]byte, headerSize+MACSize+len(payload))
	encHeader := buf[0:headerSize]
	macSlot := buf[headerSize : headerSize+MACSize]
	encPayload := buf[headerSize+MACSize:]

	stream.XORKeyStream(encHeader, header)
	stream.XORKeyStream(encPayload, payload)

	copy(macSlot, computeMAC(secret, iv, encHeader, encPayload))

	return buf, nil
}

// computeMAC binds the IV into the digest as associated data, so that
// replaying an old buffer once the receiver's counter has moved on fails
// the MAC check rather than silently decrypting under the wrong keystream.
func computeMAC(secret []byte, iv uint64, encHeader, encPayload []byte) []byte {
	var ivBytes [8]byte
	binary.BigEndian.PutUint64(ivBytes[:], iv)

	mac := hmac.New(sha256.New, secret)
	mac.Write(encHeader)
	mac.Write(encPayload)
	mac.Write(ivBytes[:])
	return mac.Sum(nil)
}

// Decode verifies and decrypts an authpacket buffer produced by Encode,
// consuming the next IV expected on in. A stale or replayed packet fails
// the MAC check, since the MAC is bound to the receiver's expected IV,
// before any decryption is attempted.
func Decode(secret []byte, in *IVCounter, buf []byte) (ipc.Type, []byte, error) {
	if len(secret) != KeySize {
		return 0, nil, status.New(status.ServiceIPC, status.CodeUnexpectedSize)
	}
	if len(buf) < headerSize+MACSize {
		return 0, nil, ipc.ErrShortRead
	}

	iv := in.Peek()

	encHeader := buf[0:headerSize]
	wantMAC := buf[headerSize : headerSize+MACSize]
	encPayload := buf[headerSize+MACSize:]

	if !hmac.Equal(wantMAC, computeMAC(secret, iv, encHeader, encPayload)) {
		return 0, nil, ErrAuthenticationFailure
	}

	if err := in.Accept(iv); err != nil {
		return 0, nil, err
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return 0, nil, status.Wrap(status.ServiceIPC, status.CodeAuthenticationFailure, err)
	}
	stream := cipher.NewCTR(block, nonceFor(block, iv))

	header := make([]byte, headerSize)
	stream.XORKeyStream(header, encHeader)
	innerType := ipc.Type(binary.BigEndian.Uint32(header[0:4]))
	size := binary.BigEndian.Uint32(header[4:8])
	if int(size) != len(encPayload) {
		return 0, nil, ipc.ErrUnexpectedSize
	}

	payload := make([]byte, len(encPayload))
	stream.XORKeyStream(payload, encPayload)

	return innerType, payload, nil
}

// Codec pairs one outbound and one inbound IVCounter for a single
// connection, keeping a separate counter per direction.
type Codec struct {
	secret []byte
	sendIV *IVCounter
	recvIV *IVCounter
}

// NewCodec builds a Codec over a 32-byte shared secret, with fresh
// send/receive counters starting at IV 1.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, sendIV: NewIVCounter(), recvIV: NewIVCounter()}
}

func (c *Codec) Encode(innerType ipc.Type, payload []byte) ([]byte, error) {
	return Encode(c.secret, c.sendIV, innerType, payload)
}

func (c *Codec) Decode(buf []byte) (ipc.Type, []byte, error) {
	return Decode(c.secret, c.recvIV, buf)
}
