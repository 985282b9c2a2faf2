package dispatch

import (
	"bytes"
	"testing"

	"github.com/cuemby/agentd/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRequest(method MethodID, offset uint32, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	buf[0], buf[1], buf[2], buf[3] = byte(method>>24), byte(method>>16), byte(method>>8), byte(method)
	buf[4], buf[5], buf[6], buf[7] = byte(offset>>24), byte(offset>>16), byte(offset>>8), byte(offset)
	copy(buf[8:], body)
	return buf
}

func TestDispatchWithinRange(t *testing.T) {
	d := NewDispatcher(1, 5)
	d.Register(3, func(req Request) ([]byte, status.Code) {
		return []byte("ok"), status.Success
	})

	resp := d.Dispatch(encodeRequest(3, 1000, nil))
	assert.Equal(t, status.Success, resp.Status)
	assert.Equal(t, uint32(1000), resp.Offset)
	assert.Equal(t, "ok", string(resp.Payload))
}

func TestDispatchOutsideRangeIsInvalid(t *testing.T) {
	d := NewDispatcher(1, 5)
	resp := d.Dispatch(encodeRequest(99, 1, nil))
	assert.Equal(t, status.CodeInvalidRequestID, resp.Status)
}

func TestDispatchUnregisteredWithinRangeIsInvalid(t *testing.T) {
	d := NewDispatcher(1, 5)
	resp := d.Dispatch(encodeRequest(4, 1, nil))
	assert.Equal(t, status.CodeInvalidRequestID, resp.Status)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	resp := Response{MethodID: 7, Offset: 42, Status: status.CodeNotFound, Payload: []byte("x")}
	buf := EncodeResponse(resp)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestRegisterOutOfRangePanics(t *testing.T) {
	d := NewDispatcher(1, 5)
	assert.Panics(t, func() {
		d.Register(10, func(Request) ([]byte, status.Code) { return nil, status.Success })
	})
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestReadMessageRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, nil))
	// Overwrite the length prefix with something absurd.
	raw := buf.Bytes()
	raw[0], raw[1], raw[2], raw[3] = 0x7f, 0xff, 0xff, 0xff

	_, err := ReadMessage(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestReadMessageTruncatedFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))
	truncated := buf.Bytes()[:5]

	_, err := ReadMessage(bytes.NewReader(truncated))
	assert.Error(t, err)
}
