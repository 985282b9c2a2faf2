package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 42))

	got, err := ReadUint64(&buf)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "Test"))

	got, err := ReadString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Test", got)
}

func TestDataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, []byte{1, 2, 3}))

	got, err := ReadData(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestReadWrongTypeFails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 1))

	_, err := ReadString(&buf)
	assert.ErrorIs(t, err, ErrUnexpectedType)
}

func TestWriteStringTooLarge(t *testing.T) {
	var buf bytes.Buffer
	huge := make([]byte, MaxStringSize+1)
	err := WriteString(&buf, string(huge))
	assert.ErrorIs(t, err, ErrUnexpectedSize)
}

func TestShortReadFails(t *testing.T) {
	// Only a type header, no payload.
	buf := bytes.NewBuffer([]byte{0, 0, 0, byte(TypeUint64)})
	_, err := ReadUint64(buf)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestAuthedPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAuthedPacket(&buf, []byte("ciphertext+mac")))

	got, err := ReadAuthedPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext+mac"), got)
}
