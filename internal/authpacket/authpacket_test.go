package authpacket

import (
	"testing"

	"github.com/cuemby/agentd/internal/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSecret() []byte {
	secret := make([]byte, KeySize)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	secret := fixedSecret()
	sendIV := NewIVCounter()
	recvIV := NewIVCounter()

	buf, err := Encode(secret, sendIV, ipc.TypeString, []byte("Test"))
	require.NoError(t, err)

	gotType, gotPayload, err := Decode(secret, recvIV, buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeString, gotType)
	assert.Equal(t, "Test", string(gotPayload))
	assert.EqualValues(t, 2, recvIV.Peek())
}

func TestReplayAtSameIVFailsAuthentication(t *testing.T) {
	secret := fixedSecret()
	sendIV := NewIVCounter()
	recvIV := NewIVCounter()

	buf, err := Encode(secret, sendIV, ipc.TypeString, []byte("Test"))
	require.NoError(t, err)

	_, _, err = Decode(secret, recvIV, buf)
	require.NoError(t, err)

	_, _, err = Decode(secret, recvIV, buf)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	secret := fixedSecret()
	sendIV := NewIVCounter()
	recvIV := NewIVCounter()

	buf, err := Encode(secret, sendIV, ipc.TypeString, []byte("Test"))
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	_, _, err = Decode(secret, recvIV, buf)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestWrongSecretFailsAuthentication(t *testing.T) {
	sendIV := NewIVCounter()
	recvIV := NewIVCounter()

	buf, err := Encode(fixedSecret(), sendIV, ipc.TypeUint64, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)

	other := make([]byte, KeySize)
	_, _, err = Decode(other, recvIV, buf)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestIVCounterAcceptRejectsOutOfOrder(t *testing.T) {
	c := NewIVCounter()
	require.NoError(t, c.Accept(1))
	assert.ErrorIs(t, c.Accept(1), ErrReplayedIV)
	assert.NoError(t, c.Accept(2))
}

func TestCodecEncodeDecodePairsIndependentDirections(t *testing.T) {
	secret := fixedSecret()
	a := NewCodec(secret)
	b := NewCodec(secret)

	buf, err := a.Encode(ipc.TypeData, []byte{9, 8, 7})
	require.NoError(t, err)

	gotType, gotPayload, err := b.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.TypeData, gotType)
	assert.Equal(t, []byte{9, 8, 7}, gotPayload)
}

func TestRejectsWrongSecretSize(t *testing.T) {
	sendIV := NewIVCounter()
	_, err := Encode([]byte("short"), sendIV, ipc.TypeUint8, []byte{1})
	assert.Error(t, err)
}
