package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsNonZeroAndUnique(t *testing.T) {
	a := New()
	b := New()
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
}

func TestZeroIsZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
}

func TestFromBytesRoundTrip(t *testing.T) {
	a := New()
	b := FromBytes(a.Bytes())
	assert.Equal(t, a, b)
}
