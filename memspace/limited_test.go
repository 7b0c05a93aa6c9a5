package memspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedBudget(t *testing.T) {
	l := NewLimited(NewHost(), 1000)

	a, err := l.Allocate(600)
	require.NoError(t, err)
	assert.Equal(t, int64(600), l.Used())

	_, err = l.Allocate(600)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, int64(600), l.Used(), "failed allocation must not consume budget")

	require.NoError(t, l.Release(a))
	assert.Zero(t, l.Used())

	b, err := l.Allocate(1000)
	require.NoError(t, err)
	require.NoError(t, l.Release(b))
}

func TestLimitedUnlimited(t *testing.T) {
	l := NewLimited(NewHost(), 0)
	a, err := l.Allocate(1 << 20)
	require.NoError(t, err)
	require.NoError(t, l.Release(a))
}

func TestLimitedReleaseUnknown(t *testing.T) {
	l := NewLimited(NewHost(), 0)
	require.ErrorIs(t, l.Release(Addr(0x1000)), ErrUnknownAddress)
}

func TestLimitedForwardsCopy(t *testing.T) {
	l := NewLimited(NewHost(), 0)
	a, err := l.Allocate(4)
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Release(a)) }()

	require.NoError(t, l.CopyIn(a, []byte{9, 8, 7, 6}))
	out := make([]byte, 4)
	require.NoError(t, l.CopyOut(out, a))
	assert.Equal(t, []byte{9, 8, 7, 6}, out)
}
