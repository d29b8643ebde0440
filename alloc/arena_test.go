package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, size uint64) *Arena {
	arena, deallocFunc, err := NewArena(Config{Size: size})
	require.NoError(t, err)
	t.Cleanup(deallocFunc)
	return arena
}

func TestTakeRoundsToSizeClass(t *testing.T) {
	requireT := require.New(t)

	arena := newTestArena(t, 1<<20)

	b, err := arena.Take(1)
	requireT.NoError(err)
	requireT.Len(b.Data, minBufferCapacity)

	b, err = arena.Take(minBufferCapacity + 1)
	requireT.NoError(err)
	requireT.Len(b.Data, 2*minBufferCapacity)

	_, err = arena.Take(1<<MaxBufferBits + 1)
	requireT.Error(err)
}

func TestReturnedBufferIsReusedAndZeroed(t *testing.T) {
	requireT := require.New(t)

	arena := newTestArena(t, 1<<20)

	b1, err := arena.Take(128)
	requireT.NoError(err)
	for i := range b1.Data {
		b1.Data[i] = 0xaa
	}
	allocated := arena.Allocated()
	arena.Return(b1)

	b2, err := arena.Take(128)
	requireT.NoError(err)

	// Same block came back from the pool, cleaned, without moving the cursor.
	requireT.Equal(&b1.Data[0], &b2.Data[0])
	requireT.Equal(allocated, arena.Allocated())
	for _, v := range b2.Data {
		requireT.Zero(v)
	}
}

func TestDistinctBlocksDoNotAlias(t *testing.T) {
	requireT := require.New(t)

	arena := newTestArena(t, 1<<20)

	b1, err := arena.Take(64)
	requireT.NoError(err)
	b2, err := arena.Take(64)
	requireT.NoError(err)

	b1.Data[0] = 0x11
	b2.Data[0] = 0x22
	requireT.Equal(byte(0x11), b1.Data[0])
}

func TestOutOfSpace(t *testing.T) {
	requireT := require.New(t)

	arena := newTestArena(t, 2*minBufferCapacity)

	_, err := arena.Take(minBufferCapacity)
	requireT.NoError(err)
	_, err = arena.Take(minBufferCapacity)
	requireT.NoError(err)
	_, err = arena.Take(minBufferCapacity)
	requireT.Error(err)
}

func TestZeroBufferReturnIsNoop(t *testing.T) {
	arena := newTestArena(t, 1<<20)
	arena.Return(Buffer{})
}

func TestClassOf(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(0, classOf(0))
	requireT.Equal(0, classOf(minBufferCapacity))
	requireT.Equal(1, classOf(minBufferCapacity+1))
	requireT.Equal(1, classOf(2*minBufferCapacity))
	requireT.Equal(numOfClasses-1, classOf(1<<MaxBufferBits))
}
