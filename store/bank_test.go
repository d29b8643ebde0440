package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/narrowphase/alloc"
)

func newTestBank(t *testing.T) *Bank {
	arena, deallocFunc, err := alloc.NewArena(alloc.Config{Size: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(deallocFunc)
	return NewBank(arena)
}

func TestAllocateIsAlignedAndAppendOnly(t *testing.T) {
	requireT := require.New(t)

	bank := newTestBank(t)
	requireT.True(bank.Empty())

	o1, err := bank.Allocate(1, 5)
	requireT.NoError(err)
	requireT.Zero(o1)

	o2, err := bank.Allocate(1, 12)
	requireT.NoError(err)
	requireT.Equal(uint32(8), o2)

	o3, err := bank.Allocate(1, 8)
	requireT.NoError(err)
	requireT.Equal(uint32(24), o3)

	requireT.Equal(uint32(32), bank.Used(1))
	requireT.False(bank.Empty())

	// Separate types grow independently.
	o4, err := bank.Allocate(2, 8)
	requireT.NoError(err)
	requireT.Zero(o4)
}

func TestGrowthPreservesBytes(t *testing.T) {
	requireT := require.New(t)

	bank := newTestBank(t)
	offset, err := bank.Allocate(1, 8)
	requireT.NoError(err)
	copy(bank.Bytes(1, offset, 8), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	// Force repeated growth past the initial size class.
	for range 100 {
		_, err := bank.Allocate(1, 64)
		requireT.NoError(err)
	}
	requireT.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}, bank.Bytes(1, offset, 8))
}

func TestEnsureSize(t *testing.T) {
	requireT := require.New(t)

	bank := newTestBank(t)
	offset, err := bank.Allocate(1, 8)
	requireT.NoError(err)
	bank.Bytes(1, offset, 8)[0] = 0x42

	requireT.NoError(bank.EnsureSize(1, 4096))
	requireT.Equal(byte(0x42), bank.Bytes(1, offset, 8)[0])

	// Pre-sized space is reached without another copy.
	for range 64 {
		_, err := bank.Allocate(1, 64)
		requireT.NoError(err)
	}
}

func TestResetReleasesStorage(t *testing.T) {
	requireT := require.New(t)

	bank := newTestBank(t)
	_, err := bank.Allocate(1, 8)
	requireT.NoError(err)
	_, err = bank.Allocate(7, 8)
	requireT.NoError(err)

	bank.Reset()
	requireT.True(bank.Empty())
	requireT.Zero(bank.Used(1))
	requireT.Zero(bank.Used(7))

	offset, err := bank.Allocate(1, 8)
	requireT.NoError(err)
	requireT.Zero(offset)
}
