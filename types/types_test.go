package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairIsCanonical(t *testing.T) {
	requireT := require.New(t)

	a := NewCollidable(3, Dynamic)
	b := NewCollidable(7, Static)

	requireT.Equal(NewPair(a, b), NewPair(b, a))
	requireT.Equal(a, NewPair(a, b).B())
	requireT.Equal(b, NewPair(a, b).A())
}

func TestCollidablePacking(t *testing.T) {
	requireT := require.New(t)

	c := NewCollidable(1<<HandleBits-1, Kinematic)
	requireT.Equal(uint32(1<<HandleBits-1), c.Handle())
	requireT.Equal(Kinematic, c.Mobility())
}

func TestPairHashSpreads(t *testing.T) {
	requireT := require.New(t)

	seen := map[uint32]struct{}{}
	for i := range uint32(10_000) {
		pair := NewPair(NewCollidable(i, Dynamic), NewCollidable(i+1, Static))
		seen[pair.Hash()] = struct{}{}
	}
	// Dense handle ranges are the common case; the multiplicative mix must
	// keep them spread out.
	requireT.Greater(len(seen), 9_990)
}

func TestCacheRefPacking(t *testing.T) {
	requireT := require.New(t)

	ref := NewRef(13, 1, 42, 0xdeadbeef)
	requireT.True(ref.Exists())
	requireT.True(ref.Active())
	requireT.Equal(uint8(1), ref.Parity())
	requireT.Equal(13, ref.Bank())
	requireT.Equal(uint8(42), ref.TypeID())
	requireT.Equal(uint32(0xdeadbeef), ref.Offset())

	inactive := NewInactiveRef(MaxBank, MaxTypeID, 8)
	requireT.True(inactive.Exists())
	requireT.False(inactive.Active())
	requireT.Equal(MaxBank, inactive.Bank())
	requireT.Equal(uint8(MaxTypeID), inactive.TypeID())
	requireT.Equal(uint32(8), inactive.Offset())

	requireT.False(NoRef.Exists())
}
