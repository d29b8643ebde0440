package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/narrowphase/types"
)

func pairN(i uint32) types.Pair {
	return types.NewPair(
		types.NewCollidable(i, types.Dynamic),
		types.NewCollidable(i+100, types.Static),
	)
}

func newArmedWorker(t *testing.T, parity uint8, freshness []byte) *Worker {
	w := NewWorker(3)
	w.BeginPass(parity, newTestBank(t), freshness, 0)
	return w
}

func TestAddWritesPayloadsAndQueues(t *testing.T) {
	requireT := require.New(t)

	w := newArmedWorker(t, 0, nil)

	refs, err := w.Add(pairN(1), 16, []byte{1, 2, 3, 4}, 0, []byte{5, 6, 7, 8})
	requireT.NoError(err)
	requireT.True(refs.Collision.Exists())
	requireT.True(refs.Collision.Active())
	requireT.Equal(3, refs.Collision.Bank())
	requireT.Equal(uint8(16), refs.Collision.TypeID())
	requireT.Equal(uint8(0), refs.Constraint.TypeID())

	adds, removes := w.PendingCounts()
	requireT.Equal(uint64(1), adds)
	requireT.Zero(removes)

	add := w.PendingAdds()
	requireT.Equal(pairN(1), add.Pair)
	requireT.Equal(refs, add.Refs)
	requireT.False(add.Moved)
	requireT.Nil(add.Next)
}

func TestAddNilPayloadYieldsNoRef(t *testing.T) {
	requireT := require.New(t)

	w := newArmedWorker(t, 0, nil)

	refs, err := w.Add(pairN(1), 16, []byte{1, 2, 3, 4}, 0, nil)
	requireT.NoError(err)
	requireT.True(refs.Collision.Exists())
	requireT.False(refs.Constraint.Exists())
}

func TestQueuesKeepEnqueueOrder(t *testing.T) {
	requireT := require.New(t)

	w := newArmedWorker(t, 0, nil)
	for i := range uint32(100) {
		_, err := w.Add(pairN(i), 16, []byte{byte(i)}, 0, nil)
		requireT.NoError(err)
		w.Remove(pairN(i + 1000))
	}

	i := uint32(0)
	for add := w.PendingAdds(); add != nil; add = add.Next {
		requireT.Equal(pairN(i), add.Pair)
		i++
	}
	requireT.Equal(uint32(100), i)

	i = 0
	for remove := w.PendingRemoves(); remove != nil; remove = remove.Next {
		requireT.Equal(pairN(i+1000), remove.Pair)
		i++
	}
	requireT.Equal(uint32(100), i)
}

func TestUpdateInPlaceWhenOwnedThisPass(t *testing.T) {
	requireT := require.New(t)

	freshness := make([]byte, 4)
	w := newArmedWorker(t, 1, freshness)

	refs, err := w.Add(pairN(1), 16, []byte{1, 1, 1, 1}, 0, nil)
	requireT.NoError(err)

	refs2, err := w.Update(pairN(1), 2, refs, []byte{9, 9, 9, 9}, nil)
	requireT.NoError(err)
	requireT.Equal(refs, refs2)
	requireT.Equal(byte(0xff), freshness[2])

	adds, _ := w.PendingCounts()
	requireT.Equal(uint64(1), adds)
}

func TestUpdateReHomesForeignGeneration(t *testing.T) {
	requireT := require.New(t)

	freshness := make([]byte, 4)
	w := newArmedWorker(t, 1, freshness)

	// The existing entry was written by the previous pass (parity 0).
	existing := types.RefPair{Collision: types.NewRef(3, 0, 16, 0)}

	refs, err := w.Update(pairN(1), 0, existing, []byte{7, 7, 7, 7}, nil)
	requireT.NoError(err)
	requireT.NotEqual(existing, refs)
	requireT.Equal(uint8(1), refs.Collision.Parity())
	requireT.Equal(byte(0xff), freshness[0])

	add := w.PendingAdds()
	requireT.True(add.Moved)
	requireT.Equal(pairN(1), add.Pair)
	requireT.Equal(refs, add.Refs)
}

func TestEndPassDropsQueues(t *testing.T) {
	requireT := require.New(t)

	w := newArmedWorker(t, 0, nil)
	_, err := w.Add(pairN(1), 16, []byte{1}, 0, nil)
	requireT.NoError(err)
	w.Remove(pairN(2))

	w.EndPass()
	requireT.Nil(w.PendingAdds())
	requireT.Nil(w.PendingRemoves())
	adds, removes := w.PendingCounts()
	requireT.Zero(adds)
	requireT.Zero(removes)
}
