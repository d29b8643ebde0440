package narrowphase

import (
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/outofforest/narrowphase/store"
	"github.com/outofforest/narrowphase/types"
)

// island owns the inactive storage of one sleeping island: per-type banks
// holding the cache bytes of its pairs, and the entry list needed to restore
// them. Created lazily, destroyed when woken.
type island struct {
	bank    *store.Bank
	entries []islandEntry
}

type islandEntry struct {
	pair types.Pair
	refs types.RefPair

	// Payload checksums recorded at deactivation, verified at activation.
	// Only maintained in testing builds.
	collisionSum  uint64
	constraintSum uint64
}

// DeactivateIsland moves the cache entries of the given pairs into the
// island's inactive storage. The cache bytes are copied verbatim, the
// handle back-mapping is rewritten to the inactive reference, and the pairs
// disappear from the overlap mapping: sleeping pairs are not narrow-phase
// tested, so the back-mapping becomes the only path to them. Must be called
// outside a pass.
func (c *Cache) DeactivateIsland(id types.IslandID, pairs []types.Pair) error {
	c.assertPhase(phaseIdle)

	isl := c.islands[id]
	if isl == nil {
		isl = &island{bank: store.NewBank(c.config.Arena)}
		c.islands[id] = isl
	}

	for _, pair := range pairs {
		slot := c.mapping.IndexOf(pair)
		if slot < 0 {
			return errors.Errorf("pair %#x is not tracked", uint64(pair))
		}
		entry := c.mapping.EntryAt(slot)

		var inactive types.RefPair
		var ientry islandEntry
		ientry.pair = pair

		if entry.Collision.Exists() {
			offset, sum, err := c.copyCache(isl.bank, entry.Collision)
			if err != nil {
				return err
			}
			inactive.Collision = types.NewInactiveRef(int(id), entry.Collision.TypeID(), offset)
			ientry.collisionSum = sum
		}
		if entry.Constraint.Exists() {
			handle := *c.handleOf(entry.Constraint)
			offset, sum, err := c.copyCache(isl.bank, entry.Constraint)
			if err != nil {
				return err
			}
			inactive.Constraint = types.NewInactiveRef(int(id), entry.Constraint.TypeID(), offset)
			ientry.constraintSum = sum

			if types.IsTesting && c.config.Solver.PairOf(handle) != pair {
				panic(errors.Errorf("back-mapping of constraint %d disagrees with pair %#x",
					handle, uint64(pair)))
			}
			c.config.Solver.BindRef(handle, inactive.Constraint)
		}

		ientry.refs = inactive
		isl.entries = append(isl.entries, ientry)
		c.mapping.FastRemoveAt(slot)
	}

	return nil
}

// ActivateIsland wakes the island: every cache entry is copied back into
// worker 0's writable bank, the handle back-mapping is repointed at active
// storage and the pairs reappear in the overlap mapping. Worker 0 is safe
// here because activation happens outside parallel narrow-phase execution.
func (c *Cache) ActivateIsland(id types.IslandID) error {
	c.assertPhase(phaseIdle)

	isl := c.islands[id]
	if isl == nil {
		return errors.Errorf("island %d has no inactive storage", id)
	}

	// Outside a pass the live generation is the one the last pass wrote.
	liveParity := c.parity ^ 1
	bank := c.banks[liveParity][0]

	c.mapping.EnsureCapacity(c.mapping.Count() + len(isl.entries))

	for _, ientry := range isl.entries {
		var active types.RefPair

		if ientry.refs.Collision.Exists() {
			offset, sum, err := c.copyCache(bank, ientry.refs.Collision)
			if err != nil {
				return err
			}
			if types.IsTesting && sum != ientry.collisionSum {
				panic(errors.Errorf("collision cache of pair %#x changed while sleeping",
					uint64(ientry.pair)))
			}
			active.Collision = types.NewRef(0, liveParity, ientry.refs.Collision.TypeID(), offset)
		}
		if ientry.refs.Constraint.Exists() {
			handle := *c.handleOf(ientry.refs.Constraint)
			offset, sum, err := c.copyCache(bank, ientry.refs.Constraint)
			if err != nil {
				return err
			}
			if types.IsTesting && sum != ientry.constraintSum {
				panic(errors.Errorf("constraint cache of pair %#x changed while sleeping",
					uint64(ientry.pair)))
			}
			active.Constraint = types.NewRef(0, liveParity, ientry.refs.Constraint.TypeID(), offset)
			c.config.Solver.BindRef(handle, active.Constraint)
		}

		c.mapping.AddUnsafely(ientry.pair, active)
	}

	isl.bank.Reset()
	delete(c.islands, id)
	return nil
}

// copyCache copies the referenced cache bytes verbatim into the target bank
// and returns the new byte offset plus the payload checksum.
func (c *Cache) copyCache(bank *store.Bank, ref types.CacheRef) (uint32, uint64, error) {
	src := c.resolveBytes(ref)
	offset, err := bank.Allocate(ref.TypeID(), uint32(len(src)))
	if err != nil {
		return 0, 0, err
	}
	copy(bank.Bytes(ref.TypeID(), offset, uint32(len(src))), src)

	var sum uint64
	if types.IsTesting {
		sum = xxhash.Sum64(src)
	}
	return offset, sum, nil
}
