package narrowphase

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/outofforest/photon"

	"github.com/outofforest/narrowphase/solver"
	"github.com/outofforest/narrowphase/types"
)

// Add records a brand-new pair in the worker's own store. The returned
// references are usable immediately within the same pass, for example to
// fill in impulse data, even though the mapping is only updated at flush.
// Either cache may be nil for pairs that carry just one of them.
func Add[TCollision, TConstraint comparable](
	c *Cache,
	worker int,
	pair types.Pair,
	collisionType uint8, collision *TCollision,
	code solver.TypeCode, constraint *TConstraint,
) (types.RefPair, error) {
	return c.workers[worker].Add(pair,
		collisionType, bytesOf(collision),
		uint8(code), bytesOf(constraint))
}

// Update refreshes the payloads of a pair already known to the mapping. The
// freshness byte of the pair's slot is saturated, which is what keeps the
// pair alive through the flush. Payload types must match the ones the pair
// was added with; a pair changing its interaction kind is removed and
// re-added instead.
func Update[TCollision, TConstraint comparable](
	c *Cache,
	worker int,
	pair types.Pair,
	existing types.RefPair,
	collision *TCollision,
	constraint *TConstraint,
) (types.RefPair, error) {
	return c.workers[worker].Update(pair, c.mapping.IndexOf(pair), existing,
		bytesOf(collision), bytesOf(constraint))
}

// Remove schedules removal of the pair at the next flush.
func (c *Cache) Remove(worker int, pair types.Pair) {
	c.workers[worker].Remove(pair)
}

// ConstraintCacheOf returns a typed view over the constraint cache the
// reference points at. T's binary layout must match the type id encoded in
// the reference; that contract is the caller's to uphold.
func ConstraintCacheOf[T comparable](c *Cache, ref types.CacheRef) *T {
	if types.IsTesting {
		var value T
		code := solver.TypeCode(ref.TypeID())
		if code >= solver.NumTypeCodes {
			panic(errors.Errorf("reference type %d is not a constraint code", ref.TypeID()))
		}
		if uint32(unsafe.Sizeof(value)) != c.typeSizes[ref.TypeID()] {
			panic(errors.Errorf("typed view of %d bytes over constraint type %d of %d bytes",
				unsafe.Sizeof(value), ref.TypeID(), c.typeSizes[ref.TypeID()]))
		}
	}
	return photon.FromPointer[T](c.resolve(ref))
}

// CollisionCacheOf returns a typed view over the collision-detection cache
// the reference points at.
func CollisionCacheOf[T comparable](c *Cache, ref types.CacheRef) *T {
	if types.IsTesting && ref.TypeID() < FirstCollisionTypeID {
		panic(errors.Errorf("reference type %d is not a collision type", ref.TypeID()))
	}
	return photon.FromPointer[T](c.resolve(ref))
}

// CompleteConstraintAdd finalizes a newly created constraint: warm-start
// impulses are scattered into the constraint's bundle lane, the constraint
// handle is written into the cached constraint cache, and the association
// between handle, pair and reference is recorded in the solver back-mapping.
func (c *Cache) CompleteConstraintAdd(
	handle types.ConstraintHandle,
	impulses [solver.MaxContacts]float32,
	ref types.CacheRef,
	pair types.Pair,
) {
	if types.IsTesting && c.config.Solver.PairOf(handle) != pair {
		panic(errors.Errorf("constraint %d belongs to pair %#x, not %#x",
			handle, uint64(c.config.Solver.PairOf(handle)), uint64(pair)))
	}
	c.config.Solver.Scatter(handle, impulses)
	*c.handleOf(ref) = handle
	c.config.Solver.BindRef(handle, ref)
}

// WarmStartImpulses reads the previous frame's accumulated penetration
// impulses through the pair's cached constraint and redistributes them onto
// the new manifold by feature id. For 1-contact manifolds matching is
// trivial and feature ids are ignored.
func (c *Cache) WarmStartImpulses(
	ref types.CacheRef,
	newFeatureIDs []uint32,
) [solver.MaxContacts]float32 {
	cacheP := c.resolve(ref)
	handle := *photon.FromPointer[types.ConstraintHandle](cacheP)
	old, count := c.config.Solver.Gather(handle)
	if count == 1 {
		return [solver.MaxContacts]float32{old[0]}
	}
	oldIDs := featureIDsOf(cacheP, count)
	return solver.MatchImpulses(oldIDs, old, newFeatureIDs)
}

func (c *Cache) handleOf(ref types.CacheRef) *types.ConstraintHandle {
	// The constraint handle is the head field of every constraint cache
	// layout.
	return photon.FromPointer[types.ConstraintHandle](c.resolve(ref))
}

func featureIDsOf(cacheP unsafe.Pointer, count int) []uint32 {
	return photon.SliceFromPointer[uint32](
		unsafe.Add(cacheP, unsafe.Sizeof(types.ConstraintHandle(0))), count)
}

func bytesOf[T comparable](value *T) []byte {
	if value == nil {
		return nil
	}
	return photon.NewFromValue(value).B
}
