package solver

import (
	"github.com/outofforest/narrowphase/types"
)

// Constraint caches are the solver-facing payloads stored in the pair cache:
// the back-pointer to the live constraint plus the per-contact feature ids
// used to match contacts across frames. One-contact manifolds omit feature
// ids because matching is trivial there. The cache type id stored in a
// tagged reference for a constraint cache is the constraint's TypeCode.

// ConstraintCache1 is the constraint cache of a 1-contact manifold.
type ConstraintCache1 struct {
	Handle types.ConstraintHandle
}

// ConstraintCache2 is the constraint cache of a 2-contact manifold.
type ConstraintCache2 struct {
	Handle     types.ConstraintHandle
	FeatureIDs [2]uint32
}

// ConstraintCache3 is the constraint cache of a 3-contact manifold.
type ConstraintCache3 struct {
	Handle     types.ConstraintHandle
	FeatureIDs [3]uint32
}

// ConstraintCache4 is the constraint cache of a 4-contact manifold.
type ConstraintCache4 struct {
	Handle     types.ConstraintHandle
	FeatureIDs [4]uint32
}

// MatchImpulses redistributes the previous frame's accumulated penetration
// impulses onto the new manifold by feature id continuity. A new contact
// whose feature id matches an old one inherits the old impulse; contacts
// produced by new features start cold at zero. Only normal-direction
// impulses are persisted.
func MatchImpulses(
	oldFeatureIDs []uint32,
	oldImpulses [MaxContacts]float32,
	newFeatureIDs []uint32,
) [MaxContacts]float32 {
	var impulses [MaxContacts]float32
	for i, newID := range newFeatureIDs {
		for j, oldID := range oldFeatureIDs {
			if newID == oldID {
				impulses[i] = oldImpulses[j]
				break
			}
		}
	}
	return impulses
}
