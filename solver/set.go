package solver

import (
	"github.com/pkg/errors"

	"github.com/outofforest/narrowphase/types"
)

// Slot locates one constraint lane inside the bundled storage of its type
// batch.
type Slot struct {
	Bundle uint32
	Lane   uint8
}

type handleEntry struct {
	Pair types.Pair
	Ref  types.CacheRef
	Slot Slot
	Code TypeCode
	live bool
}

// NewSet creates an empty constraint set.
func NewSet() *Set {
	return &Set{}
}

// Set is the warm-start surface of the constraint solver: per type code a
// batch of SIMD-bundled accumulated penetration impulses, plus the
// handle-to-pair back-mapping the pair cache keeps bit-for-bit consistent
// with the overlap mapping. The solver's iteration logic lives elsewhere;
// only the storage the pair cache gathers from and scatters into is modeled
// here.
type Set struct {
	// One flat float32 slab per type code. The layout table dictates the
	// bundle stride, so the same slab bytes mean different things for
	// different codes.
	batches [NumTypeCodes][]float32
	lanes   [NumTypeCodes]uint32

	handles     []handleEntry
	freeHandles []types.ConstraintHandle
}

// Allocate creates a constraint of the given type for the pair and returns
// its handle. The impulse lanes start at zero.
func (s *Set) Allocate(code TypeCode, pair types.Pair) types.ConstraintHandle {
	lane := s.lanes[code]
	s.lanes[code]++

	layout := LayoutOf(code)
	needed := (lane/BundleWidth + 1) * layout.BundleStride
	if uint32(len(s.batches[code])) < needed {
		batch := make([]float32, needed*2)
		copy(batch, s.batches[code])
		s.batches[code] = batch
	}

	var handle types.ConstraintHandle
	if n := len(s.freeHandles); n > 0 {
		handle = s.freeHandles[n-1]
		s.freeHandles = s.freeHandles[:n-1]
	} else {
		handle = types.ConstraintHandle(len(s.handles))
		s.handles = append(s.handles, handleEntry{})
	}

	s.handles[handle] = handleEntry{
		Pair: pair,
		Code: code,
		Slot: Slot{Bundle: lane / BundleWidth, Lane: uint8(lane % BundleWidth)},
		live: true,
	}
	return handle
}

// Remove frees the handle. The impulse lanes are left behind; batches are
// append-only within a frame and resized wholesale between frames.
func (s *Set) Remove(handle types.ConstraintHandle) {
	if types.IsTesting && !s.handles[handle].live {
		panic(errors.Errorf("constraint %d removed twice", handle))
	}
	s.handles[handle].live = false
	s.freeHandles = append(s.freeHandles, handle)
}

// Live reports whether the handle refers to a live constraint.
func (s *Set) Live(handle types.ConstraintHandle) bool {
	return int(handle) < len(s.handles) && s.handles[handle].live
}

// PairOf returns the pair the constraint belongs to.
func (s *Set) PairOf(handle types.ConstraintHandle) types.Pair {
	return s.handles[handle].Pair
}

// RefOf returns the tagged reference of the constraint cache recorded for
// the handle. For a sleeping pair this is the only path to its caches.
func (s *Set) RefOf(handle types.ConstraintHandle) types.CacheRef {
	return s.handles[handle].Ref
}

// BindRef records the constraint cache reference for the handle. Called when
// a constraint is finalized and whenever island migration relocates the
// cache bytes.
func (s *Set) BindRef(handle types.ConstraintHandle, ref types.CacheRef) {
	s.handles[handle].Ref = ref
}

// CodeOf returns the type code of the constraint.
func (s *Set) CodeOf(handle types.ConstraintHandle) TypeCode {
	return s.handles[handle].Code
}

// Gather reads the accumulated penetration impulses of the constraint from
// its bundle lane, using the type code to select the physical layout.
func (s *Set) Gather(handle types.ConstraintHandle) ([MaxContacts]float32, int) {
	entry := s.handles[handle]
	layout := LayoutOf(entry.Code)
	base := entry.Slot.Bundle * layout.BundleStride

	var impulses [MaxContacts]float32
	for i := range int(layout.ContactCount) {
		impulses[i] = s.batches[entry.Code][base+uint32(i)*BundleWidth+uint32(entry.Slot.Lane)]
	}
	return impulses, int(layout.ContactCount)
}

// Scatter writes warm-start impulses into the constraint's bundle lane so
// the next frame's Gather finds them.
func (s *Set) Scatter(handle types.ConstraintHandle, impulses [MaxContacts]float32) {
	entry := s.handles[handle]
	layout := LayoutOf(entry.Code)
	base := entry.Slot.Bundle * layout.BundleStride

	for i := range int(layout.ContactCount) {
		s.batches[entry.Code][base+uint32(i)*BundleWidth+uint32(entry.Slot.Lane)] = impulses[i]
	}
}
