package types

const (
	// HandleBits is the number of bits available for a collidable handle.
	HandleBits = 30

	// MaxTypeID is the highest cache type id representable by a CacheRef.
	MaxTypeID = 0xff

	// MaxBank is the highest bank (worker index or island id) representable by a CacheRef.
	MaxBank = 0xffff
)

// Mobility tags a collidable as dynamic, kinematic or static.
type Mobility uint32

// Mobility constants.
const (
	Dynamic Mobility = iota
	Kinematic
	Static
)

// Collidable identifies a body or static geometry together with its mobility tag.
type Collidable uint32

// NewCollidable creates collidable from handle and mobility.
func NewCollidable(handle uint32, mobility Mobility) Collidable {
	return Collidable(handle<<2 | uint32(mobility))
}

// Handle returns the body or static handle.
func (c Collidable) Handle() uint32 {
	return uint32(c) >> 2
}

// Mobility returns the mobility tag.
func (c Collidable) Mobility() Mobility {
	return Mobility(c & 0x3)
}

// Pair is the canonical unordered pair of two collidables packed into a
// single 8-byte key. The larger collidable occupies the high half, so two
// pairs built from the same collidables in any order compare bit-equal.
type Pair uint64

// NewPair creates canonical pair from two collidables.
func NewPair(a, b Collidable) Pair {
	if a < b {
		a, b = b, a
	}
	return Pair(uint64(a)<<32 | uint64(b))
}

// A returns the larger collidable of the pair.
func (p Pair) A() Collidable {
	return Collidable(p >> 32)
}

// B returns the smaller collidable of the pair.
func (p Pair) B() Collidable {
	return Collidable(p & 0xffffffff)
}

// Hash returns the 32-bit hash of the pair key. The mapping is probed
// millions of times per second, so the hash is a 64-bit multiplicative mix
// folded to 32 bits: two multiplies and one xor-fold.
func (p Pair) Hash() uint32 {
	h := uint64(p) * 0x9e3779b97f4a7c15
	h ^= h >> 32
	h *= 0xbf58476d1ce4e5b9
	return uint32(h ^ h>>32)
}

// CacheRef locates a cache entry as {bank, active flag, type id, byte
// offset, exists flag} instead of a raw address. Storage banks are resized,
// relocated and swapped between generations, and the same logical slot must
// be describable whether it is backed by worker-local active memory or
// per-island inactive memory.
//
// Layout: [63] exists, [62] active, [61] generation parity, [55:40] bank,
// [39:32] type id, [31:0] byte offset.
//
// The parity bit carries the double-buffer generation the reference was
// written in. A worker updating an entry compares the reference parity with
// the parity of the pass in flight: a match means the entry already lives in
// this pass's buffer and may be overwritten in place, a mismatch means the
// entry comes from the previous pass and must be re-homed.
type CacheRef uint64

// NoRef is the zero CacheRef with the exists flag cleared.
const NoRef CacheRef = 0

const (
	refExistsFlag CacheRef = 1 << 63
	refActiveFlag CacheRef = 1 << 62
	refParityFlag CacheRef = 1 << 61
)

// NewRef creates a reference into active storage of the given worker bank,
// stamped with the generation parity of the pass writing it.
func NewRef(bank int, parity uint8, typeID uint8, offset uint32) CacheRef {
	return refExistsFlag | refActiveFlag |
		CacheRef(parity&1)<<61 |
		CacheRef(bank&MaxBank)<<40 | CacheRef(typeID)<<32 | CacheRef(offset)
}

// NewInactiveRef creates a reference into inactive storage of the given island bank.
func NewInactiveRef(bank int, typeID uint8, offset uint32) CacheRef {
	return refExistsFlag |
		CacheRef(bank&MaxBank)<<40 | CacheRef(typeID)<<32 | CacheRef(offset)
}

// Exists returns false for the zero reference.
func (r CacheRef) Exists() bool {
	return r&refExistsFlag != 0
}

// Active reports whether the reference points into active (worker) storage
// rather than inactive (island) storage.
func (r CacheRef) Active() bool {
	return r&refActiveFlag != 0
}

// Parity returns the double-buffer generation parity the reference was
// written in. Meaningless for inactive references.
func (r CacheRef) Parity() uint8 {
	return uint8(r>>61) & 1
}

// Bank returns the worker index for active references and the island id for
// inactive ones.
func (r CacheRef) Bank() int {
	return int(r>>40) & MaxBank
}

// TypeID returns the logical cache type id.
func (r CacheRef) TypeID() uint8 {
	return uint8(r >> 32)
}

// Offset returns the byte offset within the bank's buffer for the type.
func (r CacheRef) Offset() uint32 {
	return uint32(r)
}

// RefPair is the value stored in the overlap mapping: one reference for the
// collision-detection cache and one for the constraint cache.
type RefPair struct {
	Collision  CacheRef
	Constraint CacheRef
}

// ConstraintHandle identifies a live constraint in the solver.
type ConstraintHandle uint32

// NoConstraint marks a constraint cache not yet bound to a solver constraint.
const NoConstraint ConstraintHandle = 0xffffffff

// IslandID identifies a sleeping island.
type IslandID uint32
