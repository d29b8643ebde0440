package narrowphase

import (
	"context"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/narrowphase/alloc"
	"github.com/outofforest/narrowphase/overlap"
	"github.com/outofforest/narrowphase/solver"
	"github.com/outofforest/narrowphase/store"
	"github.com/outofforest/narrowphase/types"
)

// FirstCollisionTypeID is the lowest type id available to collision caches;
// ids below it are reserved for constraint caches, whose type id is their
// solver type code.
const FirstCollisionTypeID = solver.NumTypeCodes

type phase uint8

const (
	phaseIdle phase = iota
	phaseInPass
	phaseFlushing
)

// Config stores configuration of the pair cache.
type Config struct {
	Arena   *alloc.Arena
	Solver  *solver.Set
	Workers int

	// InitialPairCapacity pre-sizes the overlap mapping so early passes do
	// not rehash.
	InitialPairCapacity int
}

// New creates the contact-pair persistence cache.
func New(config Config) (*Cache, error) {
	if config.Workers < 1 {
		return nil, errors.New("at least one worker is required")
	}
	if config.InitialPairCapacity < 1 {
		config.InitialPairCapacity = 128
	}

	c := &Cache{
		config:           config,
		mapping:          overlap.New(config.InitialPairCapacity),
		workers:          make([]*store.Worker, config.Workers),
		islands:          map[types.IslandID]*island{},
		pendingHighWater: lo.ToPtr[uint64](0),
	}
	for gen := range c.banks {
		c.banks[gen] = make([]*store.Bank, config.Workers)
		for i := range config.Workers {
			c.banks[gen][i] = store.NewBank(config.Arena)
		}
	}
	for i := range config.Workers {
		c.workers[i] = store.NewWorker(i)
	}

	// Constraint cache sizes follow from the contact count axis of the type
	// code; the other two axes do not change the cache layout.
	for code := range solver.TypeCode(solver.NumTypeCodes) {
		var size uint32
		switch code.ContactCount() {
		case 1:
			size = uint32(unsafe.Sizeof(solver.ConstraintCache1{}))
		case 2:
			size = uint32(unsafe.Sizeof(solver.ConstraintCache2{}))
		case 3:
			size = uint32(unsafe.Sizeof(solver.ConstraintCache3{}))
		case 4:
			size = uint32(unsafe.Sizeof(solver.ConstraintCache4{}))
		}
		c.typeSizes[code] = size
	}

	return c, nil
}

// Cache is the contact-pair persistence cache: it remembers, frame to frame,
// which pairs of collidables are interacting, what collision-detection and
// constraint state was computed for them, and how to carry accumulated
// impulses forward for warm-starting the solver.
//
// One narrow-phase pass goes Prepare, then parallel Add/Update by workers,
// then PrepareFlushJobs/FlushMappingChanges, then Postflush. During the pass the
// mapping is read-only, freshness bytes are written at byte granularity and
// each worker writes only its own store, so no locks are taken anywhere.
type Cache struct {
	config  Config
	mapping *overlap.Mapping
	workers []*store.Worker

	// banks[p] holds the per-worker storage generation written by passes
	// with parity p. The double-buffer flip is the parity flip in Postflush.
	banks  [2][]*store.Bank
	parity uint8

	freshness []byte
	phase     phase

	islands map[types.IslandID]*island

	flushJobs        []FlushJob
	typeSizes        [types.MaxTypeID + 1]uint32
	typeHighWater    [types.MaxTypeID + 1]uint32
	pendingHighWater *uint64
	activeWorkers    int
}

// RegisterCollisionType declares the byte size of a collision-detection
// cache type so island migration can copy entries verbatim. Collision type
// ids must not collide with the constraint type code range.
func (c *Cache) RegisterCollisionType(typeID uint8, size uint32) error {
	if typeID < FirstCollisionTypeID {
		return errors.Errorf("collision type id %d is inside the constraint code range", typeID)
	}
	c.typeSizes[typeID] = size
	return nil
}

// Count returns the number of tracked pairs.
func (c *Cache) Count() int {
	return c.mapping.Count()
}

// MinimumTypeSize reports the largest per-type byte count any worker needed
// in the last pass. Prepare feeds these high-water marks back into bank
// pre-sizing so mid-pass growth stays rare.
func (c *Cache) MinimumTypeSize(typeID uint8) uint32 {
	return c.typeHighWater[typeID]
}

// IndexOf returns the slot of the pair in the overlap mapping, or -1. Safe
// to call from any worker during a pass: the mapping is read-only until
// flush.
func (c *Cache) IndexOf(pair types.Pair) int {
	return c.mapping.IndexOf(pair)
}

// PairAt returns the pair stored at the slot.
func (c *Cache) PairAt(slot int) types.Pair {
	return c.mapping.PairAt(slot)
}

// EntryAt returns the cache references stored at the slot.
func (c *Cache) EntryAt(slot int) types.RefPair {
	return c.mapping.EntryAt(slot)
}

// Fresh reports whether the slot was touched during the pass in flight.
func (c *Cache) Fresh(slot int) bool {
	return c.freshness[slot] != 0
}

// Worker returns the per-worker pair store. Each worker may only use its own
// store during a pass.
func (c *Cache) Worker(index int) *store.Worker {
	return c.workers[index]
}

// Prepare sizes the next-generation buffers from the previous pass's
// high-water marks, zeroes the freshness array and arms workerCount worker
// stores. The pass is in flight until FlushMappingChanges.
func (c *Cache) Prepare(ctx context.Context, workerCount int) error {
	c.assertPhase(phaseIdle)
	if workerCount < 1 || workerCount > len(c.workers) {
		return errors.Errorf("worker count %d is outside 1..%d", workerCount, len(c.workers))
	}
	c.activeWorkers = workerCount

	slots := c.mapping.Count()
	if cap(c.freshness) < slots {
		c.freshness = make([]byte, slots)
	} else {
		c.freshness = c.freshness[:slots]
		clear(c.freshness)
	}

	// Pre-sizing makes mid-pass growth rare; growth is still legal and
	// worker-local, it just costs a copy.
	next := c.banks[c.parity]
	for i := range workerCount {
		for typeID, size := range c.typeHighWater {
			if size == 0 {
				continue
			}
			if err := next[i].EnsureSize(uint8(typeID), size); err != nil {
				return err
			}
		}
		c.workers[i].BeginPass(c.parity, next[i], c.freshness, *c.pendingHighWater)
	}

	logger.Get(ctx).Debug("narrow-phase pass prepared",
		zap.Int("pairs", slots),
		zap.Int("workers", workerCount),
		zap.Uint64("pendingHighWater", *c.pendingHighWater),
	)

	c.phase = phaseInPass
	return nil
}

// Clear forgets all pairs, islands and storage but keeps the cache usable.
func (c *Cache) Clear() {
	c.assertPhase(phaseIdle)
	c.mapping.Clear()
	c.freshness = c.freshness[:0]
	for gen := range c.banks {
		for _, bank := range c.banks[gen] {
			bank.Reset()
		}
	}
	for id, isl := range c.islands {
		isl.bank.Reset()
		delete(c.islands, id)
	}
	clear(c.typeHighWater[:])
	*c.pendingHighWater = 0
}

// Dispose returns all storage to the arena pool. The cache must not be used
// afterwards.
func (c *Cache) Dispose() {
	c.Clear()
}

func (c *Cache) resolve(ref types.CacheRef) unsafe.Pointer {
	if types.IsTesting && !ref.Exists() {
		panic(errors.New("resolving a non-existing reference"))
	}
	if ref.Active() {
		return c.banks[ref.Parity()][ref.Bank()].Pointer(ref.TypeID(), ref.Offset())
	}
	return c.islands[types.IslandID(ref.Bank())].bank.Pointer(ref.TypeID(), ref.Offset())
}

func (c *Cache) resolveBytes(ref types.CacheRef) []byte {
	size := c.typeSizes[ref.TypeID()]
	if types.IsTesting && size == 0 {
		panic(errors.Errorf("type %d has no registered size", ref.TypeID()))
	}
	if ref.Active() {
		return c.banks[ref.Parity()][ref.Bank()].Bytes(ref.TypeID(), ref.Offset(), size)
	}
	return c.islands[types.IslandID(ref.Bank())].bank.Bytes(ref.TypeID(), ref.Offset(), size)
}

func (c *Cache) assertPhase(expected phase) {
	if types.IsTesting && c.phase != expected {
		panic(errors.Errorf("operation requires phase %d, cache is in %d", expected, c.phase))
	}
}
