package store

import (
	"github.com/outofforest/mass"
	"github.com/outofforest/narrowphase/types"
)

// PendingAdd records a pair whose cache entries were written into a worker's
// next-generation bank during the pass and must be applied to the mapping at
// flush time.
type PendingAdd struct {
	Pair types.Pair
	Refs types.RefPair

	// Moved is set when the entry already exists in the mapping and only its
	// references changed because the payload was re-homed.
	Moved bool

	Next *PendingAdd
}

// PendingRemove records a pair to drop from the mapping at flush time.
type PendingRemove struct {
	Pair types.Pair
	Next *PendingRemove
}

// NewWorker creates the pair store of one worker.
func NewWorker(index int) *Worker {
	w := &Worker{index: index}
	w.resetQueues()
	return w
}

// Worker is the thread-local, type-erased, append-only store of one worker:
// the next-generation bank it writes during a pass plus the queues of
// pending mapping operations recorded along the way. During a pass a worker
// never touches another worker's store and never mutates the shared mapping.
type Worker struct {
	index     int
	parity    uint8
	next      *Bank
	freshness []byte

	massAdds     *mass.Mass[PendingAdd]
	massRemoves  *mass.Mass[PendingRemove]
	firstAdd     *PendingAdd
	lastAdd      **PendingAdd
	firstRemove  *PendingRemove
	lastRemove   **PendingRemove
	addCount     uint64
	removeCount  uint64
	pendingSlabs uint64
}

// Index returns the worker index, which is also the bank id of every active
// reference this store produces.
func (w *Worker) Index() int {
	return w.index
}

// BeginPass arms the store for one narrow-phase pass: the bank all writes of
// this pass land in, the freshness array of the mapping, and fresh pending
// queues sized from the previous pass's high-water mark.
func (w *Worker) BeginPass(parity uint8, next *Bank, freshness []byte, pendingHighWater uint64) {
	w.parity = parity
	w.next = next
	w.freshness = freshness
	w.pendingSlabs = pendingHighWater
	w.resetQueues()
}

// EndPass disposes the pending queues of the finished pass. The queue slabs
// are replaced wholesale so nodes of an old pass never pin memory.
func (w *Worker) EndPass() {
	w.resetQueues()
}

// Add appends both payloads to this worker's own bank, enqueues a pending
// add, and returns references usable immediately within the same pass, even
// though the mapping has not been updated yet. A nil payload stores nothing
// and yields a non-existing reference.
func (w *Worker) Add(
	pair types.Pair,
	collisionType uint8, collision []byte,
	constraintType uint8, constraint []byte,
) (types.RefPair, error) {
	refs, err := w.write(collisionType, collision, constraintType, constraint)
	if err != nil {
		return types.RefPair{}, err
	}

	add := w.massAdds.New()
	add.Pair = pair
	add.Refs = refs
	*w.lastAdd = add
	w.lastAdd = &add.Next
	w.addCount++

	return refs, nil
}

// Update refreshes the payloads of a pair discovered through the mapping.
// Entries written earlier in the same pass (matching generation parity) are
// overwritten in place. Entries from the previous pass are re-homed into
// this worker's bank and a moved pending add records the new references for
// the flush to pick up; the previous generation stays read-only for the
// whole pass. The freshness byte of the slot is saturated either way.
func (w *Worker) Update(
	pair types.Pair,
	slot int,
	existing types.RefPair,
	collision, constraint []byte,
) (types.RefPair, error) {
	if slot >= 0 {
		w.freshness[slot] = 0xff
	}

	if w.ownsThisPass(existing) {
		if existing.Collision.Exists() {
			copy(w.next.Bytes(existing.Collision.TypeID(), existing.Collision.Offset(),
				uint32(len(collision))), collision)
		}
		if existing.Constraint.Exists() {
			copy(w.next.Bytes(existing.Constraint.TypeID(), existing.Constraint.Offset(),
				uint32(len(constraint))), constraint)
		}
		return existing, nil
	}

	var collisionType, constraintType uint8
	if existing.Collision.Exists() {
		collisionType = existing.Collision.TypeID()
	}
	if existing.Constraint.Exists() {
		constraintType = existing.Constraint.TypeID()
	}

	refs, err := w.write(collisionType, collision, constraintType, constraint)
	if err != nil {
		return types.RefPair{}, err
	}

	add := w.massAdds.New()
	add.Pair = pair
	add.Refs = refs
	add.Moved = true
	*w.lastAdd = add
	w.lastAdd = &add.Next
	w.addCount++

	return refs, nil
}

// Remove enqueues removal of the pair from the mapping at flush time.
func (w *Worker) Remove(pair types.Pair) {
	remove := w.massRemoves.New()
	remove.Pair = pair
	*w.lastRemove = remove
	w.lastRemove = &remove.Next
	w.removeCount++
}

// PendingAdds returns the head of the pending add queue in enqueue order.
func (w *Worker) PendingAdds() *PendingAdd {
	return w.firstAdd
}

// PendingRemoves returns the head of the pending remove queue in enqueue order.
func (w *Worker) PendingRemoves() *PendingRemove {
	return w.firstRemove
}

// PendingCounts returns the number of queued adds and removes.
func (w *Worker) PendingCounts() (adds, removes uint64) {
	return w.addCount, w.removeCount
}

func (w *Worker) write(
	collisionType uint8, collision []byte,
	constraintType uint8, constraint []byte,
) (types.RefPair, error) {
	var refs types.RefPair
	if collision != nil {
		offset, err := w.next.Allocate(collisionType, uint32(len(collision)))
		if err != nil {
			return types.RefPair{}, err
		}
		copy(w.next.Bytes(collisionType, offset, uint32(len(collision))), collision)
		refs.Collision = types.NewRef(w.index, w.parity, collisionType, offset)
	}
	if constraint != nil {
		offset, err := w.next.Allocate(constraintType, uint32(len(constraint)))
		if err != nil {
			return types.RefPair{}, err
		}
		copy(w.next.Bytes(constraintType, offset, uint32(len(constraint))), constraint)
		refs.Constraint = types.NewRef(w.index, w.parity, constraintType, offset)
	}
	return refs, nil
}

func (w *Worker) ownsThisPass(refs types.RefPair) bool {
	ref := refs.Constraint
	if !ref.Exists() {
		ref = refs.Collision
	}
	if !ref.Exists() || !ref.Active() {
		return false
	}
	return ref.Bank() == w.index && ref.Parity() == w.parity
}

func (w *Worker) resetQueues() {
	chunk := w.pendingSlabs
	if chunk < 64 {
		chunk = 64
	}
	w.massAdds = mass.New[PendingAdd](chunk)
	w.massRemoves = mass.New[PendingRemove](chunk)
	w.firstAdd = nil
	w.lastAdd = &w.firstAdd
	w.firstRemove = nil
	w.lastRemove = &w.firstRemove
	w.addCount = 0
	w.removeCount = 0
}
