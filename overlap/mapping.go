package overlap

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/outofforest/narrowphase/types"
)

// Mapping is the hash table from unordered collidable-pair identity to the
// pair of tagged cache references; the single source of truth for "is this
// pair currently tracked".
//
// Pairs and entries live in dense arrays addressed by slot. A separate
// open-addressed index table translates the pair hash into a slot, so
// removal can swap the last slot into the hole without disturbing the
// slot order seen by index-based readers. During a narrow-phase pass the
// mapping is read-only; every mutator assumes a single caller.
type Mapping struct {
	pairs   []types.Pair
	entries []types.RefPair
	table   []uint32
	mask    uint32
}

// New creates mapping with room for at least capacity pairs.
func New(capacity int) *Mapping {
	m := &Mapping{}
	m.EnsureCapacity(capacity)
	return m
}

// Count returns the number of tracked pairs.
func (m *Mapping) Count() int {
	return len(m.pairs)
}

// IndexOf returns the slot of the pair, or -1 when the pair is not tracked.
func (m *Mapping) IndexOf(pair types.Pair) int {
	i := pair.Hash() & m.mask
	for {
		t := m.table[i]
		if t == 0 {
			return -1
		}
		if m.pairs[t-1] == pair {
			return int(t - 1)
		}
		i = (i + 1) & m.mask
	}
}

// PairAt returns the pair stored at the slot.
func (m *Mapping) PairAt(slot int) types.Pair {
	return m.pairs[slot]
}

// EntryAt returns the cache references stored at the slot.
func (m *Mapping) EntryAt(slot int) types.RefPair {
	return m.entries[slot]
}

// SetEntryAt overwrites the cache references stored at the slot.
func (m *Mapping) SetEntryAt(slot int, entry types.RefPair) {
	m.entries[slot] = entry
}

// AddUnsafely inserts the pair without a duplicate check and returns its
// slot. The caller must have established, by freshness and flush ordering,
// that the key is absent, and must have called EnsureCapacity beforehand.
func (m *Mapping) AddUnsafely(pair types.Pair, entry types.RefPair) int {
	if types.IsTesting {
		if m.IndexOf(pair) >= 0 {
			panic(errors.Errorf("pair %#x added twice", uint64(pair)))
		}
		if uint32(len(m.pairs))+1 > m.mask+1-(m.mask+1)>>2 {
			panic(errors.New("capacity was not ensured before the add phase"))
		}
	}

	slot := len(m.pairs)
	m.pairs = append(m.pairs, pair)
	m.entries = append(m.entries, entry)

	i := pair.Hash() & m.mask
	for m.table[i] != 0 {
		i = (i + 1) & m.mask
	}
	m.table[i] = uint32(slot) + 1
	return slot
}

// FastRemove removes the pair by swapping the last slot into its place. Not
// order preserving. Must only be called when no concurrent reader exists.
func (m *Mapping) FastRemove(pair types.Pair) bool {
	slot := m.IndexOf(pair)
	if slot < 0 {
		return false
	}
	m.FastRemoveAt(slot)
	return true
}

// FastRemoveAt removes the slot and returns the slot the previous last pair
// was moved from, so the caller can mirror the swap in any slot-aligned
// side array. Returns the removed slot itself when nothing moved.
func (m *Mapping) FastRemoveAt(slot int) int {
	// The table slot must be resolved before the dense swap rewrites
	// pairs[slot].
	removedTableSlot := m.tableSlotOf(m.pairs[slot])
	last := len(m.pairs) - 1

	if slot != last {
		moved := m.pairs[last]
		m.pairs[slot] = moved
		m.entries[slot] = m.entries[last]

		i := moved.Hash() & m.mask
		for m.table[i] != uint32(last)+1 {
			i = (i + 1) & m.mask
		}
		m.table[i] = uint32(slot) + 1
	}
	m.pairs = m.pairs[:last]
	m.entries = m.entries[:last]

	m.deleteTableSlot(removedTableSlot)
	return last
}

// EnsureCapacity grows the mapping so that capacity pairs fit without
// exceeding the probe-friendly load factor. Growth rehashes the index table
// but never reorders dense slots, so it must only happen strictly between
// passes, never concurrently with worker reads.
func (m *Mapping) EnsureCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	// Table stays at most 3/4 full.
	tableLen := uint32(1) << bits.Len32(uint32(capacity*4/3))
	if uint32(len(m.table)) >= tableLen {
		return
	}

	m.table = make([]uint32, tableLen)
	m.mask = tableLen - 1
	if cap(m.pairs) < capacity {
		pairs := make([]types.Pair, len(m.pairs), capacity)
		entries := make([]types.RefPair, len(m.entries), capacity)
		copy(pairs, m.pairs)
		copy(entries, m.entries)
		m.pairs = pairs
		m.entries = entries
	}

	for slot, pair := range m.pairs {
		i := pair.Hash() & m.mask
		for m.table[i] != 0 {
			i = (i + 1) & m.mask
		}
		m.table[i] = uint32(slot) + 1
	}
}

// Clear forgets all pairs but keeps the allocated capacity.
func (m *Mapping) Clear() {
	m.pairs = m.pairs[:0]
	m.entries = m.entries[:0]
	clear(m.table)
}

func (m *Mapping) tableSlotOf(pair types.Pair) uint32 {
	i := pair.Hash() & m.mask
	for {
		t := m.table[i]
		if t != 0 && m.pairs[t-1] == pair {
			return i
		}
		if t == 0 {
			panic(errors.Errorf("pair %#x is not in the index table", uint64(pair)))
		}
		i = (i + 1) & m.mask
	}
}

// deleteTableSlot empties the slot and re-seats the tail of the probe
// cluster so lookups never cross a premature hole.
func (m *Mapping) deleteTableSlot(i uint32) {
	j := i
	for {
		j = (j + 1) & m.mask
		t := m.table[j]
		if t == 0 {
			break
		}
		ideal := m.pairs[t-1].Hash() & m.mask
		if (j-ideal)&m.mask >= (j-i)&m.mask {
			m.table[i] = t
			i = j
		}
	}
	m.table[i] = 0
}
