package store

import (
	"unsafe"

	"github.com/outofforest/narrowphase/alloc"
	"github.com/outofforest/narrowphase/types"
)

// Entries are aligned so typed views over them are always legal.
const entryAlignment = 8

// Bank is one generation of type-erased cache storage: per logical type id
// an untyped byte buffer growing append-only. Worker stores own two banks
// (current and next generation) and inactive islands own one each. A bank is
// only ever written by a single owner.
type Bank struct {
	arena   *alloc.Arena
	buffers [types.MaxTypeID + 1]alloc.Buffer
	used    [types.MaxTypeID + 1]uint32
}

// NewBank creates bank drawing buffers from the arena.
func NewBank(arena *alloc.Arena) *Bank {
	return &Bank{arena: arena}
}

// Allocate reserves size bytes in the buffer of the type and returns the
// byte offset of the reservation. Growth copies into a buffer of the next
// size class; the caller pre-sizes banks to make that rare.
func (b *Bank) Allocate(typeID uint8, size uint32) (uint32, error) {
	size = (size + entryAlignment - 1) &^ uint32(entryAlignment-1)
	offset := b.used[typeID]

	buffer := b.buffers[typeID]
	if !buffer.Valid() || offset+size > uint32(len(buffer.Data)) {
		grown, err := b.arena.Take(offset + size)
		if err != nil {
			return 0, err
		}
		if buffer.Valid() {
			copy(grown.Data, buffer.Data[:offset])
			b.arena.Return(buffer)
		}
		b.buffers[typeID] = grown
	}

	b.used[typeID] = offset + size
	return offset, nil
}

// EnsureSize pre-sizes the buffer of the type so at least size bytes fit
// before the next growth.
func (b *Bank) EnsureSize(typeID uint8, size uint32) error {
	buffer := b.buffers[typeID]
	if buffer.Valid() && size <= uint32(len(buffer.Data)) {
		return nil
	}
	grown, err := b.arena.Take(size)
	if err != nil {
		return err
	}
	if buffer.Valid() {
		copy(grown.Data, buffer.Data[:b.used[typeID]])
		b.arena.Return(buffer)
	}
	b.buffers[typeID] = grown
	return nil
}

// Bytes returns the stored bytes at the offset.
func (b *Bank) Bytes(typeID uint8, offset, size uint32) []byte {
	return b.buffers[typeID].Data[offset : offset+size]
}

// Pointer returns the address of the entry at the offset.
func (b *Bank) Pointer(typeID uint8, offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&b.buffers[typeID].Data[offset])
}

// Used returns the number of bytes appended for the type in this generation.
func (b *Bank) Used(typeID uint8) uint32 {
	return b.used[typeID]
}

// Empty reports whether nothing is stored in the bank.
func (b *Bank) Empty() bool {
	for _, used := range b.used {
		if used > 0 {
			return false
		}
	}
	return true
}

// Reset returns all buffers to the arena pool.
func (b *Bank) Reset() {
	for typeID := range b.buffers {
		if b.buffers[typeID].Valid() {
			b.arena.Return(b.buffers[typeID])
			b.buffers[typeID] = alloc.Buffer{}
		}
		b.used[typeID] = 0
	}
}
