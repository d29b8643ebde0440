package alloc

import (
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/outofforest/photon"
)

const (
	// MinBufferBits is the log2 of the smallest buffer handed out.
	MinBufferBits = 6

	// MaxBufferBits is the log2 of the largest buffer handed out.
	MaxBufferBits = 30

	numOfClasses      = MaxBufferBits - MinBufferBits + 1
	freeListCapacity  = 1024
	minBufferCapacity = 1 << MinBufferBits
)

// Config stores configuration of the arena.
type Config struct {
	Size uint64
	// FIXME (wojciech): For some reason mmap doesn't return error if hugepages are not allocated.
	UseHugePages bool
}

// NewArena creates memory arena backed by an anonymous mapping.
func NewArena(config Config) (*Arena, func(), error) {
	size := (config.Size + minBufferCapacity - 1) &^ uint64(minBufferCapacity-1)
	opts := unix.MAP_SHARED | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE
	if config.UseHugePages {
		opts |= unix.MAP_HUGETLB
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, opts)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "memory allocation failed")
	}

	a := &Arena{
		size:  size,
		data:  data,
		dataP: unsafe.Pointer(&data[0]),
	}
	for i := range a.freeLists {
		a.freeLists[i] = make(chan uint64, freeListCapacity)
	}

	return a, func() {
		_ = unix.Munmap(data)
	}, nil
}

// Arena hands out raw byte buffers in power-of-two size classes. Freed
// buffers are kept in per-class pools, never unmapped. Take
// and Return are safe to call from many workers at once: the bump cursor is
// atomic and the pools are channels.
type Arena struct {
	size      uint64
	data      []byte
	dataP     unsafe.Pointer
	cursor    atomic.Uint64
	freeLists [numOfClasses]chan uint64
}

// Buffer is a byte buffer owned by the arena.
type Buffer struct {
	Data []byte

	offset uint64
	class  uint8
}

// Valid returns false for the zero buffer.
func (b Buffer) Valid() bool {
	return b.Data != nil
}

// Take hands out a zeroed buffer of at least size bytes, rounded up to its
// size class.
func (a *Arena) Take(size uint32) (Buffer, error) {
	class := classOf(size)
	if class >= numOfClasses {
		return Buffer{}, errors.Errorf("buffer of %d bytes exceeds the largest size class", size)
	}
	capacity := uint64(1) << (class + MinBufferBits)

	var offset uint64
	select {
	case offset = <-a.freeLists[class]:
	default:
		offset = a.cursor.Add(capacity) - capacity
		if offset+capacity > a.size {
			return Buffer{}, errors.New("out of space")
		}
	}

	return Buffer{
		Data:   photon.SliceFromPointer[byte](unsafe.Add(a.dataP, offset), int(capacity)),
		offset: offset,
		class:  uint8(class),
	}, nil
}

// Return gives the buffer back to its size-class pool. The memory is zeroed
// so the next Take observes a clean buffer.
func (a *Arena) Return(b Buffer) {
	if !b.Valid() {
		return
	}
	clear(b.Data)
	select {
	case a.freeLists[b.class] <- b.offset:
	default:
		// Pool is full, the block is abandoned. The region is finite, so
		// this only wastes memory, never corrupts it.
	}
}

// Allocated returns the number of bytes carved out of the region so far.
func (a *Arena) Allocated() uint64 {
	return a.cursor.Load()
}

func classOf(size uint32) int {
	if size <= minBufferCapacity {
		return 0
	}
	return bits.Len32(size-1) - MinBufferBits
}
