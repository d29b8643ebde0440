package narrowphase

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/blake3"
)

// Fingerprint digests the logical content of the cache: every tracked pair
// together with its cache payload bytes and the accumulated impulses of its
// constraint. Per-pair digests are xor-folded, so slot order and physical
// placement do not contribute; an activation round trip or a mapping rehash
// leaves the fingerprint unchanged.
func (c *Cache) Fingerprint() [32]byte {
	var fingerprint [32]byte
	buf := make([]byte, 0, 256)

	for slot := range c.mapping.Count() {
		buf = buf[:0]
		pair := c.mapping.PairAt(slot)
		entry := c.mapping.EntryAt(slot)

		buf = binary.LittleEndian.AppendUint64(buf, uint64(pair))
		if entry.Collision.Exists() {
			buf = append(buf, entry.Collision.TypeID())
			buf = append(buf, c.resolveBytes(entry.Collision)...)
		}
		if entry.Constraint.Exists() {
			buf = append(buf, entry.Constraint.TypeID())
			buf = append(buf, c.resolveBytes(entry.Constraint)...)

			handle := *c.handleOf(entry.Constraint)
			if c.config.Solver.Live(handle) {
				impulses, count := c.config.Solver.Gather(handle)
				for i := range count {
					buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(impulses[i]))
				}
			}
		}

		sum := blake3.Sum256(buf)
		for i := range fingerprint {
			fingerprint[i] ^= sum[i]
		}
	}

	return fingerprint
}
