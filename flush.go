package narrowphase

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/narrowphase/store"
	"github.com/outofforest/narrowphase/types"
)

// FlushJob is one strictly sequential step of the mapping flush.
type FlushJob struct {
	Name string
	Run  func() error
}

// PrepareFlushJobs builds the ordered job list applying this pass's changes
// to the mapping. It must only be called after every worker joined; from
// this point on the pass is in the flushing phase and workers must stay
// silent until the next Prepare.
//
// Job order is mandatory: stale pairs first (freshness-driven), then every
// worker's pending removes, then capacity, then pending adds. A pair can be
// removed and re-added within one pass when its interaction kind changes;
// applying adds before removes would corrupt the mapping.
func (c *Cache) PrepareFlushJobs() []FlushJob {
	c.assertPhase(phaseInPass)
	c.phase = phaseFlushing

	c.flushJobs = c.flushJobs[:0]
	c.flushJobs = append(c.flushJobs, FlushJob{
		Name: "stale-scan",
		Run:  c.removeStalePairs,
	})

	var totalAdds uint64
	for i := range c.activeWorkers {
		worker := c.workers[i]
		adds, _ := worker.PendingCounts()
		totalAdds += adds
		c.flushJobs = append(c.flushJobs, FlushJob{
			Name: "pending-removes",
			Run: func() error {
				c.applyPendingRemoves(worker)
				return nil
			},
		})
	}

	c.flushJobs = append(c.flushJobs, FlushJob{
		Name: "capacity",
		Run: func() error {
			c.mapping.EnsureCapacity(c.mapping.Count() + int(totalAdds))
			return nil
		},
	})

	for i := range c.activeWorkers {
		worker := c.workers[i]
		c.flushJobs = append(c.flushJobs, FlushJob{
			Name: "pending-adds",
			Run: func() error {
				return c.applyPendingAdds(worker)
			},
		})
	}

	return c.flushJobs
}

// FlushMappingChanges runs the flush jobs in order on the calling goroutine.
func (c *Cache) FlushMappingChanges() error {
	jobs := c.flushJobs
	if len(jobs) == 0 {
		jobs = c.PrepareFlushJobs()
	}
	for _, job := range jobs {
		if err := job.Run(); err != nil {
			return errors.Wrapf(err, "flush job %s failed", job.Name)
		}
	}
	c.flushJobs = c.flushJobs[:0]
	return nil
}

// Postflush records sizing telemetry, disposes the stale generation and
// flips the double buffer. This is the only point at which the current
// generation changes, so no reader ever sees a half-updated store.
func (c *Cache) Postflush(ctx context.Context) {
	c.assertPhase(phaseFlushing)

	clear(c.typeHighWater[:])
	var pendingHighWater uint64
	for i := range c.activeWorkers {
		worker := c.workers[i]
		adds, removes := worker.PendingCounts()
		if pending := adds + removes; pending > pendingHighWater {
			pendingHighWater = pending
		}
		bank := c.banks[c.parity][i]
		for typeID := range c.typeHighWater {
			if used := bank.Used(uint8(typeID)); used > c.typeHighWater[typeID] {
				c.typeHighWater[typeID] = used
			}
		}
		worker.EndPass()
	}
	*c.pendingHighWater = pendingHighWater

	// The pass re-homed every surviving entry into the parity generation,
	// so the other generation holds only abandoned bytes now.
	c.parity ^= 1
	for _, bank := range c.banks[c.parity] {
		bank.Reset()
	}

	logger.Get(ctx).Debug("narrow-phase pass flushed",
		zap.Int("pairs", c.mapping.Count()),
		zap.Uint64("pendingHighWater", pendingHighWater),
	)

	c.phase = phaseIdle
}

// removeStalePairs drops every pair that survived from the previous pass but
// was neither added nor updated in this one. Slots are visited in descending
// order so a removal swapping the last slot into the hole never skips an
// unvisited entry.
func (c *Cache) removeStalePairs() error {
	for slot := len(c.freshness) - 1; slot >= 0; slot-- {
		if c.freshness[slot] != 0 {
			continue
		}
		entry := c.mapping.EntryAt(slot)
		if entry.Constraint.Exists() {
			handle := *c.handleOf(entry.Constraint)
			if c.config.Solver.Live(handle) {
				c.config.Solver.Remove(handle)
			}
		}
		c.mapping.FastRemoveAt(slot)
	}
	c.freshness = c.freshness[:0]
	return nil
}

// applyPendingRemoves walks the worker's remove queue in reverse enqueue
// order. The queue is a forward list, so it is reversed into scratch first.
func (c *Cache) applyPendingRemoves(worker *store.Worker) {
	var scratch []*store.PendingRemove
	for remove := worker.PendingRemoves(); remove != nil; remove = remove.Next {
		scratch = append(scratch, remove)
	}
	for i := len(scratch) - 1; i >= 0; i-- {
		// The pair may be gone already when it was also stale; removal is
		// idempotent at this point.
		c.mapping.FastRemove(scratch[i].Pair)
	}
}

func (c *Cache) applyPendingAdds(worker *store.Worker) error {
	for add := worker.PendingAdds(); add != nil; add = add.Next {
		if add.Moved {
			slot := c.mapping.IndexOf(add.Pair)
			if slot < 0 {
				if types.IsTesting {
					panic(errors.Errorf("moved pair %#x vanished before flush", uint64(add.Pair)))
				}
				c.mapping.AddUnsafely(add.Pair, add.Refs)
				continue
			}
			c.mapping.SetEntryAt(slot, add.Refs)
			continue
		}
		c.mapping.AddUnsafely(add.Pair, add.Refs)
	}
	return nil
}
