package swap

import "gopheros/kernel/timer"

// FlushKind selects which part of the dirty list a page-writer pass should
// drain.
type FlushKind uint8

const (
	// FlushAnon drains anonymous (swap-provider-backed) dirty pages.
	FlushAnon FlushKind = 1 << iota
	// FlushFile selects file-backed dirty pages. Flush does nothing for
	// it: swapOut only ever creates anonymous allocations, and
	// file-backed pages are written back by vfs.FlushDirtyPages.
	FlushFile
	// FlushAll drains both lists.
	FlushAll = FlushAnon | FlushFile
)

// Flush walks the dirty list once, asking each allocation's provider to
// persist its resident frame, and moves successfully-written allocations to
// the standby list. A failed write leaves its allocation on the dirty list
// so the next pass retries it. The swap lock is released between
// iterations so unrelated faults can proceed, matching the page writer's
// documented behaviour of not holding the lock for the whole pass.
func Flush(kind FlushKind) {
	if kind&FlushAnon == 0 {
		return
	}

	for {
		lock.Acquire()
		var next *Allocation
		if len(dirty) > 0 {
			next = dirty[0]
		}
		lock.Release()
		if next == nil {
			return
		}

		err := next.Provider.Write(next.ID, next.resident)

		lock.Acquire()
		if err == nil {
			removeFromDirty(next)
			next.dirty = false
			standby = append(standby, next)
		} else {
			// Leave it on the dirty list; stop this pass rather than
			// spinning on a provider that is failing every write.
			lock.Release()
			return
		}
		lock.Release()
	}
}

// RunDPC drives Flush(FlushAll) from the timer's Timer-IRQL DPC queue,
// mirroring the page writer's "blocks on a notify event, driven by the
// system" design without a dedicated kernel thread (this tree has no
// context-switch primitive yet for a real blocking thread; see the
// mm/swap note in DESIGN.md).
func RunDPC() {
	timer.RunDPC(func() { Flush(FlushAll) })
}
