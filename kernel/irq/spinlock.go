package irq

import "gopheros/kernel/sync"

// SpinLock pairs a busy-wait lock with an IRQL floor. Acquiring the lock
// atomically raises the calling CPU's IRQL to Floor before spinning, so
// that no interrupt whose handler would try to re-enter the same lock can
// preempt the holder; releasing restores the IRQL the caller had before
// acquiring. Spinlocks never suspend the caller: Acquire always
// returns via a successful busy-wait, never via a block.
type SpinLock struct {
	Floor Level

	inner sync.Spinlock
	saved Level
}

// Acquire raises IRQL to Floor and busy-waits for the lock.
func (l *SpinLock) Acquire() {
	l.saved = Raise(l.Floor)
	l.inner.Acquire()
}

// TryToAcquire raises IRQL to Floor and attempts a non-blocking acquire. If
// the lock could not be acquired the IRQL is restored before returning.
func (l *SpinLock) TryToAcquire() bool {
	saved := Raise(l.Floor)
	if l.inner.TryToAcquire() {
		l.saved = saved
		return true
	}
	Lower(saved)
	return false
}

// Release relinquishes the lock and restores the IRQL that was active
// before the matching Acquire/successful TryToAcquire call.
func (l *SpinLock) Release() {
	l.inner.Release()
	Lower(l.saved)
}
