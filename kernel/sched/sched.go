// Package sched implements the kernel's thread scheduler: a
// per-CPU structure of priority-ordered ready lists serviced at IRQL
// irq.Dispatch. Threads are plain structs moved between slices under
// irq.SpinLock guards; the kernel never relies on the Go runtime's own
// goroutine scheduler for this (see kernel/goruntime for why), so none of
// this package spawns a goroutine per thread.
package sched

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"gopheros/kernel/mm/vmm"
)

// Priority identifies one of the scheduler's fixed priority levels.
type Priority uint8

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime

	// numPriorities is the number of lists each per-CPU structure carries.
	numPriorities = int(PriorityRealtime) + 1
)

// Status is the lifecycle state of a Thread.
type Status uint8

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusDied
)

// Thread is a schedulable unit of execution. Its Context/Stack fields are
// opaque to this package — real arch code stores whatever it needs there to
// resume execution, swapped in by the arch-specific context-switch stub.
type Thread struct {
	ID       uint64
	Process  *Process
	Priority Priority
	// boosted records whether the thread is currently living one
	// priority level above Priority (see boost/clearBoost).
	boosted bool
	Status  Status
	Affinity []int
	CPU      int
	Quantum  int

	Context interface{}
}

// basePriority returns the thread's priority, ignoring any active boost.
func (t *Thread) basePriority() Priority { return t.Priority }

// effectivePriority is the list index the thread currently lives on.
func (t *Thread) effectivePriority() Priority {
	if t.boosted && t.Priority < PriorityRealtime {
		return t.Priority + 1
	}
	return t.Priority
}

// Process groups threads sharing an address space. Parent/Children track
// the process tree ExitProcess walks when reparenting orphans; AddrSpace is
// optional (nil for the kernel process and for tests that never allocate
// one) and, when set, has every range freed by ExitProcess.
type Process struct {
	ID        uint64
	Threads   []*Thread
	Parent    *Process
	Children  []*Process
	AddrSpace *vmm.AddrSpace

	exitCode int32
	exited   bool
	waiters  []chan struct{}
}

// perCPU holds one priority-ordered set of ready lists plus the lock that
// guards them. Acquiring it raises IRQL to irq.Dispatch, matching the
// "acquire == raise IRQL" discipline kernel/irq establishes.
type perCPU struct {
	lock  irq.SpinLock
	ready [numPriorities][]*Thread
}

const maxCPUs = 256

var (
	// globalLock orders before any perCPU.lock, per the fixed lock order
	// SchedulerLock -> CPU.SchedulerLock -> object-local.
	globalLock irq.SpinLock

	cpus [maxCPUs]perCPU

	errNoAffinity = kernel.NewError(kernel.StatusInvalidAffinity, "sched", "thread has no eligible CPU in its affinity set")
)

func init() {
	for i := range cpus {
		cpus[i].lock.Floor = irq.Dispatch
	}
	globalLock.Floor = irq.Dispatch
}

// readyCount returns the number of ready threads at prio on the given CPU.
// Caller must hold globalLock.
func readyCount(cpuIdx int, prio Priority) int {
	return len(cpus[cpuIdx].ready[prio])
}

// pickCPU selects, among affinity (or all CPUs if affinity is empty), the
// CPU with the fewest ready threads at prio.
func pickCPU(affinity []int, prio Priority) (int, *kernel.Error) {
	candidates := affinity
	if len(candidates) == 0 {
		candidates = make([]int, maxCPUs)
		for i := range candidates {
			candidates[i] = i
		}
	}

	best, bestCount := -1, -1
	for _, c := range candidates {
		if c < 0 || c >= maxCPUs {
			continue
		}
		n := readyCount(c, prio)
		if best == -1 || n < bestCount {
			best, bestCount = c, n
		}
	}
	if best == -1 {
		return 0, errNoAffinity
	}
	return best, nil
}

// Ready places t on the ready list of the least-loaded CPU in its affinity
// set at its effective priority. It locks the global scheduler lock and then
// the per-CPU lock, in that fixed order.
func Ready(t *Thread) *kernel.Error {
	globalLock.Acquire()
	defer globalLock.Release()

	cpuIdx, err := pickCPU(t.Affinity, t.effectivePriority())
	if err != nil {
		return err
	}

	cpu := &cpus[cpuIdx]
	cpu.lock.Acquire()
	defer cpu.lock.Release()

	t.Status = StatusReady
	t.CPU = cpuIdx
	prio := t.effectivePriority()
	cpu.ready[prio] = append(cpu.ready[prio], t)
	return nil
}

// removeFromReady removes t from its CPU's ready list, if present. Caller
// must hold cpus[t.CPU].lock.
func removeFromReady(t *Thread) {
	cpu := &cpus[t.CPU]
	prio := t.effectivePriority()
	list := cpu.ready[prio]
	for i, q := range list {
		if q == t {
			cpu.ready[prio] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Block removes t from its ready list and marks it BLOCKED. If t is the
// caller's own thread, Block immediately performs a yield so another ready
// thread can run; this package's Yield is a no-op placeholder until the
// arch-specific context switch stub is wired in, matching the seam left by
// kernel/sync's yieldFn TODO.
func Block(t *Thread, self bool) {
	cpu := &cpus[t.CPU]
	cpu.lock.Acquire()
	removeFromReady(t)
	t.Status = StatusBlocked
	clearBoost(t)
	cpu.lock.Release()

	if self {
		Yield()
	}
}

// Boost raises t one priority level above its base, idempotently, clamped at
// PriorityRealtime. A thread's boost is cleared automatically the next time
// it blocks (see clearBoost).
func Boost(t *Thread) {
	cpu := &cpus[t.CPU]
	cpu.lock.Acquire()
	defer cpu.lock.Release()

	if t.boosted {
		return
	}
	if t.Priority >= PriorityRealtime {
		return
	}
	removeFromReady(t)
	t.boosted = true
	cpu.ready[t.effectivePriority()] = append(cpu.ready[t.effectivePriority()], t)
}

// clearBoost drops t back to its base priority. Called whenever t blocks, per
// the boost is cleared when the thread blocks.
func clearBoost(t *Thread) { t.boosted = false }

// Yield is the context-switch entry point. Production builds wire this to the
// arch-specific stub that saves the caller's context and reloads the next
// ready thread's; tests substitute a no-op or a counting stub.
var Yield = func() {}

// Next walks cpuIdx's ready lists from PriorityRealtime down to PriorityIdle
// and returns the head of the first non-empty list, marking it RUNNING. It
// returns nil if no thread is ready.
func Next(cpuIdx int) *Thread {
	cpu := &cpus[cpuIdx]
	cpu.lock.Acquire()
	defer cpu.lock.Release()

	for p := PriorityRealtime; ; p-- {
		if len(cpu.ready[p]) > 0 {
			t := cpu.ready[p][0]
			cpu.ready[p] = cpu.ready[p][1:]
			t.Status = StatusRunning
			return t
		}
		if p == PriorityIdle {
			break
		}
	}
	return nil
}

// Requeue returns a thread that exhausted its quantum or yielded voluntarily
// to the tail of its ready list.
func Requeue(t *Thread) *kernel.Error {
	return Ready(t)
}

// ExitThread unlinks t from its process and its per-CPU ready list, then
// marks it DIED. Real context switches run this on a stack other than t's
// own (the spec requires t's stack be freed as part of the operation); this
// package models only the scheduler-visible bookkeeping.
func ExitThread(t *Thread) {
	cpu := &cpus[t.CPU]
	cpu.lock.Acquire()
	removeFromReady(t)
	t.Status = StatusDied
	cpu.lock.Release()

	if t.Process != nil {
		globalLock.Acquire()
		for i, pt := range t.Process.Threads {
			if pt == t {
				t.Process.Threads = append(t.Process.Threads[:i], t.Process.Threads[i+1:]...)
				break
			}
		}
		globalLock.Release()
	}
}
