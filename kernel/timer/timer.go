// Package timer implements deadline and interval timers on top of the
// kernel's IRQL discipline. Expiry is driven by a single
// per-CPU tick source; armed timers are kept in a flat slice ordered by
// deadline and walked at IRQL irq.Timer, mirroring the vector dispatch loop
// in kernel/irq.
package timer

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"math"
	"sync"
)

// Kind distinguishes a one-shot deadline timer from a repeating interval
// timer.
type Kind uint8

const (
	// OneShot timers fire once and are then removed from the queue.
	OneShot Kind = iota
	// Interval timers re-arm themselves for the tick Expire fired them at
	// plus Period.
	Interval
)

// Tick is a monotonically increasing hardware tick count. Its unit (ns per
// tick) is supplied by the arch timer driver via SetTickRate.
type Tick uint64

var (
	// tickRateNS is the number of nanoseconds represented by a single
	// tick, as reported by the arch-specific timer driver.
	tickRateNS uint64 = 1

	// nowFn reads the current tick count. It is a package-level seam so
	// tests can drive time without a real timer device; production code
	// points it at the arch driver's tick counter.
	nowFn = func() Tick { return 0 }
)

// SetTickRate configures the nanosecond duration of one tick. Called once by
// the arch timer driver during HAL bring-up.
func SetTickRate(nsPerTick uint64) {
	if nsPerTick == 0 {
		nsPerTick = 1
	}
	tickRateNS = nsPerTick
}

// SetTickSource overrides the tick-reading function. Exists for tests and
// for swapping in a different hardware timer at runtime.
func SetTickSource(fn func() Tick) { nowFn = fn }

// Now returns the current tick count from the active tick source.
func Now() Tick { return nowFn() }

// TickToNS converts a tick count to nanoseconds, clamping to math.MaxInt64
// instead of overflowing when the product would not fit in an int64.
func TickToNS(t Tick) int64 {
	const maxTick = uint64(math.MaxInt64)
	ticks := uint64(t)
	if tickRateNS != 0 && ticks > maxTick/tickRateNS {
		return math.MaxInt64
	}
	return int64(ticks * tickRateNS)
}

// NSToTick converts a nanosecond duration into a tick count, clamping to
// math.MaxUint64 on overflow and rounding down to zero ticks for any
// positive duration shorter than one tick.
func NSToTick(ns int64) Tick {
	if ns <= 0 {
		return 0
	}
	n := uint64(ns)
	if tickRateNS == 0 {
		return Tick(n)
	}
	return Tick(n / tickRateNS)
}

// Callback is invoked when a timer expires. It runs at IRQL irq.Timer, so it
// must not block and should hand off any lengthy work to a DPC of its own.
type Callback func(t *Timer)

// Timer is an armed deadline or interval timer.
type Timer struct {
	Name     string
	Kind     Kind
	Deadline Tick
	Period   Tick
	Callback Callback

	canceled bool
}

var (
	errZeroPeriod = kernel.NewError(kernel.StatusInvalidArgument, "timer", "interval timer requires a non-zero period")

	queueLock sync.Mutex
	queue     []*Timer
)

// Arm schedules t to fire at t.Deadline (absolute tick count). Interval
// timers must set a non-zero Period; the Deadline supplied is the first
// firing, after which each firing re-arms the timer for the tick passed to
// Expire plus Period.
func Arm(t *Timer) *kernel.Error {
	if t.Kind == Interval && t.Period == 0 {
		return errZeroPeriod
	}
	queueLock.Lock()
	defer queueLock.Unlock()
	t.canceled = false
	insertSorted(t)
	return nil
}

// Cancel removes t from the queue if still armed. Canceling an already
// fired one-shot timer or an unarmed timer is a no-op.
func Cancel(t *Timer) {
	queueLock.Lock()
	defer queueLock.Unlock()
	t.canceled = true
	for i, q := range queue {
		if q == t {
			queue = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

func insertSorted(t *Timer) {
	idx := len(queue)
	for i, q := range queue {
		if t.Deadline < q.Deadline {
			idx = i
			break
		}
	}
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = t
}

// Expire walks the queue and fires every timer whose deadline has passed as
// of now, re-arming interval timers. It is meant to be invoked from the arch
// timer interrupt handler, which is expected to call it via
// irq.RunAt(irq.Timer, func() { timer.Expire(timer.Now()) }).
func Expire(now Tick) {
	queueLock.Lock()
	var due []*Timer
	for len(queue) > 0 && queue[0].Deadline <= now {
		t := queue[0]
		queue = queue[1:]
		if t.canceled {
			continue
		}
		due = append(due, t)
		if t.Kind == Interval {
			t.Deadline = now + t.Period
			insertSorted(t)
		}
	}
	queueLock.Unlock()

	for _, t := range due {
		if t.Callback != nil {
			t.Callback(t)
		}
	}
}

// Pending reports how many timers are currently armed. Intended for tests
// and diagnostics, not a hot-path query.
func Pending() int {
	queueLock.Lock()
	defer queueLock.Unlock()
	return len(queue)
}

// RunDPC is a convenience wrapper that raises IRQL to irq.Timer for the
// duration of fn, matching the discipline Expire's callbacks are invoked
// under in production.
func RunDPC(fn func()) { irq.RunAt(irq.Timer, fn) }
