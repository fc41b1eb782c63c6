package irq

import (
	"gopheros/kernel"
	"sync/atomic"
)

// Level is a per-CPU IRQL (interrupt-request level); higher values mask
// lower ones. Masking is synonymous with raising the IRQL above a given
// level.
type Level uint8

const (
	// Passive is the level regular kernel code executes at.
	Passive Level = 0
	// APC is used for asynchronous procedure calls queued by drivers.
	APC Level = 1
	// Dispatch is the level at which the scheduler may preempt the
	// running thread; spinlocks guarding scheduler state raise to this
	// floor.
	Dispatch Level = 2
	// IPI is used while servicing an inter-processor interrupt; its
	// exact position is architecture dependent.
	IPI Level = 3
	// GPE services general-purpose (ACPI-style) events.
	GPE Level = 4
	// Timer is the level the timer DPC walk executes at.
	Timer Level = 5
	// MaskAll masks every maskable interrupt source.
	MaskAll Level = 15
)

// maxCPUs bounds the per-CPU IRQL table. Real hardware topologies are
// discovered at boot and never exceed this in practice for the systems OBOS
// targets.
const maxCPUs = 256

var currentIRQL [maxCPUs]uint32

// cpuIndexFn resolves the calling CPU's index into currentIRQL. It is
// mocked by tests and, like the *Fn seams in kernel/mm/vmm,
// automatically inlined by the compiler when building for real hardware.
var cpuIndexFn = func() int { return 0 }

var (
	errInvalidIRQLRaise = kernel.NewError(kernel.StatusInvalidIRQL, "irq", "raise requires newIRQL > current")
	errInvalidIRQLLower = kernel.NewError(kernel.StatusInvalidIRQL, "irq", "lower requires newIRQL < current")
)

// CurrentIRQL returns the calling CPU's current IRQL.
func CurrentIRQL() Level {
	return Level(atomic.LoadUint32(&currentIRQL[cpuIndexFn()]))
}

// Raise raises the calling CPU's IRQL to newIRQL and returns the previous
// value. newIRQL must be strictly greater than the current IRQL; violating
// this panics, mirroring the panic-on-misuse convention in
// kernel/kfmt's redirect handlers.
func Raise(newIRQL Level) Level {
	idx := cpuIndexFn()
	old := Level(atomic.LoadUint32(&currentIRQL[idx]))
	if newIRQL <= old {
		panic(errInvalidIRQLRaise)
	}
	atomic.StoreUint32(&currentIRQL[idx], uint32(newIRQL))
	return old
}

// Lower restores the calling CPU's IRQL to newIRQL. newIRQL must be
// strictly less than the current IRQL.
func Lower(newIRQL Level) {
	idx := cpuIndexFn()
	old := Level(atomic.LoadUint32(&currentIRQL[idx]))
	if newIRQL >= old {
		panic(errInvalidIRQLLower)
	}
	atomic.StoreUint32(&currentIRQL[idx], uint32(newIRQL))
}

// RunAt raises the IRQL to lvl, invokes fn and restores the previous IRQL
// once fn returns. It is the building block used by SpinLock and by the
// vector dispatch loop to run handlers "at the IRQL's level".
func RunAt(lvl Level, fn func()) {
	old := Raise(lvl)
	defer Lower(old)
	fn()
}
