package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

// IRPOp identifies the operation an IRP carries out.
type IRPOp uint8

const (
	IRPRead IRPOp = iota
	IRPWrite
	IRPIoctl
)

// IRPState tracks where an IRP sits in the submit/wait/finalize protocol.
type IRPState uint8

const (
	irpPending IRPState = iota
	irpCompleted
	irpFinalized
)

var (
	errIRPAlreadyFinalized = kernel.NewError(kernel.StatusInvalidOperation, "vfs", "IRP already finalized")
	errIRPNotCompleted     = kernel.NewError(kernel.StatusInvalidOperation, "vfs", "IRP has not completed yet")
)

// IRP (I/O Request Packet) represents one asynchronous request handed to a
// Driver. A driver that cannot complete the request synchronously stashes
// whatever bookkeeping it needs in DriverData between SubmitIRP and the
// matching FinalizeIRP call; nothing outside the driver may touch DriverData.
//
// There is no blocking wait primitive at this layer yet (kernel/sched has no
// suspend/resume facility for IRP waiters), so Wait never parks the caller:
// it reports StatusIRPRetry for a still-pending IRP and the caller is
// expected to poll again later, matching the RETRY convention spec.md's IRP
// description calls for rather than resubmitting the request.
type IRP struct {
	lock irq.SpinLock

	Op     IRPOp
	Vnode  *Vnode
	Buf    []byte
	Offset int64
	Ioctl  struct {
		Request uintptr
		Argp    []byte
	}

	state  IRPState
	n      int
	ioErr  *kernel.Error

	// DriverData is private storage for the driver that owns this IRP
	// between SubmitIRP and FinalizeIRP.
	DriverData interface{}

	// OnEventSet, if non-nil, is invoked from Complete (which the driver
	// calls directly or from an interrupt handler) right after the outcome
	// is recorded and the state transitions to irpCompleted. It must not
	// block.
	OnEventSet func(*IRP)
}

// NewIRP constructs a pending IRP for op against v.
func NewIRP(op IRPOp, v *Vnode) *IRP {
	return &IRP{Op: op, Vnode: v}
}

// Submit hands ip to its vnode's driver. A driver that completes the
// request inline should call Complete before returning from SubmitIRP so
// that Wait observes irpCompleted immediately; one that defers completion
// (e.g. waiting on real device interrupts) calls Complete later from its own
// context.
func Submit(ip *IRP) *kernel.Error {
	if ip.Vnode.Driver == nil {
		return kernel.NewError(kernel.StatusInvalidOperation, "vfs", "vnode has no backing driver")
	}
	return ip.Vnode.Driver.SubmitIRP(ip)
}

// Complete records the outcome of ip's request and fires OnEventSet. Drivers
// call this exactly once per IRP.
func (ip *IRP) Complete(n int, err *kernel.Error) {
	ip.lock.Floor = irq.Dispatch
	ip.lock.Acquire()
	ip.n, ip.ioErr = n, err
	ip.state = irpCompleted
	cb := ip.OnEventSet
	ip.lock.Release()

	if cb != nil {
		cb(ip)
	}
}

// Wait reports ip's outcome if it has completed, or StatusIRPRetry if it is
// still pending.
func (ip *IRP) Wait() (int, *kernel.Error) {
	ip.lock.Floor = irq.Dispatch
	ip.lock.Acquire()
	defer ip.lock.Release()

	switch ip.state {
	case irpPending:
		return 0, kernel.NewError(kernel.StatusIRPRetry, "vfs", "IRP has not completed yet")
	case irpFinalized:
		return ip.n, ip.ioErr
	default:
		return ip.n, ip.ioErr
	}
}

// Finalize runs the driver's FinalizeIRP exactly once, even under concurrent
// callers; subsequent calls return errIRPAlreadyFinalized.
func (ip *IRP) Finalize() *kernel.Error {
	ip.lock.Floor = irq.Dispatch
	ip.lock.Acquire()
	if ip.state == irpFinalized {
		ip.lock.Release()
		return errIRPAlreadyFinalized
	}
	if ip.state == irpPending {
		ip.lock.Release()
		return errIRPNotCompleted
	}
	ip.state = irpFinalized
	ip.lock.Release()

	ip.Vnode.Driver.FinalizeIRP(ip)
	return nil
}
