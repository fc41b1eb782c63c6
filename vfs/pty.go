package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

// Pty ioctl request numbers, matching the Linux ABI values spec.md names.
const (
	TIOCGPTN  uintptr = 0x80045430
	TIOCSPTLCK uintptr = 0x40045431
)

var errPtyLocked = kernel.NewError(kernel.StatusAccessDenied, "vfs", "pts slave is locked")

// signalForegroundGroupFn notifies whatever owns the slave's foreground
// process group that its controlling terminal hung up. kernel/sched has no
// process-group or signal-delivery concept yet, so this defaults to a no-op;
// a future session wires process groups should set this to the real
// delivery path rather than adding one here.
var signalForegroundGroupFn = func(*Pty) {}

// Pty is one ptmx/pts pair: a 4KiB ring from master to slave and a second
// ring, line-disciplined at a very small subset of termios (slave reads are
// delivered as raw bytes; cooked-mode editing is left to userspace), from
// slave back to master.
type Pty struct {
	lock irq.SpinLock

	Index int

	toSlave  *Pipe
	toMaster *Pipe

	locked      bool
	masterOpen  bool
	slaveOpen   bool
}

var (
	ptyLock  irq.SpinLock
	ptyTable []*Pty
)

// AllocatePty creates a new pty pair and registers it under the next free
// index, the value TIOCGPTN reports to the caller that opened /dev/ptmx.
func AllocatePty() *Pty {
	p := &Pty{toSlave: NewPipe(), toMaster: NewPipe(), locked: true, masterOpen: true}

	ptyLock.Floor = irq.Dispatch
	ptyLock.Acquire()
	p.Index = len(ptyTable)
	ptyTable = append(ptyTable, p)
	ptyLock.Release()

	return p
}

// OpenSlave marks the slave side open; it fails while the pts remains locked
// (the window between ptmx open and a successful TIOCSPTLCK(0) unlock).
func (p *Pty) OpenSlave() *kernel.Error {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	defer p.lock.Release()
	if p.locked {
		return errPtyLocked
	}
	p.slaveOpen = true
	return nil
}

// CloseMaster marks the master closed and raises SIGHUP towards the slave's
// foreground process group, per spec.md's ptmx lifecycle.
func (p *Pty) CloseMaster() {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	p.masterOpen = false
	p.lock.Release()

	p.toSlave.CloseWriter()
	p.toMaster.CloseReader()
	signalForegroundGroupFn(p)
}

// CloseSlave marks the slave closed.
func (p *Pty) CloseSlave() {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	p.slaveOpen = false
	p.lock.Release()

	p.toMaster.CloseWriter()
	p.toSlave.CloseReader()
}

// Ioctl implements TIOCGPTN (report Index) and TIOCSPTLCK (set/clear the
// lock bit gating OpenSlave).
func (p *Pty) Ioctl(request uintptr, argp []byte) *kernel.Error {
	switch request {
	case TIOCGPTN:
		if len(argp) < 4 {
			return kernel.NewError(kernel.StatusInvalidArgument, "vfs", "TIOCGPTN argument too small")
		}
		n := uint32(p.Index)
		argp[0] = byte(n)
		argp[1] = byte(n >> 8)
		argp[2] = byte(n >> 16)
		argp[3] = byte(n >> 24)
		return nil
	case TIOCSPTLCK:
		if len(argp) < 4 {
			return kernel.NewError(kernel.StatusInvalidArgument, "vfs", "TIOCSPTLCK argument too small")
		}
		val := uint32(argp[0]) | uint32(argp[1])<<8 | uint32(argp[2])<<16 | uint32(argp[3])<<24
		p.lock.Floor = irq.Dispatch
		p.lock.Acquire()
		p.locked = val != 0
		p.lock.Release()
		return nil
	default:
		return kernel.NewError(kernel.StatusInvalidArgument, "vfs", "unsupported pty ioctl request")
	}
}

// MasterRead/MasterWrite move bytes produced by the slave to the controlling
// process and keystrokes from it to the slave, respectively.
func (p *Pty) MasterRead(buf []byte) (int, *kernel.Error) { return p.toMaster.Read(buf) }
func (p *Pty) MasterWrite(buf []byte) (int, *kernel.Error) { return p.toSlave.Write(buf) }

// SlaveRead/SlaveWrite are the mirror image, used by the process attached to
// the pts device.
func (p *Pty) SlaveRead(buf []byte) (int, *kernel.Error)  { return p.toSlave.Read(buf) }
func (p *Pty) SlaveWrite(buf []byte) (int, *kernel.Error) { return p.toMaster.Write(buf) }
