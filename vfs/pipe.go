package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

// pipeBufSize is the ring buffer's capacity; it also doubles as PIPE_BUF,
// the largest write guaranteed to be atomic with respect to other writers.
const pipeBufSize = 4096

// PIPE_BUF mirrors POSIX's constant of the same name: writes of this size or
// smaller never interleave with another writer's bytes.
const PIPE_BUF = pipeBufSize

var (
	errPipeFull  = kernel.NewError(kernel.StatusWouldBlock, "vfs", "pipe buffer is full")
	errPipeEmpty = kernel.NewError(kernel.StatusWouldBlock, "vfs", "pipe buffer is empty")
)

// Pipe is a fixed-size ring-buffer FIFO connecting one or more writers to
// one or more readers through a pair of Vnodes. Neither end blocks the
// caller: kernel/sched has no suspend/resume facility yet, so Read/Write
// report StatusWouldBlock instead of parking, matching the same gap
// documented for mm/swap's page-writer thread and the IRP Wait path.
type Pipe struct {
	lock irq.SpinLock

	buf        [pipeBufSize]byte
	head, tail int
	count      int

	readers, writers int
	readerClosed     bool
	writerClosed     bool
}

// NewPipe constructs an empty pipe with one reader and one writer reference
// (the two ends the caller is about to hand out as Vnodes).
func NewPipe() *Pipe {
	return &Pipe{readers: 1, writers: 1}
}

// AddReader/AddWriter record an extra dup'd descriptor on that end.
func (p *Pipe) AddReader() { p.withLock(func() { p.readers++ }) }
func (p *Pipe) AddWriter() { p.withLock(func() { p.writers++ }) }

// CloseReader drops one reader reference; once the last one closes, a
// subsequent Write fails with StatusPipeClosed (SIGPIPE territory for a
// real process).
func (p *Pipe) CloseReader() {
	p.withLock(func() {
		p.readers--
		if p.readers == 0 {
			p.readerClosed = true
		}
	})
}

// CloseWriter drops one writer reference; once the last one closes, a
// subsequent Read drains whatever remains and then reports StatusEOF.
func (p *Pipe) CloseWriter() {
	p.withLock(func() {
		p.writers--
		if p.writers == 0 {
			p.writerClosed = true
		}
	})
}

func (p *Pipe) withLock(fn func()) {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	fn()
	p.lock.Release()
}

// Read copies up to len(buf) bytes out of the ring into buf.
func (p *Pipe) Read(buf []byte) (int, *kernel.Error) {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	defer p.lock.Release()

	if p.count == 0 {
		if p.writerClosed {
			return 0, kernel.NewError(kernel.StatusEOF, "vfs", "pipe: all writers closed")
		}
		return 0, errPipeEmpty
	}

	n := 0
	for n < len(buf) && p.count > 0 {
		buf[n] = p.buf[p.head]
		p.head = (p.head + 1) % pipeBufSize
		p.count--
		n++
	}
	return n, nil
}

// Write copies up to len(data) bytes into the ring, stopping short of
// capacity rather than overwriting unread data. A write of PIPE_BUF bytes or
// fewer either transfers in full or not at all, so no partial, interleaved
// write of that size is ever observable by another writer — the atomicity
// guarantee POSIX requires of pipes.
func (p *Pipe) Write(data []byte) (int, *kernel.Error) {
	p.lock.Floor = irq.Dispatch
	p.lock.Acquire()
	defer p.lock.Release()

	if p.readerClosed {
		return 0, kernel.NewError(kernel.StatusPipeClosed, "vfs", "pipe: all readers closed")
	}

	free := pipeBufSize - p.count
	if free == 0 {
		return 0, errPipeFull
	}

	n := len(data)
	atomic := n <= PIPE_BUF
	if atomic && n > free {
		return 0, errPipeFull
	}
	if !atomic && n > free {
		n = free
	}

	tail := p.tail
	for i := 0; i < n; i++ {
		p.buf[tail] = data[i]
		tail = (tail + 1) % pipeBufSize
	}
	p.tail = tail
	p.count += n
	return n, nil
}

// DataAvailable, Empty and WriteSpace report the three event conditions
// spec.md's pipe description names: a reader waking on new bytes, a writer
// waking once the ring has drained, and a writer waking once room frees up.
func (p *Pipe) DataAvailable() bool {
	var v bool
	p.withLock(func() { v = p.count > 0 })
	return v
}

func (p *Pipe) Empty() bool {
	var v bool
	p.withLock(func() { v = p.count == 0 })
	return v
}

func (p *Pipe) WriteSpace() int {
	var v int
	p.withLock(func() { v = pipeBufSize - p.count })
	return v
}
