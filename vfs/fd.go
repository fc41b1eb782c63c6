package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

// OpenFlag mirrors the subset of POSIX open(2) flags the VFS layer itself
// interprets; the rest pass through to the driver untouched.
type OpenFlag uint32

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenAppend
	OpenCreate
	OpenDirect
	OpenCloseOnExec
	OpenNonBlock
)

var errBadFD = kernel.NewError(kernel.StatusInvalidArgument, "vfs", "bad file descriptor")

// FD is one open file descriptor: a reference to a Vnode plus the open
// flags and offset private to this particular open, grounded on the
// teacher corpus's Fd_t (vnode reference + permission bits) generalized
// with the byte offset spec.md's fd lifetime section requires.
type FD struct {
	Vnode  *Vnode
	Flags  OpenFlag
	offset int64
}

// Open increments Vnode's fd-reference bookkeeping and returns a new FD over
// it with the given flags.
func Open(v *Vnode, flags OpenFlag) *FD {
	v.Ref()
	v.OpenFD()
	return &FD{Vnode: v, Flags: flags}
}

// Dup duplicates fd, taking a fresh reference on the same Vnode but
// starting from the same offset (matching biscuit's Copyfd reopen
// semantics, minus the driver Reopen hook this tree's Driver interface does
// not expose).
func (fd *FD) Dup() *FD {
	fd.Vnode.Ref()
	fd.Vnode.OpenFD()
	return &FD{Vnode: fd.Vnode, Flags: fd.Flags, offset: fd.offset}
}

// Close drops fd's references; the caller is responsible for discarding fd
// afterwards.
func (fd *FD) Close() {
	fd.Vnode.CloseFD()
	fd.Vnode.Unref()
}

// Read reads into buf starting at fd's current offset through the page
// cache when the vnode is regular and not opened OpenDirect, or straight
// through the driver otherwise; the offset advances by the bytes
// transferred.
func (fd *FD) Read(buf []byte) (int, *kernel.Error) {
	n, err := fd.readAt(fd.offset, buf)
	fd.offset += int64(n)
	return n, err
}

func (fd *FD) readAt(offset int64, buf []byte) (int, *kernel.Error) {
	if fd.Vnode.Driver == nil {
		return 0, kernel.NewError(kernel.StatusInvalidOperation, "vfs", "vnode has no backing driver")
	}
	if fd.Vnode.Kind == KindRegular && fd.Flags&OpenDirect == 0 {
		return readThroughCache(fd.Vnode, offset, buf)
	}
	return fd.Vnode.Driver.ReadSync(fd.Vnode.DevDesc, buf, offset)
}

// Write writes buf at fd's current offset (or at the vnode's end if
// OpenAppend is set), advancing the offset by the bytes transferred. For a
// regular vnode not opened OpenDirect, the write lands in the page cache
// and marks its pages dirty for the page writer (FlushDirtyPages) rather
// than hitting the driver synchronously.
func (fd *FD) Write(buf []byte) (int, *kernel.Error) {
	offset := fd.offset
	if fd.Flags&OpenAppend != 0 {
		offset = fd.Vnode.Size
	}
	if fd.Vnode.Driver == nil {
		return 0, kernel.NewError(kernel.StatusInvalidOperation, "vfs", "vnode has no backing driver")
	}

	var (
		n   int
		err *kernel.Error
	)
	if fd.Vnode.Kind == KindRegular && fd.Flags&OpenDirect == 0 {
		n, err = writeThroughCache(fd.Vnode, offset, buf)
	} else {
		n, err = fd.Vnode.Driver.WriteSync(fd.Vnode.DevDesc, buf, offset)
	}

	fd.offset = offset + int64(n)
	if fd.offset > fd.Vnode.Size {
		fd.Vnode.Size = fd.offset
	}
	return n, err
}

// Seek repositions fd's offset; whence follows io.Seeker's convention
// (0=start, 1=current, 2=end).
func (fd *FD) Seek(off int64, whence int) int64 {
	switch whence {
	case 1:
		fd.offset += off
	case 2:
		fd.offset = fd.Vnode.Size + off
	default:
		fd.offset = off
	}
	return fd.offset
}

// Table is a per-process file-descriptor table: every open/close/clone
// takes its lock, matching spec.md's "handle table: per-process mutex"
// resource rule.
type Table struct {
	lock  irq.SpinLock
	slots map[int]*FD
	next  int
}

// NewTable constructs an empty descriptor table.
func NewTable() *Table {
	return &Table{slots: make(map[int]*FD)}
}

// Install assigns fd the lowest unused descriptor number and returns it.
func (t *Table) Install(fd *FD) int {
	t.lock.Floor = irq.Dispatch
	t.lock.Acquire()
	defer t.lock.Release()
	n := t.next
	for {
		if _, used := t.slots[n]; !used {
			break
		}
		n++
	}
	t.slots[n] = fd
	t.next = n + 1
	return n
}

// Get returns the FD installed at n, or nil.
func (t *Table) Get(n int) *FD {
	t.lock.Floor = irq.Dispatch
	t.lock.Acquire()
	defer t.lock.Release()
	return t.slots[n]
}

// Close removes and closes the descriptor at n.
func (t *Table) Close(n int) *kernel.Error {
	t.lock.Floor = irq.Dispatch
	t.lock.Acquire()
	fd, ok := t.slots[n]
	if ok {
		delete(t.slots, n)
		if n < t.next {
			t.next = n
		}
	}
	t.lock.Release()
	if !ok {
		return errBadFD
	}
	fd.Close()
	return nil
}

// Clone duplicates src's whole table into a new one, taking a fresh
// reference on every descriptor (used by fork/handle_clone-style process
// creation); descriptors flagged OpenCloseOnExec are carried here too —
// exec_ve's own "preserve fds lacking NOEXEC" filtering happens above this
// layer.
func (t *Table) Clone() *Table {
	t.lock.Floor = irq.Dispatch
	t.lock.Acquire()
	defer t.lock.Release()

	dst := NewTable()
	for n, fd := range t.slots {
		dst.slots[n] = fd.Dup()
	}
	dst.next = t.next
	return dst
}

// Cwd tracks a process's current working directory, grounded on the
// teacher corpus's Cwd_t (an fd for the directory plus its canonical path).
type Cwd struct {
	lock irq.SpinLock
	Dir  *Dirent
	Path string
}

// NewRootCwd constructs a Cwd rooted at root.
func NewRootCwd(root *Dirent) *Cwd {
	return &Cwd{Dir: root, Path: "/"}
}

// Chdir serializes changes to cwd under its lock, matching the teacher's
// Cwd_t mutex ("to serialize chdirs").
func (c *Cwd) Chdir(dir *Dirent, path string) {
	c.lock.Floor = irq.Dispatch
	c.lock.Acquire()
	c.Dir = dir
	c.Path = path
	c.lock.Release()
}
