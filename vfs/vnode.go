// Package vfs implements the kernel's vnode/dirent/mount graph: path
// resolution, file-descriptor lifetime, the IRP asynchronous I/O protocol,
// pipes and pseudo-terminals.
package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

// Kind identifies what a Vnode represents.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindChar
	KindBlock
	KindSymlink
	KindFIFO
	KindSocket
)

// Flag holds the boolean attributes a Vnode carries alongside Kind.
type Flag uint32

const (
	// FlagMountpoint is set on a vnode that has a filesystem grafted onto
	// it; Mounted is non-nil iff this flag is set.
	FlagMountpoint Flag = 1 << iota

	// FlagTTY marks a character vnode as a terminal device.
	FlagTTY

	// FlagPtmx marks the /dev/ptmx multiplexer vnode.
	FlagPtmx

	// FlagPtsLocked mirrors TIOCSPTLCK's lock bit for a pts slave.
	FlagPtsLocked

	// FlagPartition marks a vnode describing one partition of a block
	// device rather than the whole device.
	FlagPartition

	// FlagUnrefOnDelete marks a vnode whose filesystem driver wants a
	// final Unreference call once its dirent is unlinked and its
	// refcount reaches zero.
	FlagUnrefOnDelete
)

// Driver is the subset of spec.md's function table the VFS/IRP path relies
// on directly; filesystem- and hotplug-specific entries live on the
// concrete driver implementation and are reached through type assertions
// where needed, mirroring how the teacher's device.Driver keeps its own
// contract minimal and lets callers assert narrower interfaces.
type Driver interface {
	// ReadSync/WriteSync perform synchronous I/O in byte units at the
	// given file offset, used by the page-cache miss path and by
	// O_DIRECT/UNCACHED fd operations.
	ReadSync(desc uintptr, buf []byte, offset int64) (int, *kernel.Error)
	WriteSync(desc uintptr, buf []byte, offset int64) (int, *kernel.Error)

	// GetBlockSize/GetMaxBlockCount report block geometry.
	GetBlockSize(desc uintptr) (uint32, *kernel.Error)
	GetMaxBlockCount(desc uintptr) (uint64, *kernel.Error)

	// SubmitIRP/FinalizeIRP implement the async I/O protocol (irp.go).
	SubmitIRP(irp *IRP) *kernel.Error
	FinalizeIRP(irp *IRP)

	// Ioctl performs an opaque control operation; argp is interpreted by
	// the driver according to request.
	Ioctl(desc uintptr, request uintptr, argp []byte) *kernel.Error

	// ReferenceDevice/UnreferenceDevice bump/drop the descriptor's
	// driver-side lifetime, independent of the vnode refcount above it.
	ReferenceDevice(desc uintptr)
	UnreferenceDevice(desc uintptr)
}

// Vnode is the VFS's in-core representation of a file, directory, device
// node or other object reachable through the dirent graph.
type Vnode struct {
	lock irq.SpinLock

	Kind  Kind
	Flags Flag

	// refcount counts open fds plus dirents referencing this vnode; Ref/
	// Unref keep it consistent with "a vnode with open fds is never
	// freed".
	refcount int
	openFDs  int

	Size      int64
	BlockSize uint32
	Perm      uint32
	Owner     uint32
	Group     uint32

	// Mount is the mount this vnode's dirent belongs to (nil only for a
	// bare, unattached vnode under construction).
	Mount *Mount

	// Mounted is non-nil iff FlagMountpoint is set: the filesystem
	// grafted onto this vnode.
	Mounted *Mount

	Driver  Driver
	DevDesc uintptr
}

// NewVnode constructs a Vnode with a starting refcount of one, representing
// the caller's own reference.
func NewVnode(kind Kind, driver Driver, desc uintptr) *Vnode {
	return &Vnode{Kind: kind, Driver: driver, DevDesc: desc, refcount: 1}
}

// Ref adds a reference, e.g. when a dirent or an fd starts pointing at v.
func (v *Vnode) Ref() {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	v.refcount++
	v.lock.Release()
}

// Unref drops a reference and reports whether it was the last one. Callers
// whose vnode has FlagUnrefOnDelete set and report true should also invoke
// the filesystem driver's deferred cleanup.
func (v *Vnode) Unref() bool {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	v.refcount--
	last := v.refcount == 0
	v.lock.Release()
	return last
}

// RefCount reports the current reference count; used by tests.
func (v *Vnode) RefCount() int {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	defer v.lock.Release()
	return v.refcount
}

// OpenFD records that one more fd now references v.
func (v *Vnode) OpenFD() {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	v.openFDs++
	v.lock.Release()
}

// CloseFD records that an fd referencing v has closed.
func (v *Vnode) CloseFD() {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	if v.openFDs > 0 {
		v.openFDs--
	}
	v.lock.Release()
}

// HasOpenFDs reports whether any fd still references v.
func (v *Vnode) HasOpenFDs() bool {
	v.lock.Floor = irq.Dispatch
	v.lock.Acquire()
	defer v.lock.Release()
	return v.openFDs > 0
}
