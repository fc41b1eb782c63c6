package vfs

import "gopheros/kernel"

// This file specifies the syscall-entry surface as Go function signatures
// and argument/result structs; none of it is wired to an actual dispatcher
// (that belongs to a userspace ABI layer this tree doesn't build). It is a
// contract doc for what a dispatcher built on top of vfs, sched and mm
// would call.

// CloneFlags selects what handle_clone shares with the new process/thread
// rather than copying.
type CloneFlags uint32

const (
	CloneVM CloneFlags = 1 << iota
	CloneFD
	CloneCwd
	CloneThread
)

// HandleCloneArgs/HandleCloneResult describe handle_clone: create a new
// thread (CloneThread set) sharing the caller's address space and
// descriptor table per flags, or a new process with its own copy-on-write
// address space and a cloned Table/Cwd otherwise.
type HandleCloneArgs struct {
	Flags      CloneFlags
	StackTop   uintptr
	EntryPoint uintptr
}

type HandleCloneResult struct {
	ChildID uint64
	Err     *kernel.Error
}

// HandleClone is the contract a dispatcher's clone/fork/thread-create entry
// point implements atop sched.Process/sched.Thread and vfs.Table.Clone.
func HandleClone(args HandleCloneArgs) HandleCloneResult { panic("dispatcher-only contract") }

// FDOpenAtArgs/FDOpenAtResult describe fd_open_at: resolve path relative to
// either the process cwd (dirfd == AtFDCwd) or an already-open directory
// fd, then Open the resulting Vnode.
const AtFDCwd = -100

type FDOpenAtArgs struct {
	DirFD int
	Path  string
	Flags OpenFlag
	Mode  uint32
}

type FDOpenAtResult struct {
	FD  int
	Err *kernel.Error
}

// FDOpenAt is the contract a dispatcher's openat(2) entry point implements
// atop vfs.Resolve, vfs.Open and vfs.Table.Install.
func FDOpenAt(table *Table, cwd *Cwd, root *Dirent, args FDOpenAtArgs) FDOpenAtResult {
	panic("dispatcher-only contract")
}

// VMProt mirrors mmap's PROT_* bits.
type VMProt uint32

const (
	VMProtRead VMProt = 1 << iota
	VMProtWrite
	VMProtExec
)

// VMFlags mirrors mmap's MAP_* bits relevant to this kernel.
type VMFlags uint32

const (
	VMFlagShared VMFlags = 1 << iota
	VMFlagPrivate
	VMFlagAnonymous
	VMFlagFixed
)

// VirtualMemoryAllocArgs/Result describe virtual_memory_alloc: reserve a
// range in the caller's address space, optionally backed by an fd (a
// file-mapping) instead of VMFlagAnonymous zero pages.
type VirtualMemoryAllocArgs struct {
	Hint   uintptr
	Length uintptr
	Prot   VMProt
	Flags  VMFlags
	FD     int
	Offset int64
}

type VirtualMemoryAllocResult struct {
	Addr uintptr
	Err  *kernel.Error
}

// VirtualMemoryAlloc is the contract a dispatcher's mmap(2) entry point
// implements atop mm/vmm's address-space operations, optionally routing
// page-in misses through a vfs.FD's ReadAt.
func VirtualMemoryAlloc(args VirtualMemoryAllocArgs) VirtualMemoryAllocResult {
	panic("dispatcher-only contract")
}

// WaitTarget identifies what wait_on_object blocks on.
type WaitTarget uint8

const (
	WaitOnProcess WaitTarget = iota
	WaitOnThread
	WaitOnIRP
)

type WaitOnObjectArgs struct {
	Target WaitTarget
	ID     uint64
}

type WaitOnObjectResult struct {
	ExitStatus int
	Err        *kernel.Error
}

// WaitOnObject is the contract a dispatcher's wait4(2)/waitid(2)-equivalent
// entry point implements atop sched's exit-and-reap path and vfs.IRP.Wait.
func WaitOnObject(args WaitOnObjectArgs) WaitOnObjectResult { panic("dispatcher-only contract") }

// ExecVEArgs describes exec_ve: replace the calling process's image,
// carrying forward every open fd lacking OpenCloseOnExec.
type ExecVEArgs struct {
	Path string
	Argv []string
	Envp []string
}

type ExecVEResult struct {
	Err *kernel.Error
}

// ExecVE is the contract a dispatcher's execve(2) entry point implements;
// fd carry-forward is exactly vfs.Table filtered by OpenCloseOnExec.
func ExecVE(table *Table, args ExecVEArgs) ExecVEResult { panic("dispatcher-only contract") }
