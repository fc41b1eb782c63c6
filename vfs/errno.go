package vfs

import "gopheros/kernel"

// Errno is a POSIX error number, the shape a syscall entry point marshals
// back to userspace in place of the kernel.Error that actually failed.
type Errno int

// The subset of POSIX errno values the statuses below translate to.
const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	EIO     Errno = 5
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EBUSY   Errno = 16
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EINVAL  Errno = 22
	ENOSPC  Errno = 28
	EPIPE   Errno = 32
	ENOSYS  Errno = 38
	ELOOP   Errno = 40
)

// statusErrno maps each kernel.Status a syscall-reachable path can return
// to the errno userspace expects; statuses with no POSIX analogue (IRQL
// misuse, recursive-lock detection and similar programmer errors) never
// reach this translator because they panic instead of propagating.
var statusErrno = map[kernel.Status]Errno{
	kernel.StatusInvalidArgument:   EINVAL,
	kernel.StatusAlreadyMounted:    EBUSY,
	kernel.StatusNotEnoughMemory:   ENOMEM,
	kernel.StatusNoSpace:           ENOSPC,
	kernel.StatusInUse:             EBUSY,
	kernel.StatusPageFault:         EIO,
	kernel.StatusPipeClosed:        EPIPE,
	kernel.StatusEOF:               0,
	kernel.StatusIRPRetry:          EAGAIN,
	kernel.StatusInternalError:     EIO,
	kernel.StatusTimedOut:          EAGAIN,
	kernel.StatusWouldBlock:        EAGAIN,
	kernel.StatusAccessDenied:      EACCES,
	kernel.StatusReadOnly:          EACCES,
	kernel.StatusNotAFile:          ENOTDIR,
	kernel.StatusNotATTY:           EINVAL,
	kernel.StatusNoSyscall:         ENOSYS,
	kernel.StatusUnimplemented:     ENOSYS,
	kernel.StatusAborted:           EIO,
	kernel.StatusMismatch:          EINVAL,
	kernel.StatusNotFound:          ENOENT,
	kernel.StatusInvalidOperation:  EINVAL,
}

// ToErrno translates err's Status to the errno a syscall wrapper should
// surface; a nil err yields 0, and an unmapped status falls back to EIO so a
// missing table entry never silently reports success.
func ToErrno(err *kernel.Error) Errno {
	if err == nil {
		return 0
	}
	if errno, ok := statusErrno[err.Status]; ok {
		return errno
	}
	return EIO
}
