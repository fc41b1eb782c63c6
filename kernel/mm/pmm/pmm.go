// Package pmm implements the kernel physical frame allocator.
//
// Two allocators cooperate during the lifetime of the kernel: BootMemAllocator
// walks the bootloader-reported memory map directly and can only allocate,
// never free, frames; it is retired once FreeListAllocator has been seeded
// from the same map and installed as the system frame allocator.
package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
)

var (
	// bootAlloc is the allocator used while bringing up the kernel, before
	// the free-list allocator has been seeded.
	bootAlloc BootMemAllocator

	// freeListAlloc is the allocator used for the remainder of the kernel's
	// lifetime; it supports both allocation and freeing.
	freeListAlloc FreeListAllocator
)

// Init sets up the kernel physical memory allocation sub-system: it prints
// the memory map via BootMemAllocator and installs it as the active frame
// allocator, then seeds FreeListAllocator from the same memory map (minus
// the kernel image) and switches the active allocator over to it before
// returning. Frames handed out by BootMemAllocator are not excluded from
// the free list.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	bootAlloc.init(kernelStart, kernelEnd)
	bootAlloc.printMemoryMap()
	mm.SetFrameAllocator(earlyAllocFrame)

	if err := freeListAlloc.init(kernelStart, kernelEnd); err != nil {
		return err
	}
	mm.SetFrameAllocator(freeListAllocFrame)

	return nil
}

func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return bootAlloc.AllocFrame()
}

func freeListAllocFrame() (mm.Frame, *kernel.Error) {
	phys, err := freeListAlloc.AllocFrames(1, 1, false)
	if err != nil {
		return mm.InvalidFrame, err
	}
	return mm.FrameFromAddress(phys), nil
}

// AllocFrames is the exported entry point for callers that need more than a
// single frame or an alignment/below-4GiB constraint BootMemAllocator cannot
// express.
func AllocFrames(n uint64, alignmentPages uint64, low32 bool) (uintptr, *kernel.Error) {
	return freeListAlloc.AllocFrames(n, alignmentPages, low32)
}

// FreeFrames returns n frames starting at phys to the free-list allocator.
func FreeFrames(phys uintptr, n uint64) *kernel.Error {
	return freeListAlloc.FreeFrames(phys, n)
}

// OptimizeFreeList sorts and coalesces the free-list allocator's region
// lists. It is idempotent.
func OptimizeFreeList() { freeListAlloc.optimize() }
