// Package alloc implements the kernel allocator: a basic
// region allocator backing general kernel `Alloc`/`Free` calls, and a slab
// allocator (slab.go) layered on top of it for fixed-size object caches.
package alloc

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

const (
	regionMagic = 0xa110c000
	nodeMagic   = 0xf4eef4ee

	nodeHeaderSize   = unsafe.Sizeof(node{})
	regionHeaderSize = unsafe.Sizeof(region{})
)

var (
	errAllocBadMagic    = kernel.NewError(kernel.StatusInvalidArgument, "alloc", "corrupt region or node header: magic mismatch")
	errAllocOOM         = kernel.NewError(kernel.StatusNotEnoughMemory, "alloc", "no region has enough free space to satisfy the request")
	errAllocUnknownPtr  = kernel.NewError(kernel.StatusInvalidArgument, "alloc", "pointer does not belong to any known allocated node")
	errAllocZeroRequest = kernel.NewError(kernel.StatusInvalidArgument, "alloc", "allocation size must be greater than zero")

	// defaultRegionSize is requested from newRegionFn whenever no existing
	// region can satisfy an allocation. It is generous enough that most
	// kernel-side allocations are satisfied from one region.
	defaultRegionSize uintptr = 64 * 4096

	// newRegionFn backs a freshly reserved region with real memory and
	// returns its base virtual address. Production code reserves virtual
	// address space and maps physical frames into it page by page; tests
	// substitute a function returning a plain Go-allocated buffer's
	// address.
	newRegionFn = reserveAndMapRegion
)

// node is the header embedded at the start of every free or allocated block.
// A node belongs to exactly one of a region's two doubly-linked lists at any
// time (free XOR allocated).
type node struct {
	magic      uint32
	size       uintptr // usable size following this header, excludes nodeHeaderSize
	prev, next *node
}

// region is the header embedded at the start of a chunk of backing memory
// obtained from newRegionFn. It owns two doubly-linked lists (free, alloc)
// of node headers carved out of [base+regionHeaderSize, base+size).
type region struct {
	magic       uint32
	base        uintptr
	size        uintptr
	biggestFree uintptr
	freeHead    *node
	allocHead   *node
	next        *region
}

// BasicAllocator is the kernel's general-purpose allocator:
// a list of regions, each tracking free and allocated nodes. Allocation
// picks the first region whose biggest free node satisfies the request; an
// exact-fit match removes the node entirely, otherwise the request is
// carved from the high end of the free node (which keeps the node's base
// address, and therefore any neighbors pointing at it, stable).
type BasicAllocator struct {
	regions *region
}

func regionAt(addr uintptr) *region { return (*region)(unsafe.Pointer(addr)) }
func nodeAtAddr(addr uintptr) *node { return (*node)(unsafe.Pointer(addr)) }

var errAllocNoAddrSpace = kernel.NewError(kernel.StatusUninitialized, "alloc", "no address space installed to back a new region")

func reserveAndMapRegion(size uintptr) (uintptr, *kernel.Error) {
	// Until something installs vmm.CurrentAddrSpace (scheduling a thread
	// switches it in) there is nowhere to carve a region from; early
	// boot allocation must go through mm/pmm directly.
	if vmm.CurrentAddrSpace == nil {
		return 0, errAllocNoAddrSpace
	}

	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
	return vmm.CurrentAddrSpace.VirtualAlloc(0, size, flags, vmm.AllocNonPaged, nil)
}

// Alloc reserves size bytes from the allocator, creating a new region via
// newRegionFn if no existing region can satisfy the request.
func (a *BasicAllocator) Alloc(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, errAllocZeroRequest
	}
	size = align(size)

	for r := a.regions; r != nil; r = r.next {
		if err := checkRegionMagic(r); err != nil {
			return 0, err
		}
		if r.biggestFree >= size {
			return a.allocFromRegion(r, size)
		}
	}

	regionSize := defaultRegionSize
	if need := size + regionHeaderSize + nodeHeaderSize; need > regionSize {
		regionSize = need
	}
	r, err := a.newRegion(regionSize)
	if err != nil {
		return 0, err
	}
	return a.allocFromRegion(r, size)
}

func (a *BasicAllocator) newRegion(size uintptr) (*region, *kernel.Error) {
	base, err := newRegionFn(size)
	if err != nil {
		return nil, err
	}

	r := regionAt(base)
	r.magic = regionMagic
	r.base = base
	r.size = size
	r.next = a.regions

	freeNode := nodeAtAddr(base + regionHeaderSize)
	freeNode.magic = nodeMagic
	freeNode.size = size - regionHeaderSize - nodeHeaderSize
	freeNode.prev, freeNode.next = nil, nil

	r.freeHead = freeNode
	r.biggestFree = freeNode.size

	a.regions = r
	return r, nil
}

// allocFromRegion carves size bytes out of r, which the caller has already
// verified has biggestFree >= size.
func (a *BasicAllocator) allocFromRegion(r *region, size uintptr) (uintptr, *kernel.Error) {
	var chosen *node
	for n := r.freeHead; n != nil; n = n.next {
		if err := checkNodeMagic(n); err != nil {
			return 0, err
		}
		if n.size >= size {
			chosen = n
			break
		}
	}
	if chosen == nil {
		return 0, errAllocOOM
	}

	if chosen.size == size || chosen.size-size < nodeHeaderSize {
		// exact-fit (or too small a remainder to host another header):
		// remove the node from the free list entirely.
		unlink(&r.freeHead, chosen)
		linkFront(&r.allocHead, chosen)
		r.recomputeBiggestFree()
		return nodeDataAddr(chosen), nil
	}

	// Carve from the high end: the free node's base and link pointers
	// stay where they are, only its size shrinks.
	remaining := chosen.size - size - nodeHeaderSize
	allocAddr := nodeDataAddr(chosen) + chosen.size - size
	chosen.size = remaining

	allocNode := nodeAtAddr(allocAddr - nodeHeaderSize)
	allocNode.magic = nodeMagic
	allocNode.size = size
	linkFront(&r.allocHead, allocNode)

	r.recomputeBiggestFree()
	return nodeDataAddr(allocNode), nil
}

// Free returns the block at ptr (as previously returned by Alloc) to its
// region's free list and releases the region if it becomes entirely free.
func (a *BasicAllocator) Free(ptr uintptr) *kernel.Error {
	for r := a.regions; r != nil; r = r.next {
		if err := checkRegionMagic(r); err != nil {
			return err
		}
		if ptr < r.base+regionHeaderSize || ptr >= r.base+r.size {
			continue
		}

		n := nodeAtAddr(ptr - nodeHeaderSize)
		if err := checkNodeMagic(n); err != nil {
			return err
		}

		unlink(&r.allocHead, n)
		linkFront(&r.freeHead, n)
		r.recomputeBiggestFree()

		if r.allocHead == nil {
			a.releaseRegion(r)
		}
		return nil
	}
	return errAllocUnknownPtr
}

func (a *BasicAllocator) releaseRegion(target *region) {
	if a.regions == target {
		a.regions = target.next
		return
	}
	for r := a.regions; r != nil; r = r.next {
		if r.next == target {
			r.next = target.next
			return
		}
	}
}

// Optimize coalesces adjacent free nodes within every region. It is
// idempotent and additionally detects header corruption (magic mismatch),
// which is treated as fatal.
func (a *BasicAllocator) Optimize() {
	for r := a.regions; r != nil; r = r.next {
		if err := checkRegionMagic(r); err != nil {
			fatalCorruption(r.base, err)
		}
		coalesceRegion(r)
		r.recomputeBiggestFree()
	}
}

func coalesceRegion(r *region) {
	// O(n^2) adjacency scan; region node counts are small enough in
	// practice (bounded by allocation churn between Optimize calls) that
	// this stays cheap relative to the coalescing it buys back.
	again := true
	for again {
		again = false
		for n := r.freeHead; n != nil; n = n.next {
			nEnd := nodeDataAddr(n) + n.size
			for m := r.freeHead; m != nil; m = m.next {
				if m == n {
					continue
				}
				if nodeAddr(m) == nEnd {
					n.size += nodeHeaderSize + m.size
					unlink(&r.freeHead, m)
					again = true
					break
				}
			}
			if again {
				break
			}
		}
	}
}

func (r *region) recomputeBiggestFree() {
	var biggest uintptr
	for n := r.freeHead; n != nil; n = n.next {
		if n.size > biggest {
			biggest = n.size
		}
	}
	r.biggestFree = biggest
}

func checkRegionMagic(r *region) *kernel.Error {
	if r.magic != regionMagic {
		return errAllocBadMagic
	}
	return nil
}

func checkNodeMagic(n *node) *kernel.Error {
	if n.magic != nodeMagic {
		return errAllocBadMagic
	}
	return nil
}

func fatalCorruption(addr uintptr, err *kernel.Error) {
	kfmt.Printf("[alloc] corrupt header at 0x%x\n", addr)
	kfmt.Panic(err)
}

func nodeAddr(n *node) uintptr     { return uintptr(unsafe.Pointer(n)) }
func nodeDataAddr(n *node) uintptr { return nodeAddr(n) + nodeHeaderSize }

func unlink(head **node, n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		*head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
}

func linkFront(head **node, n *node) {
	n.prev = nil
	n.next = *head
	if *head != nil {
		(*head).prev = n
	}
	*head = n
}

// align rounds size up to a pointer-sized boundary so carved nodes never
// leave a sub-word remainder that could trip alignment-sensitive readers.
func align(size uintptr) uintptr {
	const a = unsafe.Sizeof(uintptr(0))
	return (size + a - 1) &^ (a - 1)
}
