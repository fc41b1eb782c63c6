package alloc

import (
	"gopheros/kernel"
)

var (
	errSlabZeroObjectSize     = kernel.NewError(kernel.StatusInvalidArgument, "alloc", "slab object size must be greater than zero")
	errSlabReallocUnsupported = kernel.NewError(kernel.StatusUnimplemented, "alloc", "slab allocator does not support reallocating an arbitrary pointer")
)

// SlabAllocator is a bounded-size object cache: every object
// it hands out has the same configured size plus padding, which keeps
// allocation O(1) (pop the free list) at the cost of only ever serving that
// one size class. It is built directly on top of BasicAllocator's region
// machinery: a slab region has the same embedded region/node headers, but
// every free node is pre-cut to the stride before the region is handed out.
type SlabAllocator struct {
	BasicAllocator
	objectSize uintptr // caller-visible object size
	stride     uintptr // objectSize rounded up to pointer alignment; excludes nodeHeaderSize
	padding    uintptr
}

// NewSlabAllocator creates a slab allocator serving objects of objectSize
// bytes, each padded to a pointer-aligned stride.
func NewSlabAllocator(objectSize uintptr) (*SlabAllocator, *kernel.Error) {
	if objectSize == 0 {
		return nil, errSlabZeroObjectSize
	}
	aligned := align(objectSize)
	return &SlabAllocator{
		objectSize: objectSize,
		stride:     aligned,
		padding:    aligned - objectSize,
	}, nil
}

// Alloc returns one object-sized block from the slab, carving a freshly
// reserved region into stride-uniform nodes the first time it is needed.
func (s *SlabAllocator) Alloc() (uintptr, *kernel.Error) {
	for r := s.regions; r != nil; r = r.next {
		if err := checkRegionMagic(r); err != nil {
			return 0, err
		}
		if r.freeHead != nil {
			return s.takeFromRegion(r)
		}
	}

	regionSize := defaultRegionSize
	objectsPerRegion := (regionSize - regionHeaderSize) / (s.stride + nodeHeaderSize)
	if objectsPerRegion == 0 {
		regionSize = regionHeaderSize + nodeHeaderSize + s.stride
		objectsPerRegion = 1
	}

	r, err := s.newSlabRegion(regionSize, objectsPerRegion)
	if err != nil {
		return 0, err
	}
	return s.takeFromRegion(r)
}

// newSlabRegion reserves backing memory via newRegionFn and pre-slices it
// into count equal-stride free nodes, rather than BasicAllocator's single
// free span covering the whole region.
func (s *SlabAllocator) newSlabRegion(size uintptr, count uintptr) (*region, *kernel.Error) {
	base, err := newRegionFn(size)
	if err != nil {
		return nil, err
	}

	r := regionAt(base)
	r.magic = regionMagic
	r.base = base
	r.size = size
	r.next = s.regions

	cursor := base + regionHeaderSize
	var prev *node
	for i := uintptr(0); i < count; i++ {
		n := nodeAtAddr(cursor)
		n.magic = nodeMagic
		n.size = s.stride
		n.prev = prev
		n.next = nil
		if prev == nil {
			r.freeHead = n
		} else {
			prev.next = n
		}
		prev = n
		cursor += nodeHeaderSize + s.stride
	}
	r.biggestFree = s.stride

	s.regions = r
	return r, nil
}

func (s *SlabAllocator) takeFromRegion(r *region) (uintptr, *kernel.Error) {
	n := r.freeHead
	if err := checkNodeMagic(n); err != nil {
		return 0, err
	}
	unlink(&r.freeHead, n)
	linkFront(&r.allocHead, n)
	if r.freeHead == nil {
		r.biggestFree = 0
	}
	return nodeDataAddr(n), nil
}

// Free returns ptr to its slab region's free list. The region is only
// released once every object it holds, including ones never handed out by
// this particular Alloc burst, has been freed.
func (s *SlabAllocator) Free(ptr uintptr) *kernel.Error {
	return s.BasicAllocator.Free(ptr)
}

// Realloc is intentionally unsupported: a slab serves a single fixed object
// size, so there is no larger block to grow into and no general-purpose
// region to carve a replacement from without first freeing ptr (which would
// invalidate any in-flight readers). Spec Open Question resolution: return
// StatusUnimplemented rather than panic or silently truncate.
func (s *SlabAllocator) Realloc(ptr uintptr, newSize uintptr) (uintptr, *kernel.Error) {
	return 0, errSlabReallocUnsupported
}
