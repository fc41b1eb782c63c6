package pmm

import (
	"gopheros/kernel"
	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/mm"
	"sort"
	"unsafe"
)

var (
	errFreeListOOM     = kernel.NewError(kernel.StatusNotEnoughMemory, "pmm", "no free region satisfies the allocation request")
	errInvalidFreeSpan = kernel.NewError(kernel.StatusInvalidArgument, "pmm", "freed span is not page-aligned or has zero length")
)

// fourGiB is the boundary FreeListAllocator partitions its two free lists on
// (one rooted in the below-4GiB region, one in the
// remainder").
const fourGiB = uintptr(1) << 32

// regionNode is embedded at the start of every free physical region it
// describes; reading/writing it requires the region's memory to be
// addressable, which on real iron means through the HHDM mapping.
type regionNode struct {
	next   *regionNode
	base   uintptr
	frames uint64
}

// hhdmOffset converts a physical address into the virtual address that maps
// it directly. It must be configured once via SetHHDMOffset before any
// region node is read or written; it defaults to 0, which is sufficient for
// tests that allocate ordinary Go memory and use its address as a stand-in
// physical address.
var hhdmOffset uintptr

// SetHHDMOffset records the offset between a physical address and its
// direct-mapped virtual alias, established by the bootloader (Limine's HHDM
// feature) during early HAL bring-up.
func SetHHDMOffset(off uintptr) { hhdmOffset = off }

func nodeAt(phys uintptr) *regionNode {
	return (*regionNode)(unsafe.Pointer(phys + hhdmOffset))
}

// FreeListAllocator implements a two-list frame allocator.
type FreeListAllocator struct {
	belowFourGB *regionNode
	remainder   *regionNode
}

// init seeds the allocator from the bootloader memory map, handing every
// available region not overlapping the kernel image to the appropriate
// list.
func (a *FreeListAllocator) init(kernelStart, kernelEnd uintptr) *kernel.Error {
	pageMask := mm.PageSize - 1
	kernelStartAligned := kernelStart & ^pageMask
	kernelEndAligned := (kernelEnd + pageMask) & ^pageMask

	var initErr *kernel.Error
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		start := (uintptr(region.PhysAddress) + pageMask) & ^pageMask
		end := (uintptr(region.PhysAddress+region.Length)) & ^pageMask
		if end <= start {
			return true
		}

		// carve out the kernel image if it falls inside this region
		for _, sp := range splitAroundReserved(start, end, kernelStartAligned, kernelEndAligned) {
			if sp.end <= sp.start {
				continue
			}
			if err := a.addRegion(sp.start, uint64(sp.end-sp.start)>>mm.PageShift); err != nil {
				initErr = err
				return false
			}
		}
		return true
	})
	return initErr
}

type span struct{ start, end uintptr }

// splitAroundReserved returns the sub-spans of [start,end) that do not
// overlap [resStart,resEnd).
func splitAroundReserved(start, end, resStart, resEnd uintptr) []span {
	if resEnd <= resStart || resEnd <= start || resStart >= end {
		return []span{{start, end}}
	}
	var out []span
	if resStart > start {
		out = append(out, span{start, resStart})
	}
	if resEnd < end {
		out = append(out, span{resEnd, end})
	}
	return out
}

// addRegion inserts a brand new free region at the tail of the list its base
// address belongs to.
func (a *FreeListAllocator) addRegion(base uintptr, frames uint64) *kernel.Error {
	if frames == 0 {
		return nil
	}
	if base == 0 {
		// address zero is never allocated; skip
		// the first frame if a region starts there.
		if frames == 1 {
			return nil
		}
		base += mm.PageSize
		frames--
	}

	n := nodeAt(base)
	n.base = base
	n.frames = frames
	n.next = nil

	head := a.listFor(base)
	if *head == nil {
		*head = n
		return nil
	}
	tail := *head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = n
	return nil
}

func (a *FreeListAllocator) listFor(base uintptr) **regionNode {
	if base < fourGiB {
		return &a.belowFourGB
	}
	return &a.remainder
}

// AllocFrames performs a first-fit forward scan for n contiguous,
// alignmentPages-aligned frames. If low32 is true, only the below-4GiB list
// is searched.
func (a *FreeListAllocator) AllocFrames(n uint64, alignmentPages uint64, low32 bool) (uintptr, *kernel.Error) {
	if alignmentPages == 0 {
		alignmentPages = 1
	}
	alignBytes := uintptr(alignmentPages) * mm.PageSize
	need := n * uint64(mm.PageSize)

	lists := []**regionNode{&a.belowFourGB}
	if !low32 {
		lists = append(lists, &a.remainder)
	}

	for _, head := range lists {
		for prev, cur := (*regionNode)(nil), *head; cur != nil; prev, cur = cur, cur.next {
			alignedBase := (cur.base + alignBytes - 1) &^ (alignBytes - 1)
			padding := alignedBase - cur.base
			totalBytes := uint64(cur.frames) * uint64(mm.PageSize)
			if uint64(padding) >= totalBytes || totalBytes-uint64(padding) < need {
				continue
			}

			// Carve the highest aligned run of `n` pages, which keeps the
			// node (and any alignment padding preceding it) in place; any
			// pages above the run go back on the list as their own region.
			regionEnd := cur.base + uintptr(totalBytes)
			allocStart := (regionEnd - uintptr(need)) &^ (alignBytes - 1)
			remainingFrames := uint64(allocStart-cur.base) >> mm.PageShift

			if remainingFrames == 0 {
				// exact fit: unlink the node entirely
				if prev == nil {
					*head = cur.next
				} else {
					prev.next = cur.next
				}
			} else {
				cur.frames = remainingFrames
			}

			if tail := regionEnd - allocStart - uintptr(need); tail != 0 {
				if err := a.addRegion(allocStart+uintptr(need), uint64(tail)>>mm.PageShift); err != nil {
					return 0, err
				}
			}

			return allocStart, nil
		}
	}

	return 0, errFreeListOOM
}

// FreeFrames returns n frames starting at phys. A free spanning the 4GiB
// boundary is split across both lists.
func (a *FreeListAllocator) FreeFrames(phys uintptr, n uint64) *kernel.Error {
	if n == 0 || phys&(mm.PageSize-1) != 0 {
		return errInvalidFreeSpan
	}

	end := phys + uintptr(n)*mm.PageSize
	if phys < fourGiB && end > fourGiB {
		lowFrames := uint64(fourGiB-phys) >> mm.PageShift
		if err := a.addRegion(phys, lowFrames); err != nil {
			return err
		}
		return a.addRegion(fourGiB, n-lowFrames)
	}
	return a.addRegion(phys, n)
}

// optimize sorts each list by base address and coalesces adjacent regions.
// It is idempotent.
func (a *FreeListAllocator) optimize() {
	a.belowFourGB = sortAndCoalesce(a.belowFourGB)
	a.remainder = sortAndCoalesce(a.remainder)
}

func sortAndCoalesce(head *regionNode) *regionNode {
	var nodes []*regionNode
	for n := head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].base < nodes[j].base })

	out := nodes[0]
	cur := out
	for _, n := range nodes[1:] {
		if cur.base+uintptr(cur.frames)*mm.PageSize == n.base {
			cur.frames += n.frames
			continue
		}
		cur.next = n
		cur = n
	}
	cur.next = nil
	return out
}
