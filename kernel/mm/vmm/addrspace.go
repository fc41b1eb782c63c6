package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
)

// AllocFlag modifies how VirtualAlloc treats a newly created range.
type AllocFlag uintptr

const (
	// AllocNonPaged binds physical frames eagerly instead of the default
	// demand-paged behaviour (present=false until first fault).
	AllocNonPaged AllocFlag = 1 << iota
	// AllocGuardPage leaves one unmapped page immediately before the range,
	// outside every recorded range, so an access there faults as
	// unrecoverable. The guard page is not recorded in the range tree and is
	// not marked FlagPresentNever, so a later allocation can claim it.
	AllocGuardPage
	// AllocHugePage requests 2MiB pages instead of 4K pages from
	// FindAvailable's search.
	AllocHugePage
)

// FlagPresentNever marks a page as permanently unmappable; it is a
// software-only bit, never interpreted by the MMU. Neither VirtualAlloc nor
// the fault handler sets or checks it.
const FlagPresentNever PageTableEntryFlag = 1 << 62

// FlagSwapPhys is a software-only bit indicating that the page table
// entry's physical-address field holds a swap id rather than a frame
// number. A PTE with this flag is never reported as present; resolving it
// requires a swap-in.
const FlagSwapPhys PageTableEntryFlag = 1 << 61

// FlagMMIO is a software-only bit marking a page as backed by device memory
// (e.g. a mapped framebuffer) rather than RAM or swap. mm/swap's
// swap_out/mark_dirty/mark_standby paths treat an MMIO page as a permanent
// no-op: it is never placed on the dirty or standby list even though it
// remains a valid page-cache entry.
const FlagMMIO PageTableEntryFlag = 1 << 60

// SwapID identifies a reserved slot on a swap provider's backing store.
type SwapID uint64

// SwapIn is implemented by the active swap provider to resolve a PTE whose
// physical-address field holds a SwapID instead of a frame. It returns the
// frame now backing the page and whether the fault
// was SOFT (the page was still resident on the standby list; no device
// I/O) or HARD (read from backing store).
type SwapIn func(id SwapID, faultPage mm.Page) (frame mm.Frame, soft bool, err *kernel.Error)

var (
	errNoSwapProvider = &kernel.Error{Module: "vmm", Message: "page references a swap id but no swap provider is registered"}

	// swapInFn is set by mm/swap.Init once a provider is active; vmm
	// cannot import mm/swap directly (mm/swap imports vmm for AddrSpace
	// and PageTableEntryFlag), so the dependency runs through this seam
	// instead.
	swapInFn SwapIn = func(SwapID, mm.Page) (mm.Frame, bool, *kernel.Error) {
		return mm.InvalidFrame, false, errNoSwapProvider
	}

	// CurrentAddrSpace is the address space of the thread currently
	// executing on this CPU, consulted by the page fault handler to
	// resolve demand-paged ranges. It is nil during early boot, when only
	// the kernel's own eagerly-mapped regions exist.
	CurrentAddrSpace *AddrSpace
)

// SetSwapProvider installs fn as the swap-in handler used by demand-paged
// fault resolution.
func SetSwapProvider(fn SwapIn) { swapInFn = fn }

// SwapID returns the swap id encoded in this entry's physical-address
// field. Only meaningful when HasFlags(FlagSwapPhys) is true.
func (pte pageTableEntry) SwapID() SwapID {
	return SwapID((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetSwapID encodes id into this entry's physical-address field and sets
// FlagSwapPhys; it is the caller's responsibility to have already cleared
// FlagPresent.
func (pte *pageTableEntry) SetSwapID(id SwapID) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | (uintptr(id) << mm.PageShift))
	pte.SetFlags(FlagSwapPhys)
}

// FileBacking is implemented by the file driver layer to populate a
// file-backed range's pages from the page cache. It is an interface, not a
// vfs type, to avoid a import cycle between vmm (used by the fault handler,
// which vfs's IRP machinery ultimately triggers) and vfs (which allocates
// address space for mapped files).
type FileBacking interface {
	// ReadPage fills dst (one mm.PageSize buffer at virtAddr) with the
	// contents of the backing file at the given byte offset.
	ReadPage(offset uintptr, virtAddr uintptr) *kernel.Error
}

var (
	errNoAvailableRange  = &kernel.Error{Module: "vmm", Message: "no gap in the address space satisfies the requested size/alignment"}
	errRangeNotFound     = &kernel.Error{Module: "vmm", Message: "address does not fall within any known range"}
	errProtectOutOfRange = &kernel.Error{Module: "vmm", Message: "protect region is not fully contained within a single existing range"}
)

// wsEntry is one node on an address space's working-set list: the resident
// pages backing its ranges, in LRU order (oldest at wsHead).
type wsEntry struct {
	page       mm.Page
	prev, next *wsEntry
}

// AddrSpace is a process's virtual address space: a red-black tree of
// ranges plus a working-set list of resident pages driving swap-out once
// capacity is exceeded, layered on top of PageDirectoryTable's Map/Unmap
// (which already support operating on an inactive table via a temporary
// recursive mapping, which is exactly what Fork needs to populate a new
// address space without activating it first).
type AddrSpace struct {
	PDT PageDirectoryTable

	tree rangeTree

	wsHead, wsTail *wsEntry
	wsByPage       map[mm.Page]*wsEntry
	wsCount        uint32
	wsCapacity     uint32

	// fileBackings maps a range's base address to the FileBacking
	// servicing its faults, for ranges created with file != nil.
	fileBackings map[uintptr]FileBacking
}

// NewAddrSpace allocates a fresh page directory table and wraps it in an
// AddrSpace with the given working-set capacity (resident-page budget
// before swap_out candidates are selected).
func NewAddrSpace(capacity uint32) (*AddrSpace, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &AddrSpace{
		wsByPage:     make(map[mm.Page]*wsEntry),
		wsCapacity:   capacity,
		fileBackings: make(map[uintptr]FileBacking),
	}
	if err := as.PDT.Init(frame); err != nil {
		return nil, err
	}
	return as, nil
}

// FindAvailable scans gaps in the range tree for a hole of at least size
// bytes, aligned to alignment, starting the search at hint (or the bottom
// of the window if hint is 0) and bounded by [winBase, winBase+winSize).
func (as *AddrSpace) FindAvailable(hint, alignment, size, winBase, winSize uintptr) (uintptr, *kernel.Error) {
	if alignment == 0 {
		alignment = mm.PageSize
	}
	align := func(addr uintptr) uintptr { return (addr + alignment - 1) &^ (alignment - 1) }

	cursor := align(winBase)
	if hint != 0 && hint >= winBase && hint < winBase+winSize {
		cursor = align(hint)
	}
	winEnd := winBase + winSize

	// Collect nodes overlapping the window, in ascending order, and walk
	// the gaps between them (and before/after) for the first fit.
	var nodes []*rangeNode
	as.tree.inorder(func(n *rangeNode) bool {
		if n.end() > winBase && n.base < winEnd {
			nodes = append(nodes, n)
		}
		return true
	})

	for _, n := range nodes {
		if cursor+size <= n.base {
			return cursor, nil
		}
		if n.end() > cursor {
			cursor = align(n.end())
		}
	}
	if cursor+size <= winEnd {
		return cursor, nil
	}
	return 0, errNoAvailableRange
}

// VirtualAlloc reserves a new range of size bytes with the given
// protection, honouring hint as a placement suggestion. If file is
// non-nil the range is file-backed: faults populate it from the page
// cache instead of zero-filling. AllocGuardPage additionally leaves one
// unmapped page, not recorded as a range, immediately before the returned
// address.
func (as *AddrSpace) VirtualAlloc(hint, size uintptr, prot PageTableEntryFlag, flags AllocFlag, file FileBacking) (uintptr, *kernel.Error) {
	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
	guardSize := uintptr(0)
	if flags&AllocGuardPage != 0 {
		guardSize = mm.PageSize
	}

	base, err := as.FindAvailable(hint, mm.PageSize, size+guardSize, 0, tempMappingAddr)
	if err != nil {
		return 0, err
	}

	rangeBase := base + guardSize
	n := &rangeNode{base: rangeBase, size: size, prot: prot, fileBacked: file != nil}
	as.tree.insert(n)

	mapFlags := prot
	if flags&AllocNonPaged != 0 {
		mapFlags |= FlagPresent
		for off := uintptr(0); off < size; off += mm.PageSize {
			frame, err := mm.AllocFrame()
			if err != nil {
				return 0, err
			}
			page := mm.PageFromAddress(rangeBase + off)
			if err := as.PDT.Map(page, frame, mapFlags); err != nil {
				return 0, err
			}
			as.recordResident(page)
		}
	}
	// Demand-paged ranges are left unmapped; the fault handler (fault_paging.go)
	// resolves them lazily against this range's metadata.

	if file != nil {
		as.fileBackings[rangeBase] = file
	}

	return rangeBase, nil
}

// onWorkingSetEvictFn is called whenever recordResident pushes an address
// space's working set over capacity, with the pages chosen for eviction (in
// LRU order). mm/swap's Init wires this to its swap_out path; until then it
// is a no-op, which simply means working sets grow unbounded.
var onWorkingSetEvictFn = func(as *AddrSpace, pages []mm.Page) {}

// SetWorkingSetEvictHandler installs fn as the callback invoked when an
// address space's resident page count exceeds its working-set capacity.
func SetWorkingSetEvictHandler(fn func(as *AddrSpace, pages []mm.Page)) {
	onWorkingSetEvictFn = fn
}

// recordResident appends page to the tail of the working-set list
// (most-recently-resident end) and, if the list now exceeds capacity,
// hands the oldest entries to onWorkingSetEvictFn as swap_out candidates.
func (as *AddrSpace) recordResident(page mm.Page) {
	if _, exists := as.wsByPage[page]; exists {
		return
	}
	e := &wsEntry{page: page}
	if as.wsTail == nil {
		as.wsHead, as.wsTail = e, e
	} else {
		e.prev = as.wsTail
		as.wsTail.next = e
		as.wsTail = e
	}
	as.wsByPage[page] = e
	as.wsCount++

	var evicted []mm.Page
	for as.wsCapacity > 0 && as.wsCount > as.wsCapacity {
		oldest := as.wsHead
		as.removeResident(oldest.page)
		evicted = append(evicted, oldest.page)
	}
	if len(evicted) > 0 {
		onWorkingSetEvictFn(as, evicted)
	}
}

func (as *AddrSpace) removeResident(page mm.Page) {
	e, ok := as.wsByPage[page]
	if !ok {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		as.wsHead = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		as.wsTail = e.prev
	}
	delete(as.wsByPage, page)
	as.wsCount--
}

// rangeFor returns the range containing addr, or nil.
func (as *AddrSpace) rangeFor(addr uintptr) *rangeNode {
	return as.tree.find(addr)
}

// Ranges returns the base address of every range currently reserved in as,
// in ascending order, for callers that need to tear down a whole address
// space (e.g. sched.ExitProcess) without reaching into the range tree
// directly.
func (as *AddrSpace) Ranges() []uintptr {
	var bases []uintptr
	as.tree.inorder(func(n *rangeNode) bool {
		bases = append(bases, n.base)
		return true
	})
	return bases
}

// VirtualFree unmaps the range beginning at base (as returned by
// VirtualAlloc), dropping its resident pages from the working set and its
// file backing, if any, and removing it from the range tree. Physical
// frames are not returned to the allocator: mm has no FreeFrame
// counterpart to AllocFrame yet, so a freed range's frames are simply
// abandoned, the same simplification AllocFrame's own callers already
// live with.
func (as *AddrSpace) VirtualFree(base uintptr) *kernel.Error {
	n := as.tree.find(base)
	if n == nil || n.base != base {
		return errRangeNotFound
	}

	for off := uintptr(0); off < n.size; off += mm.PageSize {
		page := mm.PageFromAddress(n.base + off)
		if pte, err := as.PDT.Lookup(page); err == nil && pte.HasFlags(FlagPresent) {
			_ = as.PDT.Unmap(page)
			as.removeResident(page)
		}
	}

	delete(as.fileBackings, n.base)
	as.tree.delete(n)
	return nil
}

// Protect changes the protection of [base, base+size) which MAY split an
// existing range at either boundary; the PDT is told to re-emit PTEs for
// every resident page in the affected span.
func (as *AddrSpace) Protect(base, size uintptr, prot PageTableEntryFlag) *kernel.Error {
	end := base + size
	n := as.rangeFor(base)
	if n == nil || end > n.end() {
		return errProtectOutOfRange
	}

	// split off a leading unaffected segment
	if n.base < base {
		lead := &rangeNode{base: n.base, size: base - n.base, prot: n.prot, fileBacked: n.fileBacked}
		as.tree.delete(n)
		as.tree.insert(lead)
		n = &rangeNode{base: base, size: n.end() - base, prot: n.prot, fileBacked: n.fileBacked}
		as.tree.insert(n)
	}
	// split off a trailing unaffected segment
	if n.end() > end {
		trail := &rangeNode{base: end, size: n.end() - end, prot: n.prot, fileBacked: n.fileBacked}
		as.tree.delete(n)
		n = &rangeNode{base: n.base, size: end - n.base, prot: n.prot, fileBacked: n.fileBacked}
		as.tree.insert(n)
		as.tree.insert(trail)
	}

	n.prot = prot
	for off := uintptr(0); off < n.size; off += mm.PageSize {
		page := mm.PageFromAddress(n.base + off)
		if pte, err := as.PDT.Lookup(page); err == nil && pte.HasFlags(FlagPresent) {
			frame := pte.Frame()
			if err := as.PDT.Unmap(page); err != nil {
				return err
			}
			if err := as.PDT.Map(page, frame, prot|FlagPresent); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fork duplicates src's range tree into dst and installs copy-on-write on
// every writeable private (non-file-backed) range: the source mapping is
// demoted to read-only and both contexts share the same physical pages
// with the CoW flag set, so a write fault in either context copies the
// page (fault_amd64.go implements the copy-on-fault half of this).
func Fork(dst, src *AddrSpace) *kernel.Error {
	var forkErr *kernel.Error
	src.tree.inorder(func(n *rangeNode) bool {
		dup := &rangeNode{base: n.base, size: n.size, prot: n.prot, fileBacked: n.fileBacked}
		dst.tree.insert(dup)

		cow := n.prot&FlagRW != 0 && !n.fileBacked
		for off := uintptr(0); off < n.size; off += mm.PageSize {
			page := mm.PageFromAddress(n.base + off)
			pte, err := src.PDT.Lookup(page)
			if err != nil || !pte.HasFlags(FlagPresent) {
				continue
			}
			frame := pte.Frame()

			srcFlags := n.prot
			if cow {
				srcFlags = (n.prot &^ FlagRW) | FlagCopyOnWrite | FlagPresent
				if err := src.PDT.Unmap(page); err != nil {
					forkErr = err
					return false
				}
				if err := src.PDT.Map(page, frame, srcFlags); err != nil {
					forkErr = err
					return false
				}
			}
			if err := dst.PDT.Map(page, frame, srcFlags); err != nil {
				forkErr = err
				return false
			}
			dst.recordResident(page)
		}
		return true
	})
	return forkErr
}
