// Package swap implements the VMM's swap/page-writer pipeline: providers
// that reserve backing-store slots for evicted pages, the dirty/standby
// bookkeeping lists, and the page-writer pass that flushes dirty pages
// before they can be reclaimed.
//
// mm/vmm cannot import this package directly (it would create an import
// cycle, since swap itself depends on vmm.AddrSpace/SwapID/PageTableEntryFlag),
// so the dependency runs through the vmm.SetSwapProvider/
// SetWorkingSetEvictHandler function-variable seams instead, installed by
// Init.
package swap

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
)

// Provider is the abstract swap device: reserve/free a backing slot, write
// a frame's contents to it, read them back.
type Provider interface {
	// Reserve allocates a fresh backing slot and returns its id.
	Reserve(huge bool) (vmm.SwapID, *kernel.Error)

	// Free releases a backing slot previously returned by Reserve. The
	// caller must not still hold a live Allocation referencing id.
	Free(id vmm.SwapID, huge bool)

	// Write persists frame's contents to the backing slot identified by
	// id.
	Write(id vmm.SwapID, frame mm.Frame) *kernel.Error

	// Read fills frame with the contents previously written to id.
	Read(id vmm.SwapID, frame mm.Frame) *kernel.Error

	// Deinit releases any resources held by the provider (e.g. a block
	// device handle).
	Deinit()
}

// Allocation is the bookkeeping record for one swap id: which provider
// issued it, whether a physical frame is still resident (standby list;
// mm.InvalidFrame means on-disk only), and how many PTEs currently
// reference it.
type Allocation struct {
	ID       vmm.SwapID
	Provider Provider

	// resident is the frame still holding this allocation's contents, or
	// mm.InvalidFrame when no frame holds them. Flush leaves it set, and
	// nothing in this package returns a standby frame to the physical
	// allocator. While resident is valid, swap_in is a SOFT fault (simple
	// remap, no device I/O).
	resident mm.Frame

	// dirty is true from the moment of swap_out until the page writer
	// has successfully persisted this allocation's contents.
	dirty bool

	refcount int
}

var (
	errAllocUnknown = &kernel.Error{Module: "swap", Message: "swap id is not a known allocation"}

	lock irq.SpinLock

	active Provider

	allocations = make(map[vmm.SwapID]*Allocation)

	// dirty and standby hold the allocations awaiting a page-writer pass
	// and those already flushed, respectively. An allocation is on at
	// most one of these lists at any time; swapOut skips MMIO pages so
	// neither list ever holds one.
	dirty   []*Allocation
	standby []*Allocation
)

// Init installs provider as the active swap device and wires the VMM's
// swap-in and working-set-eviction seams to this package's swap_in/swap_out
// implementations.
func Init(provider Provider) {
	lock.Floor = irq.APC

	lock.Acquire()
	active = provider
	lock.Release()

	vmm.SetSwapProvider(swapIn)
	vmm.SetWorkingSetEvictHandler(swapOut)
}

// swapOut is installed as the working-set eviction handler: as's working
// set has just grown past capacity and pages (in LRU order) must be moved
// out of RAM. Each page's PTE is rewritten to hold a freshly reserved swap
// id instead of a frame, marked not-present, and the allocation is pushed
// onto the dirty list for the page writer to flush.
func swapOut(as *vmm.AddrSpace, pages []mm.Page) {
	lock.Acquire()
	provider := active
	lock.Release()
	if provider == nil {
		return
	}

	for _, page := range pages {
		pte, err := as.PDT.Lookup(page)
		if err != nil || !pte.HasFlags(vmm.FlagPresent) {
			continue
		}
		if pte.HasFlags(vmm.FlagMMIO) {
			// MMIO pages stay mapped and resident forever; they are never
			// written to a swap device.
			continue
		}
		frame := pte.Frame()

		id, err := provider.Reserve(pte.HasFlags(vmm.FlagHugePage))
		if err != nil {
			// Nowhere to put the page; leave it resident rather than
			// losing its contents.
			continue
		}

		alloc := &Allocation{ID: id, Provider: provider, resident: frame, dirty: true, refcount: 1}

		lock.Acquire()
		allocations[id] = alloc
		dirty = append(dirty, alloc)
		lock.Release()

		if err := as.PDT.Map(page, mm.Frame(id), vmm.FlagSwapPhys); err != nil {
			// Roll back: the page stays resident, the allocation is
			// unused.
			lock.Acquire()
			delete(allocations, id)
			removeFromDirty(alloc)
			lock.Release()
			provider.Free(id, pte.HasFlags(vmm.FlagHugePage))
			continue
		}
	}
}

// swapIn is installed as the VMM's swap-in handler. A SOFT fault is a page
// still on the standby list (no device I/O, just a remap); a HARD fault
// requires reading the contents back from the provider.
func swapIn(id vmm.SwapID, _ mm.Page) (mm.Frame, bool, *kernel.Error) {
	lock.Acquire()
	alloc, ok := allocations[id]
	lock.Release()
	if !ok {
		return mm.InvalidFrame, false, errAllocUnknown
	}

	lock.Acquire()
	resident := alloc.resident
	lock.Release()
	if resident.Valid() {
		lock.Acquire()
		delete(allocations, id)
		removeFromDirty(alloc)
		removeFromStandby(alloc)
		lock.Release()
		alloc.Provider.Free(id, false)
		return resident, true, nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, false, err
	}
	if err := alloc.Provider.Read(id, frame); err != nil {
		return mm.InvalidFrame, false, err
	}

	lock.Acquire()
	delete(allocations, id)
	removeFromStandby(alloc)
	lock.Release()
	alloc.Provider.Free(id, false)

	return frame, false, nil
}

// MarkDirty marks id's allocation dirty, queuing it onto the dirty list for
// the next Flush pass if it was not already there. Calling it again on an
// allocation that is already dirty is a no-op (testable property: mark_dirty
// is idempotent).
func MarkDirty(id vmm.SwapID) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	alloc, ok := allocations[id]
	if !ok {
		return errAllocUnknown
	}
	if alloc.dirty {
		return nil
	}
	alloc.dirty = true
	removeFromStandby(alloc)
	dirty = append(dirty, alloc)
	return nil
}

// MarkStandby marks id's allocation clean and moves it onto the standby
// list without writing it back, for a caller that already knows the
// resident copy matches backing store. Calling it again on an allocation
// that is already clean is a no-op.
func MarkStandby(id vmm.SwapID) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	alloc, ok := allocations[id]
	if !ok {
		return errAllocUnknown
	}
	if !alloc.dirty {
		return nil
	}
	alloc.dirty = false
	removeFromDirty(alloc)
	standby = append(standby, alloc)
	return nil
}

func removeFromDirty(target *Allocation) {
	for i, a := range dirty {
		if a == target {
			dirty = append(dirty[:i], dirty[i+1:]...)
			return
		}
	}
}

func removeFromStandby(target *Allocation) {
	for i, a := range standby {
		if a == target {
			standby = append(standby[:i], standby[i+1:]...)
			return
		}
	}
}
