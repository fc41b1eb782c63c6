package vmm

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
)

// finalLevelEntry returns the leaf page table entry for virtAddr regardless
// of its present bit, as long as every table level above it already
// exists. It returns nil if an intermediate table is missing, which means
// this address has never been mapped (the common case for a demand-paged
// range that has not yet been touched).
func finalLevelEntry(virtAddr uintptr) *pageTableEntry {
	var leaf *pageTableEntry
	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			leaf = pte
			return false
		}
		return pte.HasFlags(FlagPresent)
	})
	return leaf
}

// HandleFault resolves a demand-paging fault at faultAddress against as's
// range tree: swap-in if the leaf entry already holds a swap id,
// file-backed fetch if the covering range is file-backed (populating it
// from whatever implements FileBacking for that range, e.g. vfs's page
// cache), otherwise zero-fill. It is the same resolution pageFaultHandler
// runs for CurrentAddrSpace, exported so callers outside this package
// (tests driving a specific scenario, or code emulating a trap this tree
// has no CPU to actually raise) can trigger it directly against an
// AddrSpace of their choosing.
func (as *AddrSpace) HandleFault(faultAddress uintptr) *kernel.Error {
	n := as.rangeFor(faultAddress)
	if n == nil {
		return errRangeNotFound
	}
	return resolveDemandFault(as, n, mm.PageFromAddress(faultAddress))
}

// resolveDemandFault resolves a fault against a range that covers the fault
// address but has no present mapping yet: swap-in if the leaf entry already
// holds a swap id, file-backed fetch if the range is file-backed, otherwise
// zero-fill.
func resolveDemandFault(as *AddrSpace, n *rangeNode, faultPage mm.Page) *kernel.Error {
	if leaf := finalLevelEntry(faultPage.Address()); leaf != nil && leaf.HasFlags(FlagSwapPhys) {
		frame, _, err := swapInFn(leaf.SwapID(), faultPage)
		if err != nil {
			return err
		}
		leaf.ClearFlags(FlagSwapPhys)
		leaf.SetFrame(frame)
		leaf.SetFlags(FlagPresent | n.prot)
		flushTLBEntryFn(faultPage.Address())
		as.recordResident(faultPage)
		return nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return err
	}
	if err := mapFn(faultPage, frame, n.prot|FlagPresent); err != nil {
		return err
	}

	if n.fileBacked {
		backing := as.fileBackings[n.base]
		if backing == nil {
			return errRangeNotFound
		}
		offset := faultPage.Address() - n.base
		if err := backing.ReadPage(offset, faultPage.Address()); err != nil {
			return err
		}
	} else {
		kernel.Memset(faultPage.Address(), 0, mm.PageSize)
	}

	as.recordResident(faultPage)
	return nil
}
