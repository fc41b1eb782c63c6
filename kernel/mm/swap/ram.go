package swap

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
)

// RAMProvider is the initial swap provider used before a disk is available:
// a reserved id is backed by a second physical frame, so writing and
// reading are plain frame-to-frame copies with no device I/O. It exists so
// the VMM's swap_out/swap_in paths are exercised from the very first boot,
// before mm/swap.Init is reconfigured with a DiskProvider.
type RAMProvider struct {
	nextID  vmm.SwapID
	backing map[vmm.SwapID]mm.Frame
}

// NewRAMProvider constructs an empty RAM-backed provider.
func NewRAMProvider() *RAMProvider {
	return &RAMProvider{backing: make(map[vmm.SwapID]mm.Frame)}
}

// Reserve allocates a backing frame and returns a fresh id for it. huge
// pages are not supported by the RAM provider.
func (p *RAMProvider) Reserve(huge bool) (vmm.SwapID, *kernel.Error) {
	if huge {
		return 0, errNoHugePageSupport
	}
	frame, err := mm.AllocFrame()
	if err != nil {
		return 0, err
	}
	p.nextID++
	id := p.nextID
	p.backing[id] = frame
	return id, nil
}

// Free forgets id's backing frame; the frame is not returned to the
// physical allocator.
func (p *RAMProvider) Free(id vmm.SwapID, _ bool) {
	delete(p.backing, id)
}

// Write copies frame's contents into id's backing frame.
func (p *RAMProvider) Write(id vmm.SwapID, frame mm.Frame) *kernel.Error {
	dst, ok := p.backing[id]
	if !ok {
		return errAllocUnknown
	}
	kernel.Memcopy(frame.Address(), dst.Address(), mm.PageSize)
	return nil
}

// Read copies id's backing frame's contents into frame.
func (p *RAMProvider) Read(id vmm.SwapID, frame mm.Frame) *kernel.Error {
	src, ok := p.backing[id]
	if !ok {
		return errAllocUnknown
	}
	kernel.Memcopy(src.Address(), frame.Address(), mm.PageSize)
	return nil
}

// Deinit forgets every outstanding backing frame; none of them is returned
// to the physical allocator.
func (p *RAMProvider) Deinit() {
	p.backing = make(map[vmm.SwapID]mm.Frame)
}

var errNoHugePageSupport = &kernel.Error{Module: "swap", Message: "huge pages are not supported by this provider"}
