package pmm

import (
	"gopheros/kernel/hal/multiboot"
	"gopheros/kernel/mm"
	"testing"
	"unsafe"
)

// multibootMemoryMap is a dump of multiboot data containing only the memory
// region tag, encoding the following available memory regions:
// [     0 -   9fc00] length:    654336
// [100000 - 7fe0000] length: 133038080
var multibootMemoryMap = []byte{
	72, 5, 0, 0, 0, 0, 0, 0,
	6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
	1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
	0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
	2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
	0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
	2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
	0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
	9, 0, 0, 0, 212, 3, 0, 0, 24, 0, 0, 0, 40, 0, 0, 0,
	21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 27, 0, 0, 0,
	1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 16, 0, 0, 16, 0, 0,
	24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func useTestMemoryMap() {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))
}

func TestBootMemAllocatorAllocatesAroundKernelImage(t *testing.T) {
	useTestMemoryMap()

	specs := []struct {
		kernelStart, kernelEnd uintptr
		expAllocCount          uint64
	}{
		{0xa0000, 0xa0000, 159 + 32480},
		{0x0, 0x2800, 159 - 3 + 32480},
		{0x9c800, 0x9f000, 159 - 3 + 32480},
		{0x123, 0x9fc00, 32480},
		{0x100800, 0x102000, 159 + 32480 - 2},
	}

	for specIndex, spec := range specs {
		var alloc BootMemAllocator
		alloc.init(spec.kernelStart, spec.kernelEnd)

		for {
			frame, err := alloc.AllocFrame()
			if err != nil {
				if err.Status == errBootAllocOutOfMemory.Status {
					break
				}
				t.Errorf("[spec %d] [frame %d] unexpected allocator error: %v", specIndex, alloc.allocCount, err)
				break
			}
			if frame != alloc.lastAllocFrame {
				t.Errorf("[spec %d] [frame %d] expected allocated frame to be %d; got %d", specIndex, alloc.allocCount, alloc.lastAllocFrame, frame)
			}
			if !frame.Valid() {
				t.Errorf("[spec %d] [frame %d] expected Valid() to return true", specIndex, alloc.allocCount)
			}
		}

		if alloc.allocCount != spec.expAllocCount {
			t.Errorf("[spec %d] expected allocator to allocate %d frames; allocated %d", specIndex, spec.expAllocCount, alloc.allocCount)
		}
	}
}

func alignUp(addr uintptr) uintptr {
	return (addr + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

func resetFreeList(a *FreeListAllocator) {
	a.belowFourGB = nil
	a.remainder = nil
	hhdmOffset = 0
}

func TestFreeListAllocatorAllocAndFree(t *testing.T) {
	var a FreeListAllocator
	resetFreeList(&a)

	buf := make([]byte, 65*int(mm.PageSize))
	base := alignUp(uintptr(unsafe.Pointer(&buf[0])))
	if err := a.addRegion(base, 64); err != nil {
		t.Fatalf("addRegion: %v", err)
	}

	phys, err := a.AllocFrames(4, 1, false)
	if err != nil {
		t.Fatalf("AllocFrames: %v", err)
	}
	if phys < base || phys >= base+64*mm.PageSize {
		t.Fatalf("allocated frame outside seeded region: %#x", phys)
	}

	if err := a.FreeFrames(phys, 4); err != nil {
		t.Fatalf("FreeFrames: %v", err)
	}
}

func TestFreeListAllocatorOOM(t *testing.T) {
	var a FreeListAllocator
	resetFreeList(&a)

	if _, err := a.AllocFrames(1, 1, false); err == nil || err.Status != errFreeListOOM.Status {
		t.Fatalf("expected errFreeListOOM on empty list, got %v", err)
	}
}

func TestFreeListAllocatorOptimizeCoalesces(t *testing.T) {
	var a FreeListAllocator
	resetFreeList(&a)

	buf := make([]byte, 33*int(mm.PageSize))
	base := alignUp(uintptr(unsafe.Pointer(&buf[0])))

	// Insert two adjacent 16-frame regions out of order.
	second := base + 16*mm.PageSize
	if err := a.addRegion(second, 16); err != nil {
		t.Fatalf("addRegion second: %v", err)
	}
	if err := a.addRegion(base, 16); err != nil {
		t.Fatalf("addRegion base: %v", err)
	}

	a.optimize()

	// The regions land on whichever list listFor picks for their base.
	head := *a.listFor(base)
	if head == nil || head.base != base || head.frames != 32 {
		t.Fatalf("expected coalesced 32-frame region at %#x, got %+v", base, head)
	}
	if head.next != nil {
		t.Fatalf("expected a single coalesced node, got trailing node %+v", head.next)
	}

	// optimize must be idempotent.
	a.optimize()
	if head = *a.listFor(base); head.frames != 32 {
		t.Fatalf("optimize is not idempotent: frames=%d", head.frames)
	}
}

func TestFreeListAllocatorRejectsUnalignedFree(t *testing.T) {
	var a FreeListAllocator
	resetFreeList(&a)

	if err := a.FreeFrames(1, 1); err == nil || err.Status != errInvalidFreeSpan.Status {
		t.Fatalf("expected errInvalidFreeSpan, got %v", err)
	}
}
