package swap

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"testing"
)

type fakeBlockDevice struct {
	blocks map[uint64][]byte
}

func newFakeBlockDevice(blockCount int) *fakeBlockDevice {
	return &fakeBlockDevice{blocks: make(map[uint64][]byte, blockCount)}
}

func (f *fakeBlockDevice) ReadBlock(lba uint64, buf []byte) *kernel.Error {
	b, ok := f.blocks[lba]
	if !ok {
		b = make([]byte, blockSize)
	}
	copy(buf, b)
	return nil
}

func (f *fakeBlockDevice) WriteBlock(lba uint64, buf []byte) *kernel.Error {
	cp := make([]byte, blockSize)
	copy(cp, buf)
	f.blocks[lba] = cp
	return nil
}

// formatFakeDevice writes a valid header plus a free list of n one-block
// nodes starting at reservedBlocks, mirroring what cmd/mkswapimg produces.
func formatFakeDevice(dev *fakeBlockDevice, reservedBlocks uint32, n int) {
	hdr := Header{Magic: diskMagic, Version: 1, ReservedBlockCount: reservedBlocks}
	dev.WriteBlock(0, hdr.MarshalBinary())

	for i := 0; i < n; i++ {
		lba := uint64(reservedBlocks) + uint64(i)
		next := uint64(0)
		nPages := uint32(1)
		if i == n-1 {
			nPages = 0
		} else {
			next = lba + 1
		}
		buf := make([]byte, blockSize)
		copy(buf, marshalFreeNode(freeNode{nPages: nPages, nextLBA: next}))
		dev.WriteBlock(lba, buf)
	}
}

func TestNewDiskProviderRejectsBadMagic(t *testing.T) {
	dev := newFakeBlockDevice(4)
	if _, err := NewDiskProvider(dev); err != errBadSwapHeader {
		t.Fatalf("expected errBadSwapHeader; got %v", err)
	}
}

func TestDiskProviderReserveFreeRoundTrip(t *testing.T) {
	dev := newFakeBlockDevice(8)
	formatFakeDevice(dev, 1, 3)

	p, err := NewDiskProvider(dev)
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}
	if first != 1 {
		t.Fatalf("expected the first reserved slot to be LBA 1; got %d", first)
	}

	second, err := p.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}
	if second != 2 {
		t.Fatalf("expected the second reserved slot to be LBA 2; got %d", second)
	}

	p.Free(first, false)
	third, err := p.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}
	if third != first {
		t.Fatalf("expected Free to push the slot back onto the head of the free list; got %d want %d", third, first)
	}
}

func TestDiskProviderReserveExhausted(t *testing.T) {
	dev := newFakeBlockDevice(4)
	formatFakeDevice(dev, 1, 1)

	p, err := NewDiskProvider(dev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Reserve(false); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Reserve(false); err != errDiskOOM {
		t.Fatalf("expected errDiskOOM once the free list is drained; got %v", err)
	}
}

func TestDiskProviderWriteReadRoundTrip(t *testing.T) {
	dev := newFakeBlockDevice(4)
	formatFakeDevice(dev, 1, 1)

	p, err := NewDiskProvider(dev)
	if err != nil {
		t.Fatal(err)
	}
	id, err := p.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]byte, mm.PageSize)
	for i := range src {
		src[i] = 0xcd
	}
	if err := p.Write(id, frameFor(src)); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, mm.PageSize)
	if err := p.Read(id, frameFor(dst)); err != nil {
		t.Fatal(err)
	}
	for i, b := range dst {
		if b != 0xcd {
			t.Fatalf("expected read-back byte %d to be 0xcd; got %#x", i, b)
		}
	}
}

func TestDiskProviderRejectsHugePages(t *testing.T) {
	dev := newFakeBlockDevice(4)
	formatFakeDevice(dev, 1, 1)
	p, err := NewDiskProvider(dev)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Reserve(true); err != errNoHugePageSupport {
		t.Fatalf("expected errNoHugePageSupport; got %v", err)
	}
}
