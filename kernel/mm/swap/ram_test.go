package swap

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"testing"
	"unsafe"
)

func frameFor(buf []byte) mm.Frame {
	return mm.Frame(uintptr(unsafe.Pointer(&buf[0])) >> mm.PageShift)
}

func TestRAMProviderRoundTrip(t *testing.T) {
	defer mm.SetFrameAllocator(nil)

	backing := make([]byte, mm.PageSize)
	mm.SetFrameAllocator(func() (mm.Frame, *kernel.Error) { return frameFor(backing), nil })

	p := NewRAMProvider()
	id, err := p.Reserve(false)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]byte, mm.PageSize)
	for i := range src {
		src[i] = 0xab
	}
	if err := p.Write(id, frameFor(src)); err != nil {
		t.Fatal(err)
	}
	for i, b := range backing {
		if b != 0xab {
			t.Fatalf("expected backing frame byte %d to be 0xab; got %#x", i, b)
		}
	}

	dst := make([]byte, mm.PageSize)
	if err := p.Read(id, frameFor(dst)); err != nil {
		t.Fatal(err)
	}
	for i, b := range dst {
		if b != 0xab {
			t.Fatalf("expected read-back byte %d to be 0xab; got %#x", i, b)
		}
	}

	p.Free(id, false)
	if _, ok := p.backing[id]; ok {
		t.Fatal("expected Free to drop the backing frame entry")
	}
}

func TestRAMProviderRejectsHugePages(t *testing.T) {
	p := NewRAMProvider()
	if _, err := p.Reserve(true); err != errNoHugePageSupport {
		t.Fatalf("expected errNoHugePageSupport; got %v", err)
	}
}
