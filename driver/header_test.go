package driver

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Magic:          HeaderMagic,
		Flags:          uint32(FlagFilesystem),
		PCI:            PCIHID{VendorID: 0x8086, DeviceID: 0x1234, Class: 1, Subclass: 8},
		PnPIDCount:     1,
		StackSize:      16384,
		FuncTablePtr:   0xdeadbeef,
		Version:        HeaderVersion2,
		ACPIInitLevel:  2,
		ThreadAffinity: 0x3,
		USB:            USBHID{VendorID: 0x046d, ProductID: 0xc52b},
	}
	copy(h.Name[:], "testdrv")
	copy(h.PnPIDs[0][:], "PNP0303")

	buf := h.MarshalBinary()

	var got Header
	if !got.UnmarshalBinary(buf) {
		t.Fatal("expected UnmarshalBinary to report a valid magic")
	}

	if got.Flags != h.Flags || got.PCI != h.PCI || got.PnPIDCount != h.PnPIDCount {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.StackSize != h.StackSize || got.FuncTablePtr != h.FuncTablePtr {
		t.Fatalf("round trip mismatch on stack/functable: got %+v", got)
	}
	if got.Version != h.Version || got.ACPIInitLevel != h.ACPIInitLevel || got.ThreadAffinity != h.ThreadAffinity {
		t.Fatalf("round trip mismatch on version/acpi/affinity: got %+v", got)
	}
	if got.USB != h.USB {
		t.Fatalf("round trip mismatch on USB triplet: got %+v", got.USB)
	}
	if got.PnPIDs[0] != h.PnPIDs[0] {
		t.Fatalf("round trip mismatch on PnP ID: got %v", got.PnPIDs[0])
	}
}

func TestHeaderUnmarshalRejectsBadMagic(t *testing.T) {
	h := &Header{Magic: 0xbad}
	buf := h.MarshalBinary()

	var got Header
	if got.UnmarshalBinary(buf) {
		t.Fatal("expected UnmarshalBinary to reject a bad magic")
	}
}

func TestHeaderUnmarshalRejectsShortBuffer(t *testing.T) {
	var got Header
	if got.UnmarshalBinary(make([]byte, 10)) {
		t.Fatal("expected UnmarshalBinary to reject a too-short buffer")
	}
}
