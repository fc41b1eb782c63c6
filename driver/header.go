// Package driver specifies the loadable-driver contract: the function
// table the VFS/IRP path and PnP matcher rely on, and the binary-exact
// on-disk header an ELF driver image carries.
package driver

import "encoding/binary"

// HeaderMagic identifies a valid driver header.
const HeaderMagic uint64 = 0x4f424f53_44525631 // "OBOSDRV1"

// HeaderVersion2 is the current header layout version; v2 added the
// USB-HID triplet appended after the thread affinity mask.
const HeaderVersion2 uint32 = 2

// HeaderFlag bits live in Header.Flags.
type HeaderFlag uint32

const (
	// FlagDirentCBPaths selects the path-form dirent callbacks
	// (pmk_file/premove_file) over the descriptor form (mk_file/
	// remove_file).
	FlagDirentCBPaths HeaderFlag = 1 << iota

	// FlagFilesystem marks a driver as exposing the filesystem-only
	// subset of the function table (path_search, list_dir, mount, ...).
	FlagFilesystem

	// FlagHotplugCapable marks a driver as implementing on_wake/
	// on_suspend/on_usb_attach/on_usb_detach.
	FlagHotplugCapable
)

const (
	pnpIDLen      = 8
	pnpIDCount    = 32
	driverNameLen = 64

	// headerSize is the wire size of Header: magic(8) + flags(4) + pad(4)
	// + PCIHID(8) + PnPIDCount(4) + pad(4) + PnPIDs(256) + StackSize(8)
	// + FuncTablePtr(8) + Name(64) + Version(4) + ACPIInitLevel(4) +
	// ThreadAffinity(8) + USBHID(8) + reserved(236) = 628 bytes. The
	// reserved tail is fixed at 236 bytes per spec regardless of where
	// that lands relative to a power-of-two boundary.
	headerSize = 628
)

// PCIHID identifies a device by PCI vendor/device/class/subclass, the
// C(lass) half of the HID > CID > class match priority.
type PCIHID struct {
	VendorID  uint16
	DeviceID  uint16
	Class     uint8
	Subclass  uint8
	ProgIF    uint8
	_         uint8 // padding to a 8-byte-aligned struct
}

// USBHID is the v2 USB HID triplet: vendor, product, and the bcdDevice
// range low bound a driver is willing to bind.
type USBHID struct {
	VendorID  uint16
	ProductID uint16
	BCDDevice uint16
	_         uint16
}

// Header is the binary-exact layout an ELF driver image exports, preserved
// field-for-field across versions: 64-bit magic, 32-bit flags, an embedded
// PCI-HID struct, a 32x8-byte PnP-ID matrix with a length prefix, a 64-bit
// stack-size field, a function-table pointer field, a 64-char driver name,
// a 32-bit version, a 32-bit required ACPI init level, a thread affinity
// mask, the USB-HID triplet, and 236 reserved bytes padding the tail.
type Header struct {
	Magic   uint64
	Flags   uint32
	_       uint32 // alignment padding before PCIHID

	PCI PCIHID

	PnPIDCount uint32
	_          uint32
	PnPIDs     [pnpIDCount][pnpIDLen]byte

	StackSize    uint64
	FuncTablePtr uint64

	Name [driverNameLen]byte

	Version        uint32
	ACPIInitLevel  uint32
	ThreadAffinity uint64

	USB USBHID

	_ [236]byte
}

// MarshalBinary encodes h in the little-endian on-disk layout.
func (h *Header) MarshalBinary() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Flags)

	binary.LittleEndian.PutUint16(buf[16:18], h.PCI.VendorID)
	binary.LittleEndian.PutUint16(buf[18:20], h.PCI.DeviceID)
	buf[20] = h.PCI.Class
	buf[21] = h.PCI.Subclass
	buf[22] = h.PCI.ProgIF

	binary.LittleEndian.PutUint32(buf[24:28], h.PnPIDCount)
	off := 32
	for i := 0; i < pnpIDCount; i++ {
		copy(buf[off:off+pnpIDLen], h.PnPIDs[i][:])
		off += pnpIDLen
	}

	binary.LittleEndian.PutUint64(buf[off:off+8], h.StackSize)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], h.FuncTablePtr)
	off += 8

	copy(buf[off:off+driverNameLen], h.Name[:])
	off += driverNameLen

	binary.LittleEndian.PutUint32(buf[off:off+4], h.Version)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], h.ACPIInitLevel)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], h.ThreadAffinity)
	off += 8

	binary.LittleEndian.PutUint16(buf[off:off+2], h.USB.VendorID)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], h.USB.ProductID)
	binary.LittleEndian.PutUint16(buf[off+4:off+6], h.USB.BCDDevice)

	return buf
}

// UnmarshalBinary decodes buf (which must be at least headerSize bytes)
// into h.
func (h *Header) UnmarshalBinary(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}

	h.Magic = binary.LittleEndian.Uint64(buf[0:8])
	h.Flags = binary.LittleEndian.Uint32(buf[8:12])

	h.PCI.VendorID = binary.LittleEndian.Uint16(buf[16:18])
	h.PCI.DeviceID = binary.LittleEndian.Uint16(buf[18:20])
	h.PCI.Class = buf[20]
	h.PCI.Subclass = buf[21]
	h.PCI.ProgIF = buf[22]

	h.PnPIDCount = binary.LittleEndian.Uint32(buf[24:28])
	off := 32
	for i := 0; i < pnpIDCount; i++ {
		copy(h.PnPIDs[i][:], buf[off:off+pnpIDLen])
		off += pnpIDLen
	}

	h.StackSize = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.FuncTablePtr = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	copy(h.Name[:], buf[off:off+driverNameLen])
	off += driverNameLen

	h.Version = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	h.ACPIInitLevel = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	h.ThreadAffinity = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	h.USB.VendorID = binary.LittleEndian.Uint16(buf[off : off+2])
	h.USB.ProductID = binary.LittleEndian.Uint16(buf[off+2 : off+4])
	h.USB.BCDDevice = binary.LittleEndian.Uint16(buf[off+4 : off+6])

	return h.Magic == HeaderMagic
}
