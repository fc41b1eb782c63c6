package driver

import (
	"gopheros/kernel"
	"gopheros/vfs"
)

// FuncTable is the subset of spec.md §4.J's standard function table the
// VFS/IRP path relies on directly; it embeds vfs.Driver (block geometry,
// sync I/O, IRP submit/finalize, ioctl, device reference counting) and adds
// the enumeration and hotplug entries vfs.Driver deliberately leaves out,
// matching the teacher's device.Driver pattern of a minimal core interface
// plus type-asserted extensions for anything driver-specific.
type FuncTable interface {
	vfs.Driver

	// ForeachDevice invokes fn once per device instance this driver
	// currently owns; fn returning false stops the iteration early.
	ForeachDevice(fn func(desc uintptr) bool)

	// QueryUserReadableName returns a human-facing name for desc, e.g.
	// for a device listing UI.
	QueryUserReadableName(desc uintptr) string
}

// FilesystemFuncTable extends FuncTable with the filesystem-only entries
// (path_search, list_dir, mk_file, ...); a driver asserts this interface
// from a vfs.Driver/FuncTable when Header.Flags has FlagFilesystem set.
type FilesystemFuncTable interface {
	FuncTable

	PathSearch(root uintptr, path string) (uintptr, *kernel.Error)
	ListDir(dir uintptr) ([]string, *kernel.Error)
	MkFile(dir uintptr, name string, kind uint8) (uintptr, *kernel.Error)
	MoveDescTo(desc, newDir uintptr, newName string) *kernel.Error
	RemoveFile(dir uintptr, name string) *kernel.Error
	HardlinkFile(dir uintptr, name string, target uintptr) *kernel.Error
	SymlinkSetPath(desc uintptr, target string) *kernel.Error
	SetFileTimes(desc uintptr, atime, mtime, ctime int64) *kernel.Error
	GetFilePerms(desc uintptr) (uint32, *kernel.Error)
	GetFileOwner(desc uintptr) (uid, gid uint32, err *kernel.Error)
	GetFileType(desc uintptr) (uint8, *kernel.Error)
	GetFileInode(desc uintptr) (uint64, *kernel.Error)
	StatFSInfo() (totalBlocks, freeBlocks uint64, err *kernel.Error)
	Probe(backing uintptr) bool
	Mount(backing uintptr) (rootDesc uintptr, err *kernel.Error)
}

// HotplugFuncTable is asserted from a FuncTable when Header.Flags has
// FlagHotplugCapable set.
type HotplugFuncTable interface {
	OnWake()
	OnSuspend()
	OnUSBAttach(vendor, product uint16) *kernel.Error

	// OnUSBDetach runs exactly once per outstanding reference (the
	// device pointer itself, plus any worker thread holding one): a
	// driver must decrement its own refcount exactly once per call,
	// never twice for a single detach event, per spec.md §9's Open
	// Question on USB-HID double-decrement.
	OnUSBDetach()
}

// PnPID is one entry in a driver header's PnP-ID matrix: an ACPI-style
// identifier string, e.g. "PNP0303" for a PS/2 keyboard.
type PnPID [pnpIDLen]byte

// Candidate is a device the PnP matcher is trying to bind a driver to.
type Candidate struct {
	PCI    PCIHID
	USB    USBHID
	HasUSB bool
	PnPIDs []PnPID
}

// MatchPriority ranks how a Header matched a Candidate; higher wins.
type MatchPriority int

const (
	NoMatch MatchPriority = iota
	ClassMatch
	CIDMatch
	HIDMatch
)

// Match reports the highest-priority way hdr's declared identifiers match
// cand, per spec.md §4.J's "HID > CID > class" priority ordering.
func Match(hdr *Header, cand Candidate) MatchPriority {
	best := NoMatch

	for _, id := range cand.PnPIDs {
		for i := uint32(0); i < hdr.PnPIDCount && i < pnpIDCount; i++ {
			if hdr.PnPIDs[i] == id {
				if HIDMatch > best {
					best = HIDMatch
				}
			}
		}
	}

	if cand.HasUSB && hdr.USB.VendorID == cand.USB.VendorID && hdr.USB.ProductID == cand.USB.ProductID {
		if HIDMatch > best {
			best = HIDMatch
		}
	}

	if hdr.PCI.VendorID != 0 && hdr.PCI.VendorID == cand.PCI.VendorID && hdr.PCI.DeviceID == cand.PCI.DeviceID {
		if CIDMatch > best {
			best = CIDMatch
		}
	}

	if hdr.PCI.Class == cand.PCI.Class && hdr.PCI.Subclass == cand.PCI.Subclass {
		if ClassMatch > best {
			best = ClassMatch
		}
	}

	return best
}

// BestMatch scans headers and returns the index of the one with the
// highest MatchPriority against cand, or -1 if none match at all.
func BestMatch(headers []*Header, cand Candidate) int {
	bestIdx := -1
	bestPrio := NoMatch
	for i, hdr := range headers {
		if p := Match(hdr, cand); p > bestPrio {
			bestPrio = p
			bestIdx = i
		}
	}
	return bestIdx
}
