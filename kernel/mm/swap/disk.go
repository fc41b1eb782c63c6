package swap

import (
	"encoding/binary"
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

// diskMagic identifies a block device formatted as a swap partition by
// cmd/mkswapimg.
const diskMagic = 0x50415753474f424f // "OBOGSWAP" as a little-endian u64

// DiskMagic is diskMagic, exported for cmd/mkswapimg.
const DiskMagic = diskMagic

// blockSize is the on-disk unit Reserve/Free/Write/Read operate in; it
// matches mm.PageSize so one swap slot is exactly one LBA.
const blockSize = 4096

// diskHeaderSize is the encoded size of Header, occupying the partition's
// first block.
const diskHeaderSize = 8 + 4 + 4 + 4

// Header is the swap partition's first-block descriptor, written by
// cmd/mkswapimg and validated by NewDiskProvider.
type Header struct {
	Magic              uint64
	Version            uint32
	Flags              uint32
	ReservedBlockCount uint32
}

// MarshalBinary encodes h in the on-disk field order/width.
func (h Header) MarshalBinary() []byte {
	buf := make([]byte, diskHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
	binary.LittleEndian.PutUint32(buf[16:20], h.ReservedBlockCount)
	return buf
}

// UnmarshalHeader decodes a Header from a block-sized buffer.
func UnmarshalHeader(buf []byte) Header {
	return Header{
		Magic:              binary.LittleEndian.Uint64(buf[0:8]),
		Version:            binary.LittleEndian.Uint32(buf[8:12]),
		Flags:              binary.LittleEndian.Uint32(buf[12:16]),
		ReservedBlockCount: binary.LittleEndian.Uint32(buf[16:20]),
	}
}

// freeNodeSize is the encoded size of a free-list node: {u32 n_pages, u64
// next_lba}.
const freeNodeSize = 4 + 8

type freeNode struct {
	nPages  uint32
	nextLBA uint64
}

func marshalFreeNode(n freeNode) []byte {
	buf := make([]byte, freeNodeSize)
	binary.LittleEndian.PutUint32(buf[0:4], n.nPages)
	binary.LittleEndian.PutUint64(buf[4:12], n.nextLBA)
	return buf
}

func unmarshalFreeNode(buf []byte) freeNode {
	return freeNode{
		nPages:  binary.LittleEndian.Uint32(buf[0:4]),
		nextLBA: binary.LittleEndian.Uint64(buf[4:12]),
	}
}

// MarshalFreeNode encodes a free-list node, exported for cmd/mkswapimg.
func MarshalFreeNode(nPages uint32, nextLBA uint64) []byte {
	return marshalFreeNode(freeNode{nPages: nPages, nextLBA: nextLBA})
}

// BlockDevice is the raw I/O surface a DiskProvider reads/writes swap slots
// through. A real implementation talks to an AHCI/NVMe driver; tests
// substitute an in-memory backing array.
type BlockDevice interface {
	ReadBlock(lba uint64, buf []byte) *kernel.Error
	WriteBlock(lba uint64, buf []byte) *kernel.Error
}

var (
	errBadSwapHeader = &kernel.Error{Module: "swap", Message: "block device is not a valid swap partition"}
	errDiskOOM       = &kernel.Error{Module: "swap", Message: "swap partition free list is exhausted"}
)

// DiskProvider is the steady-state swap provider: a raw partition whose
// first block carries Header, the remainder threaded into a free list of
// {n_pages, next_lba} nodes one per block, starting at
// Header.ReservedBlockCount.
type DiskProvider struct {
	dev      BlockDevice
	freeHead uint64
	hasFree  bool
}

// NewDiskProvider validates dev's header block and loads its free-list
// head, ready to serve Reserve/Free/Write/Read.
func NewDiskProvider(dev BlockDevice) (*DiskProvider, *kernel.Error) {
	buf := make([]byte, blockSize)
	if err := dev.ReadBlock(0, buf); err != nil {
		return nil, err
	}
	hdr := UnmarshalHeader(buf)
	if hdr.Magic != diskMagic {
		return nil, errBadSwapHeader
	}

	return &DiskProvider{
		dev:      dev,
		freeHead: uint64(hdr.ReservedBlockCount),
		hasFree:  true,
	}, nil
}

// Reserve pops the head of the on-disk free list and returns its LBA,
// encoded as a SwapID. Huge-page slots are not supported: a 2MiB page needs
// 512 contiguous blocks, which this simple singly-linked free list cannot
// guarantee.
func (p *DiskProvider) Reserve(huge bool) (vmm.SwapID, *kernel.Error) {
	if huge {
		return 0, errNoHugePageSupport
	}
	if !p.hasFree {
		return 0, errDiskOOM
	}

	lba := p.freeHead
	buf := make([]byte, blockSize)
	if err := p.dev.ReadBlock(lba, buf); err != nil {
		return 0, err
	}
	node := unmarshalFreeNode(buf[:freeNodeSize])

	p.freeHead = node.nextLBA
	p.hasFree = node.nPages > 0

	return vmm.SwapID(lba), nil
}

// Free pushes id's LBA back onto the head of the free list.
func (p *DiskProvider) Free(id vmm.SwapID, _ bool) {
	lba := uint64(id)
	node := freeNode{nPages: 1, nextLBA: p.freeHead}
	if !p.hasFree {
		// the list is empty: the freed block becomes its last node
		node = freeNode{}
	}
	buf := marshalFreeNode(node)
	full := make([]byte, blockSize)
	copy(full, buf)
	_ = p.dev.WriteBlock(lba, full)

	p.freeHead = lba
	p.hasFree = true
}

// Write persists frame's contents to id's LBA.
func (p *DiskProvider) Write(id vmm.SwapID, frame mm.Frame) *kernel.Error {
	buf := make([]byte, blockSize)
	copyFrameToBuf(frame, buf)
	return p.dev.WriteBlock(uint64(id), buf)
}

// Read fills frame with the contents previously written to id's LBA.
func (p *DiskProvider) Read(id vmm.SwapID, frame mm.Frame) *kernel.Error {
	buf := make([]byte, blockSize)
	if err := p.dev.ReadBlock(uint64(id), buf); err != nil {
		return err
	}
	copyBufToFrame(buf, frame)
	return nil
}

// Deinit is a no-op: the DiskProvider holds no resources beyond dev, which
// it does not own.
func (p *DiskProvider) Deinit() {}

func copyFrameToBuf(frame mm.Frame, buf []byte) {
	kernel.Memcopy(frame.Address(), sliceAddr(buf), mm.PageSize)
}

func copyBufToFrame(buf []byte, frame mm.Frame) {
	kernel.Memcopy(sliceAddr(buf), frame.Address(), mm.PageSize)
}

func sliceAddr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}
