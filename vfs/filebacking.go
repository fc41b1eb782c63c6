package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/mm"
	"gopheros/kernel/mm/vmm"
	"unsafe"
)

// VnodeFileBacking implements vmm.FileBacking on top of the page cache
// above, fulfilling spec.md §4.I's "if file!=null the range is file-backed
// and page faults populate from the page cache" for an mmap'd regular
// file. vmm only ever sees it through the FileBacking interface, so vmm
// never needs to import this package.
type VnodeFileBacking struct {
	Vnode *Vnode
}

// ReadPage satisfies vmm.FileBacking: it fills the page-sized buffer at
// virtAddr with the page-cache contents covering offset, faulting the page
// in from the vnode's driver first if it is not already cached.
func (b *VnodeFileBacking) ReadPage(offset uintptr, virtAddr uintptr) *kernel.Error {
	base := pageAlign(int64(offset))
	page, err := lookupPage(b.Vnode, base)
	if err != nil {
		return err
	}
	kernel.Memcopy(uintptr(unsafe.Pointer(&page.data[0])), virtAddr, mm.PageSize)
	return nil
}

// MapFile reserves a file-backed range of size bytes in as for v, the
// vfs-side counterpart of an mmap(..., fd, offset) call: page faults
// against the returned address resolve through v's page cache instead of
// zero-filling (scenario S2).
func MapFile(as *vmm.AddrSpace, hint, size uintptr, prot vmm.PageTableEntryFlag, flags vmm.AllocFlag, v *Vnode) (uintptr, *kernel.Error) {
	return as.VirtualAlloc(hint, size, prot, flags, &VnodeFileBacking{Vnode: v})
}
