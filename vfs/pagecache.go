package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"gopheros/kernel/mm"
)

// cacheKey identifies one page-aligned slice of a vnode's contents, the
// (vnode, offset) key spec.md's pagecache_tree is indexed by.
type cacheKey struct {
	vnode  *Vnode
	offset int64
}

// cachedPage is one pagecache_tree entry: a page-sized buffer plus the
// dirty bit the file-page writer (FlushDirtyPages) consults.
type cachedPage struct {
	data  [mm.PageSize]byte
	dirty bool
}

var (
	pageCacheLock irq.SpinLock

	// pageCache is the (vnode, page-aligned offset) -> cached-page lookup
	// table every regular, non-O_DIRECT read and write goes through.
	pageCache = make(map[cacheKey]*cachedPage)

	// dirtyPages lists cache entries written since their last flush, in
	// the order they were first dirtied; mirrors mm/swap's dirty list for
	// the file-backed half of the page writer.
	dirtyPages []cacheKey
)

func init() {
	pageCacheLock.Floor = irq.Dispatch
}

func pageAlign(offset int64) int64 {
	return offset - offset%int64(mm.PageSize)
}

// lookupPage returns the cached page covering pageOffset (already
// page-aligned) for v, fault-in reading it through v.Driver.ReadSync on a
// cache miss (read_sync, per spec.md §4.I).
func lookupPage(v *Vnode, pageOffset int64) (*cachedPage, *kernel.Error) {
	key := cacheKey{v, pageOffset}

	pageCacheLock.Acquire()
	page, ok := pageCache[key]
	pageCacheLock.Release()
	if ok {
		return page, nil
	}

	if v.Driver == nil {
		return nil, kernel.NewError(kernel.StatusInvalidOperation, "vfs", "vnode has no backing driver")
	}

	fresh := &cachedPage{}
	if _, err := v.Driver.ReadSync(v.DevDesc, fresh.data[:], pageOffset); err != nil {
		return nil, err
	}

	pageCacheLock.Acquire()
	if existing, raced := pageCache[key]; raced {
		page = existing
	} else {
		pageCache[key] = fresh
		page = fresh
	}
	pageCacheLock.Release()

	return page, nil
}

// markDirty records page as needing write-back, queuing key onto
// dirtyPages the first time it transitions from clean to dirty. Calling it
// again on an already-dirty page is a no-op.
func markDirty(key cacheKey, page *cachedPage) {
	pageCacheLock.Acquire()
	defer pageCacheLock.Release()
	if page.dirty {
		return
	}
	page.dirty = true
	dirtyPages = append(dirtyPages, key)
}

// readThroughCache satisfies a read of up to len(buf) bytes at offset from
// v's page cache, clamped to v.Size, copying out of whichever cached pages
// cover the requested range (fault them in on a miss).
func readThroughCache(v *Vnode, offset int64, buf []byte) (int, *kernel.Error) {
	remaining := v.Size - offset
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	n := 0
	for n < len(buf) {
		pos := offset + int64(n)
		base := pageAlign(pos)
		page, err := lookupPage(v, base)
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		inPage := int(pos - base)
		want := len(buf) - n
		if avail := int(mm.PageSize) - inPage; want > avail {
			want = avail
		}
		copy(buf[n:n+want], page.data[inPage:inPage+want])
		n += want
	}
	return n, nil
}

// writeThroughCache writes buf into v's page cache at offset, faulting in
// each touched page first (so a partial-page write preserves its
// neighbouring bytes) and marking every touched page dirty for the page
// writer.
func writeThroughCache(v *Vnode, offset int64, buf []byte) (int, *kernel.Error) {
	n := 0
	for n < len(buf) {
		pos := offset + int64(n)
		base := pageAlign(pos)
		page, err := lookupPage(v, base)
		if err != nil {
			return n, err
		}

		inPage := int(pos - base)
		want := len(buf) - n
		if avail := int(mm.PageSize) - inPage; want > avail {
			want = avail
		}
		copy(page.data[inPage:inPage+want], buf[n:n+want])
		markDirty(cacheKey{v, base}, page)
		n += want
	}
	return n, nil
}

// FlushDirtyPages drains the file-page dirty list, writing each page back
// through its vnode's WriteSync, the page-writer counterpart to
// mm/swap.Flush for file-backed (rather than anonymous) pages. It stops at
// the first write failure, leaving the remaining dirty pages queued for the
// next pass, matching mm/swap.Flush's retry behaviour.
func FlushDirtyPages() *kernel.Error {
	pageCacheLock.Acquire()
	pending := append([]cacheKey(nil), dirtyPages...)
	pageCacheLock.Release()

	for _, key := range pending {
		pageCacheLock.Acquire()
		page, ok := pageCache[key]
		pageCacheLock.Release()
		if !ok || !page.dirty {
			continue
		}
		if key.vnode.Driver == nil {
			continue
		}

		if _, err := key.vnode.Driver.WriteSync(key.vnode.DevDesc, page.data[:], key.offset); err != nil {
			return err
		}

		pageCacheLock.Acquire()
		page.dirty = false
		for i, k := range dirtyPages {
			if k == key {
				dirtyPages = append(dirtyPages[:i], dirtyPages[i+1:]...)
				break
			}
		}
		pageCacheLock.Release()
	}
	return nil
}

// invalidateVnode drops every cached page belonging to v, used by tests
// that need a clean cache between scenarios; production code has no call
// site for this yet since vnodes in this tree are never destroyed and
// recreated with the same identity.
func invalidateVnode(v *Vnode) {
	pageCacheLock.Acquire()
	defer pageCacheLock.Release()
	for k := range pageCache {
		if k.vnode == v {
			delete(pageCache, k)
		}
	}
	filtered := dirtyPages[:0]
	for _, k := range dirtyPages {
		if k.vnode != v {
			filtered = append(filtered, k)
		}
	}
	dirtyPages = filtered
}
