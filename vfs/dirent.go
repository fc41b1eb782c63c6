package vfs

import (
	"gopheros/kernel"
	"gopheros/kernel/irq"
	"strings"
)

// maxSymlinkDepth bounds symlink resolution; exceeding it fails with
// errSymlinkLoop rather than looping forever.
const maxSymlinkDepth = 40

var errSymlinkLoop = kernel.NewError(kernel.StatusInvalidOperation, "vfs", "too many levels of symbolic links")
var errNotFound = kernel.NewError(kernel.StatusNotFound, "vfs", "no such file or directory")
var errNotADirectory = kernel.NewError(kernel.StatusInvalidOperation, "vfs", "not a directory")

// Dirent is one name-to-vnode binding in the path-resolution graph. Multiple
// dirents may reference the same Vnode (hard links, device-namespace
// aliases); Parent/Children form the tree that Resolve walks.
type Dirent struct {
	lock irq.SpinLock

	Name     string
	Vnode    *Vnode
	Parent   *Dirent
	Children map[string]*Dirent

	// LinkTarget holds the textual symlink target when Vnode.Kind ==
	// KindSymlink.
	LinkTarget string
}

// NewDirent constructs a Dirent bound to v, linked under parent (nil for the
// root).
func NewDirent(name string, v *Vnode, parent *Dirent) *Dirent {
	return &Dirent{Name: name, Vnode: v, Parent: parent}
}

// AddChild inserts child into d's child map, creating the map on first use.
func (d *Dirent) AddChild(child *Dirent) {
	d.lock.Floor = irq.Dispatch
	d.lock.Acquire()
	if d.Children == nil {
		d.Children = make(map[string]*Dirent)
	}
	d.Children[child.Name] = child
	child.Parent = d
	d.lock.Release()
}

// RemoveChild drops name from d's child map.
func (d *Dirent) RemoveChild(name string) {
	d.lock.Floor = irq.Dispatch
	d.lock.Acquire()
	delete(d.Children, name)
	d.lock.Release()
}

// Lookup returns the immediate child named name, or nil.
func (d *Dirent) Lookup(name string) *Dirent {
	d.lock.Floor = irq.Dispatch
	d.lock.Acquire()
	defer d.lock.Release()
	return d.Children[name]
}

// resolveOne descends from cur through the mount graph and symlinks to find
// the dirent named by path's components, starting at root if path is
// absolute or cur otherwise. depth tracks the remaining symlink hops
// permitted before errSymlinkLoop fires.
func resolveOne(root, cur *Dirent, path string, depth int) (*Dirent, *kernel.Error) {
	if depth <= 0 {
		return nil, errSymlinkLoop
	}

	d := cur
	if strings.HasPrefix(path, "/") {
		d = root
	}

	comps := strings.Split(strings.Trim(path, "/"), "/")
	for _, comp := range comps {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			if d.Parent != nil {
				d = d.Parent
			}
			continue
		}

		// Transparently descend through a mountpoint: the mounted
		// filesystem's root dirent replaces the mountpoint dirent
		// itself before the child lookup below runs.
		if d.Vnode.Flags&FlagMountpoint != 0 && d.Vnode.Mounted != nil {
			d = d.Vnode.Mounted.Root
		}

		if d.Vnode.Kind != KindDirectory {
			return nil, errNotADirectory
		}

		next := d.Lookup(comp)
		if next == nil {
			if m := namecacheLookup(d.Vnode.Mount, d, comp); m != nil {
				next = m
			} else {
				return nil, errNotFound
			}
		} else {
			namecacheInsert(d.Vnode.Mount, d, comp, next)
		}

		if next.Vnode.Kind == KindSymlink {
			target, err := resolveOne(root, next.Parent, next.LinkTarget, depth-1)
			if err != nil {
				return nil, err
			}
			next = target
		}

		d = next
	}

	if d.Vnode.Flags&FlagMountpoint != 0 && d.Vnode.Mounted != nil {
		d = d.Vnode.Mounted.Root
	}

	return d, nil
}

// Resolve walks path from root (absolute) or from (relative), descending
// mounts transparently and bounding symlink hops at maxSymlinkDepth.
func Resolve(root, from *Dirent, path string) (*Dirent, *kernel.Error) {
	d, err := resolveOne(root, from, path, maxSymlinkDepth)
	if err != nil {
		return nil, err
	}
	return d, nil
}
