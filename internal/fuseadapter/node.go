package fuseadapter

import (
	"context"
	"os"
	"path"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/reinauer/amifuse/internal/invcache"
)

// Node is a FUSE node backed by one invcache entry, addressed by its
// canonical path rather than a cached pointer — invcache may repopulate or
// discard entries between calls, so every operation re-resolves path.
type Node struct {
	fs   *FS
	path string // "" for the volume root, otherwise slash-separated, no leading slash
}

var _ fusefs.Node = (*Node)(nil)
var _ fusefs.NodeStringLookuper = (*Node)(nil)
var _ fusefs.HandleReadDirAller = (*Node)(nil)
var _ fusefs.NodeOpener = (*Node)(nil)

// Attr implements getattr (spec.md §4.7): resolved via invcache.Stat, mode
// derived from entry kind.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	entry, err := n.fs.cache.Stat(n.path)
	if err != nil {
		return errnoFromError(err)
	}
	a.Inode = inodeFor(n.path)
	a.Mode = os.FileMode(modeFor(entry))
	if entry.IsDir {
		a.Mode |= os.ModeDir
	}
	a.Size = uint64(entry.Size)
	if entry.Size > 0 {
		a.Blocks = uint64(entry.Size)/uint64(n.fs.geometry.BlockSize) + 1
	}
	return nil
}

// Lookup implements the per-entry half of getattr/readdir resolution:
// given a parent node and a child name, confirm it exists and return its
// Node. Metadata-rejection names answer ENOENT without a packet round trip;
// other names are resolved via invcache.Stat against the parent's cached
// listing, which is fetched from the handler on first use.
func (n *Node) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	childPath := path.Join(n.path, name)
	if _, err := n.fs.cache.Stat(childPath); err != nil {
		return nil, errnoFromError(err)
	}
	return &Node{fs: n.fs, path: childPath}, nil
}

// ReadDirAll implements readdir (spec.md §4.7): cached children, already
// populated via EXAMINE_OBJECT/EXAMINE_NEXT by invcache.ReadDir.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	children, err := n.fs.cache.ReadDir(n.path)
	if err != nil {
		return nil, errnoFromError(err)
	}
	out := make([]fuse.Dirent, 0, len(children))
	for _, c := range children {
		typ := fuse.DT_File
		if c.IsDir {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{
			Inode: inodeFor(path.Join(n.path, c.Name)),
			Name:  c.Name,
			Type:  typ,
		})
	}
	return out, nil
}

// Open implements open (spec.md §4.7): write opens are rejected outright
// (the mount is read-only, spec.md Non-goals); read opens acquire a cache
// handle token that Handle.Read/Release drive.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if req.Flags.IsWriteOnly() || req.Flags.IsReadWrite() {
		return nil, fuse.Errno(syscall.EROFS)
	}
	id, err := n.fs.cache.Open(n.path)
	if err != nil {
		return nil, errnoFromError(err)
	}
	entry, err := n.fs.cache.Stat(n.path)
	if err != nil {
		return nil, errnoFromError(err)
	}
	resp.Flags |= fuse.OpenKeepCache
	return &Handle{fs: n.fs, id: id, size: entry.Size}, nil
}
