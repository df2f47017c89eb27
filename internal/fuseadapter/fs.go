// Package fuseadapter translates bazil.org/fuse callbacks into
// internal/invcache calls, the way perkeep's cmd/pk-mount wires its
// CamliFileSystem: one fusefs.FS implementation whose Node/Handle types
// delegate entirely to a lazily-populated cache instead of touching the
// backing store (here, the packet bridge) directly.
package fuseadapter

import (
	"context"
	"hash/fnv"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/reinauer/amifuse/internal/invcache"
	"github.com/reinauer/amifuse/internal/trackdisk"
)

// FS is the mounted filesystem root. It owns no state of its own beyond the
// cache and the geometry statfs reports; every operation is a cache lookup.
type FS struct {
	cache    *invcache.Cache
	geometry trackdisk.Geometry
}

// New builds the FUSE filesystem root backed by cache, reporting geometry
// from the virtual trackdisk device for statfs.
func New(cache *invcache.Cache, geometry trackdisk.Geometry) *FS {
	return &FS{cache: cache, geometry: geometry}
}

var _ fusefs.FS = (*FS)(nil)
var _ fusefs.FSStatfser = (*FS)(nil)

// Root returns the volume root node.
func (f *FS) Root() (fusefs.Node, error) {
	return &Node{fs: f, path: ""}, nil
}

// Statfs reports geometry from the virtual trackdisk device; free space is
// always zero because the mount never writes (spec.md §4.7).
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	resp.Blocks = uint64(f.geometry.TotalBlocks)
	resp.Bfree = 0
	resp.Bavail = 0
	resp.Bsize = f.geometry.BlockSize
	resp.Files = 0
	resp.Ffree = 0
	resp.Namelen = 107 // spec.md §4.5 "Name length"
	resp.Frsize = f.geometry.BlockSize
	return nil
}

// inodeFor derives a stable inode number from a path; AmigaDOS locks are
// not durable enough across cache evictions to use directly as FUSE inode
// numbers, so this hashes the canonical path instead.
func inodeFor(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

// modeFor derives a POSIX mode from an entry's kind. The mount is read-only
// regardless of the handler's reported protection bits (spec.md §4.7):
// directories are 0555, files 0444.
func modeFor(e *invcache.Entry) uint32 {
	if e.IsDir {
		return 0555
	}
	return 0444
}

// errnoFromError converts a bridge/cache error into the fuse.Errno the
// kernel expects, falling back to EIO for anything not already typed.
func errnoFromError(err error) error {
	return toFuseErrno(err)
}
