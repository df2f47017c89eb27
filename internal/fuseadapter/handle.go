package fuseadapter

import (
	"context"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

// Handle is one open FINDINPUT file, identified by the opaque token
// internal/invcache.Open returned. size is cached from the cache.Stat call
// Open makes, so Read can clamp a past-EOF request without another round
// trip through the cache.
type Handle struct {
	fs   *FS
	id   uint64
	size int64
}

var _ fusefs.HandleReader = (*Handle)(nil)
var _ fusefs.HandleReleaser = (*Handle)(nil)

// Read implements read (spec.md §4.7): delegates to invcache.Read, which
// issues ACTION_SEEK only when the requested offset isn't the handle's
// current sequential position, then ACTION_READ.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if req.Offset >= h.size {
		resp.Data = nil
		return nil
	}
	size := req.Size
	if remaining := h.size - req.Offset; int64(size) > remaining {
		size = int(remaining)
	}
	data, err := h.fs.cache.Read(h.id, req.Offset, size)
	if err != nil {
		return errnoFromError(err)
	}
	resp.Data = data
	return nil
}

// Release issues ACTION_END for the handle (spec.md §4.7 close).
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return errnoFromError(h.fs.cache.Release(h.id))
}
