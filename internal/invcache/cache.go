// Package invcache is the lock/inode cache sitting between the FUSE adapter
// and the packet bridge: it maps host paths to AmigaDOS locks, populates
// directory listings lazily and caches them, and short-circuits the
// metadata-file rejection list before any packet is ever sent. The
// lazy-populate-with-completeness-flag shape is the same one a read-only
// filesystem adapter over a content-addressed store uses for its directory
// nodes, adapted here to AmigaDOS FileLock semantics instead (grounded on
// perkeep's pkg/fs roDir.populate: mutex-guarded children map, a
// completeness flag, populate-on-first-touch).
package invcache

import (
	"strings"
	"sync"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/bridge"
)

// rejectedNames are host metadata files no real Amiga volume contains;
// looking them up must never cost a packet round trip (spec.md §4.6,
// testable scenario 3).
var rejectedNames = map[string]bool{
	".DS_Store":             true,
	".Spotlight-V100":       true,
	".Trashes":              true,
	".fseventsd":            true,
	".hidden":               true,
	".metadata_never_index": true,
}

func isRejected(name string) bool {
	if rejectedNames[name] {
		return true
	}
	return strings.HasPrefix(name, "._")
}

// fileInfoBlockSize matches struct FileInfoBlock (dos/dos.h): fib_DiskKey,
// fib_DirEntryType, fib_FileName[108] (a BSTR), fib_Protection, fib_EntryType,
// fib_Size, fib_NumBlocks, fib_Date(3 longs), fib_Comment[80], fib_OwnerUID,
// fib_OwnerGID, reserved — rounded up to the documented 260 bytes.
const fileInfoBlockSize = 260

const (
	fibFileName     = 8
	fibProtection   = 8 + 108
	fibSize         = fibProtection + 4 + 4
	fibDirEntryType = 4
)

// maxOpenHandles bounds the LRU of open FINDINPUT handles (spec.md §4.6).
const maxOpenHandles = 8

// Entry is a cached directory entry: the AmigaDOS lock (kept exactly as the
// handler returned it in dp_Res1 and passed back unchanged in later packets)
// and the metadata ACTION_EXAMINE_OBJECT/_NEXT returned.
type Entry struct {
	Lock    uint64
	Name    string // case-preserving display name
	IsDir   bool
	Size    int64
	Protect uint32 // AmigaDOS protection bits, mapped to POSIX mode by the FUSE adapter

	children map[string]*Entry
	complete bool
}

// handle is one open FINDINPUT file, tracked host-side so sequential reads
// don't need a round trip to learn the current position.
type handle struct {
	id    uint64
	entry *Entry
	lock  uint64 // the handler's FileHandle (as returned by FINDINPUT), an address
	pos   int64
}

// Cache is the host-side shadow keyed by path, rooted at the volume lock.
type Cache struct {
	mu   sync.Mutex
	br   *bridge.Bridge
	root *Entry

	nextHandle uint64
	handles    map[uint64]*handle // LRU by insertion order, capped at maxOpenHandles
	handleLRU  []uint64
}

// New builds a cache rooted at the volume root lock (the one carried in the
// handler's ACTION_STARTUP reply, as returned by bootstrap.Boot).
func New(br *bridge.Bridge, rootLock uint64) *Cache {
	return &Cache{
		br:      br,
		root:    &Entry{Lock: rootLock, Name: "", IsDir: true},
		handles: make(map[uint64]*handle),
	}
}

// Lookup resolves a '/'-separated host path relative to the volume root,
// populating and caching directories along the way. Rejected metadata
// names return ENOENT without issuing a packet.
func (c *Cache) Lookup(path string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(path)
}

func (c *Cache) lookupLocked(path string) (*Entry, error) {
	cur := c.root
	if path == "" || path == "/" {
		return cur, nil
	}
	var walked []string
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if isRejected(part) {
			return nil, amierr.NewPacketError(bridge.ActionLocateObject, 205)
		}
		if !cur.IsDir {
			return nil, amierr.NewLookupError(bridge.ActionLocateObject, amierr.ObjectWrongType, true)
		}
		if cur != c.root && cur.Lock == 0 {
			lock, err := c.locateLocked(strings.Join(walked, "/"))
			if err != nil {
				return nil, err
			}
			cur.Lock = lock
		}
		if err := c.populate(cur); err != nil {
			return nil, err
		}
		child, ok := lookupCaseInsensitive(cur.children, part)
		if !ok {
			return nil, amierr.NewPacketError(bridge.ActionLocateObject, 205) // ERROR_OBJECT_NOT_FOUND
		}
		cur = child
		walked = append(walked, child.Name)
	}
	return cur, nil
}

// lookupCaseInsensitive implements AmigaDOS name comparison: case
// insensitive match, case-preserving stored name (spec.md §4.5 "Case").
func lookupCaseInsensitive(children map[string]*Entry, name string) (*Entry, bool) {
	if e, ok := children[name]; ok {
		return e, true
	}
	folded := strings.ToLower(name)
	for k, e := range children {
		if strings.ToLower(k) == folded {
			return e, true
		}
	}
	return nil, false
}

// populate fills dir.children via ACTION_EXAMINE_OBJECT then repeated
// ACTION_EXAMINE_NEXT, each decoding the FileInfoBlock the handler wrote
// into a scratch buffer this cache owns. An empty directory's first
// ACTION_EXAMINE_NEXT call returns ERROR_NO_MORE_ENTRIES immediately —
// end-of-iteration, not an error (spec.md §4.5 tie-break).
func (c *Cache) populate(dir *Entry) error {
	if dir.complete {
		return nil
	}
	dir.children = make(map[string]*Entry)
	mem := c.br.Mem()

	fibAddr, err := mem.Alloc(fileInfoBlockSize)
	if err != nil {
		return err
	}
	defer mem.Free(fibAddr, fileInfoBlockSize)

	pkt, err := c.br.Send(bridge.ActionExamineObject, uint32(dir.Lock), uint32(fibAddr))
	if err != nil {
		return err
	}
	if pkt.Res1 == 0 {
		return amierr.NewPacketError(bridge.ActionExamineObject, pkt.Res2)
	}

	for {
		next, err := c.br.Send(bridge.ActionExamineNext, uint32(dir.Lock), uint32(fibAddr))
		if err != nil {
			return err
		}
		if next.Res1 == 0 {
			if next.Res2 != amierr.NoMoreEntries {
				return amierr.NewPacketError(bridge.ActionExamineNext, next.Res2)
			}
			break
		}
		name, isDir, size, protect, err := decodeFileInfoBlock(mem, fibAddr)
		if err != nil {
			return err
		}
		dir.children[name] = &Entry{Name: name, IsDir: isDir, Size: size, Protect: protect}
	}
	dir.complete = true
	return nil
}

func decodeFileInfoBlock(mem interface {
	ReadU32(uint64) (uint32, error)
	ReadBSTR(uint64) (string, error)
}, fibAddr uint64) (name string, isDir bool, size int64, protect uint32, err error) {
	entryType, err := mem.ReadU32(fibAddr + fibDirEntryType)
	if err != nil {
		return "", false, 0, 0, err
	}
	name, err = mem.ReadBSTR(fibAddr + fibFileName)
	if err != nil {
		return "", false, 0, 0, err
	}
	protect, err = mem.ReadU32(fibAddr + fibProtection)
	if err != nil {
		return "", false, 0, 0, err
	}
	sz, err := mem.ReadU32(fibAddr + fibSize)
	if err != nil {
		return "", false, 0, 0, err
	}
	return name, int32(entryType) > 0, int64(sz), protect, nil
}

// Stat resolves path to its cached Entry, populating the cache on a miss; it
// is Lookup under another name. The entry's metadata comes from its parent's
// EXAMINE listing. Stat acquires no lock for the entry itself and makes no
// guess about a readdir following; the only locks it causes are those
// Lookup takes on intermediate directories it has to list.
func (c *Cache) Stat(path string) (*Entry, error) {
	return c.Lookup(path)
}

// ReadDir resolves path and returns its populated children, issuing the
// LOCATE_OBJECT + EXAMINE_OBJECT + EXAMINE_NEXT* round trip on a cache
// miss. A directory that has no lock yet gets one via LOCATE_OBJECT; that
// lock stays on the Entry and is not released afterward.
func (c *Cache) ReadDir(path string) ([]*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, err := c.lookupLocked(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir {
		return nil, amierr.NewLookupError(bridge.ActionExamineObject, amierr.ObjectWrongType, true)
	}
	if dir.Lock == 0 {
		locked, err := c.locateLocked(path)
		if err != nil {
			return nil, err
		}
		dir.Lock = locked
	}
	if err := c.populate(dir); err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(dir.children))
	for _, e := range dir.children {
		out = append(out, e)
	}
	return out, nil
}

// locateLocked issues ACTION_LOCATE_OBJECT for path relative to the volume
// root and returns the resulting lock address. Used when a directory was
// reached via a parent listing (so its Entry exists) but was never itself
// the target of a lock-acquiring operation.
func (c *Cache) locateLocked(path string) (uint64, error) {
	nameAddr, err := c.writeBSTRArg(path)
	if err != nil {
		return 0, err
	}
	defer c.br.Mem().Free(nameAddr, 256)
	pkt, err := c.br.Send(bridge.ActionLocateObject, uint32(c.root.Lock), uint32(nameAddr), 1005 /* MODE_OLDFILE */)
	if err != nil {
		return 0, err
	}
	if pkt.Res1 == 0 {
		return 0, amierr.NewPacketError(bridge.ActionLocateObject, pkt.Res2)
	}
	return uint64(pkt.Res1), nil
}

// writeBSTRArg marshals path as a BSTR scratch argument for a LOCATE_OBJECT
// call. Names longer than 107 bytes are rejected without a round trip
// (spec.md §4.5 "Name length").
func (c *Cache) writeBSTRArg(path string) (uint64, error) {
	for _, name := range strings.Split(path, "/") {
		if len(name) > 107 {
			return 0, amierr.NewPacketError(bridge.ActionLocateObject, 205)
		}
	}
	if len(path) > 255 { // longest path a BSTR can carry
		return 0, amierr.NewPacketError(bridge.ActionLocateObject, 205)
	}
	mem := c.br.Mem()
	addr, err := mem.Alloc(256)
	if err != nil {
		return 0, err
	}
	if err := mem.WriteBSTR(addr, path); err != nil {
		return 0, err
	}
	return addr, nil
}

// Open resolves path to a file and issues ACTION_FINDINPUT, returning an
// opaque handle token for subsequent Read calls. The handle LRU evicts (and
// ENDs) the oldest entry once maxOpenHandles is exceeded.
func (c *Cache) Open(path string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.lookupLocked(path)
	if err != nil {
		return 0, err
	}
	if entry.IsDir {
		return 0, amierr.NewLookupError(bridge.ActionFindInput, amierr.ObjectWrongType, false)
	}

	nameAddr, err := c.writeBSTRArg(path)
	if err != nil {
		return 0, err
	}
	defer c.br.Mem().Free(nameAddr, 256)

	pkt, err := c.br.Send(bridge.ActionFindInput, uint32(c.root.Lock), uint32(nameAddr), 1005 /* MODE_OLDFILE */)
	if err != nil {
		return 0, err
	}
	if pkt.Res1 == 0 {
		return 0, amierr.NewPacketError(bridge.ActionFindInput, pkt.Res2)
	}

	c.nextHandle++
	id := c.nextHandle
	h := &handle{id: id, entry: entry, lock: uint64(pkt.Res1)}
	c.handles[id] = h
	c.handleLRU = append(c.handleLRU, id)
	c.evictOldestLocked()
	return id, nil
}

// evictOldestLocked closes the least-recently-opened handle once the LRU
// exceeds maxOpenHandles. Called with c.mu held.
func (c *Cache) evictOldestLocked() {
	for len(c.handleLRU) > maxOpenHandles {
		oldest := c.handleLRU[0]
		c.handleLRU = c.handleLRU[1:]
		if h, ok := c.handles[oldest]; ok {
			delete(c.handles, oldest)
			_, _ = c.br.Send(bridge.ActionEnd, uint32(h.lock))
		}
	}
}

// Read returns up to size bytes from handle at offset. Reads matching the
// handle's current position are sequential (the ACTION_READ minimum set's
// natural case); any other offset issues ACTION_SEEK first, the Open
// Question resolution SPEC_FULL.md §4.5 adopted in favor of true random
// access (spec.md §9 "Open question: ACTION_SEEK").
func (c *Cache) Read(h uint64, offset int64, size int) ([]byte, error) {
	c.mu.Lock()
	hd, ok := c.handles[h]
	c.mu.Unlock()
	if !ok {
		return nil, amierr.NewPacketError(bridge.ActionRead, 205)
	}

	mem := c.br.Mem()
	if offset != hd.pos {
		if _, err := c.br.Send(bridge.ActionSeek, uint32(hd.lock), uint32(offset), 0xFFFFFFFF /* OFFSET_BEGINNING (-1) */); err != nil {
			return nil, err
		}
	}

	bufAddr, err := mem.Alloc(size)
	if err != nil {
		return nil, err
	}
	defer mem.Free(bufAddr, size)

	pkt, err := c.br.Send(bridge.ActionRead, uint32(hd.lock), uint32(bufAddr), uint32(size))
	if err != nil {
		return nil, err
	}
	if pkt.Res1 == 0 && pkt.Res2 != 0 {
		return nil, amierr.NewPacketError(bridge.ActionRead, pkt.Res2)
	}
	n := int(pkt.Res1)

	c.mu.Lock()
	hd.pos = offset + int64(n)
	c.mu.Unlock()

	return mem.ReadBytes(bufAddr, n)
}

// Release issues ACTION_END for the handle and drops it from the cache,
// called from the FUSE adapter's release (spec.md §4.7).
func (c *Cache) Release(h uint64) error {
	c.mu.Lock()
	hd, ok := c.handles[h]
	if ok {
		delete(c.handles, h)
		for i, id := range c.handleLRU {
			if id == h {
				c.handleLRU = append(c.handleLRU[:i], c.handleLRU[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := c.br.Send(bridge.ActionEnd, uint32(hd.lock))
	return err
}

// Close releases every handle still open and the volume root lock, the
// unmount-path flush spec.md §5 "Cancellation" requires.
func (c *Cache) Close() error {
	c.mu.Lock()
	ids := make([]uint64, len(c.handleLRU))
	copy(ids, c.handleLRU)
	c.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := c.Release(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if _, err := c.br.Send(bridge.ActionFreeLock, uint32(c.root.Lock)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
