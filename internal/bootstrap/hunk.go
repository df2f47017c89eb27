// Package bootstrap loads an Amiga hunk-format handler executable into the
// emulated arena and drives the handshake that delivers its first
// ACTION_STARTUP packet, the m68k/hunk analog of the ELF segment-loading
// and relocation pass the corpus's AArch64 loader performs.
package bootstrap

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/memory"
)

// Hunk type IDs (dos/doshunks.h), big-endian longwords in the file.
const (
	hunkHeader = 0x3F3
	hunkCode   = 0x3E9
	hunkData   = 0x3EA
	hunkBSS    = 0x3EB
	hunkReloc32 = 0x3EC
	hunkEnd    = 0x3F2
)

// Segment is one loaded hunk: its emulated base address and length.
type Segment struct {
	Base uint64
	Size uint32
	Kind uint32 // hunkCode/hunkData/hunkBSS
}

// Handler is the loaded, relocated handler image.
type Handler struct {
	Segments  []Segment
	EntryAddr uint64 // first CODE hunk's base: the handler's cold-start entry
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, fmt.Errorf("truncated hunk file at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, fmt.Errorf("truncated hunk file at offset %d", r.pos)
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) eof() bool { return r.pos >= len(r.b) }

// Load reads path as an Amiga hunk executable, allocates each CODE/DATA/BSS
// hunk in mem starting at memory.CodeBase, applies HUNK_RELOC32 fixups, and
// returns the loaded handler.
func Load(mem *memory.Arena, path string) (*Handler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &amierr.HandlerLoadError{Path: path, Err: err}
	}
	h, err := load(mem, raw)
	if err != nil {
		return nil, &amierr.HandlerLoadError{Path: path, Err: err}
	}
	return h, nil
}

func load(mem *memory.Arena, raw []byte) (*Handler, error) {
	r := &reader{b: raw}

	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	if id != hunkHeader {
		return nil, fmt.Errorf("not a hunk executable (got type 0x%x)", id)
	}

	// HUNK_HEADER: resident library names (skip), table size, first/last
	// hunk indices, then one longword size per hunk.
	if err := skipStringTable(r); err != nil {
		return nil, err
	}
	tableSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	firstHunk, err := r.u32()
	if err != nil {
		return nil, err
	}
	lastHunk, err := r.u32()
	if err != nil {
		return nil, err
	}
	_ = firstHunk
	numHunks := lastHunk - firstHunk + 1
	if numHunks == 0 || numHunks > tableSize+1 {
		return nil, fmt.Errorf("implausible hunk count %d", numHunks)
	}
	sizes := make([]uint32, numHunks)
	for i := range sizes {
		raw, err := r.u32()
		if err != nil {
			return nil, err
		}
		sizes[i] = (raw & 0x3FFFFFFF) * 4 // size is in longwords, top bits are flags
	}

	segs := make([]Segment, numHunks)
	addrs := make([]uint64, numHunks)
	cur := memory.CodeBase

	idx := 0
	for !r.eof() && idx < int(numHunks) {
		kind, err := r.u32()
		if err != nil {
			return nil, err
		}
		switch kind {
		case hunkCode, hunkData, hunkBSS:
			var size uint32
			var data []byte
			if kind == hunkBSS {
				size, err = r.u32()
				if err != nil {
					return nil, err
				}
				size *= 4
			} else {
				lw, err := r.u32()
				if err != nil {
					return nil, err
				}
				size = lw * 4
				data, err = r.bytes(int(size))
				if err != nil {
					return nil, err
				}
			}
			addrs[idx] = cur
			segs[idx] = Segment{Base: cur, Size: size, Kind: kind}
			buf := make([]byte, size)
			copy(buf, data)
			if err := mem.WriteBytes(cur, buf); err != nil {
				return nil, err
			}
			cur += uint64(size)
			// align to a longword boundary between hunks
			if cur%4 != 0 {
				cur += 4 - (cur % 4)
			}

			// Trailing RELOC32/END blocks for this hunk.
			if err := applyTrailingRelocs(r, mem, addrs, idx); err != nil {
				return nil, err
			}
			idx++
		case hunkEnd:
			// A bare END with nothing loaded yet: skip.
		default:
			return nil, fmt.Errorf("unsupported hunk type 0x%x at hunk %d", kind, idx)
		}
	}

	h := &Handler{Segments: segs}
	for i, s := range segs {
		if s.Kind == hunkCode {
			h.EntryAddr = addrs[i]
			break
		}
	}
	if h.EntryAddr == 0 {
		return nil, fmt.Errorf("no CODE hunk found")
	}
	return h, nil
}

// applyTrailingRelocs consumes zero or more HUNK_RELOC32 blocks up to and
// including the HUNK_END that terminates this hunk. No other trailing block
// type is accepted; any other one is rejected as unsupported.
func applyTrailingRelocs(r *reader, mem *memory.Arena, addrs []uint64, hunkIdx int) error {
	for {
		if r.eof() {
			return nil
		}
		kind, err := r.u32()
		if err != nil {
			return err
		}
		switch kind {
		case hunkEnd:
			return nil
		case hunkReloc32:
			for {
				count, err := r.u32()
				if err != nil {
					return err
				}
				if count == 0 {
					break
				}
				target, err := r.u32()
				if err != nil {
					return err
				}
				for i := uint32(0); i < count; i++ {
					off, err := r.u32()
					if err != nil {
						return err
					}
					if int(target) >= len(addrs) {
						return fmt.Errorf("reloc32 target hunk %d out of range", target)
					}
					siteAddr := addrs[hunkIdx] + uint64(off)
					val, err := mem.ReadU32(siteAddr)
					if err != nil {
						return err
					}
					fixed := val + uint32(addrs[target])
					if err := mem.WriteU32(siteAddr, fixed); err != nil {
						return err
					}
				}
			}
		default:
			return fmt.Errorf("unsupported trailing hunk type 0x%x", kind)
		}
	}
}

func skipStringTable(r *reader) error {
	for {
		n, err := r.u32()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := r.bytes(int(n) * 4); err != nil {
			return err
		}
	}
}
