package bootstrap

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/memory"
)

// buildMinimalHunk assembles the smallest legal hunk executable: one CODE
// hunk of a single longword, no relocations.
func buildMinimalHunk(codeWord uint32) []byte {
	var b []byte
	u32 := func(v uint32) {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		b = append(b, tmp[:]...)
	}
	u32(hunkHeader)
	u32(0) // empty resident-library name table
	u32(1) // table size
	u32(0) // first hunk
	u32(0) // last hunk
	u32(1) // hunk 0 size: 1 longword
	u32(hunkCode)
	u32(1) // 1 longword of code
	u32(codeWord)
	u32(hunkEnd)
	return b
}

func TestLoadMinimalHunkExecutable(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "handler")
	if err := os.WriteFile(path, buildMinimalHunk(0x4E754E75 /* rts; rts */), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h, err := Load(mem, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.EntryAddr != memory.CodeBase {
		t.Errorf("EntryAddr = 0x%x, want 0x%x", h.EntryAddr, memory.CodeBase)
	}
	if len(h.Segments) != 1 {
		t.Fatalf("Segments = %d, want 1", len(h.Segments))
	}
	if h.Segments[0].Size != 4 {
		t.Errorf("Segment size = %d, want 4", h.Segments[0].Size)
	}

	got, err := mem.ReadU32(memory.CodeBase)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if got != 0x4E754E75 {
		t.Errorf("loaded code = 0x%08x, want 0x4E754E75", got)
	}
}

func TestLoadRejectsNonHunkFile(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "notahandler")
	if err := os.WriteFile(path, []byte("not a hunk file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(mem, path)
	if err == nil {
		t.Fatal("expected HandlerLoadError for non-hunk input")
	}
	var loadErr *amierr.HandlerLoadError
	if le, ok := err.(*amierr.HandlerLoadError); ok {
		loadErr = le
	}
	if loadErr == nil {
		t.Fatalf("expected *amierr.HandlerLoadError, got %T: %v", err, err)
	}
}

func TestLoadAppliesReloc32(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	var b []byte
	u32 := func(v uint32) {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		b = append(b, tmp[:]...)
	}
	u32(hunkHeader)
	u32(0)
	u32(1) // table size
	u32(0) // first hunk
	u32(1) // last hunk: two hunks total
	u32(1) // hunk 0 (CODE) size: 1 longword
	u32(1) // hunk 1 (DATA) size: 1 longword

	// Hunk 0: CODE, one longword, no relocations.
	u32(hunkCode)
	u32(1)
	u32(0x4E754E75)
	u32(hunkEnd)

	// Hunk 1: DATA, one longword initialized to 0 (the reloc site), followed
	// by a RELOC32 block pointing that longword back at hunk 0's base — the
	// ordinary case of a data pointer into already-loaded code.
	u32(hunkData)
	u32(1)
	u32(0) // placeholder, patched by the reloc below
	u32(hunkReloc32)
	u32(1) // one reloc in this run
	u32(0) // target hunk index 0
	u32(0) // offset 0 within hunk 1
	u32(0) // terminate the count-loop
	u32(hunkEnd)

	dir := t.TempDir()
	path := filepath.Join(dir, "handler")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h, err := Load(mem, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(h.Segments) != 2 {
		t.Fatalf("Segments = %d, want 2", len(h.Segments))
	}
	patched, err := mem.ReadU32(h.Segments[1].Base)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if patched != uint32(h.Segments[0].Base) {
		t.Errorf("reloc32 site = 0x%x, want hunk 0 base 0x%x", patched, h.Segments[0].Base)
	}
}
