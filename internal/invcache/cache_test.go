package invcache

import (
	"testing"

	"github.com/reinauer/amifuse/internal/memory"
)

func TestIsRejectedMetadataNames(t *testing.T) {
	names := []string{".DS_Store", ".Spotlight-V100", ".Trashes", ".fseventsd", ".hidden", ".metadata_never_index", "._resourcefork"}
	for _, n := range names {
		if !isRejected(n) {
			t.Errorf("isRejected(%q) = false, want true", n)
		}
	}
}

func TestIsRejectedOrdinaryNames(t *testing.T) {
	names := []string{"System", "Programs", "empty.txt", "readme.txt"}
	for _, n := range names {
		if isRejected(n) {
			t.Errorf("isRejected(%q) = true, want false", n)
		}
	}
}

func TestLookupCaseInsensitivePreservesStoredCase(t *testing.T) {
	children := map[string]*Entry{
		"System":   {Name: "System", IsDir: true},
		"Readme.txt": {Name: "Readme.txt"},
	}
	e, ok := lookupCaseInsensitive(children, "system")
	if !ok {
		t.Fatal("expected case-insensitive match")
	}
	if e.Name != "System" {
		t.Errorf("Name = %q, want case-preserved %q", e.Name, "System")
	}

	e2, ok := lookupCaseInsensitive(children, "README.TXT")
	if !ok || e2.Name != "Readme.txt" {
		t.Errorf("case-insensitive lookup failed for README.TXT: ok=%v entry=%+v", ok, e2)
	}

	if _, ok := lookupCaseInsensitive(children, "NonExistent"); ok {
		t.Error("expected miss for name with no match")
	}
}

func TestDecodeFileInfoBlock(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	fibAddr, err := mem.Alloc(fileInfoBlockSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteBytes(fibAddr, make([]byte, fileInfoBlockSize)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := mem.WriteU32(fibAddr+fibDirEntryType, 2); err != nil { // > 0 => directory
		t.Fatalf("WriteU32 entrytype: %v", err)
	}
	if err := mem.WriteBSTR(fibAddr+fibFileName, "Programs"); err != nil {
		t.Fatalf("WriteBSTR: %v", err)
	}
	if err := mem.WriteU32(fibAddr+fibProtection, 0); err != nil {
		t.Fatalf("WriteU32 protection: %v", err)
	}
	if err := mem.WriteU32(fibAddr+fibSize, 4096); err != nil {
		t.Fatalf("WriteU32 size: %v", err)
	}

	name, isDir, size, _, err := decodeFileInfoBlock(mem, fibAddr)
	if err != nil {
		t.Fatalf("decodeFileInfoBlock: %v", err)
	}
	if name != "Programs" {
		t.Errorf("name = %q, want %q", name, "Programs")
	}
	if !isDir {
		t.Error("expected isDir = true for positive fib_DirEntryType")
	}
	if size != 4096 {
		t.Errorf("size = %d, want 4096", size)
	}
}

func TestDecodeFileInfoBlockFile(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	fibAddr, err := mem.Alloc(fileInfoBlockSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteBytes(fibAddr, make([]byte, fileInfoBlockSize)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := mem.WriteU32(fibAddr+fibDirEntryType, 0xFFFFFFFF); err != nil { // negative => file
		t.Fatalf("WriteU32 entrytype: %v", err)
	}
	if err := mem.WriteBSTR(fibAddr+fibFileName, "empty.txt"); err != nil {
		t.Fatalf("WriteBSTR: %v", err)
	}

	name, isDir, _, _, err := decodeFileInfoBlock(mem, fibAddr)
	if err != nil {
		t.Fatalf("decodeFileInfoBlock: %v", err)
	}
	if name != "empty.txt" {
		t.Errorf("name = %q, want %q", name, "empty.txt")
	}
	if isDir {
		t.Error("expected isDir = false for negative fib_DirEntryType")
	}
}
