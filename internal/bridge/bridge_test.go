package bridge

import (
	"testing"

	"github.com/reinauer/amifuse/internal/memory"
)

func TestBuildPacketEncodesActionAndArgs(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	b := &Bridge{mem: mem}
	addr, err := b.buildPacket(ActionLocateObject, []uint32{0x1234, 0x5678, 7})
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}

	typ, err := mem.ReadU32(addr + 8) // dp_Type
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if int32(typ) != ActionLocateObject {
		t.Errorf("dp_Type = %d, want %d", typ, ActionLocateObject)
	}

	arg0, err := mem.ReadU32(addr + 20) // dp_Arg1
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if arg0 != 0x1234 {
		t.Errorf("dp_Arg1 = 0x%x, want 0x1234", arg0)
	}
	arg1, err := mem.ReadU32(addr + 24)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if arg1 != 0x5678 {
		t.Errorf("dp_Arg2 = 0x%x, want 0x5678", arg1)
	}
}

func TestBuildPacketTruncatesExcessArgs(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	b := &Bridge{mem: mem}
	args := make([]uint32, 10)
	for i := range args {
		args[i] = uint32(i + 1)
	}
	addr, err := b.buildPacket(ActionRead, args)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	// Only 7 dp_ArgN slots exist; the 8th+ values must not corrupt adjacent
	// memory beyond the 64-byte packet this test doesn't otherwise touch.
	last, err := mem.ReadU32(addr + 20 + 6*4)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if last != 7 {
		t.Errorf("dp_Arg7 = %d, want 7", last)
	}
	past, err := mem.ReadU32(addr + 20 + 7*4)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if past != 0 {
		t.Errorf("word after dp_Arg7 = %d, want 0 (8th arg must be dropped)", past)
	}
}
