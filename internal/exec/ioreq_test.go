package exec

import (
	"testing"

	"github.com/reinauer/amifuse/internal/memory"
)

func TestIORequestRoundTrip(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	reqAddr, err := mem.Alloc(IORequestSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteBytes(reqAddr, make([]byte, IORequestSize)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	dataAddr, err := mem.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc data buffer: %v", err)
	}

	if err := mem.WriteU16(reqAddr+ioCommand, 2 /* CMD_READ */); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if err := mem.WriteU32(reqAddr+ioLength, 16); err != nil {
		t.Fatalf("WriteU32 length: %v", err)
	}
	if err := mem.WriteU32(reqAddr+ioData, uint32(dataAddr)); err != nil {
		t.Fatalf("WriteU32 data: %v", err)
	}
	if err := mem.WriteU32(reqAddr+ioOffset, 1024); err != nil {
		t.Fatalf("WriteU32 offset: %v", err)
	}

	req, err := ReadIORequest(mem, reqAddr)
	if err != nil {
		t.Fatalf("ReadIORequest: %v", err)
	}
	if req.Command != 2 {
		t.Errorf("Command = %d, want 2", req.Command)
	}
	if req.Length != 16 {
		t.Errorf("Length = %d, want 16", req.Length)
	}
	if req.Data != dataAddr {
		t.Errorf("Data = 0x%x, want 0x%x", req.Data, dataAddr)
	}
	if req.Offset != 1024 {
		t.Errorf("Offset = %d, want 1024", req.Offset)
	}
}

func TestWriteIOResultCopiesDataToGuestBuffer(t *testing.T) {
	mem, err := memory.New()
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer mem.Close()

	reqAddr, err := mem.Alloc(IORequestSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteBytes(reqAddr, make([]byte, IORequestSize)); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	dataAddr, err := mem.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := mem.WriteU32(reqAddr+ioData, uint32(dataAddr)); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	payload := []byte{1, 2, 3, 4}
	if err := WriteIOResult(mem, reqAddr, 0, uint32(len(payload)), payload); err != nil {
		t.Fatalf("WriteIOResult: %v", err)
	}

	errCode, err := mem.ReadU8(reqAddr + ioError)
	if err != nil {
		t.Fatalf("ReadU8: %v", err)
	}
	if errCode != 0 {
		t.Errorf("io_Error = %d, want 0", errCode)
	}
	actual, err := mem.ReadU32(reqAddr + ioActual)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if actual != uint32(len(payload)) {
		t.Errorf("io_Actual = %d, want %d", actual, len(payload))
	}
	got, err := mem.ReadBytes(dataAddr, len(payload))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	for i, b := range got {
		if b != payload[i] {
			t.Fatalf("data[%d] = %d, want %d", i, b, payload[i])
		}
	}
}
