package exec

import "github.com/reinauer/amifuse/internal/memory"

// IORequest field offsets (struct IOStdReq, exec/io.h / devices/trackdisk.h),
// laid out after an embedded Message:
//   io_Device, io_Unit, io_Command, io_Flags, io_Error, io_Actual, io_Length,
//   io_Data, io_Offset.
const (
	ioDevice  = messageSize + 0
	ioUnit    = messageSize + 4
	ioCommand = messageSize + 8
	ioFlags   = messageSize + 10
	ioError   = messageSize + 11
	ioActual  = messageSize + 12
	ioLength  = messageSize + 16
	ioData    = messageSize + 20
	ioOffset  = messageSize + 24

	IORequestSize = ioOffset + 4
)

// IOStdReq is the Go-side decoding of the fields the virtual trackdisk
// device (internal/trackdisk) needs out of an emulated IORequest.
type IOStdReq struct {
	Addr    uint64
	Command uint16
	Length  uint32
	Data    uint64 // guest address of the I/O buffer
	Offset  int64
}

// ReadIORequest decodes an IOStdReq at addr.
func ReadIORequest(mem *memory.Arena, addr uint64) (*IOStdReq, error) {
	cmd, err := mem.ReadU16(addr + ioCommand)
	if err != nil {
		return nil, err
	}
	length, err := mem.ReadU32(addr + ioLength)
	if err != nil {
		return nil, err
	}
	data, err := mem.ReadU32(addr + ioData)
	if err != nil {
		return nil, err
	}
	offset, err := mem.ReadU32(addr + ioOffset)
	if err != nil {
		return nil, err
	}
	return &IOStdReq{Addr: addr, Command: cmd, Length: length, Data: uint64(data), Offset: int64(int32(offset))}, nil
}

// WriteIOResult stores a command's outcome (io_Error/io_Actual, and the data
// bytes for a read) back into guest RAM.
func WriteIOResult(mem *memory.Arena, addr uint64, errCode uint8, actual uint32, data []byte) error {
	if err := mem.WriteU8(addr+ioError, errCode); err != nil {
		return err
	}
	if err := mem.WriteU32(addr+ioActual, actual); err != nil {
		return err
	}
	if len(data) > 0 {
		dataPtr, err := mem.ReadU32(addr + ioData)
		if err != nil {
			return err
		}
		if err := mem.WriteBytes(uint64(dataPtr), data); err != nil {
			return err
		}
	}
	return nil
}
