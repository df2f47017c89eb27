// Package trackdisk implements the virtual trackdisk.device the handler
// issues CMD_READ/CMD_WRITE/TD_* IORequests to, backed by the host disk
// image file. Command dispatch is a single switch on the IORequest command
// code in Device.Do.
package trackdisk

import (
	"fmt"
	"io"
	"os"

	"github.com/reinauer/amifuse/internal/amierr"
)

// IORequest command codes (devices/trackdisk.h).
const (
	CmdRead          = 2
	CmdWrite         = 3
	CmdUpdate        = 4
	CmdClear         = 5
	TDCmdGetDriveType = 18
	TDGetGeometry     = 22
	TDAddChangeInt    = 20
	TDRemChangeInt    = 21
	TDProtStatus      = 15
	TDChangeNum       = 13
)

// IOErr codes (exec/errors.h), as returned in io_Error.
const (
	IOErrSuccess = 0
	IOErrNoCmd   = 31
	IOErrBadLen  = 33
)

// Geometry describes the synthesized disk geometry reported to
// TD_GETGEOMETRY and used to resolve the 512-byte default block size.
type Geometry struct {
	BlockSize  uint32
	Cylinders  uint32
	Heads      uint32
	SectorsPerTrack uint32
	TotalBlocks uint32
}

// Device is the virtual trackdisk.device: a read-only view over a disk
// image file.
type Device struct {
	img      *os.File
	size     int64
	geometry Geometry
}

// Open opens path read-only and synthesizes a geometry. blockSize is the
// CLI-supplied fallback; RDB detection (if an "RDSK" block is found) takes
// precedence, then the CLI flag, then 512 — the precedence spec.md's design
// notes left open, resolved here in that order.
func Open(path string, cliBlockSize uint32) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &amierr.ImageError{Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &amierr.ImageError{Path: path, Err: err}
	}

	blockSize := cliBlockSize
	if blockSize == 0 {
		blockSize = 512
	}
	if rdb, err := ReadRDB(f); err == nil && rdb != nil {
		blockSize = rdb.BlockSize
	}

	d := &Device{img: f, size: info.Size(), geometry: synthesizeGeometry(info.Size(), blockSize)}
	return d, nil
}

func (d *Device) Close() error { return d.img.Close() }

func (d *Device) Geometry() Geometry { return d.geometry }

// synthesizeGeometry picks a plausible cylinders/heads/sectors split for an
// image of the given size: 63 sectors/track, a fixed 16 heads, and as many
// whole cylinders as fit (at least 1). It is used for every image; the
// geometry an RDB's environment vector carries is not read.
func synthesizeGeometry(size int64, blockSize uint32) Geometry {
	const sectorsPerTrack = 63
	heads := uint32(16)
	totalBlocks := uint32(size / int64(blockSize))
	blocksPerCyl := heads * sectorsPerTrack
	cylinders := totalBlocks / blocksPerCyl
	if cylinders == 0 {
		cylinders = 1
	}
	return Geometry{
		BlockSize:       blockSize,
		Cylinders:       cylinders,
		Heads:           heads,
		SectorsPerTrack: sectorsPerTrack,
		TotalBlocks:     totalBlocks,
	}
}

// IORequest is the Go-side decoding of the fields this device cares about
// from an emulated IORequest/IOStdReq.
type IORequest struct {
	Command uint16
	Offset  int64 // io_Offset, byte offset into the medium
	Length  uint32
	Data    []byte // for CMD_WRITE; filled in for CMD_READ replies
}

// Result carries back the fields the caller must write into io_Error /
// io_Actual.
type Result struct {
	Error  uint8
	Actual uint32
	Data   []byte
}

// Do dispatches req by command code, the virtual device's single entry
// point (the trackdisk.device analog of DoIO).
func (d *Device) Do(req IORequest) (Result, error) {
	switch req.Command {
	case CmdRead:
		return d.cmdRead(req)
	case CmdWrite:
		return Result{Error: IOErrNoCmd}, nil // read-only mount
	case CmdUpdate, CmdClear:
		return Result{Error: IOErrSuccess}, nil
	case TDChangeNum:
		return Result{Error: IOErrSuccess, Actual: 0}, nil // disk never changes
	case TDProtStatus:
		return Result{Error: IOErrSuccess, Actual: 1}, nil // write-protected
	case TDGetGeometry:
		return d.cmdGetGeometry(req)
	case TDAddChangeInt, TDRemChangeInt:
		return Result{Error: IOErrSuccess}, nil
	case TDCmdGetDriveType:
		return Result{Error: IOErrSuccess, Actual: 1}, nil // DRIVE3_5
	default:
		return Result{}, &amierr.ProtocolViolation{Detail: fmt.Sprintf("trackdisk command %d not modeled", req.Command)}
	}
}

func (d *Device) cmdRead(req IORequest) (Result, error) {
	if req.Offset < 0 || req.Offset+int64(req.Length) > d.size {
		return Result{Error: IOErrBadLen}, nil
	}
	buf := make([]byte, req.Length)
	n, err := d.img.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return Result{}, &amierr.ImageError{Err: err}
	}
	return Result{Error: IOErrSuccess, Actual: uint32(n), Data: buf[:n]}, nil
}

func (d *Device) cmdGetGeometry(req IORequest) (Result, error) {
	g := d.geometry
	buf := make([]byte, 32) // struct DriveGeometry, devices/trackdisk.h
	putU32(buf[0:], g.BlockSize)
	putU32(buf[4:], g.Cylinders*g.Heads*g.SectorsPerTrack*g.BlockSize/g.BlockSize) // TotalSectors
	putU32(buf[8:], g.Cylinders)
	putU32(buf[12:], g.Heads*g.SectorsPerTrack) // CylSectors
	putU32(buf[16:], g.Heads)
	putU32(buf[20:], g.SectorsPerTrack)
	// dg_BufMemType, dg_DeviceType (DG_DIRECT_ACCESS = 0), dg_Flags and
	// dg_Reserved stay zero.
	return Result{Error: IOErrSuccess, Actual: uint32(len(buf)), Data: buf}, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
