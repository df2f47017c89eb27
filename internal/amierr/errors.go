// Package amierr defines the typed error taxonomy the bridge and FUSE
// adapter use to translate AmigaDOS and emulator failures into POSIX errno
// values and CLI exit codes.
package amierr

import (
	"fmt"
	"syscall"
)

// ImageError wraps a failure to open or interpret the disk image file.
type ImageError struct {
	Path string
	Err  error
}

func (e *ImageError) Error() string { return fmt.Sprintf("image %q: %v", e.Path, e.Err) }
func (e *ImageError) Unwrap() error { return e.Err }

// HandlerLoadError wraps a failure to parse or relocate the handler binary.
type HandlerLoadError struct {
	Path string
	Err  error
}

func (e *HandlerLoadError) Error() string { return fmt.Sprintf("handler %q: %v", e.Path, e.Err) }
func (e *HandlerLoadError) Unwrap() error { return e.Err }

// HandlerBootFailed indicates the handler did not complete ACTION_STARTUP:
// it never replied within the boot budget, replied with failure, or replied
// without having created a port.
type HandlerBootFailed struct {
	Reason string
}

func (e *HandlerBootFailed) Error() string { return "handler boot failed: " + e.Reason }

// PacketTimeout indicates a packet's reply never arrived within the cycle
// budget for a single packet (one bridge Send).
type PacketTimeout struct {
	Action int32
}

func (e *PacketTimeout) Error() string {
	return fmt.Sprintf("packet timeout: action %d", e.Action)
}

// PacketError wraps an AmigaDOS dos_library error code (packet res2), along
// with the errno it maps to so callers never re-derive the mapping.
type PacketError struct {
	Action int32
	Code   int32
	Errno  syscall.Errno
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("packet error: action %d code %d (%v)", e.Action, e.Code, e.Errno)
}

// BusError indicates the handler accessed memory outside the emulated
// arena. Always fatal to the mount.
type BusError struct {
	Err error
}

func (e *BusError) Error() string { return fmt.Sprintf("bus error: %v", e.Err) }
func (e *BusError) Unwrap() error { return e.Err }

// ProtocolViolation indicates the handler invoked a library vector or
// trackdisk command this implementation does not model.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string { return "protocol violation: " + e.Detail }

// dosErrnoTable maps an AmigaDOS dos_library error code (packet res2) to a
// POSIX errno: 204/205 (directory/object not found) -> ENOENT, 202 (object
// in use) -> EBUSY, plus the other codes listed below. 232 (NoMoreEntries)
// is end-of-dir and never surfaced as an errno — callers check for it
// before consulting this table; 212 (ObjectWrongType) -> ENOTDIR/EISDIR per
// context (see ErrnoForLookup); any code not in the table -> EIO.
var dosErrnoTable = map[int32]syscall.Errno{
	202: syscall.EBUSY,  // ERROR_OBJECT_IN_USE
	203: syscall.EEXIST, // ERROR_OBJECT_EXISTS
	204: syscall.ENOENT, // ERROR_DIR_NOT_FOUND
	205: syscall.ENOENT, // ERROR_OBJECT_NOT_FOUND
	213: syscall.EACCES, // ERROR_DELETE_PROTECTED
	214: syscall.EROFS,  // ERROR_WRITE_PROTECTED (read-only mount)
	215: syscall.EACCES, // ERROR_READ_PROTECTED
	216: syscall.EINVAL, // ERROR_NOT_A_DOS_DISK
	220: syscall.EINVAL, // ERROR_SEEK_ERROR
	226: syscall.EXDEV,  // ERROR_DISK_NOT_VALIDATED
}

// NoMoreEntries is AmigaDOS's ERROR_NO_MORE_ENTRIES (dos/dos.h): the
// ACTION_EXAMINE_NEXT end-of-directory signal. Never translated to an
// errno; invcache checks for it directly and stops iterating.
const NoMoreEntries int32 = 232

// ObjectWrongType is ERROR_OBJECT_WRONG_TYPE: a lookup found an object of
// the wrong kind (file where a directory was expected, or vice versa).
// Its errno depends on which way the mismatch ran (ErrnoForLookup).
const ObjectWrongType int32 = 212

// Errno maps an AmigaDOS dos_library error code to a POSIX errno. Unknown
// codes, and ObjectWrongType without lookup context, conservatively map to
// EIO.
func Errno(code int32) syscall.Errno {
	if e, ok := dosErrnoTable[code]; ok {
		return e
	}
	return syscall.EIO
}

// ErrnoForLookup resolves code the way a path lookup must: ObjectWrongType
// means the caller addressed a file as a directory (wantDir) or a directory
// as a file (!wantDir), mapping to ENOTDIR or EISDIR respectively. Every
// other code falls back to Errno.
func ErrnoForLookup(code int32, wantDir bool) syscall.Errno {
	if code == ObjectWrongType {
		if wantDir {
			return syscall.ENOTDIR
		}
		return syscall.EISDIR
	}
	return Errno(code)
}

// NewPacketError builds a PacketError with the errno already resolved.
func NewPacketError(action, code int32) *PacketError {
	return &PacketError{Action: action, Code: code, Errno: Errno(code)}
}

// NewLookupError builds a PacketError using ErrnoForLookup's context-aware
// mapping for ObjectWrongType.
func NewLookupError(action, code int32, wantDir bool) *PacketError {
	return &PacketError{Action: action, Code: code, Errno: ErrnoForLookup(code, wantDir)}
}
