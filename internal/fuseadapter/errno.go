package fuseadapter

import (
	"errors"
	"syscall"

	"bazil.org/fuse"

	"github.com/reinauer/amifuse/internal/amierr"
)

// toFuseErrno maps a bridge/cache error to the fuse.Errno value FUSE sends
// back to the kernel. PacketError already carries its resolved errno
// (internal/amierr); every other error kind (BusError, PacketTimeout,
// ProtocolViolation, ...) becomes EIO for that one call, and the mount
// keeps serving afterwards.
func toFuseErrno(err error) error {
	if err == nil {
		return nil
	}
	var pe *amierr.PacketError
	if errors.As(err, &pe) {
		return fuse.Errno(pe.Errno)
	}
	return fuse.Errno(syscall.EIO)
}
