package exec

import (
	"github.com/reinauer/amifuse/internal/trackdisk"
)

// RegisterDeviceVectors wires DoIO/SendIO/WaitIO/CheckIO to disk, the
// virtual trackdisk.device (C3) every CMD_READ the handler issues against
// the mounted image ultimately reaches. SendIO/WaitIO/CheckIO are modeled
// as their synchronous DoIO equivalent: §4.2 notes the task model is
// cooperative with only the handler ever runnable, so there is no actual
// asynchrony to preserve — an issued request always completes before the
// vector call returns.
func RegisterDeviceVectors(k *Kernel, disk *trackdisk.Device) {
	do := func(k *Kernel) error { return doIO(k, disk) }
	k.Register("exec.library", "DoIO", do)
	k.Register("exec.library", "SendIO", do)
	k.Register("exec.library", "WaitIO", func(k *Kernel) error {
		reqAddr, err := k.mem.A(1)
		if err != nil {
			return err
		}
		ioErr, err := k.mem.ReadU8(reqAddr + ioError)
		if err != nil {
			return err
		}
		return k.mem.SetD(0, uint32(ioErr))
	})
	k.Register("exec.library", "CheckIO", func(k *Kernel) error {
		reqAddr, err := k.mem.A(1)
		if err != nil {
			return err
		}
		return k.mem.SetD(0, uint32(reqAddr)) // always complete: return the request
	})
}

// doIO decodes the IORequest addressed by A1, dispatches it to disk, and
// writes the result (io_Error/io_Actual, and any read data) back into guest
// RAM — the one place the emulated CPU and the host disk image file touch.
func doIO(k *Kernel, disk *trackdisk.Device) error {
	reqAddr, err := k.mem.A(1)
	if err != nil {
		return err
	}
	req, err := ReadIORequest(k.mem, reqAddr)
	if err != nil {
		return err
	}

	result, err := disk.Do(trackdisk.IORequest{
		Command: req.Command,
		Offset:  req.Offset,
		Length:  req.Length,
	})
	if err != nil {
		return err // already a typed amierr.* value (ImageError or ProtocolViolation)
	}

	if err := WriteIOResult(k.mem, reqAddr, result.Error, result.Actual, result.Data); err != nil {
		return err
	}
	return k.mem.SetD(0, uint32(result.Error))
}
