package exec

import "github.com/reinauer/amifuse/internal/amierr"

// RegisterExecVectors wires the handful of exec.library calls a PFS3-class
// handler actually issues: port/message primitives and a flat allocator.
// Each function here is registered as a TrapFunc the same way galago's
// pthread stubs are registered one per primitive, but these genuinely act
// on the port/queue model in types.go instead of unconditionally returning
// success.
func RegisterExecVectors(k *Kernel) {
	k.Register("exec.library", "CreateMsgPort", execCreateMsgPort)
	k.Register("exec.library", "DeleteMsgPort", execDeleteMsgPort)
	k.Register("exec.library", "PutMsg", execPutMsg)
	k.Register("exec.library", "GetMsg", execGetMsg)
	k.Register("exec.library", "ReplyMsg", execReplyMsg)
	k.Register("exec.library", "WaitPort", execWaitPort)
	k.Register("exec.library", "AllocMem", execAllocMem)
	k.Register("exec.library", "FreeMem", execFreeMem)
	k.Register("exec.library", "OpenLibrary", execOpenLibrary)
	k.Register("exec.library", "CloseLibrary", execCloseLibrary)
	k.Register("exec.library", "OpenDevice", execOpenDevice)
}

// Calling convention: arguments arrive in D0/D1/... and A0/A1/... per the
// handler's own register-based ABI for these vectors (mirrored from the
// stub calling convention the handler was built against); results are
// returned in D0 and/or A0.

func execCreateMsgPort(k *Kernel) error {
	p, err := NewPort(k.mem)
	if err != nil {
		return err
	}
	k.ports[p.Addr] = p
	if k.onCreatePort != nil {
		fn := k.onCreatePort
		k.onCreatePort = nil
		fn(p)
	}
	return k.mem.SetA(0, p.Addr)
}

func execDeleteMsgPort(k *Kernel) error {
	addr, err := k.mem.A(0)
	if err != nil {
		return err
	}
	delete(k.ports, addr)
	return nil
}

func execPutMsg(k *Kernel) error {
	portAddr, err := k.mem.A(0)
	if err != nil {
		return err
	}
	msgAddr, err := k.mem.A(1)
	if err != nil {
		return err
	}
	p, ok := k.ports[portAddr]
	if !ok {
		return &amierr.ProtocolViolation{Detail: "PutMsg to unknown port"}
	}
	p.PutMsg(msgAddr)
	return nil
}

func execGetMsg(k *Kernel) error {
	portAddr, err := k.mem.A(0)
	if err != nil {
		return err
	}
	p, ok := k.ports[portAddr]
	if !ok {
		return &amierr.ProtocolViolation{Detail: "GetMsg on unknown port"}
	}
	if addr, ok := p.GetMsg(); ok {
		return k.mem.SetA(0, addr)
	}
	return k.mem.SetA(0, 0)
}

func execReplyMsg(k *Kernel) error {
	msgAddr, err := k.mem.A(1)
	if err != nil {
		return err
	}
	if fn, ok := k.replyWaiters[msgAddr]; ok {
		delete(k.replyWaiters, msgAddr)
		fn()
		return nil
	}
	// Not a message this kernel is tracking a waiter for: deliver it to its
	// reply port the ordinary way so host-issued traffic this bridge
	// didn't originate (none, currently) still behaves like real Exec.
	replyPort, err := k.mem.ReadU32(msgAddr + mnReplyPort)
	if err != nil {
		return err
	}
	if replyPort == 0 {
		return nil // no reply port: nothing to deliver to
	}
	p, ok := k.ports[uint64(replyPort)]
	if !ok {
		return &amierr.ProtocolViolation{Detail: "ReplyMsg to unknown reply port"}
	}
	p.PutMsg(msgAddr)
	return nil
}

// execWaitPort never blocks the emulated CPU itself — the bridge's driver
// loop is what actually suspends, between cycle slices (§4.5/§5). It
// returns at once without looking at the port and leaves D0/A0 as they
// were; it does not wait for a message, so a WaitPort on an empty port
// returns immediately. The bridge posts each packet before it resumes the
// CPU, so the first WaitPort after a Send finds that packet queued.
func execWaitPort(k *Kernel) error {
	return nil
}

func execAllocMem(k *Kernel) error {
	size, err := k.mem.D(0)
	if err != nil {
		return err
	}
	addr, err := k.mem.Alloc(int(size))
	if err != nil {
		return k.mem.SetA(0, 0)
	}
	return k.mem.SetA(0, addr)
}

func execFreeMem(k *Kernel) error {
	addr, err := k.mem.A(0)
	if err != nil {
		return err
	}
	size, err := k.mem.D(0)
	if err != nil {
		return err
	}
	k.mem.Free(addr, int(size))
	return nil
}

// execOpenLibrary recognizes exactly the three libraries this kernel
// models; anything else is a protocol violation (Design Note 9: unknown
// vectors trap with ProtocolViolation).
func execOpenLibrary(k *Kernel) error {
	nameAddr, err := k.mem.A(1)
	if err != nil {
		return err
	}
	name, err := k.mem.ReadCString(nameAddr)
	if err != nil {
		return err
	}
	switch name {
	case "exec.library", "dos.library", "utility.library":
		base, err := k.LibraryBase(name)
		if err != nil {
			return err
		}
		return k.mem.SetA(0, base)
	default:
		return &amierr.ProtocolViolation{Detail: "OpenLibrary(" + name + ") not modeled"}
	}
}

func execCloseLibrary(k *Kernel) error { return nil }

// execOpenDevice recognizes exactly trackdisk.device. It writes nothing into
// the IORequest: every DoIO/SendIO reaches the single device that
// RegisterDeviceVectors bound at mount time.
func execOpenDevice(k *Kernel) error {
	nameAddr, err := k.mem.A(0)
	if err != nil {
		return err
	}
	name, err := k.mem.ReadCString(nameAddr)
	if err != nil {
		return err
	}
	if name != "trackdisk.device" {
		return &amierr.ProtocolViolation{Detail: "OpenDevice(" + name + ") not modeled"}
	}
	return k.mem.SetD(0, 0) // IOERR_SUCCESS equivalent, io_Device bound by caller
}
