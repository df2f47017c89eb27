// Package bridge implements the synchronous AmigaDOS packet RPC: marshal a
// request into guest RAM, post it to the handler's port, drive the CPU in
// bounded slices until the reply arrives (servicing any trackdisk I/O the
// handler issues along the way), and decode the result.
package bridge

import (
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/exec"
	"github.com/reinauer/amifuse/internal/memory"
	"github.com/reinauer/amifuse/internal/mlog"
	"github.com/reinauer/amifuse/internal/trackdisk"
)

// SliceInstructions is how many m68k instructions the bridge runs per
// driver-loop iteration before checking for a reply, a bus error, or an
// exhausted packet budget — the bounded-slice idiom spec.md's concurrency
// model calls for instead of a single unbounded Run.
const SliceInstructions = 10_000

// PacketBudget bounds how many slices a single packet (one Send) gets before
// it gives up with PacketTimeout.
const PacketBudget = 500 // 5,000,000 instructions

// Bridge owns the single CPU lock: Send acquires cpuLock for its entire
// marshal/post/drive/decode sequence, so concurrent FUSE calls (each issuing
// one or more Sends through internal/invcache) serialize at packet
// granularity exactly as spec.md §5 requires, without callers needing to
// know the lock exists.
type Bridge struct {
	cpuLock sync.Mutex

	mem    *memory.Arena
	kernel *exec.Kernel
	disk   *trackdisk.Device
	log    *mlog.Logger
	port   *exec.Port
}

// New builds a bridge bound to an already-booted handler.
func New(mem *memory.Arena, kernel *exec.Kernel, disk *trackdisk.Device, log *mlog.Logger, port *exec.Port) *Bridge {
	return &Bridge{mem: mem, kernel: kernel, disk: disk, log: log, port: port}
}

// Mem exposes the arena to internal/invcache, which marshals its own
// packets through Send.
func (b *Bridge) Mem() *memory.Arena { return b.mem }

// Disk exposes the virtual trackdisk device action implementations may need
// (none currently call it directly; the handler drives it itself, serviced
// inline in driveUntilReply).
func (b *Bridge) Disk() *trackdisk.Device { return b.disk }

// Send posts a new DosPacket with the given action/args to the handler's
// port, drives the CPU until the reply lands, and returns the decoded
// result. This is the bridge's one entry point; every FUSE operation in
// internal/fuseadapter funnels through it.
func (b *Bridge) Send(action int32, args ...uint32) (*exec.Packet, error) {
	b.cpuLock.Lock()
	defer b.cpuLock.Unlock()

	pktAddr, err := b.buildPacket(action, args)
	if err != nil {
		return nil, err
	}

	replied := false
	b.kernel.AwaitReply(pktAddr, func() { replied = true })
	b.port.PutMsg(pktAddr)

	if err := b.driveUntilReply(&replied); err != nil {
		return nil, err
	}
	return exec.ReadPacket(b.mem, pktAddr)
}

func (b *Bridge) buildPacket(action int32, args []uint32) (uint64, error) {
	const packetSize = 64
	addr, err := b.mem.Alloc(packetSize)
	if err != nil {
		return 0, err
	}
	if err := b.mem.WriteBytes(addr, make([]byte, packetSize)); err != nil {
		return 0, err
	}
	if err := b.mem.WriteU32(addr+8, uint32(action)); err != nil {
		return 0, err
	}
	for i, a := range args {
		if i >= 7 {
			break
		}
		if err := b.mem.WriteU32(addr+20+uint64(i)*4, a); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// driveUntilReply runs the CPU in SliceInstructions-sized bursts until
// *replied is set true by the ReplyMsg trap (internal/exec.Kernel.AwaitReply)
// or the packet budget is exhausted. Any trackdisk I/O the handler issues
// in between is serviced synchronously by the same trap table that reaches
// back into internal/trackdisk, so no special casing is needed here.
func (b *Bridge) driveUntilReply(replied *bool) error {
	eng := b.mem.Engine()
	var sliceCount uint64
	hookID, err := eng.HookAdd(uc.HOOK_CODE, func(u *uc.Unicorn, addr uint64, size uint32) {
		sliceCount++
		if sliceCount%SliceInstructions == 0 {
			_ = eng.Stop()
		}
	}, 1, 0)
	if err != nil {
		return err
	}
	defer eng.HookDel(hookID)

	for slice := 0; slice < PacketBudget; slice++ {
		if *replied {
			return nil
		}
		pc, err := b.mem.PC()
		if err != nil {
			return err
		}
		if err := eng.Start(pc, 0); err != nil {
			return &amierr.BusError{Err: err}
		}
		if *replied {
			return nil
		}
	}
	return &amierr.PacketTimeout{}
}
