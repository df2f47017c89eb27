package bootstrap

import (
	"time"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/exec"
	"github.com/reinauer/amifuse/internal/memory"
)

// ActionStartup is dos.library's ACTION_STARTUP (action code 0), the packet
// every handler must answer before it will process any other request.
const ActionStartup = 0

// Budget bounds how long the handler gets to create its packet port and
// reply to ACTION_STARTUP, per spec.md's 5s / 2e8-cycle boot budget.
const (
	CycleBudget = 200_000_000
	TimeBudget  = 5 * time.Second
)

// bootSliceInstructions is the bounded-slice size Boot drives the CPU in
// while waiting for ACTION_STARTUP's reply — the same bounded-slice idiom
// internal/bridge.Bridge.Send uses for ordinary packets
// (bridge.SliceInstructions), so a handler that replies promptly doesn't
// have to burn the entire cycle budget before Boot notices, and a slow boot
// is caught against the wall-clock budget between slices rather than only
// after a single unbounded run.
const bootSliceInstructions = 10_000

// Boot runs h from its entry point until the handler creates a message port
// and replies to an ACTION_STARTUP packet delivered to it, or the budget is
// exhausted. It returns the handler's packet port so the bridge
// (internal/bridge) can address subsequent packets to it, along with the
// volume root lock the successful startup reply carries in its second
// result (spec.md §4.3/§4.6: "A successful startup reply yields the root
// lock in result2").
func Boot(mem *memory.Arena, k *exec.Kernel, h *Handler) (*exec.Port, uint64, error) {
	startupPacketAddr, err := buildStartupPacket(mem)
	if err != nil {
		return nil, 0, err
	}

	portCh := make(chan *exec.Port, 1)
	replied := false

	k.OnCreatePort(func(p *exec.Port) {
		p.PutMsg(startupPacketAddr)
		portCh <- p
	})
	k.AwaitReply(startupPacketAddr, func() { replied = true })

	eng := mem.Engine()
	var instrCount uint64
	hookID, err := eng.HookAdd(uc.HOOK_CODE, func(u *uc.Unicorn, addr uint64, size uint32) {
		instrCount++
		if instrCount%bootSliceInstructions == 0 {
			_ = eng.Stop()
		}
	}, 1, 0)
	if err != nil {
		return nil, 0, err
	}
	defer eng.HookDel(hookID)

	if err := mem.SetPC(h.EntryAddr); err != nil {
		return nil, 0, err
	}

	deadline := time.Now().Add(TimeBudget)
	var port *exec.Port
	for instrCount < CycleBudget {
		if replied {
			break
		}
		if time.Now().After(deadline) {
			return nil, 0, &amierr.HandlerBootFailed{Reason: "time budget exceeded before handler replied to ACTION_STARTUP"}
		}
		pc, err := mem.PC()
		if err != nil {
			return nil, 0, err
		}
		if err := eng.Start(pc, 0); err != nil {
			return nil, 0, &amierr.HandlerBootFailed{Reason: err.Error()}
		}
		if replied {
			break
		}
		select {
		case port = <-portCh:
		default:
		}
	}
	if !replied {
		return nil, 0, &amierr.HandlerBootFailed{Reason: "cycle budget exceeded before handler replied to ACTION_STARTUP"}
	}
	if port == nil {
		select {
		case port = <-portCh:
		default:
			return nil, 0, &amierr.HandlerBootFailed{Reason: "handler replied to ACTION_STARTUP without ever creating a port"}
		}
	}

	reply, err := exec.ReadPacket(mem, startupPacketAddr)
	if err != nil {
		return nil, 0, err
	}
	if reply.Res1 == 0 {
		return nil, 0, &amierr.HandlerBootFailed{Reason: "handler rejected ACTION_STARTUP"}
	}
	return port, uint64(reply.Res2), nil
}

// buildStartupPacket allocates and fills the ACTION_STARTUP DosPacket. Only
// dp_Type is set; dp_Arg1..dp_Arg7 are left zero, so the handler is given no
// device name, environment vector or startup message.
func buildStartupPacket(mem *memory.Arena) (uint64, error) {
	addr, err := mem.Alloc(64)
	if err != nil {
		return 0, err
	}
	if err := mem.WriteBytes(addr, make([]byte, 64)); err != nil {
		return 0, err
	}
	if err := mem.WriteU32(addr+8 /* dp_Type */, uint32(ActionStartup)); err != nil {
		return 0, err
	}
	return addr, nil
}
