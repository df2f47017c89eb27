package exec

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/reinauer/amifuse/internal/amierr"
	"github.com/reinauer/amifuse/internal/memory"
	"github.com/reinauer/amifuse/internal/mlog"
)

// TrapFunc implements one library vector. It runs with the emulated CPU
// paused at the call site and returns once the effect (register/memory
// writes) is visible; the caller is responsible for the RTS-equivalent
// (popping the return address into PC).
type TrapFunc func(k *Kernel) error

// trapBase is the first of a contiguous run of 0xAxxx trap addresses used
// as call targets for library vectors, mirroring how real AmigaDOS jump
// tables hold a JMP into the resident library body: here each jump-table
// JMP targets one of these addresses, and Unicorn's code hook intercepts
// execution there by address. Nothing is written at the trap addresses.
const trapBase uint64 = 0x0000A000

// Kernel is the virtual Exec/DOS/Utility kernel: a table of trap handlers
// keyed by address, the libraries' jump-vector bases, and the open ports.
type Kernel struct {
	mem   *memory.Arena
	log   *mlog.Logger
	traps map[uint64]trapEntry
	next  uint64

	libBases     map[string]uint64            // library name -> jump table base, once built
	vectorsByLib map[string][]registeredVector // library name -> vectors awaiting a jump table
	ports        map[uint64]*Port              // port addr -> shadow

	onCreatePort func(p *Port) // one-shot bootstrap hook, see internal/bootstrap
	replyWaiters map[uint64]func()
}

type trapEntry struct {
	library string
	vector  string
	fn      TrapFunc
}

// registeredVector is one Register call awaiting a real jump-table slot:
// the vector name (used to look up its LVO offset) and the trap address
// Register already assigned it.
type registeredVector struct {
	vector   string
	trapAddr uint64
}

// NewKernel builds an empty kernel bound to mem. Call Register for each
// vector the handler is allowed to call, then Install to wire the code hook.
func NewKernel(mem *memory.Arena, log *mlog.Logger) *Kernel {
	return &Kernel{
		mem:          mem,
		log:          log,
		traps:        make(map[uint64]trapEntry),
		next:         trapBase,
		libBases:     make(map[string]uint64),
		vectorsByLib: make(map[string][]registeredVector),
		ports:        make(map[uint64]*Port),
		replyWaiters: make(map[uint64]func()),
	}
}

// AwaitReply registers fn to run the next time the handler replies to the
// message at msgAddr (via ReplyMsg). Used by internal/bridge to learn when
// a packet it posted has been answered, without the kernel needing to know
// anything about packet semantics.
func (k *Kernel) AwaitReply(msgAddr uint64, fn func()) {
	k.replyWaiters[msgAddr] = fn
}

// Register allocates the next trap address for library/vector and binds fn
// to it, returning the address. The address is only reachable once
// LibraryBase builds library's jump table and writes a JMP to it at the
// vector's real LVO offset; Register alone does not make the vector
// callable.
func (k *Kernel) Register(library, vector string, fn TrapFunc) uint64 {
	addr := k.next
	k.next += 2 // A-line opcodes are one word
	k.traps[addr] = trapEntry{library: library, vector: vector, fn: fn}
	k.vectorsByLib[library] = append(k.vectorsByLib[library], registeredVector{vector: vector, trapAddr: addr})
	return addr
}

// OnCreatePort installs a one-shot callback fired the next time
// CreateMsgPort runs. Used by internal/bootstrap to learn the handler's
// packet port.
func (k *Kernel) OnCreatePort(fn func(p *Port)) {
	k.onCreatePort = fn
}

// Port looks up a previously created port's shadow by its guest address.
func (k *Kernel) Port(addr uint64) (*Port, bool) {
	p, ok := k.ports[addr]
	return p, ok
}

// Install attaches the trap dispatch to eng as a HOOK_CODE callback over the
// trap address range, then materializes exec.library's jump table and
// writes its base into absolute address 4. A real AmigaDOS binary's very
// first instructions are "move.l 4,a6" followed by a JSR through a6's LVO
// offset — address 4 must already hold a usable ExecBase, with a real jump
// table behind it, before the handler executes a single instruction; dos.
// library and utility.library are built lazily instead, the first time
// OpenLibrary asks for them, since nothing reaches them before then.
//
// Every instruction fetch in [trapBase, next) is intercepted; addresses
// with no registered entry are a ProtocolViolation.
func (k *Kernel) Install(eng *uc.Unicorn) error {
	_, err := eng.HookAdd(uc.HOOK_CODE, func(u *uc.Unicorn, addr uint64, size uint32) {
		entry, ok := k.traps[addr]
		if !ok {
			k.fail(&amierr.ProtocolViolation{Detail: fmt.Sprintf("unmapped library vector at 0x%08x", addr)})
			return
		}
		k.log.Trap(addr, entry.library, entry.vector)
		if err := entry.fn(k); err != nil {
			k.fail(err)
			return
		}
		if err := k.returnFromTrap(); err != nil {
			k.fail(err)
		}
	}, trapBase, k.next)
	if err != nil {
		return err
	}

	execBase, err := k.LibraryBase("exec.library")
	if err != nil {
		return err
	}
	return k.mem.WriteU32(4, uint32(execBase))
}

func (k *Kernel) fail(err error) {
	k.log.Error(err.Error())
	_ = k.mem.Engine().Stop()
}

// returnFromTrap pops the return address pushed by the handler's JSR and
// resumes there, the m68k analog of setting PC = LR on link-register
// architectures.
func (k *Kernel) returnFromTrap() error {
	sp, err := k.mem.SP()
	if err != nil {
		return err
	}
	retAddr, err := k.mem.ReadU32(sp)
	if err != nil {
		return err
	}
	if err := k.mem.SetSP(sp + 4); err != nil {
		return err
	}
	return k.mem.SetPC(uint64(retAddr))
}

// Mem exposes the bound arena to trap implementations in other files of
// this package.
func (k *Kernel) Mem() *memory.Arena { return k.mem }

// libHeaderSize is struct Library's fixed header (exec/libraries.h),
// occupying the bytes at and after the base pointer. The jump table itself
// lives below the base, at negative offsets, sized to the most distant
// vector this library has registered.
const libHeaderSize = 34

// LibraryBase returns the jump-table base address OpenLibrary/OpenDevice
// should hand back for name, building it on first use: every vector
// Register bound for this library gets a real JMP instruction written at
// base+lvoOffset, so a handler's "jsr _LVOxxx(a6)" lands on an actual
// redirect into this kernel's trap table instead of an address this tree
// never connects to anything (the defect this replaces).
func (k *Kernel) LibraryBase(name string) (uint64, error) {
	if base, ok := k.libBases[name]; ok {
		return base, nil
	}

	offsets := lvoOffsets[name]
	var tableSize int32
	for _, v := range k.vectorsByLib[name] {
		off, ok := offsets[v.vector]
		if !ok {
			return 0, &amierr.ProtocolViolation{Detail: "no LVO offset known for " + name + "/" + v.vector}
		}
		if -off > tableSize {
			tableSize = -off
		}
	}

	block, err := k.mem.Alloc(int(tableSize) + libHeaderSize)
	if err != nil {
		return 0, err
	}
	base := block + uint64(tableSize)

	for _, v := range k.vectorsByLib[name] {
		vecAddr := uint64(int64(base) + int64(offsets[v.vector]))
		if err := writeJump(k.mem, vecAddr, v.trapAddr); err != nil {
			return 0, err
		}
	}

	k.libBases[name] = base
	return base, nil
}

// jmpAbsoluteLong is the m68k opcode for "JMP xxx.L" (an absolute long
// addressing-mode jump): the opcode word followed by the 4-byte target.
const jmpAbsoluteLong = 0x4EF9

// writeJump installs a real JMP instruction at addr redirecting to target.
// This is the actual jump-table entry a library vector is: the handler's
// JSR lands on addr, executes this JMP, and arrives at target (a hooked
// trap address in [trapBase, next)) without addr itself needing to be
// anywhere near the trap range.
func writeJump(mem *memory.Arena, addr, target uint64) error {
	if err := mem.WriteU16(addr, jmpAbsoluteLong); err != nil {
		return err
	}
	return mem.WriteU32(addr+2, uint32(target))
}
