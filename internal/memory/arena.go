// Package memory implements the big-endian m68k address space the handler
// binary runs in: a single Unicorn-backed arena plus the BCPL pointer and
// string conventions AmigaDOS structures are built from.
package memory

import (
	"encoding/binary"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Layout of the emulated address space. The handler is relocated to CodeBase;
// the HeapSize bytes starting at HeapBase are what Alloc serves. Addresses below CodeBase
// are reserved the way real Amiga low memory is: the CPU's vector table at
// 0, and — critically — the absolute ExecBase pointer at address 4 that
// every AmigaDOS binary's "move.l 4,a6" reads before it can call a single
// library function (internal/exec.Kernel.Install writes it there).
const (
	CodeBase  uint64 = 0x00010000
	StackBase uint64 = 0x00f00000
	StackSize uint64 = 0x00020000
	HeapBase  uint64 = 0x00200000
	HeapSize  uint64 = 0x00a00000
	ArenaSize uint64 = 0x01000000
)

// BusError is returned when the handler touches an address outside the
// mapped arena. Callers return it as an ordinary error; nothing tears the
// mount down because of it.
type BusError struct {
	Addr  uint64
	Write bool
	Err   error
}

func (e *BusError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("bus error: %s at 0x%08x: %v", op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// Arena is the sole owner of the emulated address space. All register and
// memory access goes through it; nothing outside this package touches the
// underlying Unicorn handle directly.
type Arena struct {
	eng      *uc.Unicorn
	heapNext uint64
	freeList map[uint64][]uint64 // rounded size -> free block addrs
}

// New maps code, stack and heap regions into a fresh m68k big-endian engine.
func New() (*Arena, error) {
	eng, err := uc.NewUnicorn(uc.ARCH_M68K, uc.MODE_BIG_ENDIAN)
	if err != nil {
		return nil, fmt.Errorf("create m68k engine: %w", err)
	}
	if err := eng.MemMap(0, ArenaSize); err != nil {
		return nil, fmt.Errorf("map arena: %w", err)
	}
	a := &Arena{eng: eng, heapNext: HeapBase, freeList: make(map[uint64][]uint64)}
	if err := a.WriteBytes(StackBase, make([]byte, StackSize)); err != nil {
		return nil, fmt.Errorf("zero stack: %w", err)
	}
	if err := a.SetSP(StackBase + StackSize - 16); err != nil {
		return nil, err
	}
	return a, nil
}

// Engine exposes the underlying Unicorn handle for the bridge's driver loop
// and for trap-table hook installation (internal/exec). No other package may
// call Unicorn memory/register methods directly.
func (a *Arena) Engine() *uc.Unicorn { return a.eng }

func (a *Arena) Close() error {
	return a.eng.Close()
}

// --- typed reads/writes, all big-endian ---

func (a *Arena) ReadBytes(addr uint64, n int) ([]byte, error) {
	b, err := a.eng.MemRead(addr, uint64(n))
	if err != nil {
		return nil, &BusError{Addr: addr, Err: err}
	}
	return b, nil
}

func (a *Arena) WriteBytes(addr uint64, b []byte) error {
	if err := a.eng.MemWrite(addr, b); err != nil {
		return &BusError{Addr: addr, Write: true, Err: err}
	}
	return nil
}

func (a *Arena) ReadU8(addr uint64) (uint8, error) {
	b, err := a.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Arena) WriteU8(addr uint64, v uint8) error {
	return a.WriteBytes(addr, []byte{v})
}

func (a *Arena) ReadU16(addr uint64) (uint16, error) {
	b, err := a.ReadBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (a *Arena) WriteU16(addr uint64, v uint16) error {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return a.WriteBytes(addr, b)
}

func (a *Arena) ReadU32(addr uint64) (uint32, error) {
	b, err := a.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (a *Arena) WriteU32(addr uint64, v uint32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return a.WriteBytes(addr, b)
}

// ReadCString reads a NUL-terminated string, bounded to avoid runaway scans
// on a corrupted pointer.
func (a *Arena) ReadCString(addr uint64) (string, error) {
	const maxLen = 4096
	out := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b, err := a.ReadU8(addr + uint64(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
	return "", fmt.Errorf("cstring at 0x%08x exceeds %d bytes unterminated", addr, maxLen)
}

// ReadBSTR reads a BCPL string: one length byte followed by that many chars,
// no terminator.
func (a *Arena) ReadBSTR(addr uint64) (string, error) {
	n, err := a.ReadU8(addr)
	if err != nil {
		return "", err
	}
	b, err := a.ReadBytes(addr+1, int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteBSTR writes s as a BCPL string, truncating to 255 bytes.
func (a *Arena) WriteBSTR(addr uint64, s string) error {
	if len(s) > 255 {
		s = s[:255]
	}
	if err := a.WriteU8(addr, uint8(len(s))); err != nil {
		return err
	}
	return a.WriteBytes(addr+1, []byte(s))
}

// BPTRToAddr converts a BCPL pointer (byte address >> 2) to a real address.
func BPTRToAddr(bptr uint32) uint64 { return uint64(bptr) << 2 }

// AddrToBPTR converts a real address to a BCPL pointer. addr must be
// 4-byte aligned; AmigaDOS guarantees this for every structure it hands out.
func AddrToBPTR(addr uint64) uint32 { return uint32(addr >> 2) }

// --- registers ---

func (a *Arena) regErr(op string, reg int, err error) error {
	return fmt.Errorf("%s register %d: %w", op, reg, err)
}

func (a *Arena) D(n int) (uint32, error) {
	v, err := a.eng.RegRead(m68kDataReg(n))
	if err != nil {
		return 0, a.regErr("read", n, err)
	}
	return uint32(v), nil
}

func (a *Arena) SetD(n int, v uint32) error {
	if err := a.eng.RegWrite(m68kDataReg(n), uint64(v)); err != nil {
		return a.regErr("write", n, err)
	}
	return nil
}

func (a *Arena) A(n int) (uint64, error) {
	v, err := a.eng.RegRead(m68kAddrReg(n))
	if err != nil {
		return 0, a.regErr("read", n, err)
	}
	return v, nil
}

func (a *Arena) SetA(n int, v uint64) error {
	if err := a.eng.RegWrite(m68kAddrReg(n), v); err != nil {
		return a.regErr("write", n, err)
	}
	return nil
}

func (a *Arena) PC() (uint64, error) {
	return a.eng.RegRead(uc.M68K_REG_PC)
}

func (a *Arena) SetPC(v uint64) error {
	return a.eng.RegWrite(uc.M68K_REG_PC, v)
}

func (a *Arena) SP() (uint64, error)     { return a.A(7) }
func (a *Arena) SetSP(v uint64) error    { return a.SetA(7, v) }

// --- allocation ---

// Alloc carves n bytes off the heap, reusing a freed block of the same
// rounded size when one is available.
func (a *Arena) Alloc(n int) (uint64, error) {
	rounded := roundSize(n)
	if free := a.freeList[rounded]; len(free) > 0 {
		addr := free[len(free)-1]
		a.freeList[rounded] = free[:len(free)-1]
		if err := a.WriteBytes(addr, make([]byte, rounded)); err != nil {
			return 0, err
		}
		return addr, nil
	}
	if a.heapNext+uint64(rounded) > HeapBase+HeapSize {
		return 0, fmt.Errorf("heap exhausted: requested %d bytes", n)
	}
	addr := a.heapNext
	a.heapNext += uint64(rounded)
	return addr, nil
}

// Free returns a block to the pool for reuse; it does not reduce heap
// high-water mark. Best-effort, matching the handler's own GC-free model.
func (a *Arena) Free(addr uint64, n int) {
	rounded := roundSize(n)
	a.freeList[rounded] = append(a.freeList[rounded], addr)
}

func roundSize(n int) int {
	const quantum = 16
	if n <= 0 {
		return quantum
	}
	return ((n + quantum - 1) / quantum) * quantum
}

func m68kDataReg(n int) int {
	return uc.M68K_REG_D0 + n
}

func m68kAddrReg(n int) int {
	return uc.M68K_REG_A0 + n
}
