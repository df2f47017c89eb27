// Package exec models the slice of the AmigaDOS Exec/DOS/Utility kernel the
// handler needs: message ports, messages, packets, and the library
// jump-vector trap table that makes calls into exec.library/dos.library
// land back in Go code.
package exec

import "github.com/reinauer/amifuse/internal/memory"

// Exec node/list/message field offsets (struct Node, struct MsgPort, struct
// Message), byte-for-byte as defined by exec/nodes.h and exec/ports.h.
const (
	// struct Node
	lnSucc = 0
	lnPred = 4
	lnType = 8
	lnPri  = 9
	lnName = 10

	nodeSize = 14

	// struct List embedded at the head of a MsgPort
	lhHead     = 0
	lhTail     = 4
	lhTailPred = 8
	lhType     = 12

	// struct MsgPort (starts after an embedded Node, exec/ports.h)
	mpFlags    = nodeSize + 0
	mpSigBit   = nodeSize + 1
	mpSigTask  = nodeSize + 2
	mpMsgList  = nodeSize + 6
	portSize   = mpMsgList + 14 // embedded List

	// struct Message (exec/ports.h), begins with a Node
	mnReplyPort = nodeSize + 0
	mnLength    = nodeSize + 4
	messageSize = nodeSize + 6
)

// DosPacket field offsets (dos/dosextens.h struct DosPacket), reached via
// an indirection cell (dp_Link) the way real AmigaDOS packets travel:
// dp_Link, dp_Port, dp_Type, dp_Res1, dp_Res2, dp_Arg1..dp_Arg7.
const (
	dpLink = 0
	dpPort = 4
	dpType = 8
	dpRes1 = 12
	dpRes2 = 16
	dpArg1 = 20
	PacketSize = dpArg1 + 7*4
)

// Port is the host-side shadow of an AmigaDOS MsgPort: a real FIFO of
// emulated message addresses. The queue itself lives only here; the
// emulated MsgPort structure in guest RAM is written/read for consistency
// but the handler never walks it directly because nothing in the modeled
// subset calls Exec's list-walking primitives on a port's message list.
type Port struct {
	Addr    uint64
	queue   []uint64
	waiting bool
}

// NewPort allocates and zero-initializes a MsgPort structure in guest RAM
// and returns its host-side shadow.
func NewPort(mem *memory.Arena) (*Port, error) {
	addr, err := mem.Alloc(portSize)
	if err != nil {
		return nil, err
	}
	if err := mem.WriteBytes(addr, make([]byte, portSize)); err != nil {
		return nil, err
	}
	if err := mem.WriteU8(addr+lnType, 4 /* NT_MSGPORT */); err != nil {
		return nil, err
	}
	return &Port{Addr: addr}, nil
}

// PutMsg enqueues a message (given as the address of its Message/DosPacket
// indirection cell) on the port.
func (p *Port) PutMsg(msgAddr uint64) {
	p.queue = append(p.queue, msgAddr)
}

// GetMsg dequeues the oldest message, or returns ok=false if the port is
// empty.
func (p *Port) GetMsg() (addr uint64, ok bool) {
	if len(p.queue) == 0 {
		return 0, false
	}
	addr = p.queue[0]
	p.queue = p.queue[1:]
	return addr, true
}

// Empty reports whether the port has no pending messages.
func (p *Port) Empty() bool { return len(p.queue) == 0 }

// Packet is the Go-side decoding of a DosPacket read from guest RAM.
type Packet struct {
	Addr   uint64 // address of the dp_Link cell (what PutMsg carries)
	Type   int32  // dp_Type: the action code
	Res1   int32
	Res2   int32
	Args   [7]uint32
	ReplyPort uint64 // dp_Port: where the reply should be delivered
}

// ReadPacket decodes a DosPacket at addr.
func ReadPacket(mem *memory.Arena, addr uint64) (*Packet, error) {
	p := &Packet{Addr: addr}
	port, err := mem.ReadU32(addr + dpPort)
	if err != nil {
		return nil, err
	}
	p.ReplyPort = uint64(port)
	typ, err := mem.ReadU32(addr + dpType)
	if err != nil {
		return nil, err
	}
	p.Type = int32(typ)
	res1, err := mem.ReadU32(addr + dpRes1)
	if err != nil {
		return nil, err
	}
	p.Res1 = int32(res1)
	res2, err := mem.ReadU32(addr + dpRes2)
	if err != nil {
		return nil, err
	}
	p.Res2 = int32(res2)
	for i := 0; i < 7; i++ {
		v, err := mem.ReadU32(addr + dpArg1 + uint64(i)*4)
		if err != nil {
			return nil, err
		}
		p.Args[i] = v
	}
	return p, nil
}

// WriteReply stores Res1/Res2 back into the packet's guest-RAM structure.
func (p *Packet) WriteReply(mem *memory.Arena) error {
	if err := mem.WriteU32(p.Addr+dpRes1, uint32(p.Res1)); err != nil {
		return err
	}
	return mem.WriteU32(p.Addr+dpRes2, uint32(p.Res2))
}
