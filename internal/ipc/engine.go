package ipc

// engine.go implements the seven IPC primitives (send, send-blocking,
// send-memory, lend, lend-mut, receive, reply) and the thread-state
// transitions of the blocking state
// machine. A blocking operation never
// returns the eventual reply synchronously: it records the calling thread's
// new state and the scheduler moves on; the reply, when it arrives, writes
// result words directly into the blocked thread's saved context and marks
// it runnable, exactly as a real trap-return would pick the thread back up.

import (
	"errors"
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/addrspace"
	"github.com/betrusted-io/xous-kernel/internal/arch"
	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
	"github.com/betrusted-io/xous-kernel/internal/process"
	"github.com/betrusted-io/xous-kernel/internal/sched"
)

// Engine drives the IPC primitives against a Registry, the process table,
// and the scheduler.
type Engine struct {
	registry *Registry
	procs    *process.Table
	sched    *sched.Scheduler

	log *log.Logger
}

// NewEngine creates an Engine over the given registry, process table, and
// scheduler.
func NewEngine(registry *Registry, procs *process.Table, sch *sched.Scheduler) *Engine {
	return &Engine{registry: registry, procs: procs, sched: sch, log: log.DefaultLogger()}
}

// deliver places msg on ep's queue, or, if a thread is already parked in
// receive on it, hands the message directly to the first such thread (FIFO)
// and marks it runnable. A handoff is equivalent to an enqueue followed by
// an immediate dequeue, so it is implemented as exactly that: the message
// is recorded against the waiting thread and the thread is woken; its own
// Receive call, once scheduled, picks it up.
func (e *Engine) deliver(ep *endpoint, msg Message) error {
	if len(ep.blocked) > 0 {
		receiver := ep.blocked[0]
		ep.blocked = ep.blocked[1:]
		ep.queue = append(ep.queue, msg)
		e.sched.Wake(receiver)

		return nil
	}

	if ep.full() {
		return ErrQueueFull
	}

	ep.queue = append(ep.queue, msg)

	return nil
}

// SendScalarNonblocking enqueues a scalar message, handing off directly to
// an already-waiting receiver if one exists. The sender never blocks.
func (e *Engine) SendScalarNonblocking(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, args [5]uint32) error {
	ep, err := e.registry.resolve(senderPID, cid)
	if err != nil {
		return err
	}

	if ep.destroyed {
		return ErrEndpointGone
	}

	msg := Message{Kind: KindScalarNonblocking, Opcode: opcode, Args: args, SenderPID: senderPID, SenderTID: senderTID}

	return e.deliver(ep, msg)
}

// SendScalarBlocking enqueues a scalar message and transitions the caller to
// blocked-reply. The reply's two result words arrive later via Reply,
// written directly into the caller's saved context.
func (e *Engine) SendScalarBlocking(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, args [5]uint32) error {
	ep, err := e.registry.resolve(senderPID, cid)
	if err != nil {
		return err
	}

	if ep.destroyed {
		return ErrEndpointGone
	}

	msg := Message{Kind: KindScalarBlocking, Opcode: opcode, Args: args, SenderPID: senderPID, SenderTID: senderTID}
	if err := e.deliver(ep, msg); err != nil {
		return err
	}

	return e.blockSender(senderPID, senderTID, ep.ownerPID)
}

func (e *Engine) blockSender(senderPID frame.PID, senderTID uint8, targetPID frame.PID) error {
	th, err := e.procs.Thread(senderPID, senderTID)
	if err != nil {
		return err
	}

	th.State = process.StateBlockedReply
	th.Blocked = process.BlockedOn{PID: targetPID}

	e.sched.Block(sched.Entry{PID: senderPID, TID: senderTID})

	return nil
}

// memoryMessage validates and builds the shared portion of send_memory,
// lend, and lend_mut: the region must be page-aligned and a whole number of
// pages.
func (e *Engine) memoryMessage(senderPID frame.PID, virt, length uint32) ([]uint32, error) {
	if virt%arch.PageSize != 0 || length%arch.PageSize != 0 || length == 0 {
		return nil, fmt.Errorf("%w: unaligned or zero-length region", ErrInvalidArgument)
	}

	senderProc, err := e.procs.Process(senderPID)
	if err != nil {
		return nil, err
	}

	pageCount := length / arch.PageSize
	frames := make([]uint32, 0, pageCount)

	for i := uint32(0); i < pageCount; i++ {
		f, _, ok := senderProc.Space.Query(virt + i*arch.PageSize)
		if !ok {
			return nil, fmt.Errorf("%w: region not mapped at %#08x", ErrInvalidArgument, virt+i*arch.PageSize)
		}

		frames = append(frames, f)
	}

	return frames, nil
}

// SendMemory detaches a region from the sender and queues it for the
// receiver; the sender does not block. Ownership of the frames transfers to
// the receiver immediately.
func (e *Engine) SendMemory(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, offset, length, virt uint32) error {
	ep, err := e.registry.resolve(senderPID, cid)
	if err != nil {
		return err
	}

	if ep.destroyed {
		return ErrEndpointGone
	}

	frames, err := e.memoryMessage(senderPID, virt, length)
	if err != nil {
		return err
	}

	senderProc, _ := e.procs.Process(senderPID)

	for i := range frames {
		if _, err := senderProc.Space.Unmap(virt + uint32(i)*arch.PageSize); err != nil {
			return err
		}
	}

	msg := Message{
		Kind: KindMemorySend, Opcode: opcode, SenderPID: senderPID, SenderTID: senderTID,
		Frames: frames, Offset: offset, Len: length, SenderVirt: virt,
	}

	return e.deliver(ep, msg)
}

// Lend temporarily transfers pages read-only to the receiver; the sender
// blocks in blocked-reply until the pages are returned by Reply.
func (e *Engine) Lend(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, offset, length, virt uint32) error {
	return e.lend(senderPID, senderTID, cid, opcode, offset, length, virt, KindMemoryLend)
}

// LendMut is Lend but the receiver gets a writable mapping and its
// modifications are visible to the sender after reply.
func (e *Engine) LendMut(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, offset, length, virt uint32) error {
	return e.lend(senderPID, senderTID, cid, opcode, offset, length, virt, KindMemoryLendMut)
}

func (e *Engine) lend(senderPID frame.PID, senderTID uint8, cid uint8, opcode uint32, offset, length, virt uint32, kind MessageKind) error {
	ep, err := e.registry.resolve(senderPID, cid)
	if err != nil {
		return err
	}

	if ep.destroyed {
		return ErrEndpointGone
	}

	frames, err := e.memoryMessage(senderPID, virt, length)
	if err != nil {
		return err
	}

	// The sender's mapping is cleared so accesses fault while the region is
	// lent; frame ownership does not change for a lend, only the mapping.
	senderProc, _ := e.procs.Process(senderPID)

	origFlags := make([]arch.Flags, len(frames))

	for i := range frames {
		_, origFlags[i], _ = senderProc.Space.Query(virt + uint32(i)*arch.PageSize)

		if _, err := senderProc.Space.Unmap(virt + uint32(i)*arch.PageSize); err != nil {
			return err
		}
	}

	msg := Message{
		Kind: kind, Opcode: opcode, SenderPID: senderPID, SenderTID: senderTID,
		Frames: frames, Offset: offset, Len: length, SenderVirt: virt,
	}

	if err := e.deliver(ep, msg); err != nil {
		// Lending failed after unmapping; restore the sender's mapping so the
		// syscall is transactional.
		for i, f := range frames {
			_ = senderProc.Space.Map(virt+uint32(i)*arch.PageSize, f, origFlags[i])
		}

		return err
	}

	return e.blockSender(senderPID, senderTID, ep.ownerPID)
}

// Received is what Receive hands back to the dispatcher: the message
// content plus, for memory messages, the address chosen in the receiver's
// address space.
type Received struct {
	Message
	MappedVirt uint32
}

// receiverMappingBase is where every inbound memory message lands in the
// receiver's address space. It is a fixed address, not a per-process
// allocator: a second memory message received while the first is still
// mapped there fails with ErrBusy from the address space.
const receiverMappingBase = 0x4000_0000

// Receive dequeues the head message from endpoint id, owned by pid, or
// blocks the calling thread in blocked-receive if the queue is empty.
// Memory messages are mapped into the receiver's address space before
// returning.
func (e *Engine) Receive(pid frame.PID, tid uint8, id [16]byte) (*Received, error) {
	ref, ok := e.registry.byID[id]
	if !ok || ref.pid != pid {
		return nil, fmt.Errorf("%w: not an endpoint owned by pid %d", ErrInvalidArgument, pid)
	}

	ep := e.registry.endpointAt(ref)
	if ep == nil || ep.destroyed {
		return nil, ErrEndpointGone
	}

	if len(ep.queue) == 0 {
		th, err := e.procs.Thread(pid, tid)
		if err != nil {
			return nil, err
		}

		th.State = process.StateBlockedReceive
		e.sched.Block(sched.Entry{PID: pid, TID: tid})
		ep.blocked = append(ep.blocked, sched.Entry{PID: pid, TID: tid})

		return nil, ErrNotReady
	}

	msg := ep.queue[0]
	ep.queue = ep.queue[1:]

	received := &Received{Message: msg}

	if msg.Kind == KindMemorySend || msg.Kind == KindMemoryLend || msg.Kind == KindMemoryLendMut {
		receiverProc, err := e.procs.Process(pid)
		if err != nil {
			return nil, err
		}

		flags := arch.FlagRead | arch.FlagUser
		if msg.Kind != KindMemoryLend {
			flags |= arch.FlagWrite
		}

		virt := receiverMappingBase

		for i, f := range msg.Frames {
			if err := receiverProc.Space.Map(uint32(virt)+uint32(i)*arch.PageSize, f, flags); err != nil {
				return nil, err
			}
		}

		received.ReceiverVirt = uint32(virt)
		received.MappedVirt = uint32(virt)
	}

	return received, nil
}

// Reply completes a blocking scalar send or a lend/lend_mut. For scalar
// replies it writes ret0/ret1 into the sender's saved context and marks it
// runnable. For memory replies it remaps the pages back to the sender at
// their original virtual address and permissions, tearing down the
// receiver's mapping, then marks the sender runnable.
func (e *Engine) Reply(replierPID frame.PID, msg Message, ret0, ret1 uint32) error {
	senderTh, err := e.procs.Thread(msg.SenderPID, msg.SenderTID)
	if err != nil {
		return err
	}

	if senderTh.State != process.StateBlockedReply {
		return fmt.Errorf("%w: sender not awaiting reply", ErrInvalidArgument)
	}

	switch msg.Kind {
	case KindMemoryLend, KindMemoryLendMut:
		if err := e.returnLentPages(replierPID, msg); err != nil {
			return err
		}
	}

	senderTh.Ctx.SetReg(1, ret0)
	senderTh.Ctx.SetReg(2, ret1)
	senderTh.State = process.StateRunnable
	senderTh.ExitError = nil

	e.sched.Wake(sched.Entry{PID: msg.SenderPID, TID: msg.SenderTID})

	return nil
}

// returnLentPages unmaps the receiver's view of the lent pages and
// reinstalls them at the sender's original address and permissions. For
// lend_mut, the receiver's writes are already resident in the transferred
// frames, so the sender observes them on remap without any copy.
func (e *Engine) returnLentPages(receiverPID frame.PID, msg Message) error {
	receiverProc, err := e.procs.Process(receiverPID)
	if err != nil {
		return err
	}

	senderProc, err := e.procs.Process(msg.SenderPID)
	if err != nil {
		return err
	}

	flags := arch.FlagRead | arch.FlagWrite | arch.FlagUser

	for i, f := range msg.Frames {
		receiverVirt := receiverMappingBase + uint32(i)*arch.PageSize

		if _, err := receiverProc.Space.Unmap(receiverVirt); err != nil && !errors.Is(err, addrspace.ErrNotMapped) {
			return err
		}

		if err := senderProc.Space.Map(msg.SenderVirt+uint32(i)*arch.PageSize, f, flags); err != nil {
			return err
		}
	}

	return nil
}
