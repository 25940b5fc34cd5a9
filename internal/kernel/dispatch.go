package kernel

// dispatch.go registers the sixteen syscall handlers against the kernel's
// subsystems: validate arguments, call into the owning subsystem, translate
// its error into the closed syscall.Error enumeration, and return result
// words as a syscall.Result; nothing here writes them into the caller's
// saved context.
// Generalized from one CPU's per-opcode instruction handlers to sixteen
// syscalls spread across five subsystems.

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/betrusted-io/xous-kernel/internal/arch"
	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/ipc"
	"github.com/betrusted-io/xous-kernel/internal/process"
	"github.com/betrusted-io/xous-kernel/internal/sched"
	"github.com/betrusted-io/xous-kernel/internal/syscall"
)

func uuidFromWords(w0, w1, w2, w3 uint32) uuid.UUID {
	var id uuid.UUID

	binary.BigEndian.PutUint32(id[0:4], w0)
	binary.BigEndian.PutUint32(id[4:8], w1)
	binary.BigEndian.PutUint32(id[8:12], w2)
	binary.BigEndian.PutUint32(id[12:16], w3)

	return id
}

func wordsFromUUID(id uuid.UUID) (w0, w1, w2, w3 uint32) {
	return binary.BigEndian.Uint32(id[0:4]), binary.BigEndian.Uint32(id[4:8]),
		binary.BigEndian.Uint32(id[8:12]), binary.BigEndian.Uint32(id[12:16])
}

func (k *Kernel) registerSyscalls() {
	k.Syscalls.Register(syscall.MapMemory, k.sysMapMemory)
	k.Syscalls.Register(syscall.UnmapMemory, k.sysUnmapMemory)
	k.Syscalls.Register(syscall.CreateServer, k.sysCreateServer)
	k.Syscalls.Register(syscall.Connect, k.sysConnect)
	k.Syscalls.Register(syscall.SendMessage, k.sysSendMessage)
	k.Syscalls.Register(syscall.ReceiveMessage, k.sysReceiveMessage)
	k.Syscalls.Register(syscall.Reply, k.sysReply)
	k.Syscalls.Register(syscall.CreateThread, k.sysCreateThread)
	k.Syscalls.Register(syscall.YieldThread, k.sysYieldThread)
	k.Syscalls.Register(syscall.WaitEvent, k.sysWaitEvent)
	k.Syscalls.Register(syscall.ClaimInterrupt, k.sysClaimInterrupt)
	k.Syscalls.Register(syscall.FreeInterrupt, k.sysFreeInterrupt)
	k.Syscalls.Register(syscall.AcknowledgeInterrupt, k.sysAcknowledgeInterrupt)
	k.Syscalls.Register(syscall.TerminateProcess, k.sysTerminateProcess)
	k.Syscalls.Register(syscall.CreateProcess, k.sysCreateProcess)
	k.Syscalls.Register(syscall.SetExceptionHandler, k.sysSetExceptionHandler)
}

func (k *Kernel) sysMapMemory(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	virt, length, flagBits := args[0], args[1], args[2]

	if virt%arch.PageSize != 0 || length%arch.PageSize != 0 || length == 0 {
		return syscall.Result{Err: syscall.ErrInvalidArgument}
	}

	proc, err := k.Procs.Process(pid)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	flags := arch.Flags(flagBits) | arch.FlagUser
	pageCount := length / arch.PageSize
	mapped := make([]uint32, 0, pageCount)

	rollback := func() {
		for j, fn := range mapped {
			_, _ = proc.Space.Unmap(virt + uint32(j)*arch.PageSize)
			_ = k.Frames.Free(fn, pid)
		}
	}

	for i := uint32(0); i < pageCount; i++ {
		f, err := k.Frames.Allocate(pid)
		if err != nil {
			rollback()
			return syscall.Result{Err: classify(err)}
		}

		if err := proc.Space.Map(virt+i*arch.PageSize, f, flags); err != nil {
			_ = k.Frames.Free(f, pid)
			rollback()

			return syscall.Result{Err: classify(err)}
		}

		mapped = append(mapped, f)
	}

	return syscall.Result{Err: syscall.ErrOK, Ret0: virt}
}

func (k *Kernel) sysUnmapMemory(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	virt, length := args[0], args[1]

	if virt%arch.PageSize != 0 || length%arch.PageSize != 0 || length == 0 {
		return syscall.Result{Err: syscall.ErrInvalidArgument}
	}

	proc, err := k.Procs.Process(pid)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	pageCount := length / arch.PageSize

	for i := uint32(0); i < pageCount; i++ {
		f, err := proc.Space.Unmap(virt + i*arch.PageSize)
		if err != nil {
			return syscall.Result{Err: classify(err)}
		}

		_ = k.Frames.Free(f, pid)
	}

	return syscall.Result{Err: syscall.ErrOK}
}

func (k *Kernel) sysCreateServer(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)

	id, err := k.Registry.CreateServer(pid, nil)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	w0, w1, w2, w3 := wordsFromUUID(id)

	return syscall.Result{Err: syscall.ErrOK, Ret0: w0, Ret1: w1, Ret2: w2, Ret3: w3}
}

func (k *Kernel) sysConnect(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	id := uuidFromWords(args[0], args[1], args[2], args[3])

	cid, err := k.Registry.Connect(pid, id)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	return syscall.Result{Err: syscall.ErrOK, Ret0: uint32(cid)}
}

// sysSendMessage packs the message kind into the high byte of args[1] to
// leave five full words (args[2..6]) for scalar payload, matching the
// internal/ipc.Message.Args width exactly.
func (k *Kernel) sysSendMessage(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	cid := uint8(args[0])
	kind := ipc.MessageKind(args[1] >> 24)
	opcode := args[1] & 0x00ff_ffff

	var err error

	switch kind {
	case ipc.KindScalarNonblocking:
		scalar := [5]uint32{args[2], args[3], args[4], args[5], args[6]}
		err = k.Engine.SendScalarNonblocking(pid, callerTID, cid, opcode, scalar)

	case ipc.KindScalarBlocking:
		scalar := [5]uint32{args[2], args[3], args[4], args[5], args[6]}
		err = k.Engine.SendScalarBlocking(pid, callerTID, cid, opcode, scalar)

		if err == nil {
			return syscall.Result{Err: syscall.ErrOK, Blocked: true}
		}

	case ipc.KindMemorySend:
		err = k.Engine.SendMemory(pid, callerTID, cid, opcode, args[2], args[3], args[4])

	case ipc.KindMemoryLend:
		err = k.Engine.Lend(pid, callerTID, cid, opcode, args[2], args[3], args[4])

		if err == nil {
			return syscall.Result{Err: syscall.ErrOK, Blocked: true}
		}

	case ipc.KindMemoryLendMut:
		err = k.Engine.LendMut(pid, callerTID, cid, opcode, args[2], args[3], args[4])

		if err == nil {
			return syscall.Result{Err: syscall.ErrOK, Blocked: true}
		}

	default:
		return syscall.Result{Err: syscall.ErrInvalidArgument}
	}

	return syscall.Result{Err: classify(err)}
}

// sysReceiveMessage returns the opcode, the first two scalar words, and a
// memory message's mapped address (zero for scalar messages) in Ret0..Ret3.
// The remaining scalar words are not returned through the syscall ABI; the
// whole message is kept in k.pending so a later Reply can find it.
func (k *Kernel) sysReceiveMessage(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	id := uuidFromWords(args[0], args[1], args[2], args[3])

	received, err := k.Engine.Receive(pid, callerTID, id)
	if err != nil {
		return syscall.Result{Err: classify(err), Blocked: classify(err) == syscall.ErrNotReady}
	}

	k.pending[pendingKey{pid: pid, tid: callerTID}] = received.Message

	return syscall.Result{
		Err:  syscall.ErrOK,
		Ret0: received.Opcode,
		Ret1: received.Args[0],
		Ret2: received.Args[1],
		Ret3: received.MappedVirt,
	}
}

func (k *Kernel) sysReply(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	key := pendingKey{pid: pid, tid: callerTID}

	msg, ok := k.pending[key]
	if !ok {
		return syscall.Result{Err: syscall.ErrInvalidArgument}
	}

	if err := k.Engine.Reply(pid, msg, args[0], args[1]); err != nil {
		return syscall.Result{Err: classify(err)}
	}

	delete(k.pending, key)

	return syscall.Result{Err: syscall.ErrOK}
}

func (k *Kernel) sysCreateThread(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	entry, stackTop := args[0], args[1]

	tid, err := k.Procs.CreateThread(pid, entry, stackTop)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	k.Sched.Add(sched.Entry{PID: pid, TID: tid})

	return syscall.Result{Err: syscall.ErrOK, Ret0: uint32(tid)}
}

func (k *Kernel) sysYieldThread(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	k.Sched.Yield(sched.Entry{PID: frame.PID(callerPID), TID: callerTID})

	return syscall.Result{Err: syscall.ErrOK}
}

// sysWaitEvent parks the calling thread until a caller of WakeSleeper wakes
// it; no syscall or interrupt path in this module calls WakeSleeper.
func (k *Kernel) sysWaitEvent(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)

	th, err := k.Procs.Thread(pid, callerTID)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	th.State = process.StateBlockedSleep
	k.Sched.Block(sched.Entry{PID: pid, TID: callerTID})

	return syscall.Result{Err: syscall.ErrOK, Blocked: true}
}

func (k *Kernel) sysClaimInterrupt(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	line := uint8(args[0])
	id := uuidFromWords(args[1], args[2], args[3], args[4])
	opcode := args[5]

	if err := k.Interrupts.ClaimInterrupt(pid, line, id, opcode); err != nil {
		return syscall.Result{Err: classify(err)}
	}

	return syscall.Result{Err: syscall.ErrOK}
}

func (k *Kernel) sysFreeInterrupt(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	line := uint8(args[0])

	if err := k.Interrupts.FreeInterrupt(pid, line); err != nil {
		return syscall.Result{Err: classify(err)}
	}

	return syscall.Result{Err: syscall.ErrOK}
}

// sysAcknowledgeInterrupt unmasks a claimed line, letting a pending
// reassertion (one that arrived while the line was masked) through now.
func (k *Kernel) sysAcknowledgeInterrupt(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	line := uint8(args[0])

	if err := k.Interrupts.Acknowledge(pid, line); err != nil {
		return syscall.Result{Err: classify(err)}
	}

	return syscall.Result{Err: syscall.ErrOK}
}

func (k *Kernel) sysTerminateProcess(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	target := frame.PID(args[0])
	if target == 0 {
		target = frame.PID(callerPID)
	}

	k.Registry.DestroyOwned(target, k.Procs, k.Sched)
	k.Registry.ReclaimConnections(target)

	if err := k.Procs.ExitProcess(target, int(args[1])); err != nil {
		return syscall.Result{Err: classify(err)}
	}

	for tid := 0; tid < process.MaxThreads; tid++ {
		k.Sched.Remove(sched.Entry{PID: target, TID: uint8(tid)})
	}

	delete(k.exceptionHandlers, target)

	return syscall.Result{Err: syscall.ErrOK}
}

func (k *Kernel) sysCreateProcess(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	caller := frame.PID(callerPID)
	entry, stackTop := args[0], args[1]

	pid, err := k.Procs.CreateProcess(caller, entry, stackTop)
	if err != nil {
		return syscall.Result{Err: classify(err)}
	}

	k.Sched.Add(sched.Entry{PID: pid, TID: 0})

	return syscall.Result{Err: syscall.ErrOK, Ret0: uint32(pid)}
}

func (k *Kernel) sysSetExceptionHandler(callerPID uint32, callerTID uint8, args syscall.Args) syscall.Result {
	pid := frame.PID(callerPID)
	k.exceptionHandlers[pid] = exceptionHandler{Entry: args[0], Stack: args[1]}

	return syscall.Result{Err: syscall.ErrOK}
}
