// Package process implements the process and thread tables: fixed-size
// arrays of process and thread records, their lifecycle operations, and the
// thread state machine, generalized from a struct-assembly style that
// builds one machine from smaller parts to a table of many processes.
package process

import (
	"errors"
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/addrspace"
	"github.com/betrusted-io/xous-kernel/internal/arch"
	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

// Table sizing: historical limits near 63 processes.
const (
	MaxProcesses = 64 // PID 0 unused, PID 1 is the kernel, 2..63 usable.
	MaxThreads   = 32 // TID 0 reserved for the "main" thread.

	KernelPID frame.PID = 1
)

// ThreadState is the runnability state of a thread. Exactly one holds at
// any instant.
type ThreadState uint8

const (
	StateUnused ThreadState = iota
	StateRunnable
	StateBlockedSend
	StateBlockedReceive
	StateBlockedReply
	StateBlockedSleep
	StateTerminated
)

func (s ThreadState) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateRunnable:
		return "runnable"
	case StateBlockedSend:
		return "blocked-send"
	case StateBlockedReceive:
		return "blocked-receive"
	case StateBlockedReply:
		return "blocked-reply"
	case StateBlockedSleep:
		return "blocked-sleep"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// BlockedOn records what a blocked thread is waiting for, so the kernel can
// walk threads blocked on a specific peer without scanning the whole table
// (the "Blocked-state encoding" design note's optional index; here it is
// just a field checked linearly, which is sufficient at these table sizes).
type BlockedOn struct {
	PID      frame.PID
	TID      uint8
	Endpoint [16]byte // Zero value means "not applicable."
}

// Thread is one schedulable unit within a process.
type Thread struct {
	TID   uint8
	State ThreadState
	Ctx   arch.Context

	StackBase uint32
	StackTop  uint32

	Blocked BlockedOn

	// ExitError carries the error a blocked thread was woken with
	// (recipient-gone, endpoint-gone). It is recorded on the thread only;
	// the syscall dispatcher does not read it and does not write it into
	// the thread's saved context.
	ExitError error
}

// LifecycleState is a process's coarse lifecycle.
type LifecycleState uint8

const (
	LifecycleSetup LifecycleState = iota
	LifecycleRunning
	LifecycleExited
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleSetup:
		return "setup"
	case LifecycleRunning:
		return "running"
	case LifecycleExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Process is one process record.
type Process struct {
	PID   frame.PID
	State LifecycleState

	Space   *addrspace.Space
	Threads [MaxThreads]Thread

	OwnedFrames int // Accounting only; internal/frame is authoritative.
}

// CreatePolicy governs who may call CreateProcess. See DESIGN.md's Open
// Questions: the source leaves this configurable, so the rewrite makes it
// an explicit choice instead of guessing.
type CreatePolicy uint8

const (
	// InitOnly permits only the designated init process (by default, PID 2,
	// the first process named by the boot blob) to create processes. This
	// is the default policy.
	InitOnly CreatePolicy = iota

	// Capability permits any process holding a create-process capability
	// (tracked here as a simple per-process boolean) to create processes.
	Capability
)

var (
	ErrOutOfSlots    = errors.New("out of slots")
	ErrNoSuchProcess = errors.New("no such process")
	ErrNoSuchThread  = errors.New("no such thread")
	ErrAccessDenied  = errors.New("access denied")
	ErrRecipientGone = errors.New("recipient gone")
)

// Table holds every process and thread record in the system.
type Table struct {
	procs  [MaxProcesses]Process
	policy CreatePolicy
	initPID frame.PID // PID permitted to create processes under InitOnly.

	capable map[frame.PID]bool // Processes holding create-process capability.

	frames *frame.Allocator
	log    *log.Logger
}

// NewTable creates an empty table backed by the given frame allocator for
// reclaiming frames on process exit.
func NewTable(frames *frame.Allocator, policy CreatePolicy) *Table {
	t := &Table{
		frames:  frames,
		policy:  policy,
		capable: make(map[frame.PID]bool),
		log:     log.DefaultLogger(),
	}

	t.procs[KernelPID].PID = KernelPID
	t.procs[KernelPID].State = LifecycleRunning
	t.procs[KernelPID].Space = addrspace.New(KernelPID)
	t.procs[KernelPID].Threads[0] = Thread{TID: 0, State: StateRunnable}

	return t
}

// GrantCapability marks pid as permitted to create processes under the
// Capability policy. A no-op under InitOnly.
func (t *Table) GrantCapability(pid frame.PID) {
	t.capable[pid] = true
}

func (t *Table) canCreateProcess(caller frame.PID) bool {
	switch t.policy {
	case InitOnly:
		return caller == t.initPID
	case Capability:
		return t.capable[caller]
	default:
		return false
	}
}

// SetInitPID designates the process permitted to create others under
// InitOnly; internal/kernel calls this once, with the first process named
// by the boot blob's Init tag.
func (t *Table) SetInitPID(pid frame.PID) { t.initPID = pid }

// InitPID returns the process currently holding InitOnly create-process
// privilege.
func (t *Table) InitPID() frame.PID { return t.initPID }

// CreateProcess allocates a process slot, builds its address space, and
// creates a runnable main thread at entry with the given stack.
func (t *Table) CreateProcess(caller frame.PID, entry, stackTop uint32) (frame.PID, error) {
	if !t.canCreateProcess(caller) {
		return 0, fmt.Errorf("%w: pid %d may not create processes", ErrAccessDenied, caller)
	}

	for pid := 2; pid < MaxProcesses; pid++ {
		p := &t.procs[pid]
		if p.State != LifecycleSetup || p.PID != 0 {
			continue
		}

		p.PID = frame.PID(pid)
		p.State = LifecycleRunning
		p.Space = addrspace.New(p.PID)
		p.Threads[0] = Thread{
			TID:      0,
			State:    StateRunnable,
			StackTop: stackTop,
		}
		p.Threads[0].Ctx.PC = entry
		p.Threads[0].Ctx.SP = stackTop

		t.log.Info("process: created", "pid", p.PID, log.Addr("entry", entry))

		return p.PID, nil
	}

	return 0, ErrOutOfSlots
}

// CreateThread allocates a thread slot within pid's process.
func (t *Table) CreateThread(pid frame.PID, entry, stackTop uint32) (uint8, error) {
	p, err := t.process(pid)
	if err != nil {
		return 0, err
	}

	for tid := 1; tid < MaxThreads; tid++ {
		if p.Threads[tid].State == StateUnused {
			p.Threads[tid] = Thread{TID: uint8(tid), State: StateRunnable, StackTop: stackTop}
			p.Threads[tid].Ctx.PC = entry
			p.Threads[tid].Ctx.SP = stackTop

			return uint8(tid), nil
		}
	}

	return 0, ErrOutOfSlots
}

// TerminateThread marks a thread terminated and wakes any peer blocked
// waiting for a reply from it.
func (t *Table) TerminateThread(pid frame.PID, tid uint8) error {
	p, err := t.process(pid)
	if err != nil {
		return err
	}

	if int(tid) >= MaxThreads || p.Threads[tid].State == StateUnused {
		return fmt.Errorf("%w: pid %d tid %d", ErrNoSuchThread, pid, tid)
	}

	p.Threads[tid].State = StateTerminated

	t.wakeBlockedOn(pid, tid, ErrRecipientGone)

	return nil
}

// ExitProcess terminates every thread, reclaims every frame the process
// owns, and marks the process exited. Endpoint/connection teardown is the
// caller's responsibility (internal/kernel coordinates with internal/ipc),
// since process.Table does not know about ipc's registry.
func (t *Table) ExitProcess(pid frame.PID, code int) error {
	p, err := t.process(pid)
	if err != nil {
		return err
	}

	for tid := range p.Threads {
		if p.Threads[tid].State != StateUnused {
			p.Threads[tid].State = StateTerminated
			t.wakeBlockedOn(pid, uint8(tid), ErrRecipientGone)
		}
	}

	reclaimed := t.frames.FreeAll(pid)
	p.OwnedFrames = 0
	p.State = LifecycleExited

	t.log.Info("process: exited", "pid", pid, "code", code, "frames_reclaimed", reclaimed)

	return nil
}

// wakeBlockedOn walks every thread in every process looking for one blocked
// on (pid, tid), waking it with err. Linear scan, acceptable at these table
// sizes per the "Blocked-state encoding" design note.
func (t *Table) wakeBlockedOn(pid frame.PID, tid uint8, err error) {
	for i := range t.procs {
		p := &t.procs[i]
		if p.PID == 0 {
			continue
		}

		for j := range p.Threads {
			th := &p.Threads[j]
			if th.State == StateBlockedReply && th.Blocked.PID == pid && th.Blocked.TID == tid {
				th.State = StateRunnable
				th.ExitError = err
			}
		}
	}
}

// Process returns the process record for pid.
func (t *Table) Process(pid frame.PID) (*Process, error) {
	return t.process(pid)
}

func (t *Table) process(pid frame.PID) (*Process, error) {
	if pid == 0 || int(pid) >= MaxProcesses || t.procs[pid].PID != pid {
		return nil, fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
	}

	return &t.procs[pid], nil
}

// Thread returns the thread record for (pid, tid).
func (t *Table) Thread(pid frame.PID, tid uint8) (*Thread, error) {
	p, err := t.process(pid)
	if err != nil {
		return nil, err
	}

	if int(tid) >= MaxThreads || p.Threads[tid].State == StateUnused {
		return nil, fmt.Errorf("%w: pid %d tid %d", ErrNoSuchThread, pid, tid)
	}

	return &p.Threads[tid], nil
}

// Runnable reports every (pid, tid) currently in StateRunnable, in table
// order, for internal/sched to seed its ring. The kernel process (PID 1) is
// left out: its thread is the idle context, not a ring entry.
func (t *Table) Runnable() []struct {
	PID frame.PID
	TID uint8
} {
	var out []struct {
		PID frame.PID
		TID uint8
	}

	for i := range t.procs {
		p := &t.procs[i]
		if p.PID == 0 || p.PID == KernelPID {
			continue
		}

		for j := range p.Threads {
			if p.Threads[j].State == StateRunnable {
				out = append(out, struct {
					PID frame.PID
					TID uint8
				}{p.PID, p.Threads[j].TID})
			}
		}
	}

	return out
}
