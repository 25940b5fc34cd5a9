// Package syscall implements the syscall boundary: the number enumeration,
// a closed error enumeration, and the dispatch table/contract, generalized
// from a Decode/Step switch over a 4-bit instruction opcode and its
// bit-field accessors to a syscall number and the A0..A7 register
// convention.
package syscall

import "fmt"

// Number identifies a syscall, carried in register A0.
type Number uint32

const (
	MapMemory            Number = 1
	UnmapMemory          Number = 2
	CreateServer         Number = 3
	Connect              Number = 4
	SendMessage          Number = 5
	ReceiveMessage       Number = 6
	Reply                Number = 7
	CreateThread         Number = 8
	YieldThread          Number = 9
	WaitEvent            Number = 10
	ClaimInterrupt       Number = 11
	FreeInterrupt        Number = 12
	TerminateProcess     Number = 13
	CreateProcess        Number = 14
	SetExceptionHandler  Number = 15
	AcknowledgeInterrupt Number = 16

	NumSyscalls = 17
)

func (n Number) String() string {
	switch n {
	case MapMemory:
		return "map_memory"
	case UnmapMemory:
		return "unmap_memory"
	case CreateServer:
		return "create_server"
	case Connect:
		return "connect"
	case SendMessage:
		return "send_message"
	case ReceiveMessage:
		return "receive_message"
	case Reply:
		return "reply"
	case CreateThread:
		return "create_thread"
	case YieldThread:
		return "yield_thread"
	case WaitEvent:
		return "wait_event"
	case ClaimInterrupt:
		return "claim_interrupt"
	case FreeInterrupt:
		return "free_interrupt"
	case TerminateProcess:
		return "terminate_process"
	case CreateProcess:
		return "create_process"
	case SetExceptionHandler:
		return "set_exception_handler"
	case AcknowledgeInterrupt:
		return "acknowledge_interrupt"
	default:
		return fmt.Sprintf("syscall(%d)", uint32(n))
	}
}

// Error is the closed error enumeration returned in register A0 from every
// syscall.
type Error uint32

const (
	ErrOK Error = iota
	ErrInvalidArgument
	ErrOutOfMemory
	ErrOutOfSlots
	ErrBusy
	ErrAccessDenied
	ErrQueueFull
	ErrEndpointGone
	ErrRecipientGone
	ErrNotReady
)

func (e Error) String() string {
	switch e {
	case ErrOK:
		return "ok"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrOutOfMemory:
		return "out-of-memory"
	case ErrOutOfSlots:
		return "out-of-slots"
	case ErrBusy:
		return "busy"
	case ErrAccessDenied:
		return "access-denied"
	case ErrQueueFull:
		return "queue-full"
	case ErrEndpointGone:
		return "endpoint-gone"
	case ErrRecipientGone:
		return "recipient-gone"
	case ErrNotReady:
		return "not-ready"
	default:
		return fmt.Sprintf("error(%d)", uint32(e))
	}
}

func (e Error) Error() string { return e.String() }

// Args are the seven 32-bit argument words carried in A1..A7.
type Args [7]uint32

// Result is what a Handler returns: an error code and up to four result
// words, laid out for A0..A4 of the caller's saved context. Dispatch returns
// it to its caller and does not write it into the context itself. Most
// syscalls use only Ret0/Ret1 (the scalar-reply convention, A0..A2);
// CreateServer uses all four to carry a 128-bit endpoint ID, and
// ReceiveMessage uses all four for the opcode, two scalar words and the
// mapped address.
type Result struct {
	Err  Error
	Ret0 uint32
	Ret1 uint32
	Ret2 uint32
	Ret3 uint32

	// Blocked indicates the calling thread was transitioned to a blocked
	// state and the scheduler should move on rather than resume it.
	Blocked bool
}

// Handler implements one syscall number's subsystem call. callerPID/TID
// identify the trapping thread.
type Handler func(callerPID uint32, callerTID uint8, args Args) Result

// Table is the syscall dispatch table, indexed by Number.
type Table struct {
	handlers [NumSyscalls]Handler
}

// Register installs h as the handler for n.
func (t *Table) Register(n Number, h Handler) {
	t.handlers[n] = h
}

// Dispatch looks up and invokes the handler for n. Argument validation is
// the handler's responsibility (it alone knows its argument shape);
// Dispatch's job is purely the lookup-and-invoke step plus turning an
// unregistered number into invalid-argument rather than a crash.
func (t *Table) Dispatch(n Number, callerPID uint32, callerTID uint8, args Args) Result {
	if int(n) == 0 || int(n) >= NumSyscalls || t.handlers[n] == nil {
		return Result{Err: ErrInvalidArgument}
	}

	return t.handlers[n](callerPID, callerTID, args)
}
