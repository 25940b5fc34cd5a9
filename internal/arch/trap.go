package arch

// trap.go models the trap-entry/resume boundary: the one place where
// control crosses the privilege line, generalized from a fixed vector
// table of interrupt/Handle entries to a trap cause enumeration.

import "fmt"

// Cause identifies why the hart trapped into the kernel.
type Cause uint8

const (
	TrapSyscall Cause = iota
	TrapInterrupt
	TrapFault
)

func (c Cause) String() string {
	switch c {
	case TrapSyscall:
		return "SYSCALL"
	case TrapInterrupt:
		return "INTERRUPT"
	case TrapFault:
		return "FAULT"
	default:
		return fmt.Sprintf("CAUSE(%d)", uint8(c))
	}
}

// FaultKind further classifies a TrapFault.
type FaultKind uint8

const (
	FaultIllegalInstruction FaultKind = iota
	FaultUnmappedAccess
	FaultPermission
)

func (k FaultKind) String() string {
	switch k {
	case FaultIllegalInstruction:
		return "illegal-instruction"
	case FaultUnmappedAccess:
		return "unmapped-access"
	case FaultPermission:
		return "permission-violation"
	default:
		return "fault"
	}
}

// Trap captures the state of one trap: the cause, the interrupted thread's
// context, and, for faults, the classification and faulting address.
type Trap struct {
	Cause   Cause
	Context Context

	Fault     FaultKind
	FaultAddr uint32

	// Line identifies the asserted interrupt line for TrapInterrupt.
	Line uint8
}

func (t *Trap) String() string {
	switch t.Cause {
	case TrapFault:
		return fmt.Sprintf("TRAP(%s): %s @ %#08x", t.Cause, t.Fault, t.FaultAddr)
	case TrapInterrupt:
		return fmt.Sprintf("TRAP(%s): line %d", t.Cause, t.Line)
	default:
		return fmt.Sprintf("TRAP(%s)", t.Cause)
	}
}

// Enter records a trap: the caller (trap-entry assembly, in a real kernel)
// has already captured the interrupted thread's registers; Enter just binds
// them into a Trap value the dispatcher can act on.
func Enter(cause Cause, ctx Context) *Trap {
	return &Trap{Cause: cause, Context: ctx}
}

// Resume is the single point where the simulated privilege level changes
// back to the dispatched thread's. After Resume returns, the caller installs
// ctx into the hart's registers and transfers control; the kernel retains no
// further presence in the thread's registers until the next trap.
func Resume(ctx *Context) {
	_ = ctx
}
