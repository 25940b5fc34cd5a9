package ipc

// interrupt.go implements interrupt delivery as synthetic IPC: a claimed
// line delivers as an ordinary scalar message to its claiming process,
// generalized from a fixed 8-level interrupt priority table to a
// PID-claimed line table, since this kernel has no notion of interrupt
// priority.

import (
	"errors"
	"fmt"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

// NumLines bounds the number of distinct interrupt lines the router
// tracks; chosen generously for a simulated single-hart platform.
const NumLines = 32

var (
	ErrLineClaimed    = errors.New("interrupt line already claimed")
	ErrLineNotClaimed = errors.New("interrupt line not claimed")
)

// claim binds one interrupt line to an owning process's endpoint and the
// opcode used to notify it.
type claim struct {
	owner    frame.PID
	endpoint [16]byte
	opcode   uint32
	masked   bool
	pending  bool
	dropped  uint64
}

// InterruptRouter tracks which process owns which interrupt line and
// delivers synthetic scalar messages through a Registry/Engine pair when a
// line is asserted.
type InterruptRouter struct {
	lines    [NumLines]*claim
	registry *Registry
	engine   *Engine

	log *log.Logger
}

// NewInterruptRouter creates a router that delivers through registry/engine.
func NewInterruptRouter(registry *Registry, engine *Engine) *InterruptRouter {
	return &InterruptRouter{registry: registry, engine: engine, log: log.DefaultLogger()}
}

// ClaimInterrupt binds line to pid's endpoint id, to be notified with
// opcode when the line is asserted.
func (r *InterruptRouter) ClaimInterrupt(pid frame.PID, line uint8, id [16]byte, opcode uint32) error {
	if int(line) >= NumLines {
		return fmt.Errorf("%w: line %d", ErrInvalidArgument, line)
	}

	if r.lines[line] != nil {
		return fmt.Errorf("%w: line %d owned by pid %d", ErrLineClaimed, line, r.lines[line].owner)
	}

	r.lines[line] = &claim{owner: pid, endpoint: id, opcode: opcode}

	return nil
}

// FreeInterrupt releases pid's claim on line.
func (r *InterruptRouter) FreeInterrupt(pid frame.PID, line uint8) error {
	if int(line) >= NumLines || r.lines[line] == nil {
		return fmt.Errorf("%w: line %d", ErrLineNotClaimed, line)
	}

	if r.lines[line].owner != pid {
		return fmt.Errorf("%w: line %d owned by pid %d, not %d", ErrAccessDenied, line, r.lines[line].owner, pid)
	}

	r.lines[line] = nil

	return nil
}

// Assert delivers a synthetic scalar message to line's owning endpoint and
// masks the line until acknowledged. A line asserted again while still
// masked isn't redelivered immediately and isn't dropped either: the
// reassertion is recorded as pending and replayed on the next Acknowledge,
// so a claimant that is slow to acknowledge doesn't lose the second event.
// If the endpoint's queue is at capacity, the interrupt is dropped and
// counted instead.
func (r *InterruptRouter) Assert(line uint8) error {
	if int(line) >= NumLines || r.lines[line] == nil {
		return fmt.Errorf("%w: line %d", ErrLineNotClaimed, line)
	}

	c := r.lines[line]
	if c.masked {
		c.pending = true
		return nil
	}

	return r.deliverAssert(line, c)
}

// deliverAssert hands c's synthetic message to its endpoint and masks the
// line, or counts the assertion as dropped if the endpoint's queue is full.
func (r *InterruptRouter) deliverAssert(line uint8, c *claim) error {
	ref, ok := r.registry.byID[c.endpoint]
	if !ok {
		return ErrEndpointGone
	}

	ep := r.registry.endpointAt(ref)
	if ep == nil || ep.destroyed {
		return ErrEndpointGone
	}

	msg := Message{Kind: KindScalarNonblocking, Opcode: c.opcode, SenderPID: frame.Kernel}

	if err := r.engine.deliver(ep, msg); err != nil {
		c.dropped++
		r.log.Warn("ipc: interrupt dropped", "line", line, "dropped", c.dropped)

		return nil
	}

	c.masked = true

	return nil
}

// Acknowledge unmasks line, making further assertions deliverable again: an
// asserted line is masked until the claiming process acknowledges it. If a
// reassertion arrived while line was masked, it is delivered now and the
// line ends up masked again awaiting the next acknowledge.
func (r *InterruptRouter) Acknowledge(pid frame.PID, line uint8) error {
	if int(line) >= NumLines || r.lines[line] == nil {
		return fmt.Errorf("%w: line %d", ErrLineNotClaimed, line)
	}

	c := r.lines[line]
	if c.owner != pid {
		return fmt.Errorf("%w: line %d owned by pid %d, not %d", ErrAccessDenied, line, c.owner, pid)
	}

	c.masked = false

	if c.pending {
		c.pending = false
		return r.deliverAssert(line, c)
	}

	return nil
}

// Dropped returns the number of assertions dropped for line due to queue
// overflow.
func (r *InterruptRouter) Dropped(line uint8) uint64 {
	if int(line) >= NumLines || r.lines[line] == nil {
		return 0
	}

	return r.lines[line].dropped
}
