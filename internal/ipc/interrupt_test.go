package ipc_test

import (
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/ipc"
	"github.com/betrusted-io/xous-kernel/internal/sched"
)

// TestInterruptReassertWhileMaskedIsQueued exercises a line asserted twice
// before its owner acknowledges the first: the second assertion must not be
// delivered immediately (the line is still masked) and must not be dropped
// either, since the queue never actually filled up. Acknowledging makes the
// queued reassertion deliverable.
func TestInterruptReassertWhileMaskedIsQueued(t *testing.T) {
	_, procs, s, registry, engine := newHarness(t)

	owner := mustCreateProcess(t, procs, 0x1000)
	s.Add(sched.Entry{PID: owner})

	id, err := registry.CreateServer(owner, nil)
	if err != nil {
		t.Fatalf("CreateServer: %s", err)
	}

	router := ipc.NewInterruptRouter(registry, engine)

	const line = 7
	const opcode = 0x99

	if err := router.ClaimInterrupt(owner, line, id, opcode); err != nil {
		t.Fatalf("ClaimInterrupt: %s", err)
	}

	if err := router.Assert(line); err != nil {
		t.Fatalf("first Assert: %s", err)
	}

	first, err := engine.Receive(owner, 0, id)
	if err != nil {
		t.Fatalf("Receive first delivery: %s", err)
	}

	if first.Opcode != opcode {
		t.Fatalf("first delivery opcode = %#x, want %#x", first.Opcode, opcode)
	}

	// The line is masked after the first delivery; a reassertion now must be
	// queued rather than delivered or dropped.
	if err := router.Assert(line); err != nil {
		t.Fatalf("second Assert: %s", err)
	}

	if _, err := engine.Receive(owner, 0, id); err != ipc.ErrNotReady {
		t.Fatalf("Receive after masked reassert: err = %v, want ErrNotReady (nothing delivered yet)", err)
	}

	if got := router.Dropped(line); got != 0 {
		t.Fatalf("Dropped(line) = %d, want 0 (masked reassert is queued, not dropped)", got)
	}

	if err := router.Acknowledge(owner, line); err != nil {
		t.Fatalf("Acknowledge: %s", err)
	}

	second, err := engine.Receive(owner, 0, id)
	if err != nil {
		t.Fatalf("Receive after acknowledge: %s", err)
	}

	if second.Opcode != opcode {
		t.Fatalf("second delivery opcode = %#x, want %#x", second.Opcode, opcode)
	}

	// The queued reassertion's delivery re-masked the line; a second
	// acknowledge with nothing pending just unmasks it.
	if err := router.Acknowledge(owner, line); err != nil {
		t.Fatalf("final Acknowledge: %s", err)
	}

	if _, err := engine.Receive(owner, 0, id); err != ipc.ErrNotReady {
		t.Fatalf("Receive with nothing pending: err = %v, want ErrNotReady", err)
	}
}

// TestInterruptAssertDropsOnQueueOverflow keeps the genuine overflow case
// distinct from a masked reassert: when the endpoint's queue is actually
// full, Assert drops and counts rather than queuing.
func TestInterruptAssertDropsOnQueueOverflow(t *testing.T) {
	_, procs, s, _, _ := newHarness(t)

	owner := mustCreateProcess(t, procs, 0x1000)
	other := mustCreateProcess(t, procs, 0x2000)
	s.Add(sched.Entry{PID: owner})
	s.Add(sched.Entry{PID: other})

	registry := ipc.NewRegistry(ipc.WithQueueDepth(1))
	engine := ipc.NewEngine(registry, procs, s)
	router := ipc.NewInterruptRouter(registry, engine)

	id, err := registry.CreateServer(owner, nil)
	if err != nil {
		t.Fatalf("CreateServer: %s", err)
	}

	cid, err := registry.Connect(other, id)
	if err != nil {
		t.Fatalf("Connect: %s", err)
	}

	const line = 3

	if err := router.ClaimInterrupt(owner, line, id, 0x1); err != nil {
		t.Fatalf("ClaimInterrupt: %s", err)
	}

	// Fill the one-deep queue with an ordinary message so the line's own
	// delivery below finds no room.
	if err := engine.SendScalarNonblocking(other, 0, cid, 0x1, [5]uint32{}); err != nil {
		t.Fatalf("fill queue: %s", err)
	}

	if err := router.Assert(line); err != nil {
		t.Fatalf("Assert: %s", err)
	}

	if got := router.Dropped(line); got != 1 {
		t.Fatalf("Dropped(line) after one overflowing assert = %d, want 1", got)
	}

	// The line was never actually delivered, so it was never masked;
	// asserting again still finds the queue full and drops again.
	if err := router.Assert(line); err != nil {
		t.Fatalf("second Assert: %s", err)
	}

	if got := router.Dropped(line); got != 2 {
		t.Fatalf("Dropped(line) after two overflowing asserts = %d, want 2", got)
	}
}
