package kernel_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/ipc"
	"github.com/betrusted-io/xous-kernel/internal/kernel"
	"github.com/betrusted-io/xous-kernel/internal/process"
	"github.com/betrusted-io/xous-kernel/internal/sched"
	"github.com/betrusted-io/xous-kernel/internal/syscall"
)

func record(buf *bytes.Buffer, tag string, payload ...uint32) {
	buf.WriteString(tag)
	binary.Write(buf, binary.LittleEndian, uint16(len(payload)))
	binary.Write(buf, binary.LittleEndian, uint16(0))

	for _, w := range payload {
		binary.Write(buf, binary.LittleEndian, w)
	}
}

// testBlob builds a small, valid boot blob: one page of kernel image and
// two one-page init processes, none overlapping.
func testBlob(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	const ramBase = 0x2000_0000

	record(&buf, "XArg", 0, 1, ramBase, 0x0010_0000, 0)
	record(&buf, "XKrn", ramBase, 0x1000, 0x8000_0000, 0x8000_0000, 0, 0x8000_0000)
	record(&buf, "Init",
		ramBase+0x1000, 0x1000, 0x1000_0000, 0x1000_0000, 0x1000, 0x1000_0000,
		ramBase+0x2000, 0x1000, 0x1100_0000, 0x1100_0000, 0x1000, 0x1100_0000,
	)

	return buf.Bytes()
}

func mustBoot(t *testing.T, opts ...kernel.Option) *kernel.Kernel {
	t.Helper()

	k, err := kernel.Boot(testBlob(t), opts...)
	if err != nil {
		t.Fatalf("Boot: %s", err)
	}

	return k
}

func TestBootSpawnsInitProcesses(t *testing.T) {
	k := mustBoot(t)

	runnable := k.Procs.Runnable()
	if len(runnable) != 2 {
		t.Fatalf("Runnable() = %d threads, want 2", len(runnable))
	}

	for _, r := range runnable {
		if !k.Sched.Runnable(sched.Entry{PID: r.PID, TID: r.TID}) {
			t.Errorf("pid %d tid %d not in scheduler ring", r.PID, r.TID)
		}
	}

	free, owned, reserved := k.Frames.Invariant()
	if free+owned+reserved != k.Frames.Count() {
		t.Errorf("frame invariant violated: %d+%d+%d != %d", free, owned, reserved, k.Frames.Count())
	}

	if owned == 0 {
		t.Errorf("owned frame count = 0, want > 0 after mapping init images")
	}
}

func TestBootRejectsMalformedBlob(t *testing.T) {
	if _, err := kernel.Boot([]byte{1, 2, 3}); err == nil {
		t.Fatal("Boot with malformed blob: err = nil, want error")
	}
}

// TestSyscallScalarPing drives a create-server/connect/send/receive/reply
// round trip entirely through the syscall dispatch table, the same boundary
// user code crosses.
func TestSyscallScalarPing(t *testing.T) {
	k := mustBoot(t, kernel.WithRandomSource(bytes.NewReader(bytesRepeat(1, 256))))

	runnable := k.Procs.Runnable()
	a, b := runnable[0].PID, runnable[1].PID

	created := k.Syscalls.Dispatch(syscall.CreateServer, uint32(b), 0, syscall.Args{})
	if created.Err != syscall.ErrOK {
		t.Fatalf("CreateServer: %s", created.Err)
	}

	idWords := syscall.Args{created.Ret0, created.Ret1, created.Ret2, created.Ret3}

	connected := k.Syscalls.Dispatch(syscall.Connect, uint32(a), 0, idWords)
	if connected.Err != syscall.ErrOK {
		t.Fatalf("Connect: %s", connected.Err)
	}

	cid := connected.Ret0

	sendArgs := syscall.Args{cid, uint32(ipc.KindScalarBlocking)<<24 | 1, 1, 2, 3, 4, 5}

	sent := k.Syscalls.Dispatch(syscall.SendMessage, uint32(a), 0, sendArgs)
	if sent.Err != syscall.ErrOK || !sent.Blocked {
		t.Fatalf("SendMessage: %+v", sent)
	}

	senderTh, err := k.Procs.Thread(a, 0)
	if err != nil {
		t.Fatal(err)
	}

	if senderTh.State != process.StateBlockedReply {
		t.Fatalf("sender state = %s, want blocked-reply", senderTh.State)
	}

	received := k.Syscalls.Dispatch(syscall.ReceiveMessage, uint32(b), 0, idWords)
	if received.Err != syscall.ErrOK {
		t.Fatalf("ReceiveMessage: %s", received.Err)
	}

	if received.Ret0 != 1 || received.Ret1 != 1 {
		t.Errorf("received opcode/arg0 = %d/%d, want 1/1", received.Ret0, received.Ret1)
	}

	replied := k.Syscalls.Dispatch(syscall.Reply, uint32(b), 0, syscall.Args{42, 99})
	if replied.Err != syscall.ErrOK {
		t.Fatalf("Reply: %s", replied.Err)
	}

	if senderTh.State != process.StateRunnable {
		t.Errorf("sender state after reply = %s, want runnable", senderTh.State)
	}

	if senderTh.Ctx.Reg(1) != 42 || senderTh.Ctx.Reg(2) != 99 {
		t.Errorf("sender return words = (%d,%d), want (42,99)", senderTh.Ctx.Reg(1), senderTh.Ctx.Reg(2))
	}
}

func TestSyscallTerminateProcessReclaimsFrames(t *testing.T) {
	k := mustBoot(t)

	runnable := k.Procs.Runnable()
	target := runnable[1].PID

	_, before, _ := k.Frames.Invariant()

	result := k.Syscalls.Dispatch(syscall.TerminateProcess, uint32(target), 0, syscall.Args{uint32(target), 0})
	if result.Err != syscall.ErrOK {
		t.Fatalf("TerminateProcess: %s", result.Err)
	}

	if k.Sched.Runnable(sched.Entry{PID: target, TID: 0}) {
		t.Errorf("pid %d still runnable after termination", target)
	}

	_, after, _ := k.Frames.Invariant()
	if after >= before {
		t.Errorf("owned frame count = %d, want < %d after terminating a process", after, before)
	}
}

func TestSyscallMapUnmapMemoryRoundTrip(t *testing.T) {
	k := mustBoot(t)

	pid := k.Procs.Runnable()[0].PID

	mapped := k.Syscalls.Dispatch(syscall.MapMemory, uint32(pid), 0,
		syscall.Args{0x2000_0000, 0x2000, uint32(0)})
	if mapped.Err != syscall.ErrOK {
		t.Fatalf("MapMemory: %s", mapped.Err)
	}

	unmapped := k.Syscalls.Dispatch(syscall.UnmapMemory, uint32(pid), 0,
		syscall.Args{0x2000_0000, 0x2000})
	if unmapped.Err != syscall.ErrOK {
		t.Fatalf("UnmapMemory: %s", unmapped.Err)
	}
}

func TestSyscallYieldUnknownPIDIsNotRejected(t *testing.T) {
	k := mustBoot(t)

	result := k.Syscalls.Dispatch(syscall.YieldThread, uint32(frame.PID(63)), 0, syscall.Args{})

	// Yield does not validate the caller against the process table (the
	// scheduler ring simply won't contain an unknown entry), so this
	// documents that behavior rather than asserting an error.
	if result.Err != syscall.ErrOK {
		t.Fatalf("YieldThread: %s", result.Err)
	}
}

func bytesRepeat(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}

	return b
}
