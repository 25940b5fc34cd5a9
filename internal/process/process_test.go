package process_test

import (
	"errors"
	"testing"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/process"
)

func TestCreateProcessInitOnly(t *testing.T) {
	frames := frame.New(16)
	table := process.NewTable(frames, process.InitOnly)
	table.SetInitPID(2)

	if _, err := table.CreateProcess(3, 0x1000, 0x8000_0000); !errors.Is(err, process.ErrAccessDenied) {
		t.Fatalf("CreateProcess by non-init: err = %v, want ErrAccessDenied", err)
	}

	// Bootstrap PID 2 directly as the table would from the boot blob: the
	// table permits PID 2 to create once it is designated init, but PID 2
	// itself must already exist as a process record to be a caller. In
	// practice internal/kernel creates PID 2 via a privileged boot path;
	// here we promote the kernel to create on its behalf for the purposes
	// of the test by designating the kernel as init.
	table.SetInitPID(process.KernelPID)

	pid, err := table.CreateProcess(process.KernelPID, 0x1000, 0x8000_0000)
	if err != nil {
		t.Fatalf("CreateProcess: %s", err)
	}

	if pid != 2 {
		t.Errorf("pid = %d, want 2", pid)
	}

	p, err := table.Process(pid)
	if err != nil {
		t.Fatalf("Process: %s", err)
	}

	if p.Threads[0].State != process.StateRunnable {
		t.Errorf("main thread state = %s, want runnable", p.Threads[0].State)
	}
}

func TestCreateProcessCapability(t *testing.T) {
	frames := frame.New(16)
	table := process.NewTable(frames, process.Capability)

	if _, err := table.CreateProcess(5, 0x1000, 0x8000_0000); !errors.Is(err, process.ErrAccessDenied) {
		t.Fatalf("CreateProcess without capability: err = %v, want ErrAccessDenied", err)
	}

	table.GrantCapability(5)

	if _, err := table.CreateProcess(5, 0x1000, 0x8000_0000); err != nil {
		t.Fatalf("CreateProcess with capability: %s", err)
	}
}

func TestExitProcessReclaimsFrames(t *testing.T) {
	frames := frame.New(16)
	table := process.NewTable(frames, process.Capability)
	table.GrantCapability(process.KernelPID)

	pid, err := table.CreateProcess(process.KernelPID, 0x1000, 0x8000_0000)
	if err != nil {
		t.Fatalf("CreateProcess: %s", err)
	}

	if _, err := frames.Allocate(pid); err != nil {
		t.Fatalf("Allocate: %s", err)
	}

	if _, err := frames.Allocate(pid); err != nil {
		t.Fatalf("Allocate: %s", err)
	}

	if err := table.ExitProcess(pid, 0); err != nil {
		t.Fatalf("ExitProcess: %s", err)
	}

	free, owned, _ := frames.Invariant()
	if owned != 0 || free != 16 {
		t.Errorf("after exit: free=%d owned=%d, want free=16 owned=0", free, owned)
	}

	p, _ := table.Process(pid)
	for i, th := range p.Threads {
		if th.State != process.StateUnused && th.State != process.StateTerminated {
			t.Errorf("thread %d state = %s, want terminated or unused", i, th.State)
		}
	}
}

func TestTerminateThreadWakesBlockedPeer(t *testing.T) {
	frames := frame.New(16)
	table := process.NewTable(frames, process.Capability)
	table.GrantCapability(process.KernelPID)

	sender, err := table.CreateProcess(process.KernelPID, 0x1000, 0x8000_0000)
	if err != nil {
		t.Fatalf("CreateProcess sender: %s", err)
	}

	receiver, err := table.CreateProcess(process.KernelPID, 0x2000, 0x8000_0000)
	if err != nil {
		t.Fatalf("CreateProcess receiver: %s", err)
	}

	senderThread, err := table.Thread(sender, 0)
	if err != nil {
		t.Fatalf("Thread: %s", err)
	}

	senderThread.State = process.StateBlockedReply
	senderThread.Blocked.PID = receiver
	senderThread.Blocked.TID = 0

	if err := table.TerminateThread(receiver, 0); err != nil {
		t.Fatalf("TerminateThread: %s", err)
	}

	if senderThread.State != process.StateRunnable {
		t.Errorf("sender state = %s, want runnable", senderThread.State)
	}

	if !errors.Is(senderThread.ExitError, process.ErrRecipientGone) {
		t.Errorf("sender exit error = %v, want ErrRecipientGone", senderThread.ExitError)
	}
}
