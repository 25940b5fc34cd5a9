package console

// shell.go implements the line-command interpreter the shell CLI command
// drives against a booted kernel. It is a privileged debug interface: it
// pokes internal/kernel and internal/process state directly rather than
// crossing the syscall boundary, the way a debug monitor inspects a running
// machine's registers directly rather than issuing it instructions.

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/kernel"
	"github.com/betrusted-io/xous-kernel/internal/sched"
)

// Shell evaluates one line of input at a time against a booted kernel.
type Shell struct {
	Kernel *kernel.Kernel
	Out    io.Writer
}

// NewShell creates a Shell over an already-booted kernel.
func NewShell(k *kernel.Kernel, out io.Writer) *Shell {
	return &Shell{Kernel: k, Out: out}
}

// Eval parses and executes one line. Malformed commands return an error;
// a failed kernel operation is printed instead, so a session survives a
// typo or a rejected syscall the way a real shell survives a failed
// command.
func (s *Shell) Eval(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(s.Out, "commands: ps, create <entry> <stack>, terminate <pid>, yield <pid> <tid>, "+
			"frames, assert <line>, acknowledge <pid> <line>")
		return nil
	case "ps":
		return s.ps()
	case "frames":
		return s.frames()
	case "create":
		return s.create(fields[1:])
	case "terminate":
		return s.terminate(fields[1:])
	case "yield":
		return s.yield(fields[1:])
	case "assert":
		return s.assert(fields[1:])
	case "acknowledge":
		return s.acknowledge(fields[1:])
	default:
		return fmt.Errorf("unknown command: %q (try help)", fields[0])
	}
}

func (s *Shell) ps() error {
	for _, r := range s.Kernel.Procs.Runnable() {
		fmt.Fprintf(s.Out, "pid=%-4d tid=%-3d runnable\n", r.PID, r.TID)
	}

	return nil
}

func (s *Shell) frames() error {
	free, owned, reserved := s.Kernel.Frames.Invariant()
	fmt.Fprintf(s.Out, "frames: total=%d free=%d owned=%d reserved=%d\n",
		s.Kernel.Frames.Count(), free, owned, reserved)

	return nil
}

func (s *Shell) create(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: create <entry> <stack>")
	}

	entry, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	stack, err := parseUint32(args[1])
	if err != nil {
		return err
	}

	// Acts as the process the table records as init, which holds
	// create-process privilege under InitOnly. Under Capability the call
	// succeeds only if that process has been granted the capability; Boot
	// grants it to the kernel process alone.
	pid, err := s.Kernel.Procs.CreateProcess(s.Kernel.Procs.InitPID(), entry, stack)
	if err != nil {
		fmt.Fprintf(s.Out, "create: %s\n", err)
		return nil
	}

	s.Kernel.Sched.Add(sched.Entry{PID: pid, TID: 0})
	fmt.Fprintf(s.Out, "created pid=%d\n", pid)

	return nil
}

func (s *Shell) terminate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: terminate <pid>")
	}

	pid, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	target := frame.PID(pid)

	s.Kernel.Registry.DestroyOwned(target, s.Kernel.Procs, s.Kernel.Sched)
	s.Kernel.Registry.ReclaimConnections(target)

	if err := s.Kernel.Procs.ExitProcess(target, 0); err != nil {
		fmt.Fprintf(s.Out, "terminate: %s\n", err)
		return nil
	}

	fmt.Fprintf(s.Out, "terminated pid=%d\n", pid)

	return nil
}

func (s *Shell) yield(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: yield <pid> <tid>")
	}

	pid, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	tid, err := parseUint32(args[1])
	if err != nil {
		return err
	}

	s.Kernel.Sched.Yield(sched.Entry{PID: frame.PID(pid), TID: uint8(tid)})
	fmt.Fprintf(s.Out, "yielded pid=%d tid=%d\n", pid, tid)

	return nil
}

// assert drives a claimed interrupt line directly, standing in for the
// hardware event a real platform would raise; there is no simulated device
// in this tree to raise one on its own.
func (s *Shell) assert(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: assert <line>")
	}

	line, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	if err := s.Kernel.Interrupts.Assert(uint8(line)); err != nil {
		fmt.Fprintf(s.Out, "assert: %s\n", err)
		return nil
	}

	fmt.Fprintf(s.Out, "asserted line=%d\n", line)

	return nil
}

func (s *Shell) acknowledge(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: acknowledge <pid> <line>")
	}

	pid, err := parseUint32(args[0])
	if err != nil {
		return err
	}

	line, err := parseUint32(args[1])
	if err != nil {
		return err
	}

	if err := s.Kernel.Interrupts.Acknowledge(frame.PID(pid), uint8(line)); err != nil {
		fmt.Fprintf(s.Out, "acknowledge: %s\n", err)
		return nil
	}

	fmt.Fprintf(s.Out, "acknowledged pid=%d line=%d\n", pid, line)

	return nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), hexOrDecBase(s), 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}

	return uint32(n), nil
}

func hexOrDecBase(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}

	return 10
}
