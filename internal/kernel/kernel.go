// Package kernel assembles the frame allocator, process table, IPC
// registry/engine, interrupt router, and scheduler into a bootable system,
// and wires the syscall dispatch table against them. Boot takes functional
// Option values and builds one value out of several independently-testable
// parts, generalized from one machine to a kernel owning several
// subsystems, with Boot taking the place of loading an object file.
package kernel

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/betrusted-io/xous-kernel/internal/addrspace"
	"github.com/betrusted-io/xous-kernel/internal/arch"
	"github.com/betrusted-io/xous-kernel/internal/bootinfo"
	"github.com/betrusted-io/xous-kernel/internal/frame"
	"github.com/betrusted-io/xous-kernel/internal/ipc"
	"github.com/betrusted-io/xous-kernel/internal/log"
	"github.com/betrusted-io/xous-kernel/internal/process"
	"github.com/betrusted-io/xous-kernel/internal/sched"
	"github.com/betrusted-io/xous-kernel/internal/syscall"
)

// userStackTop is the default stack pointer handed to a freshly created
// process's main thread: the top of the lower 3 GiB user half of a typical
// Sv32 split, leaving the upper quarter for the kernel's own mappings.
const userStackTop = 0xbfff_f000

var ErrInvalidBootInfo = errors.New("kernel: boot info inconsistent with memory map")

// Kernel owns every kernel subsystem and the syscall table bound to them.
// Its fields are exported so a CLI command or test can inspect state
// directly, the way a hardware simulator exposes its registers and memory.
type Kernel struct {
	Args *bootinfo.Args

	Frames     *frame.Allocator
	Procs      *process.Table
	Registry   *ipc.Registry
	Engine     *ipc.Engine
	Interrupts *ipc.InterruptRouter
	Sched      *sched.Scheduler
	Syscalls   syscall.Table

	// pending records the message a thread most recently dequeued with
	// ReceiveMessage, so Reply can find it by (pid, tid) instead of the
	// caller round-tripping the whole envelope back through registers.
	pending map[pendingKey]ipc.Message

	// exceptionHandlers records each process's registered fault handler.
	// No fault-delivery path drives it yet; it is bookkeeping for a future
	// trap dispatcher, accepted and stored by the syscall that registers it.
	exceptionHandlers map[frame.PID]exceptionHandler

	log *log.Logger
}

type pendingKey struct {
	pid frame.PID
	tid uint8
}

type exceptionHandler struct {
	Entry uint32
	Stack uint32
}

type options struct {
	policy process.CreatePolicy
	random io.Reader
}

// Option configures Boot.
type Option func(*options)

// WithCreatePolicy overrides the default InitOnly process-creation policy.
func WithCreatePolicy(p process.CreatePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithRandomSource overrides the source of randomness used to generate
// endpoint IDs, for deterministic tests.
func WithRandomSource(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// Boot parses a kernel argument blob, builds the frame database from its
// memory map, and spawns the processes named by its Init records. It is the
// single entry point a bootloader (or a test harness standing in for one)
// calls once, analogous to a loader reading an object file before the
// emulated machine starts running it.
func Boot(blob []byte, opts ...Option) (*Kernel, error) {
	args, err := bootinfo.Parse(blob)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	cfg := options{policy: process.InitOnly}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := log.DefaultLogger()

	frameCount := args.MainRAMLen / arch.PageSize
	frames := frame.New(int(frameCount))

	k := &Kernel{
		Args:              args,
		Frames:            frames,
		pending:           make(map[pendingKey]ipc.Message),
		exceptionHandlers: make(map[frame.PID]exceptionHandler),
		log:               logger,
	}

	k.Procs = process.NewTable(frames, cfg.policy)

	if cfg.policy == process.Capability {
		k.Procs.GrantCapability(process.KernelPID)
	}

	var ipcOpts []ipc.Option
	if cfg.random != nil {
		ipcOpts = append(ipcOpts, ipc.WithRandomSource(cfg.random))
	}

	k.Registry = ipc.NewRegistry(ipcOpts...)
	k.Sched = sched.New()
	k.Engine = ipc.NewEngine(k.Registry, k.Procs, k.Sched)
	k.Interrupts = ipc.NewInterruptRouter(k.Registry, k.Engine)

	if err := k.reserveKernelFrames(); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	if err := k.bindWellKnownServers(); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	if err := k.spawnInitProcesses(); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	k.registerSyscalls()

	logger.Info("kernel: boot complete", log.Addr("ram_base", args.MainRAMBase),
		"ram_len", args.MainRAMLen, "frames", frames.Count(), "init_processes", len(args.Init))

	return k, nil
}

func pages(n uint32) uint32 {
	return (n + arch.PageSize - 1) / arch.PageSize
}

func (k *Kernel) frameNumber(phys uint32) (uint32, error) {
	if phys < k.Args.MainRAMBase {
		return 0, fmt.Errorf("%w: address %#08x below main RAM base %#08x",
			ErrInvalidBootInfo, phys, k.Args.MainRAMBase)
	}

	return (phys - k.Args.MainRAMBase) / arch.PageSize, nil
}

// reserveKernelFrames marks the kernel's own image, and every region named
// by the MREx tag, as owned rather than free, before any process can
// allocate from the frame database.
func (k *Kernel) reserveKernelFrames() error {
	kernelPages := pages(k.Args.KernelDataLen)

	for i := uint32(0); i < kernelPages; i++ {
		frameNum, err := k.frameNumber(k.Args.KernelLoadAddr + i*arch.PageSize)
		if err != nil {
			return err
		}

		if err := k.Frames.AllocateAt(frameNum, process.KernelPID); err != nil {
			return fmt.Errorf("reserving kernel frame %d: %w", frameNum, err)
		}
	}

	for _, region := range k.Args.Regions {
		regionPages := pages(region.Length)

		for i := uint32(0); i < regionPages; i++ {
			frameNum, err := k.frameNumber(region.Base + i*arch.PageSize)
			if err != nil {
				continue // Outside main RAM, e.g. MMIO; not frame-tracked here.
			}

			// Best-effort: a region may legitimately overlap one already
			// reserved (the kernel image itself is often also listed as a
			// reserved region); a second claim on the same frame is not an
			// error at boot.
			_ = k.Frames.AllocateAt(frameNum, frame.Device)
		}
	}

	return nil
}

func (k *Kernel) bindWellKnownServers() error {
	for _, id := range []uuid.UUID{ipc.WellKnownName, ipc.WellKnownLog, ipc.WellKnownTickTimer} {
		if err := k.Registry.BindWellKnown(id, process.KernelPID); err != nil {
			return fmt.Errorf("binding well-known endpoint %s: %w", id, err)
		}
	}

	return nil
}

// spawnInitProcesses creates one process per bootinfo.InitProcess record.
// The kernel process briefly holds create-process privilege under InitOnly
// so it can spawn these processes itself; once all of them are created, the
// first one receives that privilege for the remainder of the system's life,
// per the distinguished init process design: whichever process the boot blob
// names first inherits create-process privilege.
func (k *Kernel) spawnInitProcesses() error {
	k.Procs.SetInitPID(process.KernelPID)

	var first frame.PID

	for i := range k.Args.Init {
		img := k.Args.Init[i]

		pid, err := k.Procs.CreateProcess(process.KernelPID, img.Entry, userStackTop)
		if err != nil {
			return fmt.Errorf("spawning init process %d: %w", i, err)
		}

		if err := k.mapInitImage(pid, img); err != nil {
			return fmt.Errorf("mapping init process %d (pid %d): %w", i, pid, err)
		}

		if i == 0 {
			first = pid
		}

		k.Sched.Add(sched.Entry{PID: pid, TID: 0})

		k.log.Info("kernel: spawned init process", "pid", pid, log.Addr("entry", img.Entry))
	}

	if len(k.Args.Init) > 0 {
		k.Procs.SetInitPID(first)
	}

	return nil
}

// mapInitImage reserves the physical frames backing one init image, hands
// them to the new process, and maps them into its address space; BSS is
// backed by freshly allocated, implicitly zero frames rather than anything
// read from the image.
func (k *Kernel) mapInitImage(pid frame.PID, img bootinfo.InitProcess) error {
	proc, err := k.Procs.Process(pid)
	if err != nil {
		return err
	}

	textPages := pages(img.Length)

	for i := uint32(0); i < textPages; i++ {
		frameNum, err := k.frameNumber(img.LoadAddr + i*arch.PageSize)
		if err != nil {
			return err
		}

		if err := k.Frames.AllocateAt(frameNum, process.KernelPID); err != nil {
			return fmt.Errorf("image overlaps reserved frame %d: %w", frameNum, err)
		}

		if err := k.Frames.Transfer(frameNum, process.KernelPID, pid); err != nil {
			return err
		}

		virt := img.TextVirt + i*arch.PageSize
		flags := arch.FlagRead | arch.FlagWrite | arch.FlagExecute | arch.FlagUser

		if err := proc.Space.Map(virt, frameNum, flags); err != nil {
			return err
		}
	}

	bssPages := pages(img.BSSLength)
	bssBase := img.DataVirt + img.Length

	for i := uint32(0); i < bssPages; i++ {
		frameNum, err := k.Frames.Allocate(pid)
		if err != nil {
			return err
		}

		virt := bssBase + i*arch.PageSize
		flags := arch.FlagRead | arch.FlagWrite | arch.FlagUser

		if err := proc.Space.Map(virt, frameNum, flags); err != nil {
			return err
		}
	}

	return nil
}

// WakeSleeper resumes a thread parked by WaitEvent. It is exported for a
// timer or event source outside the syscall boundary, mirroring how
// interrupt/event sources are distinct from the syscalls a thread blocks
// on; nothing in this module calls it.
func (k *Kernel) WakeSleeper(pid frame.PID, tid uint8) error {
	th, err := k.Procs.Thread(pid, tid)
	if err != nil {
		return err
	}

	if th.State != process.StateBlockedSleep {
		return nil
	}

	th.State = process.StateRunnable
	k.Sched.Wake(sched.Entry{PID: pid, TID: tid})

	return nil
}

// classify maps a subsystem error to the closed syscall.Error enumeration,
// so every handler returns one of a fixed set of codes regardless of which
// package's sentinel produced the underlying error.
func classify(err error) syscall.Error {
	switch {
	case err == nil:
		return syscall.ErrOK
	case errors.Is(err, frame.ErrOutOfMemory):
		return syscall.ErrOutOfMemory
	case errors.Is(err, ipc.ErrOutOfSlots), errors.Is(err, process.ErrOutOfSlots):
		return syscall.ErrOutOfSlots
	case errors.Is(err, addrspace.ErrBusy):
		return syscall.ErrBusy
	case errors.Is(err, ipc.ErrAccessDenied), errors.Is(err, process.ErrAccessDenied):
		return syscall.ErrAccessDenied
	case errors.Is(err, ipc.ErrQueueFull):
		return syscall.ErrQueueFull
	case errors.Is(err, ipc.ErrEndpointGone):
		return syscall.ErrEndpointGone
	case errors.Is(err, ipc.ErrRecipientGone), errors.Is(err, process.ErrRecipientGone):
		return syscall.ErrRecipientGone
	case errors.Is(err, ipc.ErrNotReady):
		return syscall.ErrNotReady
	default:
		return syscall.ErrInvalidArgument
	}
}

// Panic is the kernel's only fatal path: corruption of its own invariants
// halts the hart after emitting a diagnostic record. It never returns.
func (k *Kernel) Panic(reason string, attrs ...any) {
	logger := k.log
	if logger == nil {
		logger = log.DefaultLogger()
	}

	logger.Error("kernel: panic: "+reason, attrs...)
	panic("kernel panic: " + reason)
}
