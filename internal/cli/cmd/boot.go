package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/betrusted-io/xous-kernel/internal/cli"
	"github.com/betrusted-io/xous-kernel/internal/kernel"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

// boot implements the "boot" subcommand: parse a kernel argument blob,
// assemble every subsystem, spawn the named init processes, and report
// what came up. It does not run anything past boot; see "run" for that.
type boot struct {
	fs   *flag.FlagSet
	blob *string
}

var _ cli.Command = (*boot)(nil)

// Boot creates the "boot" command.
func Boot() *boot {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	blob := fs.String("blob", "", "path to a kernel argument blob")

	return &boot{fs: fs, blob: blob}
}

func (b *boot) FlagSet() *cli.FlagSet { return b.fs }

func (b *boot) Description() string { return "boot the kernel from a kernel argument blob" }

func (b *boot) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `boot -blob <path>

Parses a kernel argument blob and boots the kernel: builds the frame
database from its memory map and spawns the processes named by its Init
records. Prints a summary of what came up.`)

	return err
}

func (b *boot) Run(_ context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	if *b.blob == "" {
		fmt.Fprintln(out, "boot: -blob is required")
		return 1
	}

	data, err := os.ReadFile(*b.blob)
	if err != nil {
		logger.Error("boot: reading blob", "err", err)
		return 1
	}

	k, err := kernel.Boot(data)
	if err != nil {
		logger.Error("boot: failed", "err", err)
		return 1
	}

	fmt.Fprintf(out, "kernel booted: %d frames, %d init processes\n",
		k.Frames.Count(), len(k.Args.Init))

	for _, r := range k.Procs.Runnable() {
		fmt.Fprintf(out, "  pid=%d tid=%d runnable\n", r.PID, r.TID)
	}

	return 0
}
