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

// run boots a kernel and drives its scheduler for a bounded number of
// reschedules, printing which (pid, tid) the round-robin ring picks each
// tick. There is no trap-driven execution engine in this tree (that would
// require a RISC-V or ARMv7-A interpreter, out of scope); this stands in
// for it well enough to observe fairness and idle fallback.
type run struct {
	fs    *flag.FlagSet
	blob  *string
	ticks *int
}

var _ cli.Command = (*run)(nil)

func Run() *run {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	blob := fs.String("blob", "", "path to a kernel argument blob")
	ticks := fs.Int("ticks", 20, "number of scheduler ticks to print")

	return &run{fs: fs, blob: blob, ticks: ticks}
}

func (r *run) FlagSet() *cli.FlagSet { return r.fs }

func (r *run) Description() string { return "boot the kernel and step its scheduler" }

func (r *run) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run -blob <path> [-ticks N]

Boots the kernel and calls Next on its scheduler N times, printing the
(pid, tid) picked on each tick.`)

	return err
}

func (r *run) Run(_ context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	if *r.blob == "" {
		fmt.Fprintln(out, "run: -blob is required")
		return 1
	}

	data, err := os.ReadFile(*r.blob)
	if err != nil {
		logger.Error("run: reading blob", "err", err)
		return 1
	}

	k, err := kernel.Boot(data)
	if err != nil {
		logger.Error("run: boot failed", "err", err)
		return 1
	}

	for i := 0; i < *r.ticks; i++ {
		next := k.Sched.Next()
		fmt.Fprintf(out, "tick %3d: %s\n", i, next)
	}

	return 0
}
