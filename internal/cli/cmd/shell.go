package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/betrusted-io/xous-kernel/internal/cli"
	"github.com/betrusted-io/xous-kernel/internal/console"
	"github.com/betrusted-io/xous-kernel/internal/kernel"
	"github.com/betrusted-io/xous-kernel/internal/log"
)

// shell boots a kernel and opens an interactive debug console over it. It
// prefers a raw-mode terminal (internal/console) but falls back to a plain
// line scanner when stdin is not a TTY, e.g. under a test harness or a
// piped script.
type shell struct {
	fs   *flag.FlagSet
	blob *string
}

var _ cli.Command = (*shell)(nil)

func Shell() *shell {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	blob := fs.String("blob", "", "path to a kernel argument blob")

	return &shell{fs: fs, blob: blob}
}

func (sh *shell) FlagSet() *cli.FlagSet { return sh.fs }

func (sh *shell) Description() string { return "boot the kernel and open an interactive debug shell" }

func (sh *shell) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `shell -blob <path>

Boots the kernel and opens an interactive console for inspecting and
driving it: ps, create, terminate, yield, frames. Type help at the prompt
for the full list.`)

	return err
}

func (sh *shell) Run(ctx context.Context, _ []string, out io.Writer, logger *log.Logger) int {
	if *sh.blob == "" {
		fmt.Fprintln(out, "shell: -blob is required")
		return 1
	}

	data, err := os.ReadFile(*sh.blob)
	if err != nil {
		logger.Error("shell: reading blob", "err", err)
		return 1
	}

	k, err := kernel.Boot(data)
	if err != nil {
		logger.Error("shell: boot failed", "err", err)
		return 1
	}

	term, err := console.NewConsole(os.Stdin, out, "xous> ")
	if errors.Is(err, console.ErrNoTTY) {
		return sh.runPlain(ctx, k, out)
	} else if err != nil {
		logger.Error("shell: console", "err", err)
		return 1
	}

	defer term.Restore()

	repl := console.NewShell(k, term.Writer())

	for {
		line, err := term.ReadLine()
		if err != nil {
			return 0
		}

		if err := repl.Eval(line); err != nil {
			fmt.Fprintf(term.Writer(), "%s\n", err)
		}
	}
}

// runPlain drives the same shell over stdin/stdout without raw-mode line
// editing, so scripted input (and tests) can exercise it.
func (sh *shell) runPlain(_ context.Context, k *kernel.Kernel, out io.Writer) int {
	repl := console.NewShell(k, out)
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		if err := repl.Eval(scanner.Text()); err != nil {
			fmt.Fprintf(out, "%s\n", err)
		}
	}

	return 0
}
