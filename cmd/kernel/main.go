// Command kernel is the simulated microkernel's command-line entry point:
// boot, run, and shell subcommands over a kernel argument blob.
package main

import (
	"context"
	"os"

	"github.com/betrusted-io/xous-kernel/internal/cli"
	"github.com/betrusted-io/xous-kernel/internal/cli/cmd"
)

func main() {
	commands := []cli.Command{
		cmd.Boot(),
		cmd.Run(),
		cmd.Shell(),
	}

	app := cli.New(context.Background()).
		WithLogger(os.Stderr).
		WithCommands(commands).
		WithHelp(cmd.Help(commands))

	os.Exit(app.Execute(os.Args[1:]))
}
