// Package console provides a raw-mode terminal for interactively driving a
// running kernel: term.MakeRaw/term.NewTerminal wrapping a *os.File, Restore
// to undo it, generalized from relaying keystrokes to a simulated keyboard
// device to reading a line and running a shell command against the kernel.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal; no Console is
// created, and the caller reads lines some other way.
var ErrNoTTY = errors.New("console: not a TTY")

// Console is a line-oriented terminal for the shell command: it reads whole
// lines rather than relaying individual keystrokes, since the shell operates
// on whole commands, not keystrokes.
type Console struct {
	fd    int
	state *term.State
	term  *term.Terminal
}

// NewConsole wraps sin/sout in raw mode if sin is a terminal. If it is not
// (e.g. input is piped from a script or test), NewConsole returns ErrNoTTY
// and the caller should fall back to a plain bufio.Scanner.
func NewConsole(sin *os.File, sout io.Writer, prompt string) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	return &Console{
		fd:    fd,
		state: saved,
		term:  term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{sin, sout}, prompt),
	}, nil
}

// ReadLine reads one line of input, handling the line-editing raw mode
// requires (backspace, history navigation) via the underlying term.Terminal.
func (c *Console) ReadLine() (string, error) {
	return c.term.ReadLine()
}

// Writer returns the terminal's output stream.
func (c *Console) Writer() io.Writer { return c.term }

// Restore returns the terminal to its original mode. Callers must call this
// before the process exits or the user's shell is left in raw mode.
func (c *Console) Restore() error {
	return term.Restore(c.fd, c.state)
}
