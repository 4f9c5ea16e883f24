package executor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"buildcell/internal/errors"
	"buildcell/internal/ui"
)

// Local runs commands directly on the host, inheriting stdout and stderr so
// build output streams straight through to the user.
type Local struct {
	console *ui.Console
}

// NewLocal creates a host command executor.
func NewLocal(console *ui.Console) *Local {
	if console == nil {
		console = ui.NewConsole()
	}
	return &Local{console: console}
}

// Run executes the command and waits for it to finish.
func (l *Local) Run(opts Options) error {
	if len(opts.Argv) == 0 {
		return fmt.Errorf("empty command")
	}

	if opts.Echo {
		l.console.PrintCommand(opts.Argv)
	}
	slog.Info("Executing command", "argv", strings.Join(opts.Argv, " "))

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Env = opts.Env
	cmd.Stdin = opts.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return commandError(opts.Argv, err)
	}
	return nil
}

// Output executes the command and captures its standard output. Stderr still
// goes to the terminal.
func (l *Local) Output(opts Options) ([]byte, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if opts.Echo {
		l.console.PrintCommand(opts.Argv)
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Env = opts.Env
	cmd.Stdin = opts.Stdin
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, commandError(opts.Argv, err)
	}
	return out, nil
}

func commandError(argv []string, err error) error {
	exitCode := 1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}
	return errors.NewCommandError(
		fmt.Sprintf("Command failed: %s", strings.Join(argv, " ")),
		exitCode,
		err,
	)
}
