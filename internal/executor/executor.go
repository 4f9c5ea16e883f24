// Package executor runs the external commands the build-container machinery
// is made of: mount, mkfs, tar, chroot. Everything is synchronous; a step
// either completes or the session fails.
package executor

import (
	"io"
)

// Options describes a single external command invocation.
type Options struct {
	// Argv is the full command line; Argv[0] is the program.
	Argv []string

	// Env is the complete child environment. Nil inherits the host
	// environment.
	Env []string

	// Stdin feeds the child's standard input when non-nil.
	Stdin io.Reader

	// Echo prints the command line before running it.
	Echo bool
}

// Executor is the interface for running external commands to completion.
// Tests substitute a recording implementation.
type Executor interface {
	// Run executes the command and waits for it. A non-zero exit status is
	// returned as a typed command error carrying the child's exit code.
	Run(opts Options) error

	// Output executes the command and returns its standard output.
	Output(opts Options) ([]byte, error)
}

// Sudo prefixes a command line with the privilege-escalation wrapper.
func Sudo(argv ...string) []string {
	return append([]string{"sudo"}, argv...)
}
