// Package executortest provides a recording Executor for tests. Commands are
// captured instead of run, and individual invocations can be made to fail.
package executortest

import (
	"strings"

	"buildcell/internal/errors"
	"buildcell/internal/executor"
)

// Recorder implements executor.Executor by recording every invocation.
type Recorder struct {
	// Commands holds each Run invocation's argv, in order.
	Commands [][]string

	// Stdin holds the stdin payload of each Run invocation ("" when none).
	Stdin []string

	// FailPattern makes Run fail for any command line containing the
	// substring. FailExitCode is the exit status reported (default 1).
	FailPattern  string
	FailExitCode int

	// Outputs maps a command-line substring to canned Output data.
	Outputs map[string]string
}

func New() *Recorder {
	return &Recorder{Outputs: map[string]string{}}
}

func (r *Recorder) Run(opts executor.Options) error {
	r.Commands = append(r.Commands, opts.Argv)

	var stdin string
	if opts.Stdin != nil {
		var sb strings.Builder
		buf := make([]byte, 4096)
		for {
			n, err := opts.Stdin.Read(buf)
			sb.Write(buf[:n])
			if err != nil {
				break
			}
		}
		stdin = sb.String()
	}
	r.Stdin = append(r.Stdin, stdin)

	line := strings.Join(opts.Argv, " ")
	if r.FailPattern != "" && strings.Contains(line, r.FailPattern) {
		code := r.FailExitCode
		if code == 0 {
			code = 1
		}
		return errors.NewCommandError("Command failed: "+line, code, errors.ErrCommandFailed)
	}
	return nil
}

func (r *Recorder) Output(opts executor.Options) ([]byte, error) {
	r.Commands = append(r.Commands, opts.Argv)
	r.Stdin = append(r.Stdin, "")

	line := strings.Join(opts.Argv, " ")
	for pattern, out := range r.Outputs {
		if strings.Contains(line, pattern) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

// Ran reports whether any recorded command line contains the substring.
func (r *Recorder) Ran(pattern string) bool {
	return r.Find(pattern) != nil
}

// Find returns the first recorded command line containing the substring.
func (r *Recorder) Find(pattern string) []string {
	for _, argv := range r.Commands {
		if strings.Contains(strings.Join(argv, " "), pattern) {
			return argv
		}
	}
	return nil
}
