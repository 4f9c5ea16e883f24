package executor

import (
	stderrors "errors"
	"strings"
	"testing"

	"buildcell/internal/errors"
)

func TestSudo(t *testing.T) {
	argv := Sudo("mount", "/dev/loop0", "/mnt")
	want := "sudo mount /dev/loop0 /mnt"
	if got := strings.Join(argv, " "); got != want {
		t.Errorf("Sudo() = %q, want %q", got, want)
	}
}

func TestLocal_Run_Success(t *testing.T) {
	l := NewLocal(nil)
	if err := l.Run(Options{Argv: []string{"true"}}); err != nil {
		t.Fatalf("Run(true) failed: %v", err)
	}
}

func TestLocal_Run_ExitCode(t *testing.T) {
	l := NewLocal(nil)
	err := l.Run(Options{Argv: []string{"sh", "-c", "exit 3"}})
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if !stderrors.Is(err, errors.ErrCommandFailed) {
		t.Errorf("error does not match ErrCommandFailed: %v", err)
	}
	if got := errors.ExitCode(err); got != 3 {
		t.Errorf("ExitCode = %d, want 3", got)
	}
}

func TestLocal_Run_EmptyCommand(t *testing.T) {
	l := NewLocal(nil)
	if err := l.Run(Options{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestLocal_Output(t *testing.T) {
	l := NewLocal(nil)
	out, err := l.Output(Options{Argv: []string{"sh", "-c", "echo hello"}})
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("Output = %q, want %q", out, "hello")
	}
}
