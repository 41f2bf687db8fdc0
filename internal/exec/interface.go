// Package exec runs external commands on behalf of workers.
package exec

import (
	"context"
)

// Command describes one external process invocation.
type Command struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Name is the executable; Args are passed unchanged.
	Name string
	Args []string
	// Env entries (KEY=value) are appended to the parent environment.
	Env []string
	// Stdin, if non-empty, is written to the process's standard input.
	Stdin []byte
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes the command and waits for it to finish.
	// A non-zero exit returns the captured Result together with an error.
	Run(ctx context.Context, cmd Command) (Result, error)

	// RunShell executes a shell command line through "sh -c".
	RunShell(ctx context.Context, dir string, command string, env []string) (Result, error)
}
