// Package process starts and controls plugin executables.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running plugin executable with piped stdin/stdout. Stderr
// is passed through to the parent's stderr so plugin logs stay visible.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// Start launches the executable at path with the given arguments.
func Start(path string, args ...string) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start %s: %w", path, err)
	}

	return &Process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// Stdin is the pipe connected to the child's standard input.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// Stdout is the pipe connected to the child's standard output.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Pid returns the child's process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the child exits.
func (p *Process) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("process: exited with error: %w", err)
	}
	return nil
}

// Close closes the pipes and kills the child if it is still running.
func (p *Process) Close() error {
	var firstErr error

	if err := p.stdin.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("process: close stdin: %w", err)
	}
	if err := p.stdout.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("process: close stdout: %w", err)
	}
	if p.cmd.ProcessState == nil {
		if err := p.cmd.Process.Kill(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("process: kill: %w", err)
		}
	}

	return firstErr
}
