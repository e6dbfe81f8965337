package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/shopscript/bridge.go/lib/process"
)

// StdioProvider forks the plugin executable and communicates over its
// stdio pipes. This is the default transport.
type StdioProvider struct {
	Path string
	Args []string

	proc *process.Process
}

// Connect implements Provider by starting the plugin process.
func (s *StdioProvider) Connect(ctx context.Context) (io.Reader, io.Writer, error) {
	if s.proc != nil {
		return nil, nil, fmt.Errorf("transport: stdio provider already connected")
	}

	p, err := process.Start(s.Path, s.Args...)
	if err != nil {
		return nil, nil, err
	}
	s.proc = p
	return p.Stdout(), p.Stdin(), nil
}

// Wait implements Waiter; it blocks until the plugin process exits.
func (s *StdioProvider) Wait() error {
	if s.proc == nil {
		return fmt.Errorf("transport: stdio provider not connected")
	}
	return s.proc.Wait()
}

// Close implements Provider by terminating the plugin process.
func (s *StdioProvider) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Close()
}
