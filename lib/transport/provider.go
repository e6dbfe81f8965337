// Package transport provides the byte streams the bridge runs over:
// forked stdio pipes by default, caller-supplied pipes for tests and
// in-process setups, and Unix domain sockets when the plugin is started
// out of band.
package transport

import (
	"context"
	"io"
)

// Provider produces the reader/writer pair a bridge endpoint talks over.
type Provider interface {
	// Connect establishes the stream. It is called once per endpoint.
	Connect(ctx context.Context) (io.Reader, io.Writer, error)

	// Close tears the stream down and releases any resources.
	Close() error
}

// Waiter is implemented by providers that own a child process. The host
// uses it to notice the plugin exiting on its own.
type Waiter interface {
	Wait() error
}

// PipeProvider wraps a caller-supplied reader and writer.
type PipeProvider struct {
	Reader io.Reader
	Writer io.Writer
}

// Connect implements Provider.
func (p *PipeProvider) Connect(ctx context.Context) (io.Reader, io.Writer, error) {
	return p.Reader, p.Writer, nil
}

// Close implements Provider. Closing the underlying streams stays with
// their owner.
func (p *PipeProvider) Close() error {
	return nil
}
