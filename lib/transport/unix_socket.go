package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// UnixSocketProvider connects host and plugin over a Unix domain socket.
// The host side listens, the plugin side dials. Useful when the plugin
// process is started out of band instead of being forked by the host.
type UnixSocketProvider struct {
	SocketPath string
	Server     bool

	// AcceptTimeout bounds how long the server waits for the plugin to
	// dial. Zero means 5 seconds.
	AcceptTimeout time.Duration

	listener net.Listener
	conn     net.Conn
}

// Connect implements Provider.
func (u *UnixSocketProvider) Connect(ctx context.Context) (io.Reader, io.Writer, error) {
	if u.Server {
		return u.listen(ctx)
	}
	return u.dial(ctx)
}

func (u *UnixSocketProvider) listen(ctx context.Context) (io.Reader, io.Writer, error) {
	// A stale socket file from a previous run would make Listen fail.
	os.Remove(u.SocketPath)

	listener, err := net.Listen("unix", u.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: listen on %s: %w", u.SocketPath, err)
	}
	u.listener = listener

	timeout := u.AcceptTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	connCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	select {
	case conn := <-connCh:
		u.conn = conn
		return conn, conn, nil
	case err := <-errCh:
		return nil, nil, fmt.Errorf("transport: accept on %s: %w", u.SocketPath, err)
	case <-time.After(timeout):
		listener.Close()
		return nil, nil, fmt.Errorf("transport: timeout waiting for plugin on %s", u.SocketPath)
	case <-ctx.Done():
		listener.Close()
		return nil, nil, ctx.Err()
	}
}

func (u *UnixSocketProvider) dial(ctx context.Context) (io.Reader, io.Writer, error) {
	// The host may not have created the socket yet; poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(u.SocketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", u.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: dial %s: %w", u.SocketPath, err)
	}
	u.conn = conn
	return conn, conn, nil
}

// Close implements Provider.
func (u *UnixSocketProvider) Close() error {
	var firstErr error

	if u.conn != nil {
		if err := u.conn.Close(); err != nil {
			firstErr = err
		}
	}
	if u.listener != nil {
		if err := u.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.Server {
		os.Remove(u.SocketPath)
	}

	return firstErr
}
