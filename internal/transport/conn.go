// Package transport implements the server side of the local stream-socket
// transport: a poll-driven acceptor over raw unix(7) sockets and the
// connection handle that moves from the acceptor to a worker.
package transport

import (
	"io"

	"golang.org/x/sys/unix"
)

// Conn wraps a connected stream-socket file descriptor. Exactly one
// goroutine owns a Conn at any time: the acceptor while reading the
// request frame, the worker afterwards.
type Conn struct {
	fd int
}

func newConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Read fills p from the socket. A zero-byte read is reported as io.EOF so
// the frame codec can tell peer close from a failed system call.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write sends all of p, looping over partial writes.
func (c *Conn) Write(p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := unix.Write(c.fd, p[sent:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

// CloseWrite half-closes the sending direction.
func (c *Conn) CloseWrite() error {
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

// Shutdown closes both directions without releasing the descriptor.
func (c *Conn) Shutdown() error {
	return unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

// Close releases the descriptor.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}
