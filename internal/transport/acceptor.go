package transport

import (
	"golang.org/x/sys/unix"

	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/protocol"
)

// MaxClients is the number of client poll slots and the listener backlog.
const MaxClients = 40

// maxSocketPath is the sun_path limit of unix(7).
const maxSocketPath = 108

// Request is one framed request together with the connection it arrived
// on. Ownership of both transfers to whoever Run's deliver callback hands
// them to.
type Request struct {
	Msg  protocol.Message
	Conn *Conn
}

// Acceptor is the single-threaded accept-and-frame-read loop. It polls the
// listener, a wake pipe, and up to MaxClients client descriptors; complete
// requests are handed off through the deliver callback and the slot is
// cleared without closing, since the worker owns the descriptor from then
// on.
type Acceptor struct {
	log      *logger.Logger
	listenFD int
	path     string
	wakeR    int
	wakeW    int
	slots    [MaxClients]int
}

// NewAcceptor binds and listens on a unix stream socket at path and sets
// up the wake pipe used for signal-driven shutdown.
func NewAcceptor(path string, log *logger.Logger) (*Acceptor, error) {
	if len(path) >= maxSocketPath {
		return nil, errors.PathOverflow("socket path exceeds the unix(7) limit")
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSystem, "create listener socket")
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, errors.CodeSystem, "bind listener to %s", path)
	}
	if err := unix.Listen(fd, MaxClients); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, errors.Wrap(err, errors.CodeSystem, "listen")
	}

	var pipeFDs [2]int
	if err := unix.Pipe(pipeFDs[:]); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, errors.Wrap(err, errors.CodeSystem, "create wake pipe")
	}

	a := &Acceptor{
		log:      log,
		listenFD: fd,
		path:     path,
		wakeR:    pipeFDs[0],
		wakeW:    pipeFDs[1],
	}
	for i := range a.slots {
		a.slots[i] = -1
	}
	return a, nil
}

// Path returns the bound socket path.
func (a *Acceptor) Path() string {
	return a.path
}

// Wake makes a running Run return. Safe to call from a signal-handling
// goroutine; it only writes one byte to a pipe.
func (a *Acceptor) Wake() {
	_, _ = unix.Write(a.wakeW, []byte{0})
}

// Run polls until woken. Every complete request is passed to deliver; a
// deliver failure is fatal and unwinds every open slot before returning.
func (a *Acceptor) Run(deliver func(Request) error) error {
	pollFDs := make([]unix.PollFd, 2+MaxClients)

	for {
		pollFDs[0] = unix.PollFd{Fd: int32(a.listenFD), Events: unix.POLLIN}
		pollFDs[1] = unix.PollFd{Fd: int32(a.wakeR), Events: unix.POLLIN}
		for i, fd := range a.slots {
			pollFDs[2+i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}

		if _, err := unix.Poll(pollFDs, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			a.unwind()
			return errors.Wrap(err, errors.CodeSystem, "poll")
		}

		if pollFDs[1].Revents&unix.POLLIN != 0 {
			// Shutdown requested.
			return nil
		}

		if pollFDs[0].Revents&unix.POLLIN != 0 {
			a.acceptOne()
		}

		for i := range a.slots {
			if a.slots[i] == -1 {
				continue
			}
			revents := pollFDs[2+i].Revents

			if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				a.log.Warn("dropping client connection after poll error", "slot", i)
				a.closeSlot(i)
				continue
			}

			if revents&unix.POLLIN != 0 {
				if err := a.readSlot(i, deliver); err != nil {
					a.unwind()
					return err
				}
				continue
			}

			if revents&unix.POLLHUP != 0 {
				a.closeSlot(i)
			}
		}
	}
}

// acceptOne takes one pending connection into the first free slot. With no
// free slot the accept is skipped and the kernel backlog absorbs the
// connection.
func (a *Acceptor) acceptOne() {
	slot := -1
	for i, fd := range a.slots {
		if fd == -1 {
			slot = i
			break
		}
	}
	if slot == -1 {
		a.log.Warn("all client slots busy, leaving connection in backlog")
		return
	}

	fd, _, err := unix.Accept(a.listenFD)
	if err != nil {
		if err != unix.EINTR {
			a.log.Warn("accept failed", "error", err)
		}
		return
	}
	a.slots[slot] = fd
}

// readSlot reads one framed request from slot i and hands it off. A COMM
// error (peer gone mid-frame) just closes the slot; anything else is
// fatal to the loop.
func (a *Acceptor) readSlot(i int, deliver func(Request) error) error {
	conn := newConn(a.slots[i])

	msg, err := protocol.Read(conn)
	if err != nil {
		if errors.Is(err, errors.ErrComm) {
			a.log.Debug("client closed before completing a frame", "slot", i)
			a.closeSlot(i)
			return nil
		}
		return err
	}

	// The worker owns the descriptor from here; clear the slot without
	// closing it.
	a.slots[i] = -1
	if err := deliver(Request{Msg: msg, Conn: conn}); err != nil {
		conn.Shutdown()
		conn.Close()
		return errors.Wrap(err, errors.CodeInternal, "hand off request to the dispatch queue")
	}
	return nil
}

// closeSlot shuts down and releases an acceptor-owned descriptor.
func (a *Acceptor) closeSlot(i int) {
	unix.Shutdown(a.slots[i], unix.SHUT_RDWR)
	unix.Close(a.slots[i])
	a.slots[i] = -1
}

// unwind closes every still-owned client descriptor after a fatal loop
// error. Worker-owned descriptors are unaffected.
func (a *Acceptor) unwind() {
	for i := range a.slots {
		if a.slots[i] != -1 {
			a.closeSlot(i)
		}
	}
}

// Close tears down the listener, the wake pipe, and any slots the
// acceptor still owns, and unlinks the socket path.
func (a *Acceptor) Close() error {
	var errs []error
	if err := unix.Close(a.listenFD); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Unlink(a.path); err != nil && err != unix.ENOENT {
		errs = append(errs, err)
	}
	unix.Close(a.wakeR)
	unix.Close(a.wakeW)
	a.unwind()
	if len(errs) > 0 {
		return errors.Wrap(errors.Join(errs...), errors.CodeSystem, "close acceptor")
	}
	return nil
}
