// Package client implements the aggregation client: it broadcasts one query
// to every library in the shared registry and prints each response.
package client

import (
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/protocol"
	"github.com/bibliofed/bibliofed/internal/registry"
)

// BuildRequest turns --field="value" arguments into the request message.
// Each pair becomes " field: value;" appended to the payload; a trailing
// -p selects a loan over a read-only query.
func BuildRequest(args []string) (protocol.Message, error) {
	msg := protocol.Message{Type: protocol.TypeQuery}
	if len(args) > 0 && args[len(args)-1] == "-p" {
		msg.Type = protocol.TypeLoan
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return protocol.Message{}, errors.BadFormat(`at least one --field="value" pair is required`)
	}

	var sb strings.Builder
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--") {
			return protocol.Message{}, errors.BadFormat(`every pair must have the form --field="value"`)
		}
		field, value, ok := strings.Cut(arg[2:], "=")
		if !ok || field == "" {
			return protocol.Message{}, errors.BadFormat(`every pair must have the form --field="value"`)
		}
		sb.WriteString(" ")
		sb.WriteString(field)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString(";")
	}
	msg.Payload = sb.String()
	return msg, nil
}

// Client broadcasts requests and prints the aggregated responses.
type Client struct {
	cfg *config.Config
	log *logger.Logger
	out io.Writer
}

// New creates a client writing its aggregation output to out.
func New(cfg *config.Config, log *logger.Logger, out io.Writer) *Client {
	return &Client{cfg: cfg, log: log, out: out}
}

// Run builds the request from args, reads the registry, and queries every
// listed library in turn. A refused connection is reported and iteration
// continues; any other system error aborts.
func (c *Client) Run(args []string) error {
	msg, err := BuildRequest(args)
	if err != nil {
		return err
	}

	reg := registry.New(c.cfg.Paths.RegistryPath, c.cfg.Paths.BuildDir, c.cfg.Paths.SemaphoreDir)
	data, err := reg.Read()
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			fmt.Fprintln(c.out, "No library server is registered.")
			return nil
		}
		return err
	}

	entries := registry.ParseEntries(data)
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No library server is registered.")
		return nil
	}

	for _, entry := range entries {
		if err := c.queryLibrary(entry, msg); err != nil {
			return err
		}
	}
	return nil
}

// queryLibrary sends the request to one library and prints its response.
func (c *Client) queryLibrary(entry registry.Entry, msg protocol.Message) error {
	c.log.Debug("querying library", "name", entry.Name, "socket", entry.SocketPath)
	fmt.Fprintf(c.out, "\nSending the request to library: %s\n", entry.Name)

	conn, err := net.Dial("unix", entry.SocketPath)
	if err != nil {
		if errors.Is(err, unix.ECONNREFUSED) {
			fmt.Fprintf(c.out, "Could not connect to library %q.\n", entry.Name)
			return nil
		}
		return errors.Wrapf(err, errors.CodeSystem, "connect to %s", entry.SocketPath)
	}
	defer conn.Close()

	if err := protocol.Write(conn, msg); err != nil {
		return err
	}
	// Half-close the write direction; the server reads our frame to EOF.
	if err := conn.(*net.UnixConn).CloseWrite(); err != nil {
		return errors.Wrap(err, errors.CodeSystem, "half-close request connection")
	}

	resp, err := protocol.Read(conn)
	if err != nil {
		return err
	}

	switch resp.Type {
	case protocol.TypeNo:
		fmt.Fprintln(c.out, "\nNo book matches the request.")
	case protocol.TypeError:
		fmt.Fprintf(c.out, "\nThe server reported an error: %s", resp.Payload)
	default:
		fmt.Fprintf(c.out, "\n%s", resp.Payload)
	}
	return nil
}
