// Package oplog writes the per-library operation log: one block per served
// request, appended atomically under a mutex.
package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bibliofed/bibliofed/internal/errors"
)

// Operation names as they appear in the log.
const (
	OpQuery = "QUERY"
	OpLoan  = "LOAN"
)

// Log is the append-only operation log of one server.
type Log struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates (or truncates) the log file at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSystem, "create log directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSystem, "open log file %s", path)
	}
	return &Log{f: f}, nil
}

// Record appends one operation block: the "<op> <count>" header, a blank
// line, and the response payload followed by a blank line when there is
// one.
func (l *Log) Record(op string, count int, payload string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf("%s %d\n\n", op, count)
	n, err := l.f.WriteString(header)
	if err != nil {
		return errors.Wrap(err, errors.CodeSystem, "write log header")
	}
	if n < len(header) {
		return errors.WriteShort("log header written incompletely")
	}

	if payload == "" {
		return nil
	}
	block := payload + "\n\n"
	n, err = l.f.WriteString(block)
	if err != nil {
		return errors.Wrap(err, errors.CodeSystem, "write log payload")
	}
	if n < len(block) {
		return errors.WriteShort("log payload written incompletely")
	}
	return nil
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeSystem, "close log file")
	}
	return nil
}
