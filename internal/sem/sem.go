// Package sem implements named counting semaphores shared between
// processes. Each semaphore is a small counter file identified by its name;
// operations serialize on an exclusive flock of that file, and Wait polls
// until the counter is positive. This is the substrate of the registry's
// cross-process reader/writer protocol.
package sem

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bibliofed/bibliofed/internal/errors"
)

// waitPoll is how often a blocked Wait rechecks the counter.
const waitPoll = 2 * time.Millisecond

// Semaphore is one named cross-process counting semaphore.
type Semaphore struct {
	name string
	path string
}

// Open returns the semaphore called name under dir, creating its backing
// file with the given initial value if it does not exist yet. Concurrent
// creators race on O_EXCL; exactly one initializes the counter.
func Open(dir, name string, initial uint) (*Semaphore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSystem, "create semaphore directory %s", dir)
	}

	s := &Semaphore{name: name, path: filepath.Join(dir, name+".sem")}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		_, werr := f.WriteString(strconv.FormatUint(uint64(initial), 10))
		cerr := f.Close()
		if werr != nil || cerr != nil {
			os.Remove(s.path)
			return nil, errors.Wrapf(errors.Join(werr, cerr), errors.CodeSystem, "initialize semaphore %s", name)
		}
	case os.IsExist(err):
		// Another process created it first; its initial value stands.
	default:
		return nil, errors.Wrapf(err, errors.CodeSystem, "open semaphore %s", name)
	}
	return s, nil
}

// Name returns the semaphore's identifier.
func (s *Semaphore) Name() string {
	return s.name
}

// withLock runs fn with the counter file locked exclusively, passing the
// current value; a non-negative return is written back.
func (s *Semaphore) withLock(fn func(value int) int) (int, error) {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeSystem, "open semaphore %s", s.name)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return 0, errors.Wrapf(err, errors.CodeSystem, "lock semaphore %s", s.name)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeSystem, "read semaphore %s", s.name)
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Internalf("semaphore %s holds a corrupt counter %q", s.name, raw)
	}

	next := fn(value)
	if next < 0 {
		return value, nil
	}
	if next != value {
		if err := os.WriteFile(s.path, []byte(strconv.Itoa(next)), 0o644); err != nil {
			return 0, errors.Wrapf(err, errors.CodeSystem, "update semaphore %s", s.name)
		}
	}
	return next, nil
}

// Wait decrements the counter, blocking until it is positive.
func (s *Semaphore) Wait() error {
	for {
		acquired := false
		_, err := s.withLock(func(value int) int {
			if value > 0 {
				acquired = true
				return value - 1
			}
			return -1
		})
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		time.Sleep(waitPoll)
	}
}

// Post increments the counter and returns the new value.
func (s *Semaphore) Post() (int, error) {
	return s.withLock(func(value int) int {
		return value + 1
	})
}

// Value returns the current counter without modifying it.
func (s *Semaphore) Value() (int, error) {
	return s.withLock(func(value int) int {
		return -1
	})
}

// Unlink removes the semaphore's backing file. A missing file is not an
// error, matching named-semaphore unlink semantics.
func (s *Semaphore) Unlink() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.CodeSystem, "unlink semaphore %s", s.name)
	}
	return nil
}
