package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bibliofed/bibliofed/internal/errors"
)

// Registry is the shared text file listing live library servers, one
// "name:socket-path" line per server. All mutations run under the
// writer-preferring lock; reads run as readers.
type Registry struct {
	path     string // the shared configuration file
	buildDir string // where temp and backup files are created
	semDir   string // where the protocol semaphores live
}

// Entry is one parsed registry line.
type Entry struct {
	Name       string
	SocketPath string
}

// New returns a registry handle. Nothing is opened until the first
// operation.
func New(path, buildDir, semDir string) *Registry {
	return &Registry{path: path, buildDir: buildDir, semDir: semDir}
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Add appends "name:socketPath" under the writer lock, creating the file
// and the semaphores if this is the first server up.
func (r *Registry) Add(name, socketPath string) error {
	lock, err := openLock(r.semDir)
	if err != nil {
		return err
	}
	if err := lock.writerEnter(); err != nil {
		return err
	}
	defer lock.writerExit()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "create registry directory for %s", r.path)
	}
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "open registry %s", r.path)
	}
	defer f.Close()

	line := name + ":" + socketPath + "\n"
	n, err := f.WriteString(line)
	if err != nil {
		return errors.Wrap(err, errors.CodeSystem, "append registry entry")
	}
	if n < len(line) {
		return errors.WriteShort("registry entry written incompletely")
	}
	return nil
}

// Remove deletes the line carrying socketPath under the writer lock. The
// swap is atomic: the original is backed up first, a temp file without the
// target line (and without blank lines) replaces it, and the backup is
// dropped only once the swap succeeded. A writer that empties the file
// unlinks the six semaphore names.
func (r *Registry) Remove(socketPath string) error {
	lock, err := openLock(r.semDir)
	if err != nil {
		return err
	}
	if err := lock.writerEnter(); err != nil {
		return err
	}
	defer lock.writerExit()

	if err := os.MkdirAll(r.buildDir, 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "create build directory %s", r.buildDir)
	}

	original, err := os.ReadFile(r.path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "read registry %s", r.path)
	}

	var kept strings.Builder
	for _, line := range strings.Split(string(original), "\n") {
		if line == "" || strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasSuffix(line, ":"+socketPath) {
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}

	temp := filepath.Join(r.buildDir, fmt.Sprintf("bib_%d.conf", os.Getpid()))
	if err := os.WriteFile(temp, []byte(kept.String()), 0o644); err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "write registry temp %s", temp)
	}

	backup := filepath.Join(r.buildDir, "bib.bak")
	if err := copyFile(r.path, backup); err != nil {
		os.Remove(temp)
		return err
	}

	if err := os.Remove(r.path); err != nil {
		os.Remove(temp)
		os.Remove(backup)
		return errors.Wrapf(err, errors.CodeSystem, "remove registry %s", r.path)
	}
	if err := os.Rename(temp, r.path); err != nil {
		// Swap failed; put the original back.
		os.Rename(backup, r.path)
		return errors.Wrapf(err, errors.CodeSystem, "swap registry temp into place")
	}
	os.Remove(backup)

	if kept.Len() == 0 {
		return lock.unlinkAll()
	}
	return nil
}

// Read returns the registry file as a string under the reader lock.
// Parsing is the caller's responsibility; ParseEntries does it.
func (r *Registry) Read() (string, error) {
	lock, err := openLock(r.semDir)
	if err != nil {
		return "", err
	}
	if err := lock.readerEnter(); err != nil {
		return "", err
	}
	defer lock.readerExit()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NotFound("no registry file; no server is registered")
		}
		return "", errors.Wrapf(err, errors.CodeSystem, "read registry %s", r.path)
	}
	return string(data), nil
}

// ParseEntries splits registry data into entries, skipping blank lines and
// lines without the name:path shape.
func ParseEntries(data string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, path, ok := strings.Cut(line, ":")
		if !ok || path == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, SocketPath: path})
	}
	return entries
}

// copyFile duplicates src into dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "open %s for backup", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "create backup %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "copy %s to %s", src, dst)
	}
	return out.Close()
}
