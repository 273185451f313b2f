package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bibliofed/bibliofed/internal/domain"
	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/normalize"
)

// maxPersistPath bounds the constructed temp-file path, mirroring the
// transport's socket path limit.
const maxPersistPath = 108

// minRecordLine is the shortest record line that is not silently skipped.
const minRecordLine = 3

// Catalogue holds every book of one library plus the field/value index.
//
// Concurrency: a single catalogue lock plus per-book InUse flags serialize
// book reads, grants and match checks; waiters sleep on the condition
// variable until the busy flag clears. The index itself is immutable after
// Load, so tree traversal takes no lock.
type Catalogue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	books []*domain.Book
	index map[string]*valueTree

	now func() time.Time
}

// New returns an empty catalogue.
func New() *Catalogue {
	c := &Catalogue{
		index: make(map[string]*valueTree),
		now:   time.Now,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Load reads a record file, one book per line, and builds the index.
// Lines shorter than three characters are skipped; a line that fails the
// field:value; grammar aborts the load.
func Load(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSystem, "open record file %s", path)
	}
	defer f.Close()

	c := New()
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if len(line) < minRecordLine {
			continue
		}
		if !domain.CheckFormat(line) {
			return nil, errors.BadFormatRecordf("record line %d does not match the field:value; grammar", lineno)
		}
		book, err := domain.NewBook(line)
		if err != nil {
			return nil, errors.Wrapf(err, errCode(err), "record line %d", lineno)
		}
		c.add(book)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.CodeSystem, "read record file %s", path)
	}
	return c, nil
}

// errCode preserves a domain error's code when wrapping, defaulting to SYSTEM.
func errCode(err error) errors.Code {
	var derr *errors.Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return errors.CodeSystem
}

// add appends the book to the owning list and indexes every pair of its
// description.
func (c *Catalogue) add(b *domain.Book) {
	c.books = append(c.books, b)
	for _, p := range domain.ExtractPairs(b.Desc) {
		tree := c.index[p.Field]
		if tree == nil {
			tree = &valueTree{}
			c.index[p.Field] = tree
		}
		tree.insert(p.Value, b)
	}
}

// Len returns the number of books in the catalogue.
func (c *Catalogue) Len() int {
	return len(c.books)
}

// Result is the outcome of one query.
type Result struct {
	// Payload aggregates the rendered record of every matching book.
	Payload string
	// Matched is how many books satisfied the request.
	Matched int
	// Granted is how many loans the request obtained; zero for
	// read-only queries.
	Granted int
}

// Query runs a conjunctive substring query and, when loan is set, attempts
// to grant a loan on every match. The payload lists every matching book
// regardless of grant outcome; Granted counts only fresh grants.
func (c *Catalogue) Query(request string, loan bool) (Result, error) {
	canon := normalize.Canonical(request)
	if !domain.CheckFormat(canon) {
		return Result{}, errors.BadFormat("request does not match the field:value; grammar")
	}
	pairs := domain.ExtractPairs(canon)

	tree := c.index[pairs[0].Field]
	if tree == nil {
		return Result{}, nil
	}

	var matches []*domain.Book
	err := tree.walk(pairs[0].Value, func(b *domain.Book) error {
		if c.bookMatches(b, pairs) {
			matches = append(matches, b)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	var res Result
	var sb strings.Builder
	for _, b := range matches {
		c.acquire(b)
		now := c.now()
		if loan && b.Grant(now) {
			res.Granted++
		}
		sb.WriteString(b.Render(now))
		c.release(b)
		res.Matched++
	}
	res.Payload = sb.String()
	return res, nil
}

// bookMatches runs the full conjunctive check on one candidate under the
// per-book lock.
func (c *Catalogue) bookMatches(b *domain.Book, pairs []domain.Pair) bool {
	c.acquire(b)
	defer c.release(b)
	return b.Matches(pairs, c.now())
}

// acquire blocks until the book's busy flag is free and claims it.
func (c *Catalogue) acquire(b *domain.Book) {
	c.mu.Lock()
	for b.InUse {
		c.cond.Wait()
	}
	b.InUse = true
	c.mu.Unlock()
}

// release clears the busy flag and wakes waiters. Broadcast, not Signal:
// all books share one condition variable, and a single wakeup could land
// on a waiter of a different book.
func (c *Catalogue) release(b *domain.Book) {
	c.mu.Lock()
	b.InUse = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Persist rewrites the record file atomically: render every book into a
// temp file under buildDir, flush and close it, then swap it into place.
func (c *Catalogue) Persist(path, buildDir string) error {
	temp := filepath.Join(buildDir, fmt.Sprintf("temp_%d.txt", os.Getpid()))
	if len(temp) > maxPersistPath {
		return errors.PathOverflow("temp record path exceeds the path limit")
	}

	f, err := os.Create(temp)
	if err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "create temp record file %s", temp)
	}

	now := c.now()
	for _, b := range c.books {
		line := b.Render(now)
		n, err := f.WriteString(line)
		if err != nil {
			f.Close()
			os.Remove(temp)
			return errors.Wrap(err, errors.CodeSystem, "write temp record file")
		}
		if n < len(line) {
			f.Close()
			os.Remove(temp)
			return errors.WriteShort("record line written incompletely")
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(temp)
		return errors.Wrap(err, errors.CodeSystem, "sync temp record file")
	}
	if err := f.Close(); err != nil {
		os.Remove(temp)
		return errors.Wrap(err, errors.CodeSystem, "close temp record file")
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.CodeSystem, "remove record file %s", path)
	}
	if err := os.Rename(temp, path); err != nil {
		return errors.Wrapf(err, errors.CodeSystem, "rename %s into place", temp)
	}
	return nil
}

// Close drops the catalogue. The index goes first; it only holds non-owning
// references into the book list.
func (c *Catalogue) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = nil
	c.books = nil
}
