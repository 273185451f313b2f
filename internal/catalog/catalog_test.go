package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliofed/bibliofed/internal/domain"
	"github.com/bibliofed/bibliofed/internal/errors"
)

const sampleRecords = `autore: Di Ciccio, Antonio; titolo: X;
autore: Pagli, Linda; editore: Morgan Kaufmann; anno: 2011;
autore: Luccio, Fabrizio; titolo: Manuale;
`

func writeRecords(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadSample(t *testing.T) *Catalogue {
	t.Helper()
	c, err := Load(writeRecords(t, sampleRecords))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	return c
}

func TestLoad_SkipsShortLines(t *testing.T) {
	c, err := Load(writeRecords(t, "x\n\nautore: Pagli;\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestLoad_MalformedLineAborts(t *testing.T) {
	_, err := Load(writeRecords(t, "autore Pagli Linda\n"))
	assert.ErrorIs(t, err, errors.ErrBadFormatRecord)
}

func TestLoad_BadLoanDateAborts(t *testing.T) {
	_, err := Load(writeRecords(t, "titolo: X; loan: 99-99-9999 99:99:99;\n"))
	assert.ErrorIs(t, err, errors.ErrBadDate)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, errors.ErrSystem)
}

func TestQuery_BadFormat(t *testing.T) {
	c := loadSample(t)
	_, err := c.Query("autore Linda", false)
	assert.ErrorIs(t, err, errors.ErrBadFormat)
}

func TestQuery_SubstringMatch(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("autore: Linda;", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Contains(t, res.Payload, "Pagli, Linda")
}

func TestQuery_UnknownFieldReturnsEmpty(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("genere: saggio;", false)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.Empty(t, res.Payload)
}

func TestQuery_NoMatch(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("autore: xyz;", false)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
}

func TestQuery_Conjunction(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("editore: Morgan Kaufmann; anno: 2011;", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Contains(t, res.Payload, "Pagli")

	res, err = c.Query("editore: Morgan Kaufmann; anno: 1984;", false)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
}

// Every pair extracted from a book must find that book again (index
// selectivity).
func TestQuery_IndexSelectivity(t *testing.T) {
	c := loadSample(t)

	for _, line := range strings.Split(strings.TrimSpace(sampleRecords), "\n") {
		for _, p := range domain.ExtractPairs(line) {
			res, err := c.Query(p.Field+": "+p.Value+";", false)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Matched, 1, "pair %v", p)
		}
	}
}

func TestQuery_LoanIdempotence(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("autore: Pagli;", true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Granted)

	// The same loan inside the window grants nothing but still lists the
	// loaned match.
	res, err = c.Query("autore: Pagli;", true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Zero(t, res.Granted)
	assert.Contains(t, res.Payload, "loan:")
}

func TestQuery_LoanExpiry(t *testing.T) {
	c := loadSample(t)

	res, err := c.Query("autore: Pagli;", true)
	require.NoError(t, err)
	require.Equal(t, 1, res.Granted)

	// Move the clock past the loan window; the next loan grants again.
	c.now = func() time.Time { return time.Now().Add(domain.LoanWindow + time.Second) }
	res, err = c.Query("autore: Pagli;", true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Granted)
}

func TestQuery_ConcurrentLoanGrantsOnce(t *testing.T) {
	c := loadSample(t)

	const clients = 8
	granted := make(chan int, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Query("autore: Pagli;", true)
			assert.NoError(t, err)
			granted <- res.Granted
		}()
	}
	wg.Wait()
	close(granted)

	total := 0
	for g := range granted {
		total += g
	}
	assert.Equal(t, 1, total)
}

func TestPersist_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleRecords), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	_, err = c.Query("autore: Pagli;", true)
	require.NoError(t, err)

	require.NoError(t, c.Persist(path, dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "loan:")

	// The rewritten file loads cleanly and preserves the loan.
	c2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c2.Len())

	res, err := c2.Query("autore: Pagli;", true)
	require.NoError(t, err)
	assert.Zero(t, res.Granted, "loan persisted across the rewrite")
}

func TestTreeWalk_VisitsAllContainingValues(t *testing.T) {
	tree := &valueTree{}
	books := map[string]*domain.Book{}
	for _, v := range []string{"morgankaufmann", "kaufmann", "linda", "mann", "zz"} {
		b := &domain.Book{Desc: v + ";"}
		books[v] = b
		tree.insert(v, b)
	}

	var seen []string
	err := tree.walk("mann", func(b *domain.Book) error {
		seen = append(seen, strings.TrimSuffix(b.Desc, ";"))
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, seen, "mann")
	assert.NotContains(t, seen, "linda")
	assert.NotContains(t, seen, "zz")
}
