package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliofed/bibliofed/internal/catalog"
	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/protocol"
)

const testRecords = `autore: Di Ciccio, Antonio; titolo: X;
autore: Pagli, Linda; editore: Morgan Kaufmann; anno: 2011;
autore: Luccio, Fabrizio; titolo: Manuale;
`

// testHarness holds one running server plus the paths the assertions need.
type testHarness struct {
	srv        *Server
	cfg        *config.Config
	recordPath string
	logPath    string
	done       chan error
}

// startServer boots a server on a short temp tree (unix socket paths are
// length-limited) and waits for its socket to appear.
func startServer(t *testing.T, workers int) *testHarness {
	t.Helper()

	base, err := os.MkdirTemp("", "bib")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(base) })

	cfg := &config.Config{
		App:    config.AppConfig{Environment: "development"},
		Logger: config.LoggerConfig{Level: "error"},
		Paths: config.PathsConfig{
			RecordsDir:   filepath.Join(base, "records"),
			LogsDir:      filepath.Join(base, "logs"),
			SocketsDir:   filepath.Join(base, "sockets"),
			BuildDir:     filepath.Join(base, "build"),
			RegistryPath: filepath.Join(base, "config", "bib.conf"),
			SemaphoreDir: filepath.Join(base, "sem"),
		},
		Server: config.ServerConfig{QueueCapacity: 20},
	}

	require.NoError(t, os.MkdirAll(cfg.Paths.RecordsDir, 0o755))
	recordPath := cfg.RecordPath("biblioteca")
	require.NoError(t, os.WriteFile(recordPath, []byte(testRecords), 0o644))

	args := config.ServerArgs{LibraryName: "central", RecordBase: "biblioteca", Workers: workers}
	srv, err := New(cfg, args, logger.Discard())
	require.NoError(t, err)

	h := &testHarness{
		srv:        srv,
		cfg:        cfg,
		recordPath: recordPath,
		logPath:    cfg.LogPath("central"),
		done:       make(chan error, 1),
	}
	go func() { h.done <- srv.Run() }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(srv.SocketPath())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "server socket never appeared")

	return h
}

// stop signals shutdown and waits for Run to return.
func (h *testHarness) stop(t *testing.T) {
	t.Helper()
	h.srv.Wake()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

// roundTrip performs one full client exchange against the server socket.
func roundTrip(t *testing.T, socketPath string, msg protocol.Message) protocol.Message {
	t.Helper()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.Write(conn, msg))
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	resp, err := protocol.Read(conn)
	require.NoError(t, err)
	return resp
}

func TestServer_QueryReturnsMatchingRecord(t *testing.T) {
	h := startServer(t, 2)
	defer h.stop(t)

	resp := roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeQuery, Payload: " autore: Linda;"})
	assert.Equal(t, protocol.TypeRecord, resp.Type)
	assert.Contains(t, resp.Payload, "Pagli, Linda")
	assert.NotContains(t, resp.Payload, "Luccio")
}

func TestServer_NoMatchReturnsEmptyNo(t *testing.T) {
	h := startServer(t, 2)
	defer h.stop(t)

	resp := roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeQuery, Payload: " autore: xyz;"})
	assert.Equal(t, protocol.TypeNo, resp.Type)
	assert.Empty(t, resp.Payload)
}

func TestServer_MalformedRequestReturnsExactError(t *testing.T) {
	h := startServer(t, 2)
	defer h.stop(t)

	resp := roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeQuery, Payload: "autore Linda"})
	assert.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.MsgBadRequest, resp.Payload)
}

func TestServer_RepeatedLoanStillListsTheMatch(t *testing.T) {
	h := startServer(t, 2)

	loan := protocol.Message{Type: protocol.TypeLoan, Payload: " editore: Morgan Kaufmann; anno: 2011;"}

	resp := roundTrip(t, h.srv.SocketPath(), loan)
	assert.Equal(t, protocol.TypeRecord, resp.Type)
	assert.Contains(t, resp.Payload, "Pagli")

	resp = roundTrip(t, h.srv.SocketPath(), loan)
	assert.Equal(t, protocol.TypeRecord, resp.Type)
	assert.Contains(t, resp.Payload, "Pagli")
	assert.Contains(t, resp.Payload, "loan:")

	h.stop(t)

	// The second grant was refused: the log shows LOAN 1 then LOAN 0.
	logData, err := os.ReadFile(h.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "LOAN 1\n")
	assert.Contains(t, string(logData), "LOAN 0\n")
}

func TestServer_ConcurrentLoansGrantOnce(t *testing.T) {
	h := startServer(t, 4)

	const clients = 2
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeLoan, Payload: " autore: Pagli;"})
			assert.Equal(t, protocol.TypeRecord, resp.Type)
		}()
	}
	wg.Wait()

	h.stop(t)

	logData, err := os.ReadFile(h.logPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(logData), "LOAN 1\n"))
	assert.Equal(t, 1, strings.Count(string(logData), "LOAN 0\n"))
}

func TestServer_ShutdownPersistsLoansAndDeregisters(t *testing.T) {
	h := startServer(t, 2)

	resp := roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeLoan, Payload: " autore: Pagli;"})
	require.Equal(t, protocol.TypeRecord, resp.Type)

	socketPath := h.srv.SocketPath()
	h.stop(t)

	// The record file reflects the granted loan and loads cleanly again.
	data, err := os.ReadFile(h.recordPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "loan:")
	assert.Contains(t, string(data), "Di Ciccio")
	reloaded, err := catalog.Load(h.recordPath)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Len())

	// The registry no longer lists this server.
	regData, err := os.ReadFile(h.cfg.Paths.RegistryPath)
	require.NoError(t, err)
	assert.NotContains(t, string(regData), socketPath)

	// The socket path is gone.
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))

	// The operation log recorded the loan.
	logData, err := os.ReadFile(h.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "LOAN 1\n")
}

func TestServer_QueryLogFormat(t *testing.T) {
	h := startServer(t, 1)

	roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeQuery, Payload: " autore: Linda;"})
	roundTrip(t, h.srv.SocketPath(), protocol.Message{Type: protocol.TypeQuery, Payload: " autore: xyz;"})

	h.stop(t)

	logData, err := os.ReadFile(h.logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "QUERY 1\n\nautore: Pagli, Linda; editore: Morgan Kaufmann; anno: 2011;\n\n\n")
	assert.Contains(t, string(logData), "QUERY 0\n\n")
}
