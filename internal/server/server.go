// Package server ties the catalogue, dispatch queue, acceptor, worker pool,
// operation log and registry registration into one owned context.
package server

import (
	"os"
	"sync"

	"github.com/bibliofed/bibliofed/internal/catalog"
	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/dispatch"
	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/id"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/oplog"
	"github.com/bibliofed/bibliofed/internal/protocol"
	"github.com/bibliofed/bibliofed/internal/registry"
	"github.com/bibliofed/bibliofed/internal/transport"
)

// request is one dispatch queue item: the framed request, the connection
// the worker answers on, and a correlation ID for the diagnostics log.
type request struct {
	id   string
	msg  protocol.Message
	conn *transport.Conn
}

// Server is the owned context of one library server. Everything it opens
// is released by the shutdown sequence at the end of Run.
type Server struct {
	cfg  *config.Config
	args config.ServerArgs
	log  *logger.Logger

	catalogue  *catalog.Catalogue
	queue      *dispatch.Queue[request]
	acceptor   *transport.Acceptor
	oplog      *oplog.Log
	registry   *registry.Registry
	recordPath string

	wg sync.WaitGroup
}

// New loads the catalogue, opens the operation log and the listening
// socket, and registers the server in the shared registry. On any failure
// everything already opened is torn down again.
func New(cfg *config.Config, args config.ServerArgs, log *logger.Logger) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		args:       args,
		log:        log,
		recordPath: cfg.RecordPath(args.RecordBase),
	}

	opLog, err := oplog.Open(cfg.LogPath(args.LibraryName))
	if err != nil {
		return nil, err
	}
	s.oplog = opLog

	s.catalogue, err = catalog.Load(s.recordPath)
	if err != nil {
		s.oplog.Close()
		return nil, err
	}
	log.Info("catalogue loaded", "records", s.catalogue.Len(), "path", s.recordPath)

	s.queue = dispatch.New[request](cfg.Server.QueueCapacity)

	for _, dir := range []string{cfg.Paths.SocketsDir, cfg.Paths.BuildDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.oplog.Close()
			return nil, errors.Wrapf(err, errors.CodeSystem, "create directory %s", dir)
		}
	}
	s.acceptor, err = transport.NewAcceptor(cfg.SocketPath(os.Getpid()), log)
	if err != nil {
		s.oplog.Close()
		return nil, err
	}

	s.registry = registry.New(cfg.Paths.RegistryPath, cfg.Paths.BuildDir, cfg.Paths.SemaphoreDir)
	if err := s.registry.Add(args.LibraryName, s.acceptor.Path()); err != nil {
		s.acceptor.Close()
		s.oplog.Close()
		return nil, err
	}
	log.Info("server registered", "library", args.LibraryName, "socket", s.acceptor.Path())

	return s, nil
}

// SocketPath returns the bound listening socket path.
func (s *Server) SocketPath() string {
	return s.acceptor.Path()
}

// Wake requests shutdown; the acceptor loop returns and Run tears
// everything down. Safe to call from the signal-handling goroutine.
func (s *Server) Wake() {
	s.acceptor.Wake()
}

// Run starts the worker pool, runs the acceptor loop on the calling
// goroutine until woken, and then executes the shutdown sequence. The
// returned error is the acceptor's, nil on a clean signal-driven exit.
func (s *Server) Run() error {
	for i := 0; i < s.args.Workers; i++ {
		s.wg.Add(1)
		go func(n int) {
			defer s.wg.Done()
			s.workerLoop(n)
		}(i)
	}
	s.log.Info("worker pool started", "workers", s.args.Workers)

	runErr := s.acceptor.Run(s.enqueue)
	if runErr != nil {
		s.log.WithError(runErr).Error("acceptor loop failed")
	}

	s.shutdown()
	return runErr
}

// enqueue moves a completed request from the acceptor onto the queue.
func (s *Server) enqueue(req transport.Request) error {
	item := request{
		id:   id.MustGenerate("req"),
		msg:  req.Msg,
		conn: req.Conn,
	}
	s.log.Debug("request queued", "id", item.id, "type", string(item.msg.Type))
	return s.queue.Put(item)
}

// shutdown runs the teardown sequence. Every step is best-effort and
// logged on failure: persist the catalogue, deregister, close the
// listener and acceptor-owned connections, stop and join the workers,
// close the log, drop the queue and catalogue.
func (s *Server) shutdown() {
	s.log.Info("shutting down")

	if err := s.catalogue.Persist(s.recordPath, s.cfg.Paths.BuildDir); err != nil {
		s.log.WithError(err).Error("failed to persist the catalogue")
	}

	if err := s.registry.Remove(s.acceptor.Path()); err != nil {
		s.log.WithError(err).Error("failed to deregister from the registry")
	}

	if err := s.acceptor.Close(); err != nil {
		s.log.WithError(err).Error("failed to close the acceptor")
	}

	stop := request{msg: protocol.Message{Type: protocol.TypeStop}}
	for i := 0; i < s.args.Workers; i++ {
		if err := s.queue.Put(stop); err != nil {
			s.log.WithError(err).Error("failed to enqueue a stop sentinel")
		}
	}
	s.wg.Wait()

	if err := s.oplog.Close(); err != nil {
		s.log.WithError(err).Error("failed to close the operation log")
	}

	s.catalogue.Close()
	s.log.Info("shutdown complete")
}
