package server

import (
	"io"

	"github.com/bibliofed/bibliofed/internal/errors"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/oplog"
	"github.com/bibliofed/bibliofed/internal/protocol"
)

// workerLoop serves queue items until it dequeues a stop sentinel. Workers
// never touch the listener or another worker's connection.
func (s *Server) workerLoop(n int) {
	log := s.log.WithField("worker", n)
	for {
		item, err := s.queue.Get()
		if err != nil {
			// Queue invariant violation; nothing sane left to do on
			// this worker.
			log.WithError(err).Error("dequeue failed")
			return
		}
		if item.msg.Type == protocol.TypeStop {
			return
		}
		s.serve(item)
	}
}

// serve answers one request: query the catalogue, reply, half-close, wait
// for the client's silent close, release the connection, and log the
// operation.
func (s *Server) serve(item request) {
	log := s.log.WithField("id", item.id)
	loan := item.msg.Type == protocol.TypeLoan

	res, queryErr := s.catalogue.Query(item.msg.Payload, loan)

	var reply protocol.Message
	logOp := false
	count := 0
	switch {
	case errors.Is(queryErr, errors.ErrBadFormat):
		reply = protocol.Message{Type: protocol.TypeError, Payload: protocol.MsgBadRequest}
	case queryErr != nil:
		log.WithError(queryErr).Error("catalogue query failed")
		reply = protocol.Message{Type: protocol.TypeError, Payload: protocol.MsgSearchFailure}
	case res.Matched == 0:
		reply = protocol.Message{Type: protocol.TypeNo}
		logOp = true
	default:
		reply = protocol.Message{Type: protocol.TypeRecord, Payload: res.Payload}
		logOp = true
		if loan {
			count = res.Granted
		} else {
			count = res.Matched
		}
	}

	s.respond(item, reply, log)

	if logOp {
		op := oplog.OpQuery
		if loan {
			op = oplog.OpLoan
		}
		if err := s.oplog.Record(op, count, res.Payload); err != nil {
			log.WithError(err).Error("failed to append to the operation log")
		}
	}
}

// respond writes the framed reply, half-closes the write side, and reads
// one byte to catch a client that keeps talking: any data or read error
// after our frame is a protocol violation and shuts the connection both
// ways. The descriptor is released in every case.
func (s *Server) respond(item request, reply protocol.Message, log *logger.Logger) {
	defer item.conn.Close()

	if err := protocol.Write(item.conn, reply); err != nil {
		log.Warn("failed to write response", "error", err)
		item.conn.Shutdown()
		return
	}
	if err := item.conn.CloseWrite(); err != nil {
		log.Warn("failed to half-close the connection", "error", err)
		item.conn.Shutdown()
		return
	}

	var ack [1]byte
	n, err := item.conn.Read(ack[:])
	if err != nil && err != io.EOF {
		log.Warn("error waiting for the client to close", "error", err)
		item.conn.Shutdown()
		return
	}
	if n > 0 {
		log.Warn("client wrote after the response; dropping the connection")
		item.conn.Shutdown()
	}
}
