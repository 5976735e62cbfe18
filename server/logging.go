package server

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/numbleroot/causaldoc/comm"
)

type loggingService struct {
	logger  log.Logger
	service Service
}

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {
	return &loggingService{logger, s}
}

// logCommand logs the outcome of one handled command.
func (s *loggingService) logCommand(c *Connection, cmd comm.Command, ok bool) {

	logger := log.With(s.logger,
		"method", comm.CommandName(cmd),
		"command", cmd.String(),
		"conn", c.ID,
	)

	if !ok {
		level.Info(logger).Log("msg", "failed to respond to client, closing connection")
	} else {
		level.Debug(logger).Log()
	}
}

// Connect wraps this service's Connect method
// with added logging capabilities.
func (s *loggingService) Connect(c *Connection) bool {

	ok := s.service.Connect(c)

	level.Debug(s.logger).Log(
		"msg", "client connected",
		"conn", c.ID,
		"remote", c.ClientAddr(),
		"admitted", ok,
	)

	return ok
}

// Disconnect wraps this service's Disconnect
// method with added logging capabilities.
func (s *loggingService) Disconnect(c *Connection, err error) {

	s.service.Disconnect(c, err)

	logger := log.With(s.logger,
		"conn", c.ID,
		"remote", c.ClientAddr(),
	)

	if err != nil {
		level.Info(logger).Log("msg", "client connection broke", "err", err)
	} else {
		level.Debug(logger).Log("msg", "client disconnected")
	}
}

// Malformed wraps this service's Malformed
// method with added logging capabilities.
func (s *loggingService) Malformed(c *Connection, msg []byte, err error) bool {

	ok := s.service.Malformed(c, msg, err)

	level.Info(s.logger).Log(
		"msg", "dropped malformed message",
		"conn", c.ID,
		"size", len(msg),
		"err", err,
	)

	return ok
}

// GetDocument wraps this service's GetDocument
// method with added logging capabilities.
func (s *loggingService) GetDocument(c *Connection, cmd comm.GetDocument) bool {

	ok := s.service.GetDocument(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// GetRecord wraps this service's GetRecord
// method with added logging capabilities.
func (s *loggingService) GetRecord(c *Connection, cmd comm.GetRecord) bool {

	ok := s.service.GetRecord(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// GetReadCtx wraps this service's GetReadCtx
// method with added logging capabilities.
func (s *loggingService) GetReadCtx(c *Connection, cmd comm.GetReadCtx) bool {

	ok := s.service.GetReadCtx(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// Add wraps this service's Add method
// with added logging capabilities.
func (s *loggingService) Add(c *Connection, cmd comm.Add) bool {

	ok := s.service.Add(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// Apply wraps this service's Apply method
// with added logging capabilities.
func (s *loggingService) Apply(c *Connection, cmd comm.Apply) bool {

	ok := s.service.Apply(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// Remove wraps this service's Remove method
// with added logging capabilities.
func (s *loggingService) Remove(c *Connection, cmd comm.Remove) bool {

	ok := s.service.Remove(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// RequestActor wraps this service's RequestActor
// method with added logging capabilities.
func (s *loggingService) RequestActor(c *Connection, cmd comm.RequestActor) bool {

	ok := s.service.RequestActor(c, cmd)

	level.Info(s.logger).Log(
		"msg", "assigned actor",
		"conn", c.ID,
		"actor", c.Actor,
	)
	s.logCommand(c, cmd, ok)

	return ok
}

// GetOps wraps this service's GetOps method
// with added logging capabilities.
func (s *loggingService) GetOps(c *Connection, cmd comm.GetOps) bool {

	ok := s.service.GetOps(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// Subscribe wraps this service's Subscribe
// method with added logging capabilities.
func (s *loggingService) Subscribe(c *Connection, cmd comm.Subscribe) bool {

	ok := s.service.Subscribe(c, cmd)
	s.logCommand(c, cmd, ok)

	return ok
}

// Stats passes through to the wrapped service.
func (s *loggingService) Stats() Stats {
	return s.service.Stats()
}
