package server

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/numbleroot/causaldoc/comm"
)

// Structs

// Metrics bundles the instruments a metrics service
// reports to. Commands and Latency carry a "command"
// label.
type Metrics struct {
	Commands      metrics.Counter
	DecodeErrors  metrics.Counter
	StaleContexts metrics.Counter
	Connections   metrics.Gauge
	Subscribers   metrics.Gauge
	OpLogLength   metrics.Gauge
	Latency       metrics.Histogram
}

type metricsService struct {
	service Service
	m       *Metrics
}

// Functions

// NewMetricsService wraps s and reports on m.
func NewMetricsService(s Service, m *Metrics) Service {

	return &metricsService{
		service: s,
		m:       m,
	}
}

// observe records one handled command. Writes
// additionally refresh the gauges.
func (s *metricsService) observe(cmd comm.Command, begin time.Time, write bool) {

	name := comm.CommandName(cmd)

	s.m.Commands.With("command", name).Add(1)
	s.m.Latency.With("command", name).Observe(time.Since(begin).Seconds())

	if write {
		s.refresh()
	}
}

func (s *metricsService) refresh() {

	stats := s.service.Stats()

	s.m.OpLogLength.Set(float64(stats.LogLen))
	s.m.Subscribers.Set(float64(stats.Subscribers))
}

func (s *metricsService) Connect(c *Connection) bool {

	ok := s.service.Connect(c)

	if ok {
		s.m.Connections.Add(1)
	}

	return ok
}

func (s *metricsService) Disconnect(c *Connection, err error) {

	wasClosed := c.State == Closed
	s.service.Disconnect(c, err)

	if !wasClosed {
		s.m.Connections.Add(-1)
		s.refresh()
	}
}

func (s *metricsService) Malformed(c *Connection, msg []byte, err error) bool {

	ok := s.service.Malformed(c, msg, err)
	s.m.DecodeErrors.Add(1)

	return ok
}

func (s *metricsService) GetDocument(c *Connection, cmd comm.GetDocument) bool {

	begin := time.Now()
	ok := s.service.GetDocument(c, cmd)
	s.observe(cmd, begin, false)

	return ok
}

func (s *metricsService) GetRecord(c *Connection, cmd comm.GetRecord) bool {

	begin := time.Now()
	ok := s.service.GetRecord(c, cmd)
	s.observe(cmd, begin, false)

	return ok
}

func (s *metricsService) GetReadCtx(c *Connection, cmd comm.GetReadCtx) bool {

	begin := time.Now()
	ok := s.service.GetReadCtx(c, cmd)
	s.observe(cmd, begin, false)

	return ok
}

func (s *metricsService) Add(c *Connection, cmd comm.Add) bool {

	begin := time.Now()
	ok := s.service.Add(c, cmd)
	s.observe(cmd, begin, true)

	return ok
}

func (s *metricsService) Apply(c *Connection, cmd comm.Apply) bool {

	begin := time.Now()
	ok := s.service.Apply(c, cmd)
	s.observe(cmd, begin, true)

	return ok
}

func (s *metricsService) Remove(c *Connection, cmd comm.Remove) bool {

	begin := time.Now()
	ok := s.service.Remove(c, cmd)
	s.observe(cmd, begin, true)

	return ok
}

func (s *metricsService) RequestActor(c *Connection, cmd comm.RequestActor) bool {

	begin := time.Now()
	ok := s.service.RequestActor(c, cmd)
	s.observe(cmd, begin, false)

	return ok
}

func (s *metricsService) GetOps(c *Connection, cmd comm.GetOps) bool {

	begin := time.Now()
	ok := s.service.GetOps(c, cmd)
	s.observe(cmd, begin, false)

	return ok
}

func (s *metricsService) Subscribe(c *Connection, cmd comm.Subscribe) bool {

	begin := time.Now()
	ok := s.service.Subscribe(c, cmd)
	s.observe(cmd, begin, true)

	return ok
}

func (s *metricsService) Stats() Stats {
	return s.service.Stats()
}
