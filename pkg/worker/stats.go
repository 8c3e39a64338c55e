package worker

import (
	"sync/atomic"
)

// StatsObserver keeps process-wide counters. It is safe for concurrent use.
type StatsObserver struct {
	activeSessions atomic.Int64
	totalSessions  atomic.Uint64
	exchanges      atomic.Uint64
	dropped        atomic.Uint64
	retries        atomic.Uint64
	bytesIn        atomic.Uint64
	bytesOut       atomic.Uint64
}

// Stats is a point-in-time copy of StatsObserver counters.
type Stats struct {
	ActiveSessions int64  `json:"active_sessions"`
	TotalSessions  uint64 `json:"total_sessions"`
	Exchanges      uint64 `json:"exchanges"`
	Dropped        uint64 `json:"dropped"`
	Retries        uint64 `json:"retries"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
}

// NewStatsObserver creates a StatsObserver.
func NewStatsObserver() *StatsObserver {
	return &StatsObserver{}
}

func (s *StatsObserver) SessionStarted(Session) {
	s.activeSessions.Add(1)
	s.totalSessions.Add(1)
}

func (s *StatsObserver) SessionEnded(Session, error) {
	s.activeSessions.Add(-1)
}

func (s *StatsObserver) ExchangeCompleted(_ Session, ex Exchange) {
	s.exchanges.Add(1)
	s.bytesIn.Add(uint64(len(ex.Request)))
	s.bytesOut.Add(uint64(len(ex.Response)))
}

func (s *StatsObserver) FrameDropped(Session, string, error) {
	s.dropped.Add(1)
}

func (s *StatsObserver) ReadRetried(Session, error) {
	s.retries.Add(1)
}

// Snapshot returns the current counters.
func (s *StatsObserver) Snapshot() Stats {
	return Stats{
		ActiveSessions: s.activeSessions.Load(),
		TotalSessions:  s.totalSessions.Load(),
		Exchanges:      s.exchanges.Load(),
		Dropped:        s.dropped.Load(),
		Retries:        s.retries.Load(),
		BytesIn:        s.bytesIn.Load(),
		BytesOut:       s.bytesOut.Load(),
	}
}
