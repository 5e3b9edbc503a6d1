package main

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type opKind int

const (
	opWrite opKind = iota
	opRead
	opProbe
)

func (k opKind) String() string {
	switch k {
	case opWrite:
		return "write"
	case opRead:
		return "read"
	}
	return "probe"
}

// stats aggregates request outcomes across simulated users.
type stats struct {
	sync.Mutex
	total     int64
	failed    int64
	leaks     int64
	latencies map[opKind][]time.Duration
}

func newStats() *stats {
	return &stats{latencies: make(map[opKind][]time.Duration)}
}

func (s *stats) success(kind opKind, latency time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.total++
	s.latencies[kind] = append(s.latencies[kind], latency)
}

func (s *stats) failure() {
	s.Lock()
	defer s.Unlock()
	s.total++
	s.failed++
}

// leak records an outsider that could see messages of a foreign conversation.
func (s *stats) leak() {
	s.Lock()
	defer s.Unlock()
	s.leaks++
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *stats) report(log *zap.Logger, elapsed time.Duration) {
	s.Lock()
	defer s.Unlock()

	log.Info("load_test_finished",
		zap.Int64("requests", s.total),
		zap.Int64("failed", s.failed),
		zap.Int64("visibility_leaks", s.leaks),
		zap.Float64("requests_per_second", float64(s.total)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))

	for _, kind := range []opKind{opWrite, opRead, opProbe} {
		l := s.latencies[kind]
		log.Info("latency",
			zap.Stringer("operation", kind),
			zap.Int("samples", len(l)),
			zap.Duration("p50", percentile(l, 0.50)),
			zap.Duration("p99", percentile(l, 0.99)))
	}
}
