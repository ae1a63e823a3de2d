// Package stats counts register reads and their outcomes for diagnosis.
package stats

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"

	"github.com/austinmroczek/neovolta/internal/modbus"
)

// Stats is safe for concurrent use. Counters only ever grow.
type Stats struct {
	calls      atomic.Uint64
	attempts   atomic.Uint64
	successes  atomic.Uint64
	timeouts   atomic.Uint64
	transport  atomic.Uint64
	protocol   atomic.Uint64
	unexpected atomic.Uint64
	exhausted  atomic.Uint64
}

// Counters is a point-in-time copy of Stats.
type Counters struct {
	Calls      uint64 `json:"calls" yaml:"calls"`
	Attempts   uint64 `json:"attempts" yaml:"attempts"`
	Successes  uint64 `json:"successes" yaml:"successes"`
	Timeouts   uint64 `json:"timeouts" yaml:"timeouts"`
	Transport  uint64 `json:"transport_failures" yaml:"transport_failures"`
	Protocol   uint64 `json:"protocol_errors" yaml:"protocol_errors"`
	Unexpected uint64 `json:"unexpected_errors" yaml:"unexpected_errors"`
	Exhausted  uint64 `json:"exhausted" yaml:"exhausted"`
}

func New() *Stats {
	return &Stats{}
}

// Call records one logical read request.
func (s *Stats) Call() {
	s.calls.Add(1)
}

// Attempt records one try of a logical read.
func (s *Stats) Attempt() {
	s.attempts.Add(1)
}

func (s *Stats) Success() {
	s.successes.Add(1)
}

// Failure records a failed attempt by its classification.
func (s *Stats) Failure(kind modbus.Kind) {
	switch kind {
	case modbus.KindTimeout:
		s.timeouts.Add(1)
	case modbus.KindTransport:
		s.transport.Add(1)
	case modbus.KindProtocol:
		s.protocol.Add(1)
	default:
		s.unexpected.Add(1)
	}
}

// Exhausted records a read that used up every attempt.
func (s *Stats) Exhausted() {
	s.exhausted.Add(1)
}

func (s *Stats) Counters() Counters {
	return Counters{
		Calls:      s.calls.Load(),
		Attempts:   s.attempts.Load(),
		Successes:  s.successes.Load(),
		Timeouts:   s.timeouts.Load(),
		Transport:  s.transport.Load(),
		Protocol:   s.protocol.Load(),
		Unexpected: s.unexpected.Load(),
		Exhausted:  s.exhausted.Load(),
	}
}

// Failures is the sum of all classified failed attempts.
func (c Counters) Failures() uint64 {
	return c.Timeouts + c.Transport + c.Protocol + c.Unexpected
}

func (c Counters) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("calls", c.Calls)
	enc.AddUint64("attempts", c.Attempts)
	enc.AddUint64("successes", c.Successes)
	enc.AddUint64("timeouts", c.Timeouts)
	enc.AddUint64("transport_failures", c.Transport)
	enc.AddUint64("protocol_errors", c.Protocol)
	enc.AddUint64("unexpected_errors", c.Unexpected)
	enc.AddUint64("exhausted", c.Exhausted)
	enc.AddUint64("failures", c.Failures())
	return nil
}
