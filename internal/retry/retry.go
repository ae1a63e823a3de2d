// Package retry wraps single register reads with a bounded, fixed-delay retry
// policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/stats"
)

const (
	DefaultMaxAttempts = 10
	DefaultDelay       = 5 * time.Second
	DefaultTimeout     = 30 * time.Second
)

// Policy is shared by every block read. Delay is constant: the device is slow
// to recover, not congested.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Timeout:     DefaultTimeout,
	}
}

// Reader is the single-read primitive being retried.
type Reader interface {
	ReadRegisters(ctx context.Context, req modbus.Request) ([]uint16, error)
}

type Controller struct {
	reader Reader
	policy Policy
	stats  *stats.Stats
	logger *zap.Logger
}

type Option func(*Controller)

func WithStats(s *stats.Stats) Option {
	return func(c *Controller) {
		c.stats = s
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func NewController(reader Reader, policy Policy, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}

	c := &Controller{
		reader: reader,
		policy: policy,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = stats.New()
	}

	return c
}

func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) Stats() *stats.Stats {
	return c.stats
}

// ReadRegisters performs one logical read. Classified failures are retried
// after Policy.Delay until Policy.MaxAttempts tries were made, then reported
// as *CommunicationError. Any other failure stops at once as *ClientError.
func (c *Controller) ReadRegisters(ctx context.Context, req modbus.Request) ([]uint16, error) {
	c.stats.Call()

	var (
		attempts int
		values   []uint16
		fatal    error
	)

	op := func() error {
		attempts++
		c.stats.Attempt()

		actx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()

		regs, err := c.reader.ReadRegisters(actx, req)
		if err == nil {
			values = regs
			return nil
		}

		kind := modbus.KindOf(err)
		c.stats.Failure(kind)
		if !kind.Retryable() {
			fatal = err
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("register read failed, retrying",
			zap.Uint16("address", req.Address),
			zap.Uint16("count", req.Count),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.policy.Delay), uint64(c.policy.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		c.stats.Success()
		return values, nil

	case fatal != nil:
		c.logger.Error("register read failed with unexpected error",
			zap.Uint16("address", req.Address), zap.Error(fatal))
		return nil, &ClientError{Address: req.Address, Err: fatal}

	default:
		if ctx.Err() == nil {
			c.stats.Exhausted()
		}
		c.logger.Error("register read gave up",
			zap.Uint16("address", req.Address),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, &CommunicationError{
			Address:  req.Address,
			Count:    req.Count,
			Attempts: attempts,
			Err:      err,
		}
	}
}
