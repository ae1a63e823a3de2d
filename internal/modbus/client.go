package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPort    = 8899
	DefaultUnit    = 1
	DefaultTimeout = 30 * time.Second

	// MaxRegisters is the largest holding register read a single request may carry.
	MaxRegisters = 125
)

// Request is one contiguous holding register read.
type Request struct {
	Address uint16
	Count   uint16
	Unit    uint8
}

func (r Request) Validate() error {
	if r.Count == 0 || r.Count > MaxRegisters {
		return fmt.Errorf("register count %d out of range 1..%d", r.Count, MaxRegisters)
	}
	if r.Unit == 0 {
		return errors.New("unit id must be positive")
	}
	if int(r.Address)+int(r.Count) > 0x10000 {
		return fmt.Errorf("register span %d+%d exceeds address space", r.Address, r.Count)
	}
	return nil
}

type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	Driver  string
}

// Session owns the single connection to the device. It reports classified
// failures and never retries on its own.
type Session struct {
	cfg       Config
	newDriver DriverFactory
	logger    *zap.Logger

	mu     sync.Mutex
	driver Driver
}

type Option func(*Session)

func WithDriverFactory(f DriverFactory) Option {
	return func(s *Session) {
		s.newDriver = f
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Session{
		cfg:    cfg,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.newDriver == nil {
		factory, err := NewDriverFactory(cfg.Driver)
		if err != nil {
			return nil, err
		}
		s.newDriver = factory
	}
	s.logger = s.logger.With(zap.String("host", cfg.Host), zap.Int("port", cfg.Port))

	return s, nil
}

// Connect opens the connection if it is not already open.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.driver != nil {
		return nil
	}

	d, err := s.newDriver(s.cfg)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: "connect", Err: err}
	}

	if err := run(ctx, d.Open); err != nil {
		go closeQuietly(d)
		e := wrap("connect", 0, err)
		s.logger.Debug("connect failed", zap.Stringer("kind", e.Kind), zap.Error(err))
		return e
	}

	s.driver = d
	s.logger.Debug("connected to inverter")

	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return nil
	}

	err := s.driver.Close()
	s.driver = nil
	return err
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver != nil
}

// ReadRegisters reads req.Count holding registers starting at req.Address.
// The read is bounded by ctx; on expiry it is abandoned, the connection is
// dropped and a KindTimeout error is returned.
func (s *Session) ReadRegisters(ctx context.Context, req Request) ([]uint16, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "read", Address: req.Address, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}

	d := s.driver
	var regs []uint16
	err := run(ctx, func() error {
		var err error
		regs, err = d.ReadHoldingRegisters(req.Address, req.Count, req.Unit)
		return err
	})
	if err != nil {
		e := wrap("read", req.Address, err)
		if !e.keepsConnection() {
			// an abandoned read still holds the driver, close it in the background
			s.dropLocked(ctx.Err() == nil)
		}
		return nil, e
	}

	if len(regs) != int(req.Count) {
		s.dropLocked(true)
		return nil, &Error{
			Kind:    KindProtocol,
			Op:      "read",
			Address: req.Address,
			Err:     fmt.Errorf("short response: got %d registers, want %d", len(regs), req.Count),
		}
	}

	return regs, nil
}

func (s *Session) dropLocked(wait bool) {
	d := s.driver
	s.driver = nil
	if d == nil {
		return
	}

	if !wait {
		go closeQuietly(d)
		return
	}
	if err := d.Close(); err != nil {
		s.logger.Debug("close after failure", zap.Error(err))
	}
}

func run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closeQuietly(d Driver) {
	_ = d.Close()
}
