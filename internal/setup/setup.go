// Package setup checks that an inverter is reachable before it is adopted by
// the monitor.
package setup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/config"
	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/retry"
)

const (
	MessageInvalidAddress = "invalid address"
	MessageCannotConnect  = "cannot connect"
	MessageUnknown        = "unknown error"
)

// Result identifies a validated inverter.
type Result struct {
	Host         string `json:"host" yaml:"host"`
	SerialNumber string `json:"serial_number" yaml:"serial_number"`
}

// Validate checks the inverter address and reads its serial number once.
// The session it opens is closed before returning.
func Validate(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.L()
	}
	if err := config.ValidateHost(cfg.Inverter.Host); err != nil {
		return nil, err
	}

	session, err := modbus.NewSession(modbus.Config{
		Host:    cfg.Inverter.Host,
		Port:    cfg.Inverter.Port,
		Timeout: cfg.Inverter.Timeout,
		Driver:  cfg.Inverter.Driver,
	}, modbus.WithLogger(logger))
	if err != nil {
		return nil, &retry.ClientError{Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	ctrl := retry.NewController(session, Policy(cfg), retry.WithLogger(logger))
	client := inverter.NewClient(ctrl, inverter.WithUnit(cfg.Inverter.UnitID), inverter.WithLogger(logger))

	serial, err := client.FetchStaticData(ctx)
	if err != nil {
		logger.Warn("inverter validation failed", zap.String("host", cfg.Inverter.Host), zap.Error(err))
		return nil, err
	}

	return &Result{Host: cfg.Inverter.Host, SerialNumber: serial}, nil
}

// Policy builds the retry policy configured for cfg.
func Policy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay,
		Timeout:     cfg.Inverter.Timeout,
	}
}

// Message maps a validation failure to a short user-facing reason. Transport
// details stay in the logs.
func Message(err error) string {
	var (
		validation    *config.ValidationError
		communication *retry.CommunicationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return MessageInvalidAddress
	case errors.As(err, &communication):
		return MessageCannotConnect
	default:
		return MessageUnknown
	}
}
