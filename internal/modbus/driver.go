package modbus

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/simonvetter/modbus"
)

const (
	DriverSimonvetter = "simonvetter"
	DriverGoburrow    = "goburrow"
)

// Driver is the register-read primitive supplied by a Modbus library.
type Driver interface {
	Open() error
	Close() error
	ReadHoldingRegisters(address, count uint16, unit uint8) ([]uint16, error)
}

type DriverFactory func(cfg Config) (Driver, error)

// NewDriverFactory resolves a driver by name. An empty name selects simonvetter.
func NewDriverFactory(name string) (DriverFactory, error) {
	switch name {
	case "", DriverSimonvetter:
		return newSimonvetterDriver, nil
	case DriverGoburrow:
		return newGoburrowDriver, nil
	default:
		return nil, fmt.Errorf("unknown modbus driver %q", name)
	}
}

func endpoint(cfg Config) string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

type simonvetterDriver struct {
	client *modbus.ModbusClient
}

func newSimonvetterDriver(cfg Config) (Driver, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     "tcp://" + endpoint(cfg),
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus client: %w", err)
	}

	return &simonvetterDriver{client: client}, nil
}

func (d *simonvetterDriver) Open() error {
	return d.client.Open()
}

func (d *simonvetterDriver) Close() error {
	return d.client.Close()
}

func (d *simonvetterDriver) ReadHoldingRegisters(address, count uint16, unit uint8) ([]uint16, error) {
	if err := d.client.SetUnitId(unit); err != nil {
		return nil, classifySimonvetter(err)
	}

	regs, err := d.client.ReadRegisters(address, count, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, classifySimonvetter(err)
	}

	return regs, nil
}

func classifySimonvetter(err error) error {
	switch {
	case errors.Is(err, modbus.ErrRequestTimedOut):
		return classified(KindTimeout, err)

	case errors.Is(err, modbus.ErrIllegalFunction),
		errors.Is(err, modbus.ErrIllegalDataAddress),
		errors.Is(err, modbus.ErrIllegalDataValue),
		errors.Is(err, modbus.ErrServerDeviceFailure),
		errors.Is(err, modbus.ErrAcknowledge),
		errors.Is(err, modbus.ErrServerDeviceBusy),
		errors.Is(err, modbus.ErrMemoryParityError),
		errors.Is(err, modbus.ErrGWPathUnavailable),
		errors.Is(err, modbus.ErrGWTargetFailedToRespond):
		return exception(err)

	case errors.Is(err, modbus.ErrBadCRC),
		errors.Is(err, modbus.ErrShortFrame),
		errors.Is(err, modbus.ErrProtocolError),
		errors.Is(err, modbus.ErrBadUnitId),
		errors.Is(err, modbus.ErrBadTransactionId),
		errors.Is(err, modbus.ErrUnknownProtocolId):
		return malformed(err)

	case errors.Is(err, modbus.ErrUnexpectedParameters),
		errors.Is(err, modbus.ErrConfigurationError):
		return classified(KindUnknown, err)
	}

	return err
}
