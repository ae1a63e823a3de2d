package modbus

import (
	"errors"
	"fmt"
	"strings"

	gbmodbus "github.com/goburrow/modbus"
)

type goburrowDriver struct {
	handler *gbmodbus.TCPClientHandler
	client  gbmodbus.Client
}

func newGoburrowDriver(cfg Config) (Driver, error) {
	handler := gbmodbus.NewTCPClientHandler(endpoint(cfg))
	handler.Timeout = cfg.Timeout
	handler.SlaveId = DefaultUnit

	return &goburrowDriver{
		handler: handler,
		client:  gbmodbus.NewClient(handler),
	}, nil
}

func (d *goburrowDriver) Open() error {
	return d.handler.Connect()
}

func (d *goburrowDriver) Close() error {
	return d.handler.Close()
}

func (d *goburrowDriver) ReadHoldingRegisters(address, count uint16, unit uint8) ([]uint16, error) {
	d.handler.SlaveId = unit

	results, err := d.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, classifyGoburrow(err)
	}

	return unpackRegisters(results)
}

func classifyGoburrow(err error) error {
	var mbErr *gbmodbus.ModbusError
	if errors.As(err, &mbErr) {
		return exception(err)
	}

	// goburrow reports frame validation failures as plain errors
	msg := err.Error()
	if strings.HasPrefix(msg, "modbus: response") || strings.HasPrefix(msg, "modbus: length") {
		return malformed(err)
	}

	return err
}

func unpackRegisters(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, malformed(fmt.Errorf("odd register payload length %d", len(data)))
	}

	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out, nil
}
