// Package simulator serves a holding register image over Modbus TCP so the
// monitor can be exercised without a real inverter.
package simulator

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

const funcReadHoldingRegisters = 3

// Read records one request served by the device.
type Read struct {
	Address uint16
	Count   uint16
}

type Device struct {
	server *mbserver.Server
	logger *zap.Logger

	mu       sync.Mutex
	regs     []uint16
	failures int
	stalls   int
	stallFor time.Duration
	reads    []Read
	addr     string
}

func New(logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.L()
	}

	d := &Device{
		server: mbserver.NewServer(),
		logger: logger,
		regs:   make([]uint16, 0x10000),
	}
	d.server.RegisterFunctionHandler(funcReadHoldingRegisters, d.readHoldingRegisters)

	return d
}

// Set writes consecutive registers starting at address.
func (d *Device) Set(address uint16, values ...uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.regs[int(address):], values)
}

// FailNext answers the next n reads with a server-busy exception.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

// StallNext delays the next n responses by dur.
func (d *Device) StallNext(n int, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stalls = n
	d.stallFor = dur
}

func (d *Device) Reads() []Read {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Read(nil), d.reads...)
}

// Listen starts serving on addr. A zero port picks a free one, see Addr.
func (d *Device) Listen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if port == "0" {
		l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
		if err != nil {
			return fmt.Errorf("failed to pick a free port: %w", err)
		}
		addr = l.Addr().String()
		l.Close()
	}

	if err := d.server.ListenTCP(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	d.mu.Lock()
	d.addr = addr
	d.mu.Unlock()

	d.logger.Info("simulator listening", zap.String("addr", addr))
	return nil
}

func (d *Device) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

func (d *Device) Close() {
	d.server.Close()
}

func (d *Device) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	register := int(binary.BigEndian.Uint16(data[0:2]))
	count := int(binary.BigEndian.Uint16(data[2:4]))
	end := register + count
	if count == 0 || end > len(d.regs) {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	d.mu.Lock()
	d.reads = append(d.reads, Read{Address: uint16(register), Count: uint16(count)})
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		d.logger.Debug("simulated busy response", zap.Int("address", register))
		return []byte{}, &mbserver.SlaveDeviceBusy
	}
	var stall time.Duration
	if d.stalls > 0 {
		d.stalls--
		stall = d.stallFor
	}
	values := append([]uint16(nil), d.regs[register:end]...)
	d.mu.Unlock()

	if stall > 0 {
		time.Sleep(stall)
	}

	return append([]byte{byte(count * 2)}, mbserver.Uint16ToBytes(values)...), &mbserver.Success
}
