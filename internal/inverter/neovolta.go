package inverter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/retry"
)

// Reader performs one logical block read, retries included.
type Reader interface {
	ReadRegisters(ctx context.Context, req modbus.Request) ([]uint16, error)
}

// Client polls a NeoVolta inverter. Fetches are serialized: concurrent callers
// wait for the running fetch, so reads never interleave on the connection.
type Client struct {
	reader  Reader
	unit    uint8
	serial  Block
	blocks  []Block
	entries []Entry
	logger  *zap.Logger
	now     func() time.Time

	// fetchMu serializes fetches; mu guards the fields below it.
	fetchMu      sync.Mutex
	mu           sync.RWMutex
	staticLoaded bool
	serialNumber string
	snapshot     *Snapshot
}

type Option func(*Client)

func WithUnit(unit uint8) Option {
	return func(c *Client) {
		c.unit = unit
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRegisterMap replaces the polled blocks and decoding table.
func WithRegisterMap(blocks []Block, entries []Entry) Option {
	return func(c *Client) {
		c.blocks = blocks
		c.entries = entries
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(reader Reader, opts ...Option) *Client {
	c := &Client{
		reader:  reader,
		unit:    modbus.DefaultUnit,
		serial:  SerialBlock,
		blocks:  Blocks,
		entries: RegisterMap,
		logger:  zap.L(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchStaticData reads the serial number once. Later calls return the cached
// value without touching the device.
func (c *Client) FetchStaticData(ctx context.Context) (string, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	return c.fetchStaticLocked(ctx)
}

func (c *Client) fetchStaticLocked(ctx context.Context) (string, error) {
	c.mu.RLock()
	loaded, serial := c.staticLoaded, c.serialNumber
	c.mu.RUnlock()
	if loaded {
		return serial, nil
	}

	regs, err := c.reader.ReadRegisters(ctx, c.request(c.serial))
	if err != nil {
		return "", fmt.Errorf("failed to read serial number: %w", err)
	}
	serial = DecodeText(regs)

	c.mu.Lock()
	c.serialNumber = serial
	c.staticLoaded = true
	c.mu.Unlock()

	c.logger.Info("inverter identified", zap.String("serial_number", serial))
	return serial, nil
}

// FetchSnapshot reads every block and decodes a new snapshot. The previous
// snapshot stays current unless every block read succeeds. A register map
// naming blocks that are not polled is rejected before any read.
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if err := CheckMap(c.blocks, c.entries); err != nil {
		return nil, &retry.ClientError{Err: fmt.Errorf("invalid register map: %w", err)}
	}

	serial, err := c.fetchStaticLocked(ctx)
	if err != nil {
		return nil, err
	}

	fetched := make(map[BlockID][]uint16, len(c.blocks))
	for _, b := range c.blocks {
		regs, err := c.reader.ReadRegisters(ctx, c.request(b))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s block: %w", b.ID, err)
		}
		fetched[b.ID] = regs
	}

	values := make(map[Key]Value, len(c.entries))
	if err := Apply(c.entries, fetched, values); err != nil {
		return nil, &retry.ClientError{Err: fmt.Errorf("failed to decode registers: %w", err)}
	}

	snap := &Snapshot{
		SerialNumber: serial,
		Values:       values,
		UpdatedAt:    c.now(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.logger.Debug("snapshot updated", zap.Int("values", len(values)))
	return snap.Clone(), nil
}

// Snapshot returns a copy of the last complete snapshot, or nil.
func (c *Client) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

// SerialNumber returns the cached serial number, empty until fetched.
func (c *Client) SerialNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serialNumber
}

func (c *Client) request(b Block) modbus.Request {
	return modbus.Request{Address: b.Address, Count: b.Count, Unit: c.unit}
}
