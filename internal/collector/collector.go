package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/stats"
)

// Fetcher is the polling client driven by the collector.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*inverter.Snapshot, error)
}

// Store persists the last known snapshot.
type Store interface {
	Save(snap *inverter.Snapshot) error
	Latest() (*inverter.Snapshot, error)
}

type Publisher interface {
	Publish(snap *inverter.Snapshot) error
	PublishHomeAssistantDiscovery(serial string) error
}

type Collector struct {
	client        Fetcher
	store         Store
	publisher     Publisher
	stats         *stats.Stats
	interval      time.Duration
	statsSchedule string
	enabled       bool
	logger        *zap.Logger

	mu           sync.RWMutex
	latest       *inverter.Snapshot
	stale        bool
	lastErr      error
	lastAttempt  time.Time
	isCollecting bool
	discovered   map[string]bool
}

type CollectorConfig struct {
	Client    Fetcher
	Store     Store
	Publisher Publisher
	Stats     *stats.Stats
	Interval  time.Duration
	// StatsSchedule is a cron spec for logging read statistics; empty disables it.
	StatsSchedule string
	Enabled       bool
	Logger        *zap.Logger
}

// Status describes the collector for health reporting.
type Status struct {
	Collecting  bool      `json:"collecting"`
	Stale       bool      `json:"stale"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func NewCollector(cfg CollectorConfig) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Collector{
		client:        cfg.Client,
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		stats:         cfg.Stats,
		interval:      cfg.Interval,
		statsSchedule: cfg.StatsSchedule,
		enabled:       cfg.Enabled,
		logger:        logger,
		discovered:    map[string]bool{},
	}
}

// Start polls until ctx is done. The first poll runs immediately.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		c.logger.Info("collector is disabled")
		return nil
	}

	c.warmStart()

	if c.stats != nil && c.statsSchedule != "" {
		sched := cron.New()
		if _, err := sched.AddFunc(c.statsSchedule, c.logStats); err != nil {
			return fmt.Errorf("invalid stats schedule %q: %w", c.statsSchedule, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	c.setCollecting(true)
	defer c.setCollecting(false)

	c.logger.Info("starting collector", zap.Duration("interval", c.interval))

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// warmStart exposes the stored snapshot, marked stale, until the first poll
// succeeds.
func (c *Collector) warmStart() {
	if c.store == nil {
		return
	}

	snap, err := c.store.Latest()
	if err != nil {
		c.logger.Debug("no stored snapshot to warm start from", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.latest == nil {
		c.latest = snap
		c.stale = true
	}
	c.mu.Unlock()

	c.logger.Info("warm started from stored snapshot",
		zap.String("serial_number", snap.SerialNumber), zap.Time("updated_at", snap.UpdatedAt))
}

func (c *Collector) collect(ctx context.Context) {
	if _, err := c.CollectOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("failed to collect inverter data", zap.Error(err))
	}
}

// CollectOnce runs one poll. A failed poll leaves the previous snapshot in
// place.
func (c *Collector) CollectOnce(ctx context.Context) (*inverter.Snapshot, error) {
	snap, err := c.client.FetchSnapshot(ctx)

	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.lastErr = err
	if err == nil {
		c.latest = snap
		c.stale = false
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Save(snap); err != nil {
			c.logger.Warn("failed to store snapshot", zap.Error(err))
		}
	}

	if c.publisher != nil {
		c.publish(snap)
	}

	c.logger.Info("collected",
		zap.String("serial_number", snap.SerialNumber),
		zap.Stringer(string(inverter.KeyBatteryTotal), snap.Values[inverter.KeyBatteryTotal]),
		zap.Int("values", len(snap.Values)))

	return snap, nil
}

func (c *Collector) publish(snap *inverter.Snapshot) {
	c.mu.Lock()
	announce := !c.discovered[snap.SerialNumber]
	c.mu.Unlock()

	if announce {
		if err := c.publisher.PublishHomeAssistantDiscovery(snap.SerialNumber); err != nil {
			c.logger.Warn("failed to publish discovery", zap.Error(err))
		} else {
			c.mu.Lock()
			c.discovered[snap.SerialNumber] = true
			c.mu.Unlock()
		}
	}

	if err := c.publisher.Publish(snap); err != nil {
		c.logger.Warn("failed to publish to mqtt", zap.Error(err))
	}
}

func (c *Collector) logStats() {
	c.logger.Info("read statistics", zap.Object("counters", c.stats.Counters()))
}

// Latest returns the current snapshot, possibly stale, or nil.
func (c *Collector) Latest() *inverter.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest.Clone()
}

func (c *Collector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Collecting:  c.isCollecting,
		Stale:       c.stale,
		LastAttempt: c.lastAttempt,
	}
	if c.latest != nil && !c.stale {
		s.LastSuccess = c.latest.UpdatedAt
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}

func (c *Collector) setCollecting(v bool) {
	c.mu.Lock()
	c.isCollecting = v
	c.mu.Unlock()
}
