package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/stats"
)

// flakyReader fails the first n calls with err, then returns values.
type flakyReader struct {
	mu     sync.Mutex
	n      int
	err    error
	values []uint16
	calls  int
}

func (f *flakyReader) ReadRegisters(ctx context.Context, req modbus.Request) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.n {
		return nil, f.err
	}
	return f.values, nil
}

func transportErr() error {
	return &modbus.Error{Kind: modbus.KindTransport, Op: "read", Err: errors.New("connection reset")}
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 10, Delay: 0, Timeout: time.Second}
}

func TestReadRegisters_SucceedsAfterTransientFailures(t *testing.T) {
	for _, k := range []int{0, 1, 5, 9} {
		reader := &flakyReader{n: k, err: transportErr(), values: []uint16{1, 2}}
		st := stats.New()
		c := NewController(reader, fastPolicy(), WithStats(st), WithLogger(zaptest.NewLogger(t)))

		regs, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 70, Count: 2, Unit: 1})
		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, []uint16{1, 2}, regs)
		assert.Equal(t, k+1, reader.calls)

		counters := st.Counters()
		assert.Equal(t, uint64(1), counters.Calls)
		assert.Equal(t, uint64(k+1), counters.Attempts)
		assert.Equal(t, uint64(k), counters.Transport)
		assert.Equal(t, uint64(1), counters.Successes)
	}
}

func TestReadRegisters_ExhaustsAtCeiling(t *testing.T) {
	for _, k := range []int{10, 25} {
		reader := &flakyReader{n: k, err: transportErr()}
		st := stats.New()
		c := NewController(reader, fastPolicy(), WithStats(st), WithLogger(zaptest.NewLogger(t)))

		_, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 184, Count: 1, Unit: 1})
		require.Error(t, err)

		var ce *CommunicationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, uint16(184), ce.Address)
		assert.Equal(t, 10, ce.Attempts)
		assert.Equal(t, 10, reader.calls)
		assert.Contains(t, err.Error(), "184")
		assert.Equal(t, modbus.KindTransport, modbus.KindOf(err))
		assert.Equal(t, uint64(1), st.Counters().Exhausted)
	}
}

func TestReadRegisters_DeviceErrorRetriedLikeTransport(t *testing.T) {
	deviceErr := &modbus.Error{Kind: modbus.KindProtocol, Exception: true, Err: errors.New("server device busy")}
	reader := &flakyReader{n: 3, err: deviceErr, values: []uint16{42}}
	st := stats.New()
	c := NewController(reader, fastPolicy(), WithStats(st), WithLogger(zaptest.NewLogger(t)))

	regs, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 3, Count: 1, Unit: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint16{42}, regs)
	assert.Equal(t, 4, reader.calls)
	assert.Equal(t, uint64(3), st.Counters().Protocol)

	reader = &flakyReader{n: 10, err: deviceErr}
	c = NewController(reader, fastPolicy(), WithLogger(zaptest.NewLogger(t)))
	_, err = c.ReadRegisters(context.Background(), modbus.Request{Address: 3, Count: 1, Unit: 1})
	var ce *CommunicationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 10, ce.Attempts)
}

func TestReadRegisters_UnknownFailureIsNotRetried(t *testing.T) {
	reader := &flakyReader{n: 100, err: errors.New("nil pointer somewhere")}
	st := stats.New()
	c := NewController(reader, fastPolicy(), WithStats(st), WithLogger(zaptest.NewLogger(t)))

	_, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 70, Count: 2, Unit: 1})
	require.Error(t, err)

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint16(70), ce.Address)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, uint64(1), st.Counters().Unexpected)
	assert.Equal(t, uint64(0), st.Counters().Exhausted)
}

type blockingReader struct {
	calls int
}

func (b *blockingReader) ReadRegisters(ctx context.Context, req modbus.Request) ([]uint16, error) {
	b.calls++
	<-ctx.Done()
	return nil, &modbus.Error{Kind: modbus.KindTimeout, Op: "read", Address: req.Address, Err: ctx.Err()}
}

func TestReadRegisters_TimeoutIsRetryable(t *testing.T) {
	reader := &blockingReader{}
	policy := Policy{MaxAttempts: 3, Delay: 0, Timeout: 10 * time.Millisecond}
	st := stats.New()
	c := NewController(reader, policy, WithStats(st), WithLogger(zaptest.NewLogger(t)))

	_, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 100, Count: 100, Unit: 1})
	require.Error(t, err)

	var ce *CommunicationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, 3, reader.calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(3), st.Counters().Timeouts)
}

func TestReadRegisters_WaitsFixedDelay(t *testing.T) {
	reader := &flakyReader{n: 2, err: transportErr(), values: []uint16{1}}
	policy := Policy{MaxAttempts: 10, Delay: 20 * time.Millisecond, Timeout: time.Second}
	c := NewController(reader, policy, WithLogger(zaptest.NewLogger(t)))

	start := time.Now()
	_, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 0, Count: 1, Unit: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReadRegisters_ParentCancelStopsRetrying(t *testing.T) {
	reader := &flakyReader{n: 100, err: transportErr()}
	policy := Policy{MaxAttempts: 10, Delay: time.Hour, Timeout: time.Second}
	st := stats.New()
	c := NewController(reader, policy, WithStats(st), WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.ReadRegisters(ctx, modbus.Request{Address: 0, Count: 1, Unit: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, uint64(0), st.Counters().Exhausted)
}

func TestReadRegisters_LogsEachRetry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reader := &flakyReader{n: 4, err: transportErr(), values: []uint16{1}}
	c := NewController(reader, fastPolicy(), WithLogger(zap.New(core)))

	_, err := c.ReadRegisters(context.Background(), modbus.Request{Address: 72, Count: 3, Unit: 1})
	require.NoError(t, err)

	retries := logs.FilterMessage("register read failed, retrying").All()
	require.Len(t, retries, 4)
	assert.Equal(t, uint16(72), retries[0].ContextMap()["address"])
}

func TestNewController_ClampsPolicy(t *testing.T) {
	c := NewController(&flakyReader{}, Policy{MaxAttempts: 0, Delay: -time.Second})
	assert.Equal(t, 1, c.Policy().MaxAttempts)
	assert.Equal(t, time.Duration(0), c.Policy().Delay)
	assert.Equal(t, DefaultTimeout, c.Policy().Timeout)
	assert.NotNil(t, c.Stats())
}
