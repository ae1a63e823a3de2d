package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/austinmroczek/neovolta/config"
	"github.com/austinmroczek/neovolta/internal/collector"
	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/retry"
	"github.com/austinmroczek/neovolta/internal/setup"
	"github.com/austinmroczek/neovolta/internal/stats"
)

type fakeSource struct {
	snap   *inverter.Snapshot
	status collector.Status
}

func (f *fakeSource) Latest() *inverter.Snapshot { return f.snap.Clone() }
func (f *fakeSource) Status() collector.Status   { return f.status }

func newTestServer(t *testing.T, src *fakeSource, validate Validator) (*Server, *stats.Stats) {
	t.Helper()
	st := stats.New()
	cfg := &config.Config{Inverter: config.InverterConfig{
		Host: "192.168.1.20", Port: 8899, UnitID: 1, Driver: "simonvetter", Timeout: 30 * time.Second,
	}}
	return NewServer(ServerConfig{
		Source:    src,
		Stats:     st,
		Config:    cfg,
		Validator: validate,
		Logger:    zaptest.NewLogger(t),
	}), st
}

func do(t *testing.T, s *Server, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func testSnapshot() *inverter.Snapshot {
	return &inverter.Snapshot{
		SerialNumber: "NV1",
		Values: map[inverter.Key]inverter.Value{
			inverter.KeyBatteryTotal: inverter.Integer(87),
			inverter.KeyFrequency1:   inverter.Float(50.02),
		},
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSnapshot_NoData(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/v1/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "No data available yet", body["error"])
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{snap: testSnapshot(), status: collector.Status{Stale: true}}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["stale"])
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))

	data := body["data"].(map[string]any)
	assert.Equal(t, "NV1", data["serial_number"])
	assert.Equal(t, float64(87), data["battery_total"])
	assert.Equal(t, 50.02, data["frequency1"])
}

func TestSnapshotValue(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/v1/snapshot/battery_total", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(87), body["value"])
	assert.Equal(t, "%", body["sensor"].(map[string]any)["unit"])

	rec, _ = do(t, s, http.MethodGet, "/api/v1/snapshot/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/snapshot/frequency3", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSensors(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{}, nil)

	rec, _ := do(t, s, http.MethodGet, "/api/v1/sensors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sensors []inverter.Sensor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sensors))
	assert.Len(t, sensors, len(inverter.Sensors))
}

func TestStats(t *testing.T) {
	s, st := newTestServer(t, &fakeSource{}, nil)
	st.Call()
	st.Attempt()
	st.Failure(modbus.KindTimeout)
	st.Failure(modbus.KindProtocol)

	rec, body := do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["calls"])
	assert.Equal(t, float64(1), body["timeouts"])
	assert.Equal(t, float64(1), body["protocol_errors"])
	assert.Equal(t, float64(2), body["failures"])
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{status: collector.Status{
		Collecting:  true,
		LastSuccess: time.Now(),
	}}, nil)

	rec, body := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["inverter_online"])
}

func TestGetInverterConfig(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/v1/config/inverter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.168.1.20", body["host"])
	assert.Equal(t, "30s", body["timeout"])
}

func TestTestInverterConfig(t *testing.T) {
	var got *config.Config
	validate := func(ctx context.Context, cfg *config.Config) (*setup.Result, error) {
		got = cfg
		if cfg.Inverter.Host == "10.0.0.9" {
			return &setup.Result{Host: cfg.Inverter.Host, SerialNumber: "NV9"}, nil
		}
		return nil, &retry.CommunicationError{Attempts: 10}
	}
	s, _ := newTestServer(t, &fakeSource{}, validate)

	rec, body := do(t, s, http.MethodPost, "/api/v1/config/inverter/test", []byte(`{"host":"10.0.0.9","port":502}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "NV9", body["serial_number"])
	assert.Equal(t, 502, got.Inverter.Port)
	assert.Equal(t, uint8(1), got.Inverter.UnitID)

	_, body = do(t, s, http.MethodPost, "/api/v1/config/inverter/test", []byte(`{"host":"10.0.0.8"}`))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, setup.MessageCannotConnect, body["error"])
	assert.Equal(t, "192.168.1.20", s.config.Inverter.Host)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/config/inverter/test", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
