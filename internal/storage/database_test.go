package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinmroczek/neovolta/internal/inverter"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "neovolta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveAndLoad(t *testing.T) {
	db := openTestDatabase(t)
	at := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

	snap := &inverter.Snapshot{
		SerialNumber: "NV1",
		Values: map[inverter.Key]inverter.Value{
			inverter.KeyBatteryChargedToday: inverter.Float(12.3),
			inverter.KeyBatteryTotal:        inverter.Integer(87),
			inverter.KeyGridVoltageRUA:      inverter.Float(0),
		},
		UpdatedAt: at,
	}
	require.NoError(t, db.Save(snap))

	got, err := db.Load("NV1")
	require.NoError(t, err)
	assert.Equal(t, "NV1", got.SerialNumber)
	assert.True(t, got.UpdatedAt.Equal(at))
	assert.InDelta(t, 12.3, got.Values[inverter.KeyBatteryChargedToday].Float64(), 1e-9)
	assert.True(t, got.Values[inverter.KeyBatteryTotal].IsInteger())
	assert.Equal(t, int64(87), got.Values[inverter.KeyBatteryTotal].Int64())
	assert.Contains(t, got.Values, inverter.KeyGridVoltageRUA)
}

func TestSave_OverwritesPreviousSnapshot(t *testing.T) {
	db := openTestDatabase(t)

	first := &inverter.Snapshot{
		SerialNumber: "NV1",
		Values:       map[inverter.Key]inverter.Value{inverter.KeyBatteryTotal: inverter.Integer(50)},
		UpdatedAt:    time.Unix(1000, 0).UTC(),
	}
	second := &inverter.Snapshot{
		SerialNumber: "NV1",
		Values:       map[inverter.Key]inverter.Value{inverter.KeyBatteryTotal: inverter.Integer(51)},
		UpdatedAt:    time.Unix(2000, 0).UTC(),
	}
	require.NoError(t, db.Save(first))
	require.NoError(t, db.Save(second))

	got, err := db.Load("NV1")
	require.NoError(t, err)
	assert.Equal(t, int64(51), got.Values[inverter.KeyBatteryTotal].Int64())

	var rows int64
	require.NoError(t, db.db.Model(&LastKnown{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestLatest(t *testing.T) {
	db := openTestDatabase(t)

	_, err := db.Latest()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Save(&inverter.Snapshot{SerialNumber: "A", UpdatedAt: time.Unix(1000, 0).UTC()}))
	require.NoError(t, db.Save(&inverter.Snapshot{SerialNumber: "B", UpdatedAt: time.Unix(3000, 0).UTC()}))

	got, err := db.Latest()
	require.NoError(t, err)
	assert.Equal(t, "B", got.SerialNumber)
	assert.Empty(t, got.Values)
}

func TestLoad_NotFound(t *testing.T) {
	db := openTestDatabase(t)

	_, err := db.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_RequiresSerialNumber(t *testing.T) {
	db := openTestDatabase(t)

	assert.Error(t, db.Save(nil))
	assert.Error(t, db.Save(&inverter.Snapshot{}))
}
