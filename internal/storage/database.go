package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/austinmroczek/neovolta/internal/inverter"
)

var ErrNotFound = errors.New("no stored snapshot")

type Database struct {
	db *gorm.DB
}

func NewDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&LastKnown{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

// Save replaces the stored snapshot for snap's serial number.
func (d *Database) Save(snap *inverter.Snapshot) error {
	if snap == nil || snap.SerialNumber == "" {
		return errors.New("snapshot has no serial number")
	}

	values := make(map[inverter.Key]storedValue, len(snap.Values))
	for k, v := range snap.Values {
		if v.IsInteger() {
			values[k] = storedValue{Int: v.Int64(), Integer: true}
		} else {
			values[k] = storedValue{Float: v.Float64()}
		}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	row := &LastKnown{
		SerialNumber: snap.SerialNumber,
		Values:       string(encoded),
		UpdatedAt:    snap.UpdatedAt,
	}
	return d.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// Load returns the stored snapshot for serial, or ErrNotFound.
func (d *Database) Load(serial string) (*inverter.Snapshot, error) {
	var row LastKnown
	if err := d.db.Where("serial_number = ?", serial).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.snapshot()
}

// Latest returns the most recently updated snapshot of any inverter.
func (d *Database) Latest() (*inverter.Snapshot, error) {
	var row LastKnown
	if err := d.db.Order("updated_at desc").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.snapshot()
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *LastKnown) snapshot() (*inverter.Snapshot, error) {
	var values map[inverter.Key]storedValue
	if err := json.Unmarshal([]byte(r.Values), &values); err != nil {
		return nil, fmt.Errorf("failed to decode stored snapshot %s: %w", r.SerialNumber, err)
	}

	snap := &inverter.Snapshot{
		SerialNumber: r.SerialNumber,
		Values:       make(map[inverter.Key]inverter.Value, len(values)),
		UpdatedAt:    r.UpdatedAt,
	}
	for k, v := range values {
		if v.Integer {
			snap.Values[k] = inverter.Integer(v.Int)
		} else {
			snap.Values[k] = inverter.Float(v.Float)
		}
	}
	return snap, nil
}
