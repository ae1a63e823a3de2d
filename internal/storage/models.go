package storage

import (
	"time"
)

// LastKnown is the most recent complete snapshot of one inverter. There is
// one row per serial number; older snapshots are overwritten.
type LastKnown struct {
	SerialNumber string    `gorm:"primaryKey" json:"serial_number"`
	Values       string    `gorm:"type:text;not null" json:"values"`
	UpdatedAt    time.Time `gorm:"index;autoUpdateTime:false" json:"updated_at"`
}

func (LastKnown) TableName() string {
	return "last_known_snapshots"
}

// storedValue keeps the integer flag so decoded values round-trip with their
// kind.
type storedValue struct {
	Float   float64 `json:"f,omitempty"`
	Int     int64   `json:"i,omitempty"`
	Integer bool    `json:"int,omitempty"`
}
