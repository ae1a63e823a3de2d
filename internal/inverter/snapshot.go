package inverter

import (
	"encoding/json"
	"strconv"
	"time"
)

// Value is a decoded measurement, either a float or a whole number.
type Value struct {
	f       float64
	i       int64
	integer bool
}

func Float(v float64) Value {
	return Value{f: v}
}

func Integer(v int64) Value {
	return Value{i: v, integer: true}
}

func (v Value) IsInteger() bool {
	return v.integer
}

func (v Value) Float64() float64 {
	if v.integer {
		return float64(v.i)
	}
	return v.f
}

func (v Value) Int64() int64 {
	if v.integer {
		return v.i
	}
	return int64(v.f)
}

// Interface returns float64 or int64.
func (v Value) Interface() any {
	if v.integer {
		return v.i
	}
	return v.f
}

func (v Value) String() string {
	if v.integer {
		return strconv.FormatInt(v.i, 10)
	}
	return strconv.FormatFloat(v.f, 'f', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Snapshot is one complete set of decoded measurements.
type Snapshot struct {
	SerialNumber string
	Values       map[Key]Value
	UpdatedAt    time.Time
}

func (s *Snapshot) Get(key Key) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.Values[key]
	return v, ok
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	values := make(map[Key]Value, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return &Snapshot{
		SerialNumber: s.SerialNumber,
		Values:       values,
		UpdatedAt:    s.UpdatedAt,
	}
}

// Flat returns the snapshot as the key/value map consumed downstream.
func (s *Snapshot) Flat() map[string]any {
	out := make(map[string]any, len(s.Values)+1)
	for k, v := range s.Values {
		out[string(k)] = v.Interface()
	}
	out[string(KeySerialNumber)] = s.SerialNumber
	return out
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Flat())
}

func (s *Snapshot) MarshalYAML() (interface{}, error) {
	return s.Flat(), nil
}
