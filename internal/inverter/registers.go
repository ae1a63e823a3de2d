package inverter

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// NeoVolta holding register layout. The device only answers block reads, so
// each block spans more registers than the map references.

type BlockID string

const (
	BlockSerial BlockID = "serial"
	BlockEnergy BlockID = "energy"
	BlockGrid   BlockID = "grid"
)

type Block struct {
	ID      BlockID
	Address uint16
	Count   uint16
}

var (
	// SerialBlock holds the serial number, ten ASCII characters.
	SerialBlock = Block{ID: BlockSerial, Address: 3, Count: 5}

	// Blocks are read in order on every poll.
	Blocks = []Block{
		{ID: BlockEnergy, Address: 0, Count: 100},
		{ID: BlockGrid, Address: 100, Count: 100},
	}
)

// Key names one decoded measurement.
type Key string

const (
	KeySerialNumber Key = "serial_number"

	KeyBatteryTotal Key = "battery_total"
	KeyBatteryTBD   Key = "battery_tbd"

	KeyBatteryChargedToday         Key = "battery_charged_today"
	KeyBatteryDischargedToday      Key = "battery_discharged_today"
	KeyBatteryChargedCumulative    Key = "battery_charged_cummulative"
	KeyBatteryDischargedCumulative Key = "battery_discharged_cummulative"

	KeyEnergyFromGridToday      Key = "energy_from_grid_today"
	KeyEnergyToGridToday        Key = "energy_to_grid_today"
	KeyEnergyFromGridCumulative Key = "energy_from_grid_cummulative"
	KeyEnergyToGridCumulative   Key = "energy_to_grid_cummulative"
	KeyEnergyConsumedToday      Key = "energy_consumed_today"
	KeyEnergyConsumedCumulative Key = "energy_consumed_cummulative"

	KeyBatteryVoltage1 Key = "battery_voltage1"
	KeyBatteryVoltage2 Key = "battery_voltage2"
	KeyBatteryVoltage3 Key = "battery_voltage3"
	KeyBatteryVoltage4 Key = "battery_voltage4"

	KeyGridVoltageRUA    Key = "grid_voltage_rua"
	KeyGridVoltageSVB    Key = "grid_voltage_svb"
	KeyGridVoltageRSUVAB Key = "grid_voltage_rsuvab"

	KeyFrequency1 Key = "frequency1"
	KeyFrequency2 Key = "frequency2"
	KeyFrequency3 Key = "frequency3"
)

// Kind selects how an entry is surfaced.
type Kind int

const (
	// KindScaled is raw * scale as a float.
	KindScaled Kind = iota
	// KindInteger is the raw register as a whole number.
	KindInteger
)

// Entry maps one register to one key. Offset is relative to the block base.
type Entry struct {
	Key    Key
	Block  BlockID
	Offset uint16
	Scale  float64
	Kind   Kind
}

// Address is the absolute register address of the entry within blocks.
func (e Entry) Address(blocks []Block) (uint16, bool) {
	b, ok := lo.Find(blocks, func(b Block) bool { return b.ID == e.Block })
	if !ok {
		return 0, false
	}
	return b.Address + e.Offset, true
}

func (e Entry) scale() float64 {
	if e.Scale == 0 {
		return 1
	}
	return e.Scale
}

// Decode extracts the entry's value from the owning block's registers.
func (e Entry) Decode(regs []uint16) (Value, error) {
	if int(e.Offset) >= len(regs) {
		return Value{}, fmt.Errorf("%s: offset %d outside %s block of %d registers",
			e.Key, e.Offset, e.Block, len(regs))
	}

	raw := regs[e.Offset]
	if e.Kind == KindInteger {
		return Integer(int64(raw)), nil
	}
	return Float(ScaledValue(raw, e.scale())), nil
}

// Encode is the inverse of Decode: the raw register holding v, clamped to
// the register range.
func (e Entry) Encode(v Value) uint16 {
	if e.Kind == KindInteger {
		switch i := v.Int64(); {
		case i < 0:
			return 0
		case i > math.MaxUint16:
			return math.MaxUint16
		default:
			return uint16(i)
		}
	}
	return RawValue(v.Float64(), e.scale())
}

// RegisterMap is the decoding table for the current firmware. Later entries
// win when a key repeats.
var RegisterMap = []Entry{
	{Key: KeyBatteryChargedToday, Block: BlockEnergy, Offset: 70, Scale: 0.1},
	{Key: KeyBatteryDischargedToday, Block: BlockEnergy, Offset: 71, Scale: 0.1},
	{Key: KeyBatteryChargedCumulative, Block: BlockEnergy, Offset: 72, Scale: 0.1},
	{Key: KeyBatteryDischargedCumulative, Block: BlockEnergy, Offset: 74, Scale: 0.1},
	{Key: KeyEnergyFromGridToday, Block: BlockEnergy, Offset: 76, Scale: 0.1},
	{Key: KeyEnergyToGridToday, Block: BlockEnergy, Offset: 77, Scale: 0.1},
	{Key: KeyEnergyFromGridCumulative, Block: BlockEnergy, Offset: 78, Scale: 0.1},
	{Key: KeyFrequency1, Block: BlockEnergy, Offset: 79, Scale: 0.01},
	{Key: KeyEnergyToGridCumulative, Block: BlockEnergy, Offset: 81, Scale: 0.1},
	{Key: KeyEnergyConsumedToday, Block: BlockEnergy, Offset: 84, Scale: 0.1},
	{Key: KeyEnergyConsumedCumulative, Block: BlockEnergy, Offset: 85, Scale: 0.1},

	{Key: KeyGridVoltageRUA, Block: BlockGrid, Offset: 50, Scale: 0.1},
	{Key: KeyGridVoltageSVB, Block: BlockGrid, Offset: 51, Scale: 0.1},
	{Key: KeyGridVoltageRSUVAB, Block: BlockGrid, Offset: 52, Scale: 0.1},
	{Key: KeyBatteryVoltage2, Block: BlockGrid, Offset: 54, Scale: 0.1},
	{Key: KeyBatteryVoltage3, Block: BlockGrid, Offset: 57, Scale: 0.1},
	{Key: KeyBatteryVoltage4, Block: BlockGrid, Offset: 58, Scale: 0.1},
	{Key: KeyBatteryVoltage1, Block: BlockGrid, Offset: 83, Scale: 0.01},
	{Key: KeyBatteryTotal, Block: BlockGrid, Offset: 84, Scale: 1, Kind: KindInteger},
	{Key: KeyBatteryTBD, Block: BlockGrid, Offset: 85, Scale: 1, Kind: KindInteger},
	{Key: KeyFrequency2, Block: BlockGrid, Offset: 92, Scale: 0.01},
	{Key: KeyFrequency3, Block: BlockGrid, Offset: 93, Scale: 0.01},
}

// EntriesFor returns the entries sourced from block, in table order.
func EntriesFor(entries []Entry, block BlockID) []Entry {
	return lo.Filter(entries, func(e Entry, _ int) bool {
		return e.Block == block
	})
}

// Keys lists the distinct keys produced by entries.
func Keys(entries []Entry) []Key {
	return lo.Uniq(lo.Map(entries, func(e Entry, _ int) Key {
		return e.Key
	}))
}

// CheckMap reports the first entry whose block is not in blocks or whose
// offset falls outside its block.
func CheckMap(blocks []Block, entries []Entry) error {
	for _, e := range entries {
		b, ok := lo.Find(blocks, func(b Block) bool { return b.ID == e.Block })
		if !ok {
			return fmt.Errorf("%s: block %s is not polled", e.Key, e.Block)
		}
		if e.Offset >= b.Count {
			return fmt.Errorf("%s: offset %d outside %s block of %d registers", e.Key, e.Offset, e.Block, b.Count)
		}
	}
	return nil
}

// Apply decodes every entry whose block is present in fetched and writes the
// result into values. Entries for blocks not in fetched are skipped.
func Apply(entries []Entry, fetched map[BlockID][]uint16, values map[Key]Value) error {
	for _, e := range entries {
		regs, ok := fetched[e.Block]
		if !ok {
			continue
		}

		v, err := e.Decode(regs)
		if err != nil {
			return err
		}
		values[e.Key] = v
	}
	return nil
}
