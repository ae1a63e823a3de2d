package inverter

import "github.com/samber/lo"

type StateClass string

const (
	StateMeasurement     StateClass = "measurement"
	StateTotalIncreasing StateClass = "total_increasing"
)

// Sensor is the presentation metadata for one snapshot key.
type Sensor struct {
	Key         Key        `json:"key"`
	Name        string     `json:"name"`
	Unit        string     `json:"unit,omitempty"`
	DeviceClass string     `json:"device_class,omitempty"`
	StateClass  StateClass `json:"state_class,omitempty"`
}

var Sensors = []Sensor{
	{KeyBatteryTotal, "Battery Total", "%", "battery", StateMeasurement},
	{KeyBatteryTBD, "Battery TBD", "%", "battery", StateMeasurement},
	{KeyBatteryChargedToday, "Battery Charged Today", "kWh", "energy", StateTotalIncreasing},
	{KeyBatteryDischargedToday, "Battery Discharged Today", "kWh", "energy", StateTotalIncreasing},
	{KeyEnergyFromGridToday, "Energy From Grid Today", "kWh", "energy", StateTotalIncreasing},
	{KeyEnergyToGridToday, "Energy To Grid Today", "kWh", "energy", StateTotalIncreasing},
	{KeyBatteryChargedCumulative, "Battery Charged Cummulative", "kWh", "energy", StateTotalIncreasing},
	{KeyBatteryDischargedCumulative, "Battery Discharged Cummulative", "kWh", "energy", StateTotalIncreasing},
	{KeyBatteryVoltage1, "Battery Voltage TBD1", "V", "voltage", StateMeasurement},
	{KeyBatteryVoltage2, "Battery Voltage TBD2", "V", "voltage", StateMeasurement},
	{KeyBatteryVoltage3, "Battery Voltage TBD3", "V", "voltage", StateMeasurement},
	{KeyBatteryVoltage4, "Battery Voltage TBD4", "V", "voltage", StateMeasurement},
	{KeyEnergyFromGridCumulative, "Energy From Grid Cummulative", "kWh", "energy", StateTotalIncreasing},
	{KeyEnergyToGridCumulative, "Energy to Grid Cummulative", "kWh", "energy", StateTotalIncreasing},
	{KeyEnergyConsumedToday, "Energy Consumed Today", "kWh", "energy", StateTotalIncreasing},
	{KeyEnergyConsumedCumulative, "Energy Consumed Cummulative", "kWh", "energy", StateTotalIncreasing},
	{KeyGridVoltageRUA, "Grid Voltage R/U/A", "V", "voltage", StateMeasurement},
	{KeyGridVoltageSVB, "Grid Voltage S/V/B", "V", "voltage", StateMeasurement},
	{KeyGridVoltageRSUVAB, "Grid Voltage RS/UV/AB", "V", "voltage", StateMeasurement},
	{KeyFrequency1, "Frequency1", "Hz", "frequency", StateMeasurement},
	{KeyFrequency2, "Frequency2", "Hz", "frequency", StateMeasurement},
	{KeyFrequency3, "Frequency3", "Hz", "frequency", StateMeasurement},
}

func SensorFor(key Key) (Sensor, bool) {
	return lo.Find(Sensors, func(s Sensor) bool {
		return s.Key == key
	})
}
