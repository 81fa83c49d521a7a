package models

import (
	"time"
)

// SensorReading is one snapshot from the enclosure bridge. The hardware
// relay fields are nil when the bridge firmware does not report them.
type SensorReading struct {
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPct     float64   `json:"humidity_pct"`
	CO2PPM          float64   `json:"co2_ppm"`
	LightLevel      float64   `json:"light_level"`
	SoilMoisturePct float64   `json:"soil_moisture_pct"`
	Timestamp       time.Time `json:"timestamp"`

	WaterTankOK             *bool `json:"water_tank_ok,omitempty"`
	LightOn                 *bool `json:"light_on,omitempty"`
	HeaterOn                *bool `json:"heater_on,omitempty"`
	HeaterLockout           *bool `json:"heater_lockout,omitempty"`
	WaterPumpOn             *bool `json:"water_pump_on,omitempty"`
	WaterPumpRemainingSec   *int  `json:"water_pump_remaining_sec,omitempty"`
	CirculationOn           *bool `json:"circulation_on,omitempty"`
	CirculationRemainingSec *int  `json:"circulation_remaining_sec,omitempty"`
}

// TankLow reports whether the firmware explicitly says the tank is low.
// An unknown tank status is not low.
func (r *SensorReading) TankLow() bool {
	return r.WaterTankOK != nil && !*r.WaterTankOK
}

// LockoutActive reports whether the firmware heater lockout is engaged.
func (r *SensorReading) LockoutActive() bool {
	return r.HeaterLockout != nil && *r.HeaterLockout
}

// Bool returns a pointer to b, for filling optional reading fields.
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer to i.
func Int(i int) *int {
	return &i
}
