package models

// Actuator state values.
const (
	StateOn      = "on"
	StateOff     = "off"
	StateIdle    = "idle"
	StateRunning = "running"
	StateOK      = "ok"
	StateLow     = "low"
	StateNormal  = "normal"
	StateActive  = "active"
)

// ActuatorState is the last known state of every actuator. It is cached on
// disk and overridden by hardware-reported relay states when available.
type ActuatorState struct {
	Light         string `json:"light"`
	Heater        string `json:"heater"`
	Pump          string `json:"pump"`
	Circulation   string `json:"circulation"`
	WaterTank     string `json:"water_tank"`
	HeaterLockout string `json:"heater_lockout"`
}

// DefaultActuatorState is used when no cache exists or it cannot be read.
func DefaultActuatorState() ActuatorState {
	return ActuatorState{
		Light:         StateOff,
		Heater:        StateOff,
		Pump:          StateIdle,
		Circulation:   StateIdle,
		WaterTank:     StateOK,
		HeaterLockout: StateNormal,
	}
}

// FillDefaults replaces empty fields, e.g. keys missing from an older cache file.
func (s *ActuatorState) FillDefaults() {
	d := DefaultActuatorState()
	if s.Light == "" {
		s.Light = d.Light
	}
	if s.Heater == "" {
		s.Heater = d.Heater
	}
	if s.Pump == "" {
		s.Pump = d.Pump
	}
	if s.Circulation == "" {
		s.Circulation = d.Circulation
	}
	if s.WaterTank == "" {
		s.WaterTank = d.WaterTank
	}
	if s.HeaterLockout == "" {
		s.HeaterLockout = d.HeaterLockout
	}
}
