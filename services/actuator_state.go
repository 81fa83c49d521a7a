package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"plantops/models"

	"go.uber.org/zap"
)

const ActuatorStateFile = "actuator_state.json"

// actionStateDelta maps actions to the actuator field they change. Timed
// actuators self-stop, so they return to idle.
var actionStateDelta = map[models.ActionKind]func(*models.ActuatorState){
	models.ActionLightOn:     func(s *models.ActuatorState) { s.Light = models.StateOn },
	models.ActionLightOff:    func(s *models.ActuatorState) { s.Light = models.StateOff },
	models.ActionHeaterOn:    func(s *models.ActuatorState) { s.Heater = models.StateOn },
	models.ActionHeaterOff:   func(s *models.ActuatorState) { s.Heater = models.StateOff },
	models.ActionWater:       func(s *models.ActuatorState) { s.Pump = models.StateIdle },
	models.ActionCirculation: func(s *models.ActuatorState) { s.Circulation = models.StateIdle },
}

// ActuatorStateStore owns the on-disk actuator state cache. Hardware-reported
// relay states always override it; the cache only stands in when the bridge
// does not report them.
type ActuatorStateStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewActuatorStateStore(dataDir string, logger *zap.Logger) *ActuatorStateStore {
	return &ActuatorStateStore{
		path:   filepath.Join(dataDir, ActuatorStateFile),
		logger: logger,
	}
}

func (a *ActuatorStateStore) Path() string {
	return a.path
}

// Load returns the cached state, or the default state when the cache is
// missing or unreadable.
func (a *ActuatorStateStore) Load() models.ActuatorState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load()
}

func (a *ActuatorStateStore) load() models.ActuatorState {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("Failed to read actuator state, using defaults",
				zap.String("path", a.path),
				zap.Error(err))
		}
		return models.DefaultActuatorState()
	}

	var state models.ActuatorState
	if err := json.Unmarshal(data, &state); err != nil {
		a.logger.Warn("Corrupt actuator state file, using defaults",
			zap.String("path", a.path),
			zap.Error(err))
		return models.DefaultActuatorState()
	}
	state.FillDefaults()
	return state
}

// Save persists the full state object.
func (a *ActuatorStateStore) Save(state models.ActuatorState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(state)
}

func (a *ActuatorStateStore) save(state models.ActuatorState) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal actuator state: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write actuator state: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("failed to replace actuator state: %w", err)
	}
	return nil
}

// Reconcile overlays every relay state the hardware reported onto the cached
// state and writes the result back.
func (a *ActuatorStateStore) Reconcile(reading *models.SensorReading) models.ActuatorState {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.load()
	if reading != nil {
		if reading.LightOn != nil {
			state.Light = onOff(*reading.LightOn)
		}
		if reading.HeaterOn != nil {
			state.Heater = onOff(*reading.HeaterOn)
		}
		if reading.WaterPumpOn != nil {
			state.Pump = runningIdle(*reading.WaterPumpOn)
		}
		if reading.CirculationOn != nil {
			state.Circulation = runningIdle(*reading.CirculationOn)
		}
		if reading.WaterTankOK != nil {
			state.WaterTank = models.StateLow
			if *reading.WaterTankOK {
				state.WaterTank = models.StateOK
			}
		}
		if reading.HeaterLockout != nil {
			state.HeaterLockout = models.StateNormal
			if *reading.HeaterLockout {
				state.HeaterLockout = models.StateActive
			}
		}
	}

	if err := a.save(state); err != nil {
		a.logger.Warn("Failed to persist reconciled actuator state", zap.Error(err))
	}
	return state
}

// UpdateAfterAction applies the state change of a successfully executed
// action. Actions without a state effect are ignored.
func (a *ActuatorStateStore) UpdateAfterAction(action models.ActionKind) {
	apply, ok := actionStateDelta[action]
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.load()
	apply(&state)
	if err := a.save(state); err != nil {
		a.logger.Warn("Failed to persist actuator state",
			zap.String("action", string(action)),
			zap.Error(err))
		return
	}
	a.logger.Debug("Actuator state updated", zap.String("action", string(action)))
}

func onOff(on bool) string {
	if on {
		return models.StateOn
	}
	return models.StateOff
}

func runningIdle(running bool) string {
	if running {
		return models.StateRunning
	}
	return models.StateIdle
}
