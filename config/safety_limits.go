package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NoCutoff is the schedule_off sentinel meaning the light has no evening cutoff.
const NoCutoff = "24:00"

// MaxWaterIntervalMin is the longest accepted water.min_interval_min. The
// decision history kept in memory only reaches back a little over a day.
const MaxWaterIntervalMin = 24 * 60

// SafetyLimits are the hard ceilings the validator enforces. They are loaded
// once at startup and shared by reference; only the emergency-stop marker is
// re-checked on every validation.
type SafetyLimits struct {
	Water             WaterLimits       `yaml:"water"`
	Heater            HeaterLimits      `yaml:"heater"`
	Light             LightLimits       `yaml:"light"`
	Circulation       CirculationLimits `yaml:"circulation"`
	EmergencyStopFile string            `yaml:"emergency_stop_file"`
	MaxActionsPerHour int               `yaml:"max_actions_per_hour"`
}

type WaterLimits struct {
	MaxDurationSec int `yaml:"max_duration_sec"` // longer requests are capped
	MinIntervalMin int `yaml:"min_interval_min"`
	DailyMaxCount  int `yaml:"daily_max_count"` // counted per UTC day
}

type HeaterLimits struct {
	MaxTempC         float64 `yaml:"max_temp_c"` // heater_on refused at or above
	MinTempC         float64 `yaml:"min_temp_c"`
	MaxContinuousMin int     `yaml:"max_continuous_min"`
}

// LightLimits holds the local wall-clock window in which light_on is allowed.
type LightLimits struct {
	MaxHoursPerDay int    `yaml:"max_hours_per_day"`
	ScheduleOn     string `yaml:"schedule_on"`
	ScheduleOff    string `yaml:"schedule_off"`
}

type CirculationLimits struct {
	MaxDurationSec int `yaml:"max_duration_sec"`
}

// DefaultSafetyLimits returns the built-in limits used when no file is present.
func DefaultSafetyLimits() *SafetyLimits {
	return &SafetyLimits{
		Water: WaterLimits{
			MaxDurationSec: 30,
			MinIntervalMin: 60,
			DailyMaxCount:  6,
		},
		Heater: HeaterLimits{
			MaxTempC:         30.0,
			MinTempC:         10.0,
			MaxContinuousMin: 120,
		},
		Light: LightLimits{
			MaxHoursPerDay: 18,
			ScheduleOn:     "06:00",
			ScheduleOff:    NoCutoff,
		},
		Circulation: CirculationLimits{
			MaxDurationSec: 3600,
		},
		EmergencyStopFile: "/tmp/plant-agent-stop",
		MaxActionsPerHour: 10,
	}
}

// LoadSafetyLimits reads limits from a YAML file. Keys absent from the file
// keep their default value. A missing file returns the defaults together with
// os.ErrNotExist so the caller can log it.
func LoadSafetyLimits(path string) (*SafetyLimits, error) {
	limits := DefaultSafetyLimits()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return limits, err
		}
		return nil, fmt.Errorf("failed to read safety limits: %w", err)
	}

	if err := yaml.Unmarshal(data, limits); err != nil {
		return nil, fmt.Errorf("failed to parse safety limits %s: %w", path, err)
	}

	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety limits %s: %w", path, err)
	}

	return limits, nil
}

// Validate checks that every ceiling is usable.
func (l *SafetyLimits) Validate() error {
	if l.Water.MaxDurationSec <= 0 {
		return errors.New("water.max_duration_sec must be positive")
	}
	if l.Water.MinIntervalMin < 0 {
		return errors.New("water.min_interval_min must not be negative")
	}
	if l.Water.MinIntervalMin > MaxWaterIntervalMin {
		return fmt.Errorf("water.min_interval_min must not exceed %d (one day)", MaxWaterIntervalMin)
	}
	if l.Water.DailyMaxCount <= 0 {
		return errors.New("water.daily_max_count must be positive")
	}
	if l.Circulation.MaxDurationSec <= 0 {
		return errors.New("circulation.max_duration_sec must be positive")
	}
	if l.MaxActionsPerHour <= 0 {
		return errors.New("max_actions_per_hour must be positive")
	}
	if l.EmergencyStopFile == "" {
		return errors.New("emergency_stop_file must be set")
	}
	if _, err := ParseClock(l.Light.ScheduleOn); err != nil {
		return fmt.Errorf("light.schedule_on: %w", err)
	}
	if _, err := ParseClock(l.Light.ScheduleOff); err != nil {
		return fmt.Errorf("light.schedule_off: %w", err)
	}
	return nil
}

// HasLightCutoff reports whether schedule_off is a real time of day.
func (l *SafetyLimits) HasLightCutoff() bool {
	return l.Light.ScheduleOff != NoCutoff
}

// ParseClock converts "HH:MM" into minutes after midnight. "24:00" is accepted
// and yields 1440.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("time %q has invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("time %q has invalid minute", s)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q is out of range", s)
	}
	return h*60 + m, nil
}
