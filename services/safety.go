package services

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

// ReasonOK is the reason attached to every accepted action.
const ReasonOK = "OK"

// SafetyValidator turns an untrusted proposed action into a safe one, or
// rejects it. Apart from stat-ing the emergency-stop marker and reading the
// clock it has no side effects.
type SafetyValidator struct {
	limits   *config.SafetyLimits
	logger   *zap.Logger
	now      func() time.Time
	location *time.Location
}

func NewSafetyValidator(limits *config.SafetyLimits, logger *zap.Logger) *SafetyValidator {
	return &SafetyValidator{
		limits:   limits,
		logger:   logger,
		now:      time.Now,
		location: time.Local,
	}
}

// SetClock replaces the wall clock and the zone used for the light schedule.
func (v *SafetyValidator) SetClock(now func() time.Time, loc *time.Location) {
	v.now = now
	if loc != nil {
		v.location = loc
	}
}

func (v *SafetyValidator) Limits() *config.SafetyLimits {
	return v.limits
}

// EmergencyStopActive reports whether the stop marker currently exists.
func (v *SafetyValidator) EmergencyStopActive() bool {
	_, err := os.Stat(v.limits.EmergencyStopFile)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		// An unreadable marker location is treated as a raised stop.
		v.logger.Warn("Cannot stat emergency stop file",
			zap.String("path", v.limits.EmergencyStopFile),
			zap.Error(err))
		return true
	}
	return false
}

// Validate checks action against the limits, the current reading and the
// recent decision history. Checks run in a fixed order and stop at the first
// rejection: emergency stop, allowlist, no-op passthrough, global hourly
// rate, then the per-action rules.
func (v *SafetyValidator) Validate(action models.ProposedAction, reading *models.SensorReading, history []models.DecisionRecord) models.ValidationResult {
	capped := action

	if v.EmergencyStopActive() {
		return reject(capped, "Emergency stop file is present. All actions halted.")
	}

	if !action.Action.Valid() {
		return reject(capped, fmt.Sprintf("Action '%s' is not in the allowlist. Allowed: %s",
			action.Action, allowedList()))
	}

	if action.Action.IsNoop() {
		return accept(capped)
	}

	now := v.now().UTC()
	recent := countRealActions(history, now.Add(-time.Hour))
	if recent >= v.limits.MaxActionsPerHour {
		return reject(capped, fmt.Sprintf("Global rate limit reached: %d/%d actions in the last hour.",
			recent, v.limits.MaxActionsPerHour))
	}

	switch action.Action {
	case models.ActionWater:
		return v.validateWater(capped, reading, history, now)
	case models.ActionHeaterOn, models.ActionHeaterOff:
		return v.validateHeater(capped, reading)
	case models.ActionLightOn, models.ActionLightOff:
		return v.validateLight(capped)
	case models.ActionCirculation:
		return v.validateCirculation(capped)
	case models.ActionDoNothing, models.ActionNotifyHuman:
		return accept(capped)
	}

	return reject(capped, fmt.Sprintf("Action '%s' has no safety rule.", action.Action))
}

func (v *SafetyValidator) validateWater(action models.ProposedAction, reading *models.SensorReading, history []models.DecisionRecord, now time.Time) models.ValidationResult {
	if reading != nil && reading.TankLow() {
		return reject(action, "Water tank level is LOW. Refill the tank before watering.")
	}

	limits := v.limits.Water
	if action.Params.DurationSec <= 0 {
		return reject(action, "Water duration_sec must be positive.")
	}

	capped := false
	if action.Params.DurationSec > limits.MaxDurationSec {
		v.logger.Info("Capping water duration",
			zap.Int("requested_sec", action.Params.DurationSec),
			zap.Int("max_sec", limits.MaxDurationSec))
		action.Params.DurationSec = limits.MaxDurationSec
		capped = true
	}

	interval := time.Duration(limits.MinIntervalMin) * time.Minute
	if last, ok := lastExecuted(history, models.ActionWater, now.Add(-interval)); ok {
		remaining := int((interval - now.Sub(last)).Minutes())
		return rejectCapped(action, capped, fmt.Sprintf(
			"Water rate limit: must wait %d min between waterings. Last watering at %s (%d min remaining).",
			limits.MinIntervalMin, last.UTC().Format(time.RFC3339), remaining))
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today := countExecuted(history, models.ActionWater, dayStart)
	if today >= limits.DailyMaxCount {
		return rejectCapped(action, capped, fmt.Sprintf("Daily water limit reached: %d/%d today.",
			today, limits.DailyMaxCount))
	}

	res := accept(action)
	res.Capped = capped
	return res
}

func (v *SafetyValidator) validateHeater(action models.ProposedAction, reading *models.SensorReading) models.ValidationResult {
	if action.Action == models.ActionHeaterOff {
		return accept(action)
	}

	if reading == nil || math.IsNaN(reading.TemperatureC) || math.IsInf(reading.TemperatureC, 0) {
		return reject(action, "Cannot turn heater on: no temperature reading available.")
	}
	if reading.LockoutActive() {
		return reject(action, "Heater lockout is active (firmware safety). Cannot turn heater on.")
	}
	maxTemp := v.limits.Heater.MaxTempC
	if reading.TemperatureC >= maxTemp {
		return reject(action, fmt.Sprintf("Cannot turn heater on: current temp %.1fC >= max %.1fC.",
			reading.TemperatureC, maxTemp))
	}
	return accept(action)
}

func (v *SafetyValidator) validateLight(action models.ProposedAction) models.ValidationResult {
	if action.Action == models.ActionLightOff {
		return accept(action)
	}

	local := v.now().In(v.location)
	minute := local.Hour()*60 + local.Minute()
	clock := local.Format("15:04")

	onAt, err := config.ParseClock(v.limits.Light.ScheduleOn)
	if err != nil {
		return reject(action, fmt.Sprintf("Light schedule is invalid: %v", err))
	}
	if minute < onAt {
		return reject(action, fmt.Sprintf("Too early for lights: current time %s, earliest on at %s.",
			clock, v.limits.Light.ScheduleOn))
	}

	if v.limits.HasLightCutoff() {
		offAt, err := config.ParseClock(v.limits.Light.ScheduleOff)
		if err != nil {
			return reject(action, fmt.Sprintf("Light schedule is invalid: %v", err))
		}
		if minute >= offAt {
			return reject(action, fmt.Sprintf("Too late for lights: current time %s, latest off at %s.",
				clock, v.limits.Light.ScheduleOff))
		}
	}
	return accept(action)
}

func (v *SafetyValidator) validateCirculation(action models.ProposedAction) models.ValidationResult {
	if action.Params.DurationSec <= 0 {
		return reject(action, "Circulation duration_sec must be positive.")
	}

	res := accept(action)
	if maxSec := v.limits.Circulation.MaxDurationSec; action.Params.DurationSec > maxSec {
		v.logger.Info("Capping circulation duration",
			zap.Int("requested_sec", action.Params.DurationSec),
			zap.Int("max_sec", maxSec))
		res.CappedAction.Params.DurationSec = maxSec
		res.Capped = true
	}
	return res
}

// countRealActions counts logged non-no-op actions at or after since,
// whatever their outcome.
func countRealActions(history []models.DecisionRecord, since time.Time) int {
	n := 0
	for _, rec := range history {
		if rec.Timestamp.Before(since) || rec.Decision.Action.IsNoop() {
			continue
		}
		n++
	}
	return n
}

// countExecuted counts executed records of kind at or after since.
func countExecuted(history []models.DecisionRecord, kind models.ActionKind, since time.Time) int {
	n := 0
	for _, rec := range history {
		if rec.Executed && rec.Decision.Action == kind && !rec.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// lastExecuted returns the newest executed record of kind at or after since.
func lastExecuted(history []models.DecisionRecord, kind models.ActionKind, since time.Time) (time.Time, bool) {
	var last time.Time
	found := false
	for _, rec := range history {
		if !rec.Executed || rec.Decision.Action != kind || rec.Timestamp.Before(since) {
			continue
		}
		if !found || rec.Timestamp.After(last) {
			last = rec.Timestamp
			found = true
		}
	}
	return last, found
}

func allowedList() string {
	names := make([]string, 0, len(models.AllActions))
	for _, k := range models.AllActions {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func accept(action models.ProposedAction) models.ValidationResult {
	return models.ValidationResult{Valid: true, Reason: ReasonOK, CappedAction: action}
}

func reject(action models.ProposedAction, reason string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Reason: reason, CappedAction: action}
}

func rejectCapped(action models.ProposedAction, capped bool, reason string) models.ValidationResult {
	res := reject(action, reason)
	res.Capped = capped
	return res
}
