package services

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"plantops/config"
	"plantops/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) (*SafetyValidator, *config.SafetyLimits) {
	t.Helper()
	limits := config.DefaultSafetyLimits()
	limits.EmergencyStopFile = filepath.Join(t.TempDir(), "stop")
	v := NewSafetyValidator(limits, zap.NewNop())
	v.SetClock(func() time.Time { return testNow }, time.UTC)
	return v, limits
}

func water(sec int) models.ProposedAction {
	return models.ProposedAction{Action: models.ActionWater, Params: models.ActionParams{DurationSec: sec}}
}

func action(kind models.ActionKind) models.ProposedAction {
	return models.ProposedAction{Action: kind}
}

func record(kind models.ActionKind, at time.Time, executed bool) models.DecisionRecord {
	return models.DecisionRecord{
		ID:        at.Format(time.RFC3339Nano) + string(kind),
		Timestamp: at,
		Decision:  models.LoggedDecision{ProposedAction: action(kind)},
		Validation: models.ValidationResult{
			Valid: true,
		},
		Executed: executed,
		Source:   models.SourceScheduled,
	}
}

func okReading() *models.SensorReading {
	r := MockReading(testNow)
	r.TemperatureC = 22
	return r
}

func TestValidate_EmergencyStopRejectsEverything(t *testing.T) {
	v, limits := newTestValidator(t)
	require.NoError(t, os.WriteFile(limits.EmergencyStopFile, nil, 0o644))

	for _, kind := range models.AllActions {
		act := action(kind)
		act.Params.DurationSec = 5
		res := v.Validate(act, okReading(), nil)
		assert.False(t, res.Valid, "action %s", kind)
		assert.Contains(t, res.Reason, "Emergency stop")
	}

	require.NoError(t, os.Remove(limits.EmergencyStopFile))
	assert.True(t, v.Validate(action(models.ActionDoNothing), okReading(), nil).Valid)
}

func TestValidate_EmergencyStopUnreadableCountsAsActive(t *testing.T) {
	v, limits := newTestValidator(t)
	// A path below a regular file cannot be stat-ed as "not exist".
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, nil, 0o644))
	limits.EmergencyStopFile = filepath.Join(parent, "stop")

	assert.True(t, v.EmergencyStopActive())
}

func TestValidate_UnknownAction(t *testing.T) {
	v, _ := newTestValidator(t)

	res := v.Validate(action("open_window"), okReading(), nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "not in the allowlist")
	assert.Contains(t, res.Reason, "water")
}

func TestValidate_WaterDuration(t *testing.T) {
	v, limits := newTestValidator(t)

	tests := []struct {
		name      string
		requested int
		wantValid bool
		wantSec   int
		wantCap   bool
	}{
		{name: "within limit", requested: 5, wantValid: true, wantSec: 5},
		{name: "at limit", requested: limits.Water.MaxDurationSec, wantValid: true, wantSec: limits.Water.MaxDurationSec},
		{name: "capped", requested: 600, wantValid: true, wantSec: limits.Water.MaxDurationSec, wantCap: true},
		{name: "zero", requested: 0, wantValid: false, wantSec: 0},
		{name: "negative", requested: -3, wantValid: false, wantSec: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(water(tt.requested), okReading(), nil)
			assert.Equal(t, tt.wantValid, res.Valid, res.Reason)
			assert.Equal(t, tt.wantSec, res.CappedAction.Params.DurationSec)
			assert.Equal(t, tt.wantCap, res.Capped)
		})
	}
}

func TestValidate_WaterTankLow(t *testing.T) {
	v, _ := newTestValidator(t)
	r := okReading()
	r.WaterTankOK = models.Bool(false)

	res := v.Validate(water(5), r, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "tank")

	// Unknown tank state does not block watering.
	r.WaterTankOK = nil
	assert.True(t, v.Validate(water(5), r, nil).Valid)
}

func TestValidate_WaterInterval(t *testing.T) {
	v, limits := newTestValidator(t)
	interval := time.Duration(limits.Water.MinIntervalMin) * time.Minute

	recent := []models.DecisionRecord{record(models.ActionWater, testNow.Add(-interval/2), true)}
	res := v.Validate(water(5), okReading(), recent)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "Water rate limit")

	// Replaying the same history gives the same verdict.
	assert.Equal(t, res, v.Validate(water(5), okReading(), recent))

	old := []models.DecisionRecord{record(models.ActionWater, testNow.Add(-interval-time.Minute), true)}
	assert.True(t, v.Validate(water(5), okReading(), old).Valid)

	// Rejected or failed waterings do not start the interval.
	failed := []models.DecisionRecord{record(models.ActionWater, testNow.Add(-time.Minute), false)}
	assert.True(t, v.Validate(water(5), okReading(), failed).Valid)
}

func TestValidate_WaterDailyLimit(t *testing.T) {
	v, limits := newTestValidator(t)
	limits.Water.MinIntervalMin = 1

	var history []models.DecisionRecord
	for i := 0; i < limits.Water.DailyMaxCount; i++ {
		history = append(history, record(models.ActionWater, testNow.Add(-time.Duration(i+1)*90*time.Minute), true))
	}
	// Stay under the hourly ceiling so the daily rule is what rejects.
	limits.MaxActionsPerHour = 100

	res := v.Validate(water(5), okReading(), history)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "Daily water limit")

	// Waterings before midnight UTC belong to yesterday.
	yesterday := []models.DecisionRecord{record(models.ActionWater, time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC), true)}
	assert.True(t, v.Validate(water(5), okReading(), yesterday).Valid)
}

func TestValidate_Heater(t *testing.T) {
	v, limits := newTestValidator(t)
	maxTemp := limits.Heater.MaxTempC

	tests := []struct {
		name      string
		temp      float64
		lockout   *bool
		wantValid bool
	}{
		{name: "below max", temp: maxTemp - 0.1, wantValid: true},
		{name: "at max", temp: maxTemp, wantValid: false},
		{name: "above max", temp: maxTemp + 1, wantValid: false},
		{name: "lockout", temp: 15, lockout: models.Bool(true), wantValid: false},
		{name: "lockout clear", temp: 15, lockout: models.Bool(false), wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := okReading()
			r.TemperatureC = tt.temp
			r.HeaterLockout = tt.lockout
			res := v.Validate(action(models.ActionHeaterOn), r, nil)
			assert.Equal(t, tt.wantValid, res.Valid, res.Reason)
		})
	}

	t.Run("no reading", func(t *testing.T) {
		res := v.Validate(action(models.ActionHeaterOn), nil, nil)
		assert.False(t, res.Valid)
	})

	t.Run("heater off always allowed", func(t *testing.T) {
		r := okReading()
		r.TemperatureC = maxTemp + 5
		r.HeaterLockout = models.Bool(true)
		assert.True(t, v.Validate(action(models.ActionHeaterOff), r, nil).Valid)
	})
}

func TestValidate_LightSchedule(t *testing.T) {
	v, limits := newTestValidator(t)
	limits.Light.ScheduleOn = "06:00"
	limits.Light.ScheduleOff = "22:00"

	at := func(h, m int) func() time.Time {
		return func() time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC) }
	}

	tests := []struct {
		name      string
		clock     func() time.Time
		wantValid bool
		reason    string
	}{
		{name: "too early", clock: at(5, 59), wantValid: false, reason: "Too early"},
		{name: "at on time", clock: at(6, 0), wantValid: true},
		{name: "midday", clock: at(13, 30), wantValid: true},
		{name: "at off time", clock: at(22, 0), wantValid: false, reason: "Too late"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.SetClock(tt.clock, time.UTC)
			res := v.Validate(action(models.ActionLightOn), okReading(), nil)
			assert.Equal(t, tt.wantValid, res.Valid, res.Reason)
			if tt.reason != "" {
				assert.Contains(t, res.Reason, tt.reason)
			}
		})
	}

	t.Run("no cutoff", func(t *testing.T) {
		limits.Light.ScheduleOff = config.NoCutoff
		v.SetClock(at(23, 59), time.UTC)
		assert.True(t, v.Validate(action(models.ActionLightOn), okReading(), nil).Valid)
	})

	t.Run("light off any time", func(t *testing.T) {
		v.SetClock(at(3, 0), time.UTC)
		assert.True(t, v.Validate(action(models.ActionLightOff), okReading(), nil).Valid)
	})
}

func TestValidate_Circulation(t *testing.T) {
	v, limits := newTestValidator(t)

	res := v.Validate(models.ProposedAction{Action: models.ActionCirculation, Params: models.ActionParams{DurationSec: 0}}, okReading(), nil)
	assert.False(t, res.Valid)

	res = v.Validate(models.ProposedAction{Action: models.ActionCirculation, Params: models.ActionParams{DurationSec: 99999}}, okReading(), nil)
	assert.True(t, res.Valid)
	assert.True(t, res.Capped)
	assert.Equal(t, limits.Circulation.MaxDurationSec, res.CappedAction.Params.DurationSec)
}

func TestValidate_GlobalRateLimit(t *testing.T) {
	v, limits := newTestValidator(t)
	require.Equal(t, 10, limits.MaxActionsPerHour)

	var history []models.DecisionRecord
	for i := 0; i < 10; i++ {
		// Outcome does not matter for the hourly ceiling.
		history = append(history, record(models.ActionLightOff, testNow.Add(-time.Duration(i+1)*time.Minute), i%2 == 0))
	}
	// No-ops are never counted.
	history = append(history, record(models.ActionDoNothing, testNow.Add(-time.Minute), true))

	res := v.Validate(action(models.ActionLightOff), okReading(), history)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "Global rate limit")

	assert.True(t, v.Validate(action(models.ActionDoNothing), okReading(), history).Valid)
	assert.True(t, v.Validate(action(models.ActionNotifyHuman), okReading(), history).Valid)

	// Entries older than an hour drop out of the window.
	stale := make([]models.DecisionRecord, len(history))
	for i, rec := range history {
		rec.Timestamp = rec.Timestamp.Add(-time.Hour)
		stale[i] = rec
	}
	assert.True(t, v.Validate(action(models.ActionLightOff), okReading(), stale).Valid)
}

// A hot enclosure never gets the heater, and the reason names the ceiling.
func TestValidate_HeaterRejectedWhenHot(t *testing.T) {
	v, _ := newTestValidator(t)
	r := okReading()
	r.TemperatureC = 31

	res := v.Validate(action(models.ActionHeaterOn), r, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "30.0")
}

func TestValidate_HugeDecodedWaterDurationIsCapped(t *testing.T) {
	v, limits := newTestValidator(t)

	var proposed models.ProposedAction
	require.NoError(t, json.Unmarshal([]byte(`{"action":"water","params":{"duration_sec":1e20}}`), &proposed))
	assert.Positive(t, proposed.Params.DurationSec)

	res := v.Validate(proposed, okReading(), nil)
	require.True(t, res.Valid, res.Reason)
	assert.True(t, res.Capped)
	assert.Equal(t, limits.Water.MaxDurationSec, res.CappedAction.Params.DurationSec)
}

func TestActionParams_RejectsNonFiniteDuration(t *testing.T) {
	for _, body := range []string{`{"duration_sec":"NaN"}`, `{"duration_sec":"Inf"}`, `{"duration_sec":"-Inf"}`} {
		t.Run(body, func(t *testing.T) {
			var p models.ActionParams
			assert.Error(t, json.Unmarshal([]byte(body), &p))
		})
	}
}

func TestValidate_HeaterWithoutFiniteTemperature(t *testing.T) {
	v, _ := newTestValidator(t)

	for _, temp := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		reading := okReading()
		reading.TemperatureC = temp
		res := v.Validate(action(models.ActionHeaterOn), reading, nil)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Reason, "no temperature reading")
	}
}
