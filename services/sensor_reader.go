package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

// SensorReadError is returned when every read attempt failed.
type SensorReadError struct {
	Attempts int
	Last     error
}

func (e *SensorReadError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("sensor read failed: %v", e.Last)
	}
	return fmt.Sprintf("all %d sensor read attempts failed. Last error: %v", e.Attempts, e.Last)
}

func (e *SensorReadError) Unwrap() error {
	return e.Last
}

// ReadingSource produces one sensor snapshot per call.
type ReadingSource interface {
	Read(ctx context.Context) (*models.SensorReading, error)
}

// SensorReader reads the enclosure sensors through the bridge's
// `status --json` subcommand.
type SensorReader struct {
	bridge      *Bridge
	attempts    int
	readSeconds float64
	backoff     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewSensorReader(cfg *config.Config, bridge *Bridge, logger *zap.Logger) *SensorReader {
	attempts := cfg.SensorReadAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &SensorReader{
		bridge:      bridge,
		attempts:    attempts,
		readSeconds: cfg.SensorReadSeconds,
		backoff:     time.Second,
		logger:      logger,
		now:         time.Now,
	}
}

// SetBackoff overrides the per-attempt retry delay.
func (s *SensorReader) SetBackoff(d time.Duration) {
	s.backoff = d
}

// Read runs up to the configured number of attempts and returns the first
// successfully parsed reading.
func (s *SensorReader) Read(ctx context.Context) (*models.SensorReading, error) {
	timeout := time.Duration((s.readSeconds + 5.0) * float64(time.Second))
	var lastErr error

	for attempt := 1; attempt <= s.attempts; attempt++ {
		reading, err := s.readOnce(ctx, timeout)
		if err == nil {
			return reading, nil
		}
		lastErr = err

		s.logger.Warn("Sensor read attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.attempts),
			zap.Error(err))

		if attempt < s.attempts && s.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, &SensorReadError{Attempts: attempt, Last: ctx.Err()}
			case <-time.After(time.Duration(attempt) * s.backoff):
			}
		}
	}

	return nil, &SensorReadError{Attempts: s.attempts, Last: lastErr}
}

func (s *SensorReader) readOnce(ctx context.Context, timeout time.Duration) (*models.SensorReading, error) {
	out, err := s.bridge.Run(ctx, timeout, "status", "--json")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, errors.New("bridge returned empty output")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse bridge JSON output: %w", err)
	}

	return ParseSensorPayload(payload, s.now(), s.logger)
}

var sensorFieldMap = []struct {
	canonical  string
	candidates []string
}{
	{"temperature_c", []string{"temperature_c", "temp_c"}},
	{"humidity_pct", []string{"humidity_pct"}},
	{"co2_ppm", []string{"co2_ppm"}},
	{"light_level", []string{"light_level", "light_raw"}},
	{"soil_moisture", []string{"soil_moisture_pct", "soil_raw"}},
}

// ParseSensorPayload normalizes a decoded `status --json` object. Canonical
// field names win over raw bridge names. soil_raw is always calibrated; a
// soil_moisture_pct above 100 is treated as a raw code as well.
func ParseSensorPayload(data map[string]any, now time.Time, logger *zap.Logger) (*models.SensorReading, error) {
	resolved := make(map[string]float64, len(sensorFieldMap))
	var missing []string

	for _, f := range sensorFieldMap {
		found := false
		for _, key := range f.candidates {
			raw, ok := data[key]
			if !ok {
				continue
			}
			v, err := toFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid sensor field %s: %w", key, err)
			}
			resolved[f.canonical] = v
			found = true
			break
		}
		if !found {
			missing = append(missing, fmt.Sprintf("%s (tried: %s)", f.canonical, strings.Join(f.candidates, ", ")))
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing sensor fields: %s", strings.Join(missing, "; "))
	}

	soil := resolved["soil_moisture"]
	_, hasPct := data["soil_moisture_pct"]
	switch {
	case !hasPct:
		logger.Debug("Applying soil ADC calibration", zap.Float64("soil_raw", soil))
		soil = calibrateSoil(soil, logger)
	case soil > 100:
		logger.Warn("soil_moisture_pct above 100, treating it as a raw ADC code",
			zap.Float64("value", soil))
		soil = calibrateSoil(soil, logger)
	}

	reading := &models.SensorReading{
		TemperatureC:    resolved["temperature_c"],
		HumidityPct:     resolved["humidity_pct"],
		CO2PPM:          math.Trunc(resolved["co2_ppm"]),
		LightLevel:      math.Trunc(resolved["light_level"]),
		SoilMoisturePct: soil,
		Timestamp:       now.UTC(),
	}

	if ts, ok := data["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			reading.Timestamp = t
		}
	}

	reading.WaterTankOK = optBool(data, "water_tank_ok")
	reading.LightOn = optBool(data, "light_on")
	reading.HeaterOn = optBool(data, "heater_on")
	reading.HeaterLockout = optBool(data, "heater_lockout")
	reading.WaterPumpOn = optBool(data, "water_pump_on")
	reading.CirculationOn = optBool(data, "circulation_on")
	reading.WaterPumpRemainingSec = optInt(data, "water_pump_remaining_sec")
	reading.CirculationRemainingSec = optInt(data, "circulation_remaining_sec")

	return reading, nil
}

func calibrateSoil(adc float64, logger *zap.Logger) float64 {
	pct := SoilADCToPct(adc)
	if !SoilADCInRange(adc) {
		logger.Warn("Soil ADC outside calibration range, moisture is extrapolated",
			zap.Float64("adc", adc),
			zap.Float64("range_min", SoilCalADCMin),
			zap.Float64("range_max", SoilCalADCMax),
			zap.Float64("moisture_pct", pct))
	}
	return roundTenth(pct)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, err
		}
		return finite(f)
	case bool:
		return 0, errors.New("boolean is not a number")
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}

func optBool(data map[string]any, key string) *bool {
	b, ok := data[key].(bool)
	if !ok {
		return nil
	}
	return models.Bool(b)
}

func optInt(data map[string]any, key string) *int {
	n, ok := data[key].(float64)
	if !ok {
		return nil
	}
	return models.Int(int(n))
}

// MockReading returns a fixed mid-range snapshot with every hardware field
// reporting normal operation.
func MockReading(now time.Time) *models.SensorReading {
	return &models.SensorReading{
		TemperatureC:            24.5,
		HumidityPct:             62.0,
		CO2PPM:                  450,
		LightLevel:              780,
		SoilMoisturePct:         45.0,
		Timestamp:               now.UTC(),
		WaterTankOK:             models.Bool(true),
		LightOn:                 models.Bool(false),
		HeaterOn:                models.Bool(false),
		HeaterLockout:           models.Bool(false),
		WaterPumpOn:             models.Bool(false),
		WaterPumpRemainingSec:   models.Int(0),
		CirculationOn:           models.Bool(false),
		CirculationRemainingSec: models.Int(0),
	}
}

// MockSensorSource serves MockReading for runs without hardware.
type MockSensorSource struct{}

func (MockSensorSource) Read(ctx context.Context) (*models.SensorReading, error) {
	return MockReading(time.Now()), nil
}
