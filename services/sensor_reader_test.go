package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const rawStatusJSON = `{"co2_ppm": 612.7, "temp_c": 23.4, "humidity_pct": 58.2, "light_raw": 731.9, "soil_raw": 600, "water_tank_ok": true, "light_on": false, "heater_on": true, "heater_lockout": false, "water_pump_on": false, "circulation_on": true, "circulation_remaining_sec": 42}`

func TestParseSensorPayload_RawBridgeNames(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"co2_ppm":                   612.7,
		"temp_c":                    23.4,
		"humidity_pct":              58.2,
		"light_raw":                 731.9,
		"soil_raw":                  600.0,
		"water_tank_ok":             true,
		"heater_on":                 true,
		"circulation_remaining_sec": 42.0,
	}

	r, err := ParseSensorPayload(payload, now, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 23.4, r.TemperatureC)
	assert.Equal(t, 612.0, r.CO2PPM)
	assert.Equal(t, 731.0, r.LightLevel)
	assert.Equal(t, roundTenth(SoilADCToPct(600)), r.SoilMoisturePct)
	assert.Equal(t, now, r.Timestamp)
	require.NotNil(t, r.HeaterOn)
	assert.True(t, *r.HeaterOn)
	assert.Nil(t, r.LightOn)
	require.NotNil(t, r.CirculationRemainingSec)
	assert.Equal(t, 42, *r.CirculationRemainingSec)
}

func TestParseSensorPayload_CanonicalWins(t *testing.T) {
	payload := map[string]any{
		"temperature_c":     20.0,
		"temp_c":            99.0,
		"humidity_pct":      "55.5",
		"co2_ppm":           400.0,
		"light_level":       100.0,
		"light_raw":         900.0,
		"soil_moisture_pct": 41.0,
		"soil_raw":          800.0,
	}

	r, err := ParseSensorPayload(payload, time.Now(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.TemperatureC)
	assert.Equal(t, 55.5, r.HumidityPct)
	assert.Equal(t, 100.0, r.LightLevel)
	assert.Equal(t, 41.0, r.SoilMoisturePct)
}

func TestParseSensorPayload_PercentAbove100IsRaw(t *testing.T) {
	payload := map[string]any{
		"temperature_c": 20.0, "humidity_pct": 50.0, "co2_ppm": 400.0, "light_level": 100.0,
		"soil_moisture_pct": 700.0,
	}
	r, err := ParseSensorPayload(payload, time.Now(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, roundTenth(SoilADCToPct(700)), r.SoilMoisturePct)
}

func TestParseSensorPayload_Errors(t *testing.T) {
	_, err := ParseSensorPayload(map[string]any{"temp_c": 20.0}, time.Now(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "humidity_pct")
	assert.Contains(t, err.Error(), "tried")

	_, err = ParseSensorPayload(map[string]any{
		"temp_c": "warm", "humidity_pct": 50.0, "co2_ppm": 400.0, "light_raw": 1.0, "soil_raw": 500.0,
	}, time.Now(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temp_c")
}

func TestParseSensorPayload_RejectsNonFinite(t *testing.T) {
	for _, field := range []string{"temp_c", "soil_raw", "humidity_pct"} {
		for _, bad := range []string{"NaN", "Inf", "-Inf"} {
			t.Run(field+"="+bad, func(t *testing.T) {
				payload := map[string]any{
					"temp_c": 21.0, "humidity_pct": 50.0, "co2_ppm": 400.0, "light_raw": 1.0, "soil_raw": 500.0,
				}
				payload[field] = bad
				_, err := ParseSensorPayload(payload, time.Now(), zap.NewNop())
				require.Error(t, err)
				assert.Contains(t, err.Error(), field)
			})
		}
	}
}

func TestSensorReader_NonFinitePayloadIsRetried(t *testing.T) {
	fb := newFakeBridge(t, `echo '{"temp_c": "NaN", "humidity_pct": 50, "co2_ppm": 400, "light_raw": 1, "soil_raw": "NaN"}'`)
	reader := NewSensorReader(testConfig(t), fb.bridge(), zap.NewNop())
	reader.SetBackoff(0)

	_, err := reader.Read(context.Background())
	var readErr *SensorReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, 3, readErr.Attempts)
	assert.Len(t, fb.calls(t), 3)
}

func TestSensorReader_RetriesUntilSuccess(t *testing.T) {
	fb := newFakeBridge(t, `dir=$(dirname "$0")
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo $n > "$dir/count"
if [ $n -lt 3 ]; then echo "serial busy" >&2; exit 1; fi
echo '`+rawStatusJSON+`'`)
	reader := NewSensorReader(testConfig(t), fb.bridge(), zap.NewNop())
	reader.SetBackoff(0)

	r, err := reader.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23.4, r.TemperatureC)
	assert.Len(t, fb.calls(t), 3)
}

func TestSensorReader_GivesUpAfterAttempts(t *testing.T) {
	fb := newFakeBridge(t, "echo 'not json'")
	reader := NewSensorReader(testConfig(t), fb.bridge(), zap.NewNop())
	reader.SetBackoff(0)

	_, err := reader.Read(context.Background())
	require.Error(t, err)

	var readErr *SensorReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, 3, readErr.Attempts)
	assert.Contains(t, err.Error(), "all 3 sensor read attempts failed")
	assert.Len(t, fb.calls(t), 3)
}

func TestMockSensorSource(t *testing.T) {
	r, err := MockSensorSource{}.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, r.TankLow())
	assert.False(t, r.LockoutActive())
	assert.Equal(t, 45.0, r.SoilMoisturePct)
}
