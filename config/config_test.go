package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AGENT_MODE", "")
	t.Setenv("ACTION_TIMEOUT", "")
	t.Setenv("BRIDGE_INTERPRETER", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 20*time.Second, cfg.PhotoTimeout)
	assert.Equal(t, 3, cfg.SensorReadAttempts)
	assert.Equal(t, DefaultFallbackConfig(), cfg.Fallback)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_MODE", "live")
	t.Setenv("ACTION_TIMEOUT", "45")
	t.Setenv("PHOTO_SETTLE", "500ms")
	t.Setenv("FALLBACK_TEMP_LOW_C", "12.5")
	t.Setenv("BRIDGE_PATH", "/opt/farmctl.py")
	t.Setenv("BRIDGE_INTERPRETER", "python3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.False(t, cfg.DryRun)
	assert.Equal(t, 45*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PhotoSettle)
	assert.Equal(t, 12.5, cfg.Fallback.TempLowC)
	assert.Equal(t, []string{"python3", "/opt/farmctl.py"}, cfg.BridgeCommand())
}

func TestLoadSafetyLimits(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		limits, err := LoadSafetyLimits(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.Is(err, os.ErrNotExist))
		require.NotNil(t, limits)
		assert.Equal(t, DefaultSafetyLimits(), limits)
	})

	t.Run("partial file keeps defaults for absent keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "limits.yaml")
		yamlDoc := "water:\n  max_duration_sec: 20\nlight:\n  schedule_off: \"22:30\"\nmax_actions_per_hour: 4\n"
		require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

		limits, err := LoadSafetyLimits(path)
		require.NoError(t, err)
		assert.Equal(t, 20, limits.Water.MaxDurationSec)
		assert.Equal(t, 60, limits.Water.MinIntervalMin)
		assert.Equal(t, "06:00", limits.Light.ScheduleOn)
		assert.Equal(t, "22:30", limits.Light.ScheduleOff)
		assert.True(t, limits.HasLightCutoff())
		assert.Equal(t, 4, limits.MaxActionsPerHour)
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "limits.yaml")
		require.NoError(t, os.WriteFile(path, []byte("light:\n  schedule_on: \"6am\"\n"), 0o644))

		_, err := LoadSafetyLimits(path)
		assert.Error(t, err)
	})

	t.Run("interval longer than a day is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "limits.yaml")
		require.NoError(t, os.WriteFile(path, []byte("water:\n  min_interval_min: 2880\n"), 0o644))

		_, err := LoadSafetyLimits(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_interval_min")
	})
}

func TestSafetyLimitsValidate_IntervalBound(t *testing.T) {
	limits := DefaultSafetyLimits()
	limits.Water.MinIntervalMin = MaxWaterIntervalMin
	assert.NoError(t, limits.Validate())

	limits.Water.MinIntervalMin = MaxWaterIntervalMin + 1
	assert.Error(t, limits.Validate())
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:00", 360, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"7", 0, true},
		{"ab:cd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
