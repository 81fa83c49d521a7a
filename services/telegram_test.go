package services

import (
	"strings"
	"testing"
	"time"

	"plantops/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatSummaryText_Routine(t *testing.T) {
	reading := MockReading(testNow)
	summary := &models.CheckSummary{
		Mode:       "live",
		SensorData: reading,
		Decision: &models.Decision{
			Assessment: "All good",
			Urgency:    models.UrgencyNormal,
			Actions:    []models.ProposedAction{water(6)},
		},
		ActionsTaken: []models.ActionOutcome{
			{Action: models.ActionWater, Params: models.ActionParams{DurationSec: 6}, Executed: true},
			{Action: models.ActionDoNothing, Executed: true},
		},
	}

	text := FormatSummaryText(summary)
	lines := strings.Split(text, "\n")
	assert.Equal(t, "🟢 | 24.5°C | 💧45.0% | 🪣OK", lines[0])
	assert.Equal(t, "⚡ water 6s", lines[1])
	assert.NotContains(t, text, "Sensors:", "routine cycles stay short")
}

func TestFormatSummaryText_Attention(t *testing.T) {
	reading := MockReading(testNow)
	reading.WaterTankOK = models.Bool(false)
	reading.HeaterLockout = models.Bool(true)
	summary := &models.CheckSummary{
		Mode:       "dry-run",
		SensorData: reading,
		Decision: &models.Decision{
			Urgency: models.UrgencyAttention,
			Message: "Please refill the tank.",
			Notes:   "Tank sensor reads low.",
			Actions: []models.ProposedAction{{Action: models.ActionWater, Reason: "dry"}},
		},
		ActionsTaken: []models.ActionOutcome{
			{Action: models.ActionWater, SafetyReason: "Water tank level is LOW."},
		},
		Observations: []string{"leaves curling"},
	}

	text := FormatSummaryText(summary)
	assert.True(t, strings.HasPrefix(text, "🟡 | 24.5°C | 💧45.0% | 🪣LOW⚠️ | DRY-RUN"))
	assert.Contains(t, text, "Please refill the tank.")
	assert.Contains(t, text, "❌ water: Water tank level is LOW.")
	assert.Contains(t, text, "📊 Sensors:")
	assert.Contains(t, text, "🔒 Heater lockout: ACTIVE")
	assert.Contains(t, text, "  - water: dry")
	assert.Contains(t, text, "Notes: Tank sensor reads low.")
	assert.Contains(t, text, "📝 AI Notes:\n  - leaves curling")
	assert.NotContains(t, text, "⚡")
}

func TestFormatSummaryText_Error(t *testing.T) {
	text := FormatSummaryText(&models.CheckSummary{Mode: "live", Error: "Sensor read failed: timeout"})
	assert.Equal(t, "🟢\n\n⚠️ Error: Sensor read failed: timeout", text)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45 seconds", formatDuration(45*time.Second))
	assert.Equal(t, "2 min 5 sec", formatDuration(125*time.Second))
	assert.Equal(t, "3 hr 10 min", formatDuration(3*time.Hour+10*time.Minute))
	assert.Equal(t, "2 days 1 hr", formatDuration(49*time.Hour))
}
