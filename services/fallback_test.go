package services

import (
	"errors"
	"testing"

	"plantops/config"
	"plantops/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackRules_Decide(t *testing.T) {
	rules := NewFallbackRules(config.DefaultFallbackConfig())
	cause := errors.New("connection refused")

	tests := []struct {
		name       string
		soil, temp float64
		want       models.ActionKind
	}{
		{name: "dry soil waters", soil: 20, temp: 22, want: models.ActionWater},
		{name: "dry soil wins over cold", soil: 20, temp: 5, want: models.ActionWater},
		{name: "cold turns heater on", soil: 40, temp: 12, want: models.ActionHeaterOn},
		{name: "hot turns heater off", soil: 40, temp: 35, want: models.ActionHeaterOff},
		{name: "nothing matches", soil: 40, temp: 22, want: models.ActionDoNothing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.SensorReading{SoilMoisturePct: tt.soil, TemperatureC: tt.temp}
			d := rules.Decide(r, cause)
			require.Len(t, d.Actions, 1)
			assert.Equal(t, tt.want, d.Actions[0].Action)
			assert.Equal(t, models.UrgencyAttention, d.Urgency)
			assert.True(t, d.NotifyHuman)
		})
	}

	t.Run("water uses configured duration", func(t *testing.T) {
		d := rules.Decide(&models.SensorReading{SoilMoisturePct: 10, TemperatureC: 22}, cause)
		assert.Equal(t, 5, d.Actions[0].Params.DurationSec)
		assert.Contains(t, d.Assessment, "soil_moisture_critical")
	})

	t.Run("no match carries the cause", func(t *testing.T) {
		d := rules.Decide(&models.SensorReading{SoilMoisturePct: 40, TemperatureC: 22}, cause)
		assert.Contains(t, d.Actions[0].Reason, "connection refused")
	})
}
