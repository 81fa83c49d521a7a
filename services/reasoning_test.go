package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"plantops/config"
	"plantops/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseDecision(t *testing.T) {
	full := `{"assessment":"Healthy","actions":[{"action":"water","params":{"duration_sec":8},"reason":"dry"}],"urgency":"normal","notify_human":false}`

	t.Run("plain JSON", func(t *testing.T) {
		d, err := ParseDecision(full)
		require.NoError(t, err)
		assert.Equal(t, "Healthy", d.Assessment)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, models.ActionWater, d.Actions[0].Action)
		assert.Equal(t, 8, d.Actions[0].Params.DurationSec)
		assert.Equal(t, models.UrgencyNormal, d.Urgency)
		assert.Empty(t, d.Notes)
	})

	t.Run("markdown fence", func(t *testing.T) {
		d, err := ParseDecision("```json\n" + full + "\n```")
		require.NoError(t, err)
		assert.Equal(t, "Healthy", d.Assessment)
	})

	t.Run("prose around the object", func(t *testing.T) {
		d, err := ParseDecision("Here is my decision:\n" + full + "\nLet me know.")
		require.NoError(t, err)
		assert.Equal(t, models.ActionWater, d.Actions[0].Action)
	})

	t.Run("single action shape", func(t *testing.T) {
		d, err := ParseDecision(`{"assessment":"Cold","action":"heater_on","reason":"13C","urgency":"attention","notify_human":true}`)
		require.NoError(t, err)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, models.ActionHeaterOn, d.Actions[0].Action)
		assert.Equal(t, "13C", d.Actions[0].Reason)
		assert.Empty(t, d.Notes)
	})

	t.Run("missing keys default to a safe decision", func(t *testing.T) {
		d, err := ParseDecision(`{"assessment":"Looks fine"}`)
		require.NoError(t, err)
		assert.Equal(t, "Looks fine", d.Assessment)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, models.ActionDoNothing, d.Actions[0].Action)
		assert.Equal(t, models.UrgencyAttention, d.Urgency)
		assert.True(t, d.NotifyHuman)
		assert.Equal(t, "Missing keys in AI response: actions, notify_human, urgency", d.Notes)
	})

	t.Run("unknown urgency", func(t *testing.T) {
		d, err := ParseDecision(`{"assessment":"x","actions":[],"urgency":"panic","notify_human":false}`)
		require.NoError(t, err)
		assert.Equal(t, models.UrgencyAttention, d.Urgency)
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := ParseDecision("I cannot help with that.")
		require.Error(t, err)
		_, err = ParseDecision("   ")
		require.Error(t, err)
	})
}

func TestUsageTracker(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Record(1_000_000, 0)
	tracker.Record(0, 100_000)

	s := tracker.Summary()
	assert.Equal(t, 2, s.Calls)
	assert.Equal(t, int64(1_000_000), s.InputTokens)
	assert.InDelta(t, 3.0+1.5, s.EstimatedCostUSD, 1e-9)

	var nilTracker *UsageTracker
	nilTracker.Record(10, 10)
	assert.Equal(t, UsageSummary{}, nilTracker.Summary())
}

func TestNewReasoner_Unconfigured(t *testing.T) {
	r := NewReasoner(context.Background(), &config.Config{}, nil, zap.NewNop())
	_, err := r.Decide(context.Background(), &models.DecisionRequest{})
	assert.True(t, errors.Is(err, ErrReasonerUnavailable))

	r = NewReasoner(context.Background(), &config.Config{ReasoningProvider: "oracle"}, nil, zap.NewNop())
	_, err = r.Decide(context.Background(), &models.DecisionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")

	r = NewReasoner(context.Background(), &config.Config{AnthropicAPIKey: "k", AnthropicModel: "m"}, nil, zap.NewNop())
	assert.IsType(t, &AnthropicReasoner{}, r)
}

func TestBuildPrompts(t *testing.T) {
	reading := MockReading(testNow)
	state := models.DefaultActuatorState()
	req := &models.DecisionRequest{
		SensorData:     reading,
		ActuatorState:  &state,
		PlantKnowledge: "Basil likes warmth.",
		CurrentTime:    testNow,
		History: []models.DecisionRecord{
			record(models.ActionWater, testNow.Add(-time.Hour), true),
		},
	}

	system := BuildSystemPrompt(req)
	assert.Contains(t, system, "notify_human")
	assert.Contains(t, system, "Basil likes warmth.")

	user := BuildUserPrompt(req)
	assert.Contains(t, user, `"soil_moisture_pct": 45`)
	assert.Contains(t, user, `"water"`)
}
