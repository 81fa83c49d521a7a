package services

import (
	"fmt"

	"plantops/config"
	"plantops/models"
)

// FallbackRule is one offline rule. Rules are evaluated in order and the
// first match wins.
type FallbackRule struct {
	Name    string
	Matches func(r *models.SensorReading) bool
	Action  models.ProposedAction
}

// FallbackRules is the conservative rule set used when the reasoning
// service cannot be reached.
type FallbackRules struct {
	rules []FallbackRule
}

func NewFallbackRules(cfg config.FallbackConfig) *FallbackRules {
	return &FallbackRules{
		rules: []FallbackRule{
			{
				Name:    "soil_moisture_critical",
				Matches: func(r *models.SensorReading) bool { return r.SoilMoisturePct < cfg.SoilCriticalPct },
				Action: models.ProposedAction{
					Action: models.ActionWater,
					Params: models.ActionParams{DurationSec: cfg.WaterSec},
					Reason: "Offline fallback: soil critically dry",
				},
			},
			{
				Name:    "temp_too_cold",
				Matches: func(r *models.SensorReading) bool { return r.TemperatureC < cfg.TempLowC },
				Action: models.ProposedAction{
					Action: models.ActionHeaterOn,
					Reason: "Offline fallback: temperature dangerously low",
				},
			},
			{
				Name:    "temp_too_hot",
				Matches: func(r *models.SensorReading) bool { return r.TemperatureC > cfg.TempHighC },
				Action: models.ProposedAction{
					Action: models.ActionHeaterOff,
					Reason: "Offline fallback: temperature too high, ensuring heater is off",
				},
			},
		},
	}
}

// Evaluate returns the decision of the first matching rule, or nil.
func (f *FallbackRules) Evaluate(reading *models.SensorReading) *models.Decision {
	for _, rule := range f.rules {
		if !rule.Matches(reading) {
			continue
		}
		return &models.Decision{
			Assessment:  fmt.Sprintf("Offline mode - fallback rule: %s", rule.Name),
			Actions:     []models.ProposedAction{rule.Action},
			Urgency:     models.UrgencyAttention,
			NotifyHuman: true,
			Notes:       "Reasoning service was unreachable. Applied conservative fallback.",
		}
	}
	return nil
}

// Decide returns the fallback decision for reading, or a do_nothing decision
// flagged for a human when no rule matches. cause is the reasoning error.
func (f *FallbackRules) Decide(reading *models.SensorReading, cause error) *models.Decision {
	if d := f.Evaluate(reading); d != nil {
		return d
	}
	return &models.Decision{
		Assessment: "Unable to reach reasoning service",
		Actions: []models.ProposedAction{{
			Action: models.ActionDoNothing,
			Reason: fmt.Sprintf("API unreachable, no fallback triggered: %v", cause),
		}},
		Urgency:     models.UrgencyAttention,
		NotifyHuman: true,
		Notes:       fmt.Sprint(cause),
	}
}
