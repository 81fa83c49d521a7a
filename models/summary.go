package models

import (
	"time"
)

// ActionOutcome is the per-action result reported in a check summary.
type ActionOutcome struct {
	Action       ActionKind       `json:"action"`
	Params       ActionParams     `json:"params"`
	Executed     bool             `json:"executed"`
	SafetyReason string           `json:"safety_reason,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
}

// Rejected reports whether the safety validator refused the action.
func (o ActionOutcome) Rejected() bool {
	return o.SafetyReason != ""
}

// CheckSummary is returned by every check cycle. A failed cycle still
// returns a summary with Error set.
type CheckSummary struct {
	Timestamp       time.Time       `json:"timestamp"`
	Mode            string          `json:"mode"`
	SensorData      *SensorReading  `json:"sensor_data"`
	Decision        *Decision       `json:"decision"`
	ActionsTaken    []ActionOutcome `json:"actions_taken"`
	Executed        bool            `json:"executed"`
	PhotoPath       string          `json:"photo_path,omitempty"`
	Error           string          `json:"error,omitempty"`
	Observations    []string        `json:"observations,omitempty"`
	KnowledgeUpdate string          `json:"knowledge_update,omitempty"`
	HardwareUpdate  map[string]any  `json:"hardware_update,omitempty"`
}

// HasRejection reports whether any proposed action was refused.
func (s *CheckSummary) HasRejection() bool {
	for _, a := range s.ActionsTaken {
		if a.Rejected() {
			return true
		}
	}
	return false
}

// NeedsAttention reports whether a human should look at this cycle.
func (s *CheckSummary) NeedsAttention() bool {
	if s.Error != "" || s.HasRejection() {
		return true
	}
	if s.Decision == nil {
		return false
	}
	return s.Decision.NotifyHuman || s.Decision.Urgency == UrgencyAttention || s.Decision.Urgency == UrgencyCritical
}
