package models

import (
	"time"
)

// Urgency is the reasoning service's view of how soon a human should look.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyAttention Urgency = "attention"
	UrgencyCritical  Urgency = "critical"
)

// Source tags where a decision record originated.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceManual    Source = "manual"
	SourceChat      Source = "chat"
)

// Decision is the structured answer of the reasoning service (or the
// offline fallback rules). Actions are kept in the order they were proposed.
type Decision struct {
	Assessment      string           `json:"assessment"`
	Actions         []ProposedAction `json:"actions"`
	Urgency         Urgency          `json:"urgency"`
	NotifyHuman     bool             `json:"notify_human"`
	Message         string           `json:"message,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	Observations    []string         `json:"observations,omitempty"`
	KnowledgeUpdate string           `json:"knowledge_update,omitempty"`
	HardwareUpdate  map[string]any   `json:"hardware_update,omitempty"`
}

// DecisionRequest is everything handed to the reasoning service for one cycle.
type DecisionRequest struct {
	SensorData      *SensorReading   `json:"sensor_data"`
	ActuatorState   *ActuatorState   `json:"actuator_state"`
	PlantProfile    map[string]any   `json:"plant_profile,omitempty"`
	HardwareProfile map[string]any   `json:"hardware_profile,omitempty"`
	PlantKnowledge  string           `json:"plant_knowledge,omitempty"`
	History         []DecisionRecord `json:"history,omitempty"`
	PlantLog        []Observation    `json:"plant_log,omitempty"`
	PhotoPath       string           `json:"-"`
	CurrentTime     time.Time        `json:"current_time"`
}

// LoggedDecision is the single action stored in a decision record together
// with the context of the decision it belonged to.
type LoggedDecision struct {
	ProposedAction
	Urgency     Urgency `json:"urgency"`
	NotifyHuman bool    `json:"notify_human"`
	Assessment  string  `json:"assessment,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// DecisionRecord is one append-only audit log entry. There is one record per
// proposed action, whether it was rejected, failed or executed.
type DecisionRecord struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	SensorData *SensorReading   `json:"sensor_data"`
	Decision   LoggedDecision   `json:"decision"`
	Validation ValidationResult `json:"validation"`
	Executed   bool             `json:"executed"`
	Source     Source           `json:"source"`
}

// Observation is a free-text note about the plant kept in the plant log.
type Observation struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Observation string    `json:"observation"`
}
