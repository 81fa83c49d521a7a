package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ActionKind is the closed set of actions the agent understands.
type ActionKind string

const (
	ActionWater       ActionKind = "water"
	ActionLightOn     ActionKind = "light_on"
	ActionLightOff    ActionKind = "light_off"
	ActionHeaterOn    ActionKind = "heater_on"
	ActionHeaterOff   ActionKind = "heater_off"
	ActionCirculation ActionKind = "circulation"
	ActionDoNothing   ActionKind = "do_nothing"
	ActionNotifyHuman ActionKind = "notify_human"
)

// AllActions lists every known action kind.
var AllActions = []ActionKind{
	ActionWater,
	ActionLightOn,
	ActionLightOff,
	ActionHeaterOn,
	ActionHeaterOff,
	ActionCirculation,
	ActionDoNothing,
	ActionNotifyHuman,
}

// Valid reports whether k is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionWater, ActionLightOn, ActionLightOff, ActionHeaterOn,
		ActionHeaterOff, ActionCirculation, ActionDoNothing, ActionNotifyHuman:
		return true
	}
	return false
}

// IsNoop reports whether k never touches hardware.
func (k ActionKind) IsNoop() bool {
	return k == ActionDoNothing || k == ActionNotifyHuman
}

// ActionParams carries the numeric parameters of an action.
type ActionParams struct {
	DurationSec int `json:"duration_sec,omitempty"`
}

// UnmarshalJSON accepts duration_sec as an integer, a float or a numeric string.
func (p *ActionParams) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, ok := raw["duration_sec"]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch d := v.(type) {
	case float64:
		f = d
	case string:
		parsed, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return fmt.Errorf("duration_sec %q is not a number", d)
		}
		f = parsed
	default:
		return fmt.Errorf("duration_sec has unsupported type %T", v)
	}
	sec, err := durationSeconds(f)
	if err != nil {
		return err
	}
	p.DurationSec = sec
	return nil
}

// durationSeconds rounds f to whole seconds, saturating at the int32 range so
// an absurd request is capped by the validator instead of wrapping around.
func durationSeconds(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("duration_sec %v is not finite", f)
	}
	f = math.Round(f)
	if f > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	if f < math.MinInt32 {
		return math.MinInt32, nil
	}
	return int(f), nil
}

// ProposedAction is an action suggested by the reasoning service, the fallback
// rules or an operator. It is untrusted until validated.
type ProposedAction struct {
	Action ActionKind   `json:"action"`
	Params ActionParams `json:"params"`
	Reason string       `json:"reason,omitempty"`
}

// ValidationResult is the verdict of the safety validator. CappedAction is
// always well formed but must not be executed when Valid is false.
type ValidationResult struct {
	Valid        bool           `json:"valid"`
	Reason       string         `json:"reason"`
	CappedAction ProposedAction `json:"capped_action"`
	Capped       bool           `json:"capped,omitempty"`
}

// ExecutionResult describes one attempt to drive the hardware.
type ExecutionResult struct {
	Success   bool       `json:"success"`
	Action    ActionKind `json:"action"`
	Command   string     `json:"command"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	DryRun    bool       `json:"dry_run"`
	Timestamp time.Time  `json:"timestamp"`
}

// ManualCommand is an operator-issued action arriving from the CLI or the
// command queue.
type ManualCommand struct {
	Action ActionKind   `json:"action"`
	Params ActionParams `json:"params"`
	Reason string       `json:"reason"`
	Source Source       `json:"source"`
}
