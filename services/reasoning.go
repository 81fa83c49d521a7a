package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

// Reasoner proposes a decision for one check cycle. Its output is untrusted
// until every action has passed the safety validator.
type Reasoner interface {
	Decide(ctx context.Context, req *models.DecisionRequest) (*models.Decision, error)
}

// ErrReasonerUnavailable is returned when no reasoning provider is configured.
var ErrReasonerUnavailable = errors.New("no reasoning provider configured")

const (
	maxDecisionTokens = 1024

	// USD per million tokens.
	inputTokenPrice  = 3.0
	outputTokenPrice = 15.0
)

// NewReasoner builds the client for cfg.ReasoningProvider. An empty provider
// picks whichever API key is set. Without a usable provider the returned
// reasoner always fails so cycles degrade to the fallback rules.
func NewReasoner(ctx context.Context, cfg *config.Config, tracker *UsageTracker, logger *zap.Logger) Reasoner {
	provider := cfg.ReasoningProvider
	if provider == "" {
		switch {
		case cfg.AnthropicAPIKey != "":
			provider = "anthropic"
		case cfg.GeminiAPIKey != "":
			provider = "gemini"
		}
	}

	switch provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			break
		}
		logger.Info("Using Anthropic reasoning service", zap.String("model", cfg.AnthropicModel))
		return NewAnthropicReasoner(cfg.AnthropicAPIKey, cfg.AnthropicModel, tracker, logger)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			break
		}
		r, err := NewGeminiReasoner(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, tracker, logger)
		if err != nil {
			logger.Error("Failed to create Gemini client", zap.Error(err))
			return unavailableReasoner{cause: err}
		}
		logger.Info("Using Gemini reasoning service", zap.String("model", cfg.GeminiModel))
		return r
	case "":
	default:
		logger.Warn("Unknown reasoning provider", zap.String("provider", provider))
		return unavailableReasoner{cause: fmt.Errorf("unknown reasoning provider %q", provider)}
	}

	logger.Warn("No reasoning service configured, every cycle will use fallback rules")
	return unavailableReasoner{cause: ErrReasonerUnavailable}
}

type unavailableReasoner struct {
	cause error
}

func (u unavailableReasoner) Decide(context.Context, *models.DecisionRequest) (*models.Decision, error) {
	return nil, u.cause
}

// UsageTracker accumulates token usage for the lifetime of the process.
type UsageTracker struct {
	mu           sync.Mutex
	calls        int
	inputTokens  int64
	outputTokens int64
}

// UsageSummary is a snapshot of a UsageTracker.
type UsageSummary struct {
	Calls            int     `json:"calls"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Record adds the usage of one API call. A nil tracker ignores the call.
func (u *UsageTracker) Record(inputTokens, outputTokens int64) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.inputTokens += inputTokens
	u.outputTokens += outputTokens
}

func (u *UsageTracker) EstimatedCostUSD() float64 {
	return u.Summary().EstimatedCostUSD
}

func (u *UsageTracker) Summary() UsageSummary {
	if u == nil {
		return UsageSummary{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	cost := float64(u.inputTokens)*inputTokenPrice/1e6 + float64(u.outputTokens)*outputTokenPrice/1e6
	return UsageSummary{
		Calls:            u.calls,
		InputTokens:      u.inputTokens,
		OutputTokens:     u.outputTokens,
		EstimatedCostUSD: cost,
	}
}

var requiredDecisionKeys = []string{"assessment", "actions", "urgency", "notify_human"}

// ParseDecision extracts a decision from the text returned by a reasoning
// service. Markdown fences and prose around the JSON object are tolerated.
// The single-action shape {"action": ..., "params": ...} is converted to an
// action list. When required keys are missing the decision defaults to
// do_nothing with urgency attention and a human notification.
func ParseDecision(text string) (*models.Decision, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	if _, hasActions := raw["actions"]; !hasActions {
		if action, ok := raw["action"]; ok {
			single := map[string]json.RawMessage{"action": action}
			if params, ok := raw["params"]; ok {
				single["params"] = params
			}
			if reason, ok := raw["reason"]; ok {
				single["reason"] = reason
			}
			list, err := json.Marshal([]map[string]json.RawMessage{single})
			if err != nil {
				return nil, fmt.Errorf("failed to convert single action: %w", err)
			}
			raw["actions"] = list
			delete(raw, "action")
			delete(raw, "params")
			delete(raw, "reason")
		}
	}

	var missing []string
	for _, key := range requiredDecisionKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode decision: %w", err)
	}
	var decision models.Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, fmt.Errorf("decision has invalid shape: %w", err)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		if _, ok := raw["assessment"]; !ok {
			decision.Assessment = "Unable to assess (incomplete response)"
		}
		if _, ok := raw["actions"]; !ok {
			decision.Actions = []models.ProposedAction{{
				Action: models.ActionDoNothing,
				Reason: "Incomplete AI response -- defaulting to no action",
			}}
		}
		if _, ok := raw["urgency"]; !ok {
			decision.Urgency = models.UrgencyAttention
		}
		if _, ok := raw["notify_human"]; !ok {
			decision.NotifyHuman = true
		}
		if decision.Notes == "" {
			decision.Notes = "Missing keys in AI response: " + strings.Join(missing, ", ")
		}
	}

	for i := range decision.Actions {
		if decision.Actions[i].Action == "" {
			decision.Actions[i].Action = models.ActionDoNothing
		}
	}
	switch decision.Urgency {
	case models.UrgencyNormal, models.UrgencyAttention, models.UrgencyCritical:
	default:
		decision.Urgency = models.UrgencyAttention
	}

	return &decision, nil
}

func extractJSONObject(text string) (map[string]json.RawMessage, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		lines = lines[1:]
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		cleaned = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if cleaned == "" {
		return nil, errors.New("empty response from reasoning service")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil && raw != nil {
		return raw, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raw); err == nil && raw != nil {
			return raw, nil
		}
	}

	preview := cleaned
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return nil, fmt.Errorf("could not parse JSON from response: %s", preview)
}

const decisionSchema = `{
  "assessment": "Brief plant health assessment (1-2 sentences)",
  "actions": [
    {
      "action": "water|light_on|light_off|heater_on|heater_off|circulation|do_nothing|notify_human",
      "params": {"duration_sec": <int, required for water and circulation>},
      "reason": "Why this specific action is needed"
    }
  ],
  "urgency": "normal|attention|critical",
  "notify_human": <true|false>,
  "message": "Optional short message for the operator",
  "notes": "Any additional observations or concerns",
  "observations": ["Optional notes worth keeping in the plant log"],
  "knowledge_update": "Optional text to append to the plant knowledge file",
  "hardware_update": {"dot.separated.key": "value"}
}`

// BuildSystemPrompt renders the role, constraints and response schema.
func BuildSystemPrompt(req *models.DecisionRequest) string {
	var b strings.Builder
	b.WriteString("You are a plant care agent responsible for a single plant in a controlled indoor enclosure. ")
	b.WriteString("You observe sensor readings and propose actuator actions. Every action is checked against hard safety limits before it runs.\n\n")

	if len(req.PlantProfile) > 0 {
		b.WriteString("## Plant Profile\n")
		writeJSONBlock(&b, req.PlantProfile)
	}
	if len(req.HardwareProfile) > 0 {
		b.WriteString("## Hardware Profile\n")
		writeJSONBlock(&b, req.HardwareProfile)
	}
	if k := strings.TrimSpace(req.PlantKnowledge); k != "" {
		b.WriteString("## Researched Plant Knowledge\n")
		b.WriteString(k)
		b.WriteString("\n\n")
	}

	b.WriteString("## Decision Guidelines\n")
	b.WriteString("1. Be conservative. Overwatering and overheating are worse than brief underwatering or mild cold.\n")
	b.WriteString("2. Consider the time of day and avoid light or heater activation at night.\n")
	b.WriteString("3. Check the recent history and do not repeat actions too frequently.\n")
	b.WriteString("4. If readings look abnormal or contradictory, choose do_nothing and set notify_human to true.\n")
	b.WriteString("5. If a photo is attached, look for stress, pests, disease, wilting or discoloration.\n\n")

	b.WriteString("## Response Format\n")
	b.WriteString("Respond with ONLY a valid JSON object, no markdown fences and no text outside the JSON:\n\n")
	b.WriteString(decisionSchema)
	b.WriteString("\n\nOrder actions by priority, most important first.")
	return b.String()
}

// BuildUserPrompt renders the cycle context as JSON sections.
func BuildUserPrompt(req *models.DecisionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Current Time\n%s\n\n", req.CurrentTime.UTC().Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("## Current Sensor Readings\n")
	writeJSONBlock(&b, req.SensorData)
	if req.ActuatorState != nil {
		b.WriteString("## Current Actuator States\n")
		writeJSONBlock(&b, req.ActuatorState)
	}
	fmt.Fprintf(&b, "## Recent Decision History (last %d decisions)\n", len(req.History))
	if len(req.History) == 0 {
		b.WriteString("No previous decisions.\n\n")
	} else {
		writeJSONBlock(&b, req.History)
	}
	if len(req.PlantLog) > 0 {
		b.WriteString("## Recent Plant Log\n")
		writeJSONBlock(&b, req.PlantLog)
	}
	b.WriteString("Analyze the current plant status and return your JSON decision.")
	return b.String()
}

func writeJSONBlock(b *strings.Builder, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "(unavailable: %v)\n\n", err)
		return
	}
	b.Write(data)
	b.WriteString("\n\n")
}

// loadPhoto reads the cycle photo. A missing or unreadable photo is logged
// and the request proceeds without it.
func loadPhoto(path string, logger *zap.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Could not attach photo", zap.String("path", path), zap.Error(err))
		return nil
	}
	return data
}
