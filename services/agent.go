package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

const (
	promptHistorySize  = 10
	promptPlantLogSize = 20

	LatestPhotoFile = "plant_latest.jpg"
	PhotoArchiveDir = "photos"
)

// CheckNotifier is told about every finished cycle or manual command.
type CheckNotifier interface {
	SendCheckSummary(summary *models.CheckSummary) error
}

// StatePublisher receives the actuator state after it changes.
type StatePublisher interface {
	PublishActuatorState(ctx context.Context, state models.ActuatorState) error
}

// AgentDeps are the collaborators of a PlantAgent. Sensors, Executor,
// Validator, State and Decisions are required.
type AgentDeps struct {
	Sensors       ReadingSource
	Executor      *ActionExecutor
	PhotoExecutor *ActionExecutor
	Validator     *SafetyValidator
	State         *ActuatorStateStore
	Decisions     *DecisionLog
	SensorLog     *SensorLog
	Reasoner      Reasoner
	Fallback      *FallbackRules
	Profiles      *ProfileStore
	Health        *BridgeHealthMonitor
	Publisher     StatePublisher
	Notifiers     []CheckNotifier
}

// CheckOptions tune a single cycle.
type CheckOptions struct {
	IncludePhoto bool
}

// PlantAgent runs check cycles and manual commands. Both go through the
// same validate, execute and log path and never run concurrently.
type PlantAgent struct {
	cfg  *config.Config
	deps AgentDeps

	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewPlantAgent(cfg *config.Config, deps AgentDeps, logger *zap.Logger) *PlantAgent {
	if deps.Reasoner == nil {
		deps.Reasoner = unavailableReasoner{cause: ErrReasonerUnavailable}
	}
	if deps.Fallback == nil {
		deps.Fallback = NewFallbackRules(cfg.Fallback)
	}
	if deps.PhotoExecutor == nil {
		deps.PhotoExecutor = deps.Executor
	}
	return &PlantAgent{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for summary timestamps.
func (a *PlantAgent) SetClock(now func() time.Time) {
	a.now = now
}

func (a *PlantAgent) mode() string {
	if a.deps.Executor.DryRun() {
		return "dry-run"
	}
	return "live"
}

// RunCheck runs one sense, decide, validate, execute and log cycle. It always
// returns a summary; a failed sensor read ends the cycle early with Error set.
func (a *PlantAgent) RunCheck(ctx context.Context, opts CheckOptions) *models.CheckSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := &models.CheckSummary{
		Timestamp: a.now().UTC(),
		Mode:      a.mode(),
	}
	defer a.notify(summary)

	reading, err := a.readSensors(ctx)
	if err != nil {
		a.logger.Error("Sensor read failed", zap.Error(err))
		summary.Error = fmt.Sprintf("Sensor read failed: %v", err)
		return summary
	}
	summary.SensorData = reading

	cachedState := a.deps.State.Load()
	if opts.IncludePhoto && !a.cfg.UseMockSensors {
		summary.PhotoPath = a.capturePhoto(ctx, reading, cachedState)
	}

	req := a.buildRequest(reading)
	req.PhotoPath = summary.PhotoPath

	decision, err := a.deps.Reasoner.Decide(ctx, req)
	if err != nil {
		a.logger.Error("Reasoning service call failed", zap.Error(err))
		decision = a.deps.Fallback.Decide(reading, err)
		a.logger.Info("Applying offline fallback",
			zap.String("assessment", decision.Assessment),
			zap.String("reason", firstReason(decision)))
	} else {
		a.logger.Info("Decision received",
			zap.String("actions", actionNames(decision.Actions)),
			zap.String("urgency", string(decision.Urgency)))
	}
	summary.Decision = decision

	summary.ActionsTaken = a.executeValidatedActions(ctx, decision.Actions, decision, reading, models.SourceScheduled)
	for _, at := range summary.ActionsTaken {
		if at.Executed {
			summary.Executed = true
			break
		}
	}

	a.applySideEffects(decision, summary)
	return summary
}

func (a *PlantAgent) readSensors(ctx context.Context) (*models.SensorReading, error) {
	reading, err := a.deps.Sensors.Read(ctx)
	if a.deps.Health != nil && !a.cfg.UseMockSensors {
		if err != nil {
			a.deps.Health.RecordFailure(err)
		} else {
			a.deps.Health.RecordSuccess()
		}
	}
	if err != nil {
		return nil, err
	}

	a.logger.Info("Sensor read OK",
		zap.Float64("temperature_c", reading.TemperatureC),
		zap.Float64("soil_moisture_pct", reading.SoilMoisturePct),
		zap.Bool("mock", a.cfg.UseMockSensors))
	if a.deps.SensorLog != nil {
		_ = a.deps.SensorLog.Append(ctx, reading)
	}
	return reading, nil
}

// capturePhoto takes the cycle photo. Failures are logged and yield "".
func (a *PlantAgent) capturePhoto(ctx context.Context, reading *models.SensorReading, cached models.ActuatorState) string {
	lightOn := cached.Light == models.StateOn
	if reading.LightOn != nil {
		lightOn = *reading.LightOn
	}
	archive := ""
	if !a.deps.Executor.DryRun() {
		archive = filepath.Join(a.cfg.DataDir, PhotoArchiveDir)
	}

	path, err := a.deps.PhotoExecutor.TakePhotoWithLight(ctx, filepath.Join(a.cfg.DataDir, LatestPhotoFile), lightOn, archive)
	if err != nil {
		a.logger.Warn("Photo capture failed, continuing without photo", zap.Error(err))
		return ""
	}
	a.logger.Info("Photo captured", zap.String("path", path))
	return path
}

func (a *PlantAgent) buildRequest(reading *models.SensorReading) *models.DecisionRequest {
	req := &models.DecisionRequest{
		SensorData:  reading,
		CurrentTime: a.now().UTC(),
	}

	state := a.deps.State.Reconcile(reading)
	req.ActuatorState = &state
	a.publishState(context.Background(), state)

	if history, err := a.deps.Decisions.Recent(promptHistorySize); err != nil {
		a.logger.Warn("Failed to load decision history", zap.Error(err))
	} else {
		req.History = history
	}

	if p := a.deps.Profiles; p != nil {
		if profile, err := p.PlantProfile(); err != nil {
			a.logger.Warn("Failed to load plant profile", zap.Error(err))
		} else {
			req.PlantProfile = profile
		}
		if hw, err := p.HardwareProfile(); err != nil {
			a.logger.Warn("Failed to load hardware profile", zap.Error(err))
		} else {
			req.HardwareProfile = hw
		}
		req.PlantKnowledge = p.Knowledge()
		if entries, err := p.RecentObservations(promptPlantLogSize); err != nil {
			a.logger.Warn("Failed to load plant log", zap.Error(err))
		} else {
			req.PlantLog = entries
		}
	}
	return req
}

// executeValidatedActions validates each action in order and executes the
// accepted ones. Every action produces one decision record. A rejection or a
// failed execution never stops the remaining actions.
func (a *PlantAgent) executeValidatedActions(ctx context.Context, actions []models.ProposedAction, decision *models.Decision, reading *models.SensorReading, source models.Source) []models.ActionOutcome {
	outcomes := make([]models.ActionOutcome, 0, len(actions))

	for _, proposed := range actions {
		validation := a.deps.Validator.Validate(proposed, reading, a.deps.Decisions.History())

		record := &models.DecisionRecord{
			SensorData: reading,
			Decision: models.LoggedDecision{
				ProposedAction: proposed,
				Urgency:        decision.Urgency,
				NotifyHuman:    decision.NotifyHuman,
				Assessment:     decision.Assessment,
				Notes:          decision.Notes,
			},
			Validation: validation,
			Source:     source,
		}

		if !validation.Valid {
			a.logger.Warn("Safety rejected action",
				zap.String("action", string(proposed.Action)),
				zap.String("reason", validation.Reason))
			_ = a.deps.Decisions.Append(ctx, record)
			outcomes = append(outcomes, models.ActionOutcome{
				Action:       proposed.Action,
				Params:       proposed.Params,
				SafetyReason: validation.Reason,
			})
			continue
		}

		final := validation.CappedAction
		outcome := models.ActionOutcome{Action: final.Action, Params: final.Params}

		if final.Action.IsNoop() {
			outcome.Executed = true
		} else {
			result := a.deps.Executor.Execute(ctx, final)
			outcome.Result = &result
			outcome.Executed = result.Success
			if !result.Success {
				a.logger.Error("Action execution failed",
					zap.String("action", string(final.Action)),
					zap.String("error", result.Error))
			} else {
				a.logger.Info("Action executed", zap.String("command", result.Command))
				if !result.DryRun {
					a.deps.State.UpdateAfterAction(final.Action)
					a.publishState(ctx, a.deps.State.Load())
				}
			}
		}

		record.Executed = outcome.Executed
		_ = a.deps.Decisions.Append(ctx, record)
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// applySideEffects records observations and profile updates attached to a
// decision. Failures are logged only.
func (a *PlantAgent) applySideEffects(decision *models.Decision, summary *models.CheckSummary) {
	summary.Observations = decision.Observations
	summary.KnowledgeUpdate = decision.KnowledgeUpdate
	summary.HardwareUpdate = decision.HardwareUpdate

	p := a.deps.Profiles
	if p == nil {
		return
	}
	if len(decision.Observations) > 0 {
		if err := p.LogObservations(decision.Observations, "scheduled_check"); err != nil {
			a.logger.Warn("Failed to log observations", zap.Error(err))
		}
	}
	if decision.KnowledgeUpdate != "" {
		if err := p.AppendKnowledgeUpdate(decision.KnowledgeUpdate); err != nil {
			a.logger.Warn("Failed to append knowledge update", zap.Error(err))
		}
	}
	if len(decision.HardwareUpdate) > 0 {
		if err := p.ApplyHardwareUpdate(decision.HardwareUpdate); err != nil {
			a.logger.Error("Failed to save hardware profile", zap.Error(err))
		}
	}
}

// ExecuteManual runs an operator command through the same safety path as a
// scheduled cycle. A failed sensor read does not abort the command: the
// validator then rejects the checks that need a reading.
func (a *PlantAgent) ExecuteManual(ctx context.Context, cmd *models.ManualCommand) *models.CheckSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	source := cmd.Source
	if source == "" {
		source = models.SourceManual
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "Manual command"
	}

	summary := &models.CheckSummary{
		Timestamp: a.now().UTC(),
		Mode:      a.mode(),
	}
	defer a.notify(summary)

	reading, err := a.readSensors(ctx)
	if err != nil {
		a.logger.Warn("Sensor read failed before manual command, validating without a reading", zap.Error(err))
	}
	summary.SensorData = reading
	if reading != nil {
		state := a.deps.State.Reconcile(reading)
		a.publishState(ctx, state)
	}

	action := models.ProposedAction{Action: cmd.Action, Params: cmd.Params, Reason: reason}
	decision := &models.Decision{
		Assessment: fmt.Sprintf("%s command: %s", source, cmd.Action),
		Actions:    []models.ProposedAction{action},
		Urgency:    models.UrgencyNormal,
	}
	summary.Decision = decision

	a.logger.Info("Executing manual command",
		zap.String("action", string(cmd.Action)),
		zap.String("source", string(source)))

	summary.ActionsTaken = a.executeValidatedActions(ctx, decision.Actions, decision, reading, source)
	for _, at := range summary.ActionsTaken {
		summary.Executed = summary.Executed || at.Executed
	}
	return summary
}

// HandleCommand adapts ExecuteManual to the command queue. Rejections and
// failures are reported through the notifiers, not as errors.
func (a *PlantAgent) HandleCommand(ctx context.Context, cmd *models.ManualCommand) error {
	summary := a.ExecuteManual(ctx, cmd)
	for _, at := range summary.ActionsTaken {
		if at.Rejected() {
			a.logger.Warn("Manual command rejected",
				zap.String("action", string(at.Action)),
				zap.String("reason", at.SafetyReason))
		}
	}
	return nil
}

func (a *PlantAgent) publishState(ctx context.Context, state models.ActuatorState) {
	if a.deps.Publisher == nil {
		return
	}
	if err := a.deps.Publisher.PublishActuatorState(ctx, state); err != nil {
		a.logger.Warn("Failed to publish actuator state", zap.Error(err))
	}
}

func (a *PlantAgent) notify(summary *models.CheckSummary) {
	for _, n := range a.deps.Notifiers {
		if err := n.SendCheckSummary(summary); err != nil {
			a.logger.Error("Failed to send check summary", zap.Error(err))
		}
	}
}

func actionNames(actions []models.ProposedAction) string {
	names := make([]string, len(actions))
	for i, act := range actions {
		names[i] = string(act.Action)
	}
	return strings.Join(names, ", ")
}

func firstReason(d *models.Decision) string {
	if len(d.Actions) == 0 {
		return ""
	}
	return d.Actions[0].Reason
}
