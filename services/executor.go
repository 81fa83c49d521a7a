package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

const (
	defaultWaterSec       = 5
	defaultCirculationSec = 30
)

// ActionExecutor turns validated actions into bridge invocations. It never
// returns an error for an action: every failure is folded into the
// ExecutionResult.
type ActionExecutor struct {
	bridge        *Bridge
	dryRun        bool
	actionTimeout time.Duration
	photoTimeout  time.Duration
	photoSettle   time.Duration
	logger        *zap.Logger
	now           func() time.Time
	sleep         func(context.Context, time.Duration)
}

func NewActionExecutor(cfg *config.Config, bridge *Bridge, dryRun bool, logger *zap.Logger) *ActionExecutor {
	e := &ActionExecutor{
		bridge:        bridge,
		dryRun:        dryRun,
		actionTimeout: cfg.ActionTimeout,
		photoTimeout:  cfg.PhotoTimeout,
		photoSettle:   cfg.PhotoSettle,
		logger:        logger,
		now:           time.Now,
		sleep:         sleepCtx,
	}

	if dryRun {
		logger.Info("Action executor initialised in DRY-RUN mode")
	} else {
		logger.Info("Action executor initialised", zap.String("bridge", bridge.Path()))
	}
	return e
}

func (e *ActionExecutor) DryRun() bool {
	return e.dryRun
}

// BridgeArgs returns the bridge arguments for a hardware action. No-op and
// unknown actions return ok=false.
func BridgeArgs(action models.ProposedAction) ([]string, bool) {
	switch action.Action {
	case models.ActionWater:
		return []string{"pump", "on", "--sec", strconv.Itoa(durationOr(action.Params, defaultWaterSec))}, true
	case models.ActionLightOn:
		return []string{"light", "on"}, true
	case models.ActionLightOff:
		return []string{"light", "off"}, true
	case models.ActionHeaterOn:
		return []string{"heater", "on"}, true
	case models.ActionHeaterOff:
		return []string{"heater", "off"}, true
	case models.ActionCirculation:
		return []string{"circulation", "on", "--sec", strconv.Itoa(durationOr(action.Params, defaultCirculationSec))}, true
	case models.ActionDoNothing, models.ActionNotifyHuman:
		return nil, false
	}
	return nil, false
}

func durationOr(p models.ActionParams, def int) int {
	if p.DurationSec > 0 {
		return p.DurationSec
	}
	return def
}

// Execute runs one action.
func (e *ActionExecutor) Execute(ctx context.Context, action models.ProposedAction) models.ExecutionResult {
	result := models.ExecutionResult{
		Action:    action.Action,
		DryRun:    e.dryRun,
		Timestamp: e.now().UTC(),
	}

	if action.Action.IsNoop() {
		e.logger.Info("Action requires no hardware command", zap.String("action", string(action.Action)))
		result.Success = true
		result.Output = fmt.Sprintf("%s: no hardware command required", action.Action)
		return result
	}

	args, ok := BridgeArgs(action)
	if !ok {
		e.logger.Error("Unknown action", zap.String("action", string(action.Action)))
		result.Error = fmt.Sprintf("Unknown action: '%s'", action.Action)
		return result
	}

	result.Command = e.bridge.CommandString(args...)

	if e.dryRun {
		e.logger.Info("[DRY-RUN] Would execute", zap.String("command", result.Command))
		result.Success = true
		result.Output = "[DRY-RUN] " + result.Command
		return result
	}

	e.logger.Info("Executing", zap.String("command", result.Command))
	out, err := e.bridge.Run(ctx, e.actionTimeout, args...)
	if err != nil {
		e.logger.Error("Action failed",
			zap.String("action", string(action.Action)),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}

	e.logger.Info("Action completed",
		zap.String("action", string(action.Action)),
		zap.String("output", out))
	result.Success = true
	result.Output = out
	return result
}

// TakePhoto captures a photo to outputPath. In dry-run mode the bridge is not
// invoked and outputPath is returned as is.
func (e *ActionExecutor) TakePhoto(ctx context.Context, outputPath string) (string, error) {
	args := []string{"camera-snap", "--out", outputPath, "--json"}

	if e.dryRun {
		e.logger.Info("[DRY-RUN] Would execute", zap.String("command", e.bridge.CommandString(args...)))
		return outputPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create photo dir: %w", err)
	}

	e.logger.Info("Taking photo", zap.String("path", outputPath))
	if _, err := e.bridge.Run(ctx, e.photoTimeout, args...); err != nil {
		e.logger.Error("Photo capture failed", zap.Error(err))
		return "", err
	}

	e.logger.Info("Photo saved", zap.String("path", outputPath))
	return outputPath, nil
}

// TakePhotoWithLight photographs the plant under the grow light. When the
// light is off it is switched on, left to settle, and always switched back
// off afterwards, whatever happened in between. A failure to switch the light
// on does not stop the photo. When archiveDir is set, a timestamped copy of
// the photo is kept there.
func (e *ActionExecutor) TakePhotoWithLight(ctx context.Context, outputPath string, lightAlreadyOn bool, archiveDir string) (string, error) {
	toggled := false
	if !lightAlreadyOn {
		on := e.Execute(ctx, models.ProposedAction{Action: models.ActionLightOn, Reason: "photo"})
		if !on.Success {
			e.logger.Warn("Failed to turn light on for photo, continuing anyway",
				zap.String("error", on.Error))
		}
		toggled = true
		e.sleep(ctx, e.photoSettle)
	} else {
		e.logger.Debug("Light already on, skipping toggle for photo")
	}

	path, photoErr := e.TakePhoto(ctx, outputPath)

	if toggled {
		// The light must go back off even when ctx is already done.
		off := e.Execute(context.WithoutCancel(ctx), models.ProposedAction{Action: models.ActionLightOff, Reason: "photo"})
		if !off.Success {
			e.logger.Warn("Failed to turn light off after photo", zap.String("error", off.Error))
		}
	}

	if photoErr != nil {
		return "", photoErr
	}

	if archiveDir != "" && !e.dryRun {
		if archived, err := archivePhoto(path, archiveDir, e.now()); err != nil {
			e.logger.Warn("Failed to archive photo", zap.Error(err))
		} else {
			e.logger.Info("Photo archived", zap.String("path", archived))
		}
	}

	return path, nil
}

func archivePhoto(src, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, "plant_"+now.Format("20060102_150405")+".jpg")

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	return dst, out.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
