package services

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const alertThrottle = 15 * time.Second

type TelegramService struct {
	bot              *tgbotapi.BotAPI
	chatID           int64
	notifyEveryCheck bool
	lastAlertTimes   map[string]time.Time // last send time per alert kind
	mu               sync.Mutex
	logger           *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:              bot,
		chatID:           chatID,
		notifyEveryCheck: cfg.NotifyEveryCheck,
		lastAlertTimes:   make(map[string]time.Time),
		logger:           logger,
	}

	if err := ts.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := ts.bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// shouldThrottle reports whether an alert of this kind was sent within the
// throttle window, and records the send otherwise.
func (ts *TelegramService) shouldThrottle(kind string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if last, ok := ts.lastAlertTimes[kind]; ok && time.Since(last) < alertThrottle {
		return true
	}
	ts.lastAlertTimes[kind] = time.Now()
	return false
}

// SendCheckSummary reports a finished cycle. Routine cycles are only sent
// when NOTIFY_EVERY_CHECK is set. Critical summaries are never throttled.
func (ts *TelegramService) SendCheckSummary(summary *models.CheckSummary) error {
	if !ts.notifyEveryCheck && !summary.NeedsAttention() {
		ts.logger.Debug("Routine check, not notifying")
		return nil
	}
	critical := summary.Decision != nil && summary.Decision.Urgency == models.UrgencyCritical
	if !critical && ts.shouldThrottle("summary") {
		ts.logger.Debug("Throttling check summary")
		return nil
	}

	text := html.EscapeString(FormatSummaryText(summary))
	if summary.PhotoPath != "" && summary.Error == "" && len(text) <= 1024 {
		if err := ts.SendPhoto(summary.PhotoPath, text); err == nil {
			return nil
		}
	}

	if err := ts.SendStatusMessage(text); err != nil {
		return fmt.Errorf("error sending check summary: %w", err)
	}
	ts.logger.Info("Sent check summary",
		zap.Bool("executed", summary.Executed),
		zap.Int("actions", len(summary.ActionsTaken)))
	return nil
}

// FormatSummaryText renders a cycle summary. The first line is a status bar.
// Sensor details, reasons and notes are added only when the cycle needs
// attention, failed, or had an action rejected.
func FormatSummaryText(summary *models.CheckSummary) string {
	dec := summary.Decision
	sd := summary.SensorData
	urgency := models.UrgencyNormal
	if dec != nil && dec.Urgency != "" {
		urgency = dec.Urgency
	}
	verbose := urgency == models.UrgencyAttention || urgency == models.UrgencyCritical ||
		summary.Error != "" || summary.HasRejection()

	var lines []string

	status := []string{urgencyIcon(urgency)}
	if sd != nil {
		status = append(status, fmt.Sprintf("%.1f°C", sd.TemperatureC))
		status = append(status, fmt.Sprintf("💧%.1f%%", sd.SoilMoisturePct))
		if sd.WaterTankOK != nil {
			if *sd.WaterTankOK {
				status = append(status, "🪣OK")
			} else {
				status = append(status, "🪣LOW⚠️")
			}
		}
	}
	if summary.Mode == "dry-run" {
		status = append(status, "DRY-RUN")
	}
	lines = append(lines, strings.Join(status, " | "))

	var executed []string
	for _, at := range summary.ActionsTaken {
		if !at.Executed || at.Action.IsNoop() {
			continue
		}
		part := "⚡ " + string(at.Action)
		if at.Params.DurationSec > 0 {
			part += fmt.Sprintf(" %ds", at.Params.DurationSec)
		}
		executed = append(executed, part)
	}
	if len(executed) > 0 {
		lines = append(lines, strings.Join(executed, " "))
	}

	if dec != nil && dec.Message != "" {
		lines = append(lines, "", dec.Message)
	}

	if summary.Error != "" {
		lines = append(lines, "", "⚠️ Error: "+summary.Error)
	}

	for _, at := range summary.ActionsTaken {
		if at.Rejected() {
			lines = append(lines, fmt.Sprintf("❌ %s: %s", at.Action, at.SafetyReason))
		}
	}

	if verbose {
		if sd != nil {
			lines = append(lines, "", "📊 Sensors:",
				fmt.Sprintf("  🌡 Temp: %.1f°C", sd.TemperatureC),
				fmt.Sprintf("  💧 Humidity: %.1f%%", sd.HumidityPct),
				fmt.Sprintf("  🌿 Soil: %.1f%%", sd.SoilMoisturePct),
				fmt.Sprintf("  💨 CO2: %.0f ppm", sd.CO2PPM),
				fmt.Sprintf("  ☀️ Light: %.0f", sd.LightLevel))
			if sd.WaterTankOK != nil {
				tank := "OK"
				if !*sd.WaterTankOK {
					tank = "LOW ⚠️"
				}
				lines = append(lines, "  🪣 Water tank: "+tank)
			}
			if sd.LockoutActive() {
				lines = append(lines, "  🔒 Heater lockout: ACTIVE")
			}
		}
		if dec != nil {
			if len(dec.Actions) > 0 {
				lines = append(lines, "")
				for _, a := range dec.Actions {
					lines = append(lines, fmt.Sprintf("  - %s: %s", a.Action, a.Reason))
				}
			}
			if dec.Notes != "" {
				lines = append(lines, "  Notes: "+dec.Notes)
			}
		}
		if len(summary.Observations) > 0 {
			lines = append(lines, "", "📝 AI Notes:")
			for _, obs := range summary.Observations {
				lines = append(lines, "  - "+obs)
			}
		}
	}

	return strings.Join(lines, "\n")
}

func urgencyIcon(u models.Urgency) string {
	switch u {
	case models.UrgencyNormal:
		return "🟢"
	case models.UrgencyAttention:
		return "🟡"
	case models.UrgencyCritical:
		return "🔴"
	}
	return "⚪"
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	return err
}

// SendPhoto sends the photo at path with an HTML caption.
func (ts *TelegramService) SendPhoto(path, caption string) error {
	photo := tgbotapi.NewPhoto(ts.chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = "HTML"

	if _, err := ts.bot.Send(photo); err != nil {
		ts.logger.Error("Failed to send photo",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("error sending photo: %w", err)
	}

	ts.logger.Info("Photo sent", zap.String("path", path))
	return nil
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage(mode string, interval time.Duration) error {
	message := "🟢 <b>Plant Agent Started</b>\n\n" +
		fmt.Sprintf("⚙️ Mode: <b>%s</b>\n", html.EscapeString(mode)) +
		fmt.Sprintf("⏱️ Check interval: %s\n", formatDuration(interval)) +
		"🤖 Telegram notifications active\n\n" +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}

// SendEmergencyStopAlert reports that the emergency-stop marker was raised
// or cleared.
func (ts *TelegramService) SendEmergencyStopAlert(active bool, path string) error {
	var sb strings.Builder
	if active {
		sb.WriteString("🛑 <b>EMERGENCY STOP ACTIVE</b> 🛑\n\n")
		sb.WriteString("All actuation is blocked until the marker is removed.\n")
	} else {
		sb.WriteString("✅ <b>EMERGENCY STOP CLEARED</b>\n\n")
		sb.WriteString("Actuation is allowed again, subject to safety limits.\n")
	}
	sb.WriteString(fmt.Sprintf("📄 <b>Marker:</b> <code>%s</code>\n", html.EscapeString(path)))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s", time.Now().Format("2006-01-02 15:04:05")))

	kind := "emergency_stop_cleared"
	if active {
		kind = "emergency_stop"
	}
	if ts.shouldThrottle(kind) {
		ts.logger.Debug("Throttling emergency stop alert", zap.Bool("active", active))
		return nil
	}

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending emergency stop alert: %w", err)
	}
	ts.logger.Info("Sent emergency stop alert", zap.Bool("active", active))
	return nil
}

// SendBridgeTimeoutAlert sends an alert when no sensor read has succeeded
// within the health timeout.
func (ts *TelegramService) SendBridgeTimeoutAlert(health models.BridgeHealth, sinceSuccess time.Duration) error {
	if ts.shouldThrottle("bridge_timeout") {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("⚠️ <b>HARDWARE BRIDGE UNRESPONSIVE</b> ⚠️\n\n")
	if health.LastSuccess.IsZero() {
		sb.WriteString("🕐 <b>Last Good Read:</b> never\n")
	} else {
		sb.WriteString(fmt.Sprintf("🕐 <b>Last Good Read:</b> %s\n", health.LastSuccess.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("⏱️ <b>Time Since:</b> %s\n", formatDuration(sinceSuccess)))
	}
	sb.WriteString(fmt.Sprintf("🔁 <b>Consecutive Failures:</b> %d\n", health.ConsecutiveFailures))
	if health.LastError != "" {
		sb.WriteString(fmt.Sprintf("❌ <b>Last Error:</b> %s\n", html.EscapeString(health.LastError)))
	}
	sb.WriteString("\n💡 <b>Action Required:</b>\n")
	sb.WriteString("Check the sensor wiring and the bridge executable. Scheduled checks cannot act without readings.\n\n")
	sb.WriteString("🔴 <b>Status:</b> BRIDGE TIMEOUT")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending bridge timeout alert: %w", err)
	}

	ts.logger.Info("Sent bridge timeout alert",
		zap.Duration("since_success", sinceSuccess),
		zap.Int("consecutive_failures", health.ConsecutiveFailures))
	return nil
}

// SendBridgeRecoveryAlert sends an alert when reads succeed again.
func (ts *TelegramService) SendBridgeRecoveryAlert(downtime time.Duration) error {
	var sb strings.Builder
	sb.WriteString("✅ <b>HARDWARE BRIDGE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downtime)))
	sb.WriteString("🟢 <b>Status:</b> BRIDGE ONLINE")

	if err := ts.SendStatusMessage(sb.String()); err != nil {
		return fmt.Errorf("error sending bridge recovery alert: %w", err)
	}

	ts.logger.Info("Sent bridge recovery alert", zap.Duration("downtime", downtime))
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
