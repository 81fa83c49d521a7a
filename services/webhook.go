package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"plantops/models"

	"go.uber.org/zap"
)

// WebhookAlertService posts alerts as JSON to an operator webhook.
type WebhookAlertService struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// WebhookAlertPayload is the body posted to the webhook.
type WebhookAlertPayload struct {
	AlertType  string                `json:"alert_type"`
	Severity   string                `json:"severity"`
	Text       string                `json:"text"`
	SensorData *models.SensorReading `json:"sensor_data,omitempty"`
	Summary    *models.CheckSummary  `json:"summary,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

func NewWebhookAlertService(logger *zap.Logger, url string) *WebhookAlertService {
	return &WebhookAlertService{
		logger: logger,
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendCheckSummary posts summaries that need attention. Routine cycles are
// not posted.
func (w *WebhookAlertService) SendCheckSummary(summary *models.CheckSummary) error {
	if !summary.NeedsAttention() {
		return nil
	}
	return w.post(WebhookAlertPayload{
		AlertType:  "check_summary",
		Severity:   determineSeverity(summary),
		Text:       FormatSummaryText(summary),
		SensorData: summary.SensorData,
		Summary:    summary,
		Timestamp:  summary.Timestamp,
	})
}

// SendEmergencyStopAlert posts a raised or cleared emergency stop.
func (w *WebhookAlertService) SendEmergencyStopAlert(active bool, path string) error {
	payload := WebhookAlertPayload{
		AlertType: "emergency_stop_cleared",
		Severity:  "low",
		Text:      "Emergency stop cleared: " + path,
		Timestamp: time.Now().UTC(),
	}
	if active {
		payload.AlertType = "emergency_stop"
		payload.Severity = "critical"
		payload.Text = "Emergency stop active: " + path
	}
	return w.post(payload)
}

func (w *WebhookAlertService) post(payload WebhookAlertPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("Failed to marshal webhook payload", zap.Error(err))
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(jsonData))
	if err != nil {
		w.logger.Error("Failed to create HTTP request",
			zap.Error(err),
			zap.String("url", w.url),
		)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "plantops-agent/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("Failed to send webhook alert",
			zap.Error(err),
			zap.String("alert_type", payload.AlertType),
		)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("Webhook alert sent successfully",
			zap.String("alert_type", payload.AlertType),
			zap.String("severity", payload.Severity),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	}

	w.logger.Error("Webhook returned error",
		zap.String("alert_type", payload.AlertType),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status),
	)
	return fmt.Errorf("webhook error: %s", resp.Status)
}

// determineSeverity maps a summary to an alert severity.
func determineSeverity(summary *models.CheckSummary) string {
	if summary.Decision != nil && summary.Decision.Urgency == models.UrgencyCritical {
		return "critical"
	}
	if summary.Error != "" {
		return "high"
	}
	if summary.HasRejection() {
		return "medium"
	}
	return "low"
}
