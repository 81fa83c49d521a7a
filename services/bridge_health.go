package services

import (
	"context"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
)

// BridgeAlerter is notified when the bridge stops or resumes answering.
type BridgeAlerter interface {
	SendBridgeTimeoutAlert(health models.BridgeHealth, sinceSuccess time.Duration) error
	SendBridgeRecoveryAlert(downtime time.Duration) error
}

// BridgeHealthMonitor watches sensor read outcomes and alerts once when no
// read has succeeded within the timeout, then again on recovery.
type BridgeHealthMonitor struct {
	timeout       time.Duration
	checkInterval time.Duration
	alerters      []BridgeAlerter
	logger        *zap.Logger
	now           func() time.Time

	mu      sync.RWMutex
	health  models.BridgeHealth
	started time.Time
}

func NewBridgeHealthMonitor(cfg *config.Config, logger *zap.Logger, alerters ...BridgeAlerter) *BridgeHealthMonitor {
	m := &BridgeHealthMonitor{
		timeout:       cfg.BridgeHealthTimeout,
		checkInterval: 10 * time.Second,
		logger:        logger,
		now:           time.Now,
		health:        models.BridgeHealth{Status: models.BridgeHealthy},
	}
	for _, a := range alerters {
		if a != nil {
			m.alerters = append(m.alerters, a)
		}
	}
	m.started = m.now()
	return m
}

// SetCheckInterval changes how often the timeout is evaluated.
func (m *BridgeHealthMonitor) SetCheckInterval(d time.Duration) {
	m.checkInterval = d
}

// RecordSuccess marks a successful sensor read.
func (m *BridgeHealthMonitor) RecordSuccess() {
	m.mu.Lock()
	now := m.now()
	wasTimeout := m.health.Status == models.BridgeTimeout
	m.health.LastSuccess = now
	m.health.ConsecutiveFailures = 0
	m.health.LastError = ""
	if wasTimeout {
		m.health.Status = models.BridgeRecovered
	} else {
		m.health.Status = models.BridgeHealthy
	}
	downtime := now.Sub(m.health.TimeoutAt)
	m.mu.Unlock()

	if !wasTimeout {
		return
	}

	m.logger.Info("Hardware bridge recovered", zap.Duration("downtime", downtime))
	for _, a := range m.alerters {
		if err := a.SendBridgeRecoveryAlert(downtime); err != nil {
			m.logger.Error("Failed to send recovery alert", zap.Error(err))
		}
	}
}

// RecordFailure marks a failed sensor read.
func (m *BridgeHealthMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.LastFailure = m.now()
	m.health.ConsecutiveFailures++
	if err != nil {
		m.health.LastError = err.Error()
	}
	m.logger.Debug("Bridge read failure recorded",
		zap.Int("consecutive_failures", m.health.ConsecutiveFailures))
}

// Health returns a snapshot of the current state.
func (m *BridgeHealthMonitor) Health() models.BridgeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Start runs the timeout checker until ctx is done.
func (m *BridgeHealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.Info("Bridge health monitor started",
		zap.Duration("timeout", m.timeout),
		zap.Duration("check_interval", m.checkInterval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Bridge health monitor stopped")
			return
		case <-ticker.C:
			m.checkTimeout()
		}
	}
}

func (m *BridgeHealthMonitor) checkTimeout() {
	if m.timeout <= 0 {
		return
	}

	m.mu.Lock()
	if m.health.Status == models.BridgeTimeout {
		m.mu.Unlock()
		return
	}
	now := m.now()
	reference := m.health.LastSuccess
	if reference.IsZero() {
		reference = m.started
	}
	since := now.Sub(reference)
	if since <= m.timeout {
		m.mu.Unlock()
		return
	}
	m.health.Status = models.BridgeTimeout
	m.health.TimeoutAt = now
	snapshot := m.health
	m.mu.Unlock()

	m.logger.Warn("Hardware bridge timeout detected",
		zap.Time("last_success", snapshot.LastSuccess),
		zap.Duration("since_success", since),
		zap.Int("consecutive_failures", snapshot.ConsecutiveFailures))

	for _, a := range m.alerters {
		if err := a.SendBridgeTimeoutAlert(snapshot, since); err != nil {
			m.logger.Error("Failed to send timeout alert", zap.Error(err))
		}
	}
}
