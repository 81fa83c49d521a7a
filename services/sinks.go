package services

import (
	"context"

	"plantops/models"

	"go.uber.org/zap"
)

// AuditSink receives copies of everything written to the local audit logs.
type AuditSink interface {
	RecordReading(ctx context.Context, reading *models.SensorReading) error
	RecordDecision(ctx context.Context, record *models.DecisionRecord) error
}

// MultiSink forwards to every registered sink. Sink failures are logged and
// never returned, so a broken mirror cannot affect a decision.
type MultiSink struct {
	sinks  []AuditSink
	logger *zap.Logger
}

func NewMultiSink(logger *zap.Logger, sinks ...AuditSink) *MultiSink {
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers s. Nil sinks are ignored.
func (m *MultiSink) Add(s AuditSink) {
	if s == nil {
		return
	}
	m.sinks = append(m.sinks, s)
}

func (m *MultiSink) Len() int {
	return len(m.sinks)
}

func (m *MultiSink) RecordReading(ctx context.Context, reading *models.SensorReading) error {
	for _, s := range m.sinks {
		if err := s.RecordReading(ctx, reading); err != nil {
			m.logger.Warn("Audit sink failed to record reading", zap.Error(err))
		}
	}
	return nil
}

func (m *MultiSink) RecordDecision(ctx context.Context, record *models.DecisionRecord) error {
	for _, s := range m.sinks {
		if err := s.RecordDecision(ctx, record); err != nil {
			m.logger.Warn("Audit sink failed to record decision",
				zap.String("record_id", record.ID),
				zap.Error(err))
		}
	}
	return nil
}
