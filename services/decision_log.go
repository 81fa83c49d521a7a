package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DecisionLogFile = "decisions.jsonl"
	SensorLogFile   = "sensor_history.jsonl"

	// historyWindow bounds the in-memory history. It covers the hourly rate
	// window, the longest accepted water interval and the current UTC day.
	historyWindow = time.Duration(config.MaxWaterIntervalMin)*time.Minute + time.Hour
)

// DecisionLog is the append-only audit trail of validated and rejected
// actions. Recent records are kept in memory for the safety checks so the
// file is only read once, at startup.
type DecisionLog struct {
	path   string
	sink   AuditSink
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	window []models.DecisionRecord
}

// NewDecisionLog opens the log in dataDir and seeds the in-memory window
// from the records already on disk. sink may be nil.
func NewDecisionLog(dataDir string, sink AuditSink, logger *zap.Logger) (*DecisionLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	d := &DecisionLog{
		path:   filepath.Join(dataDir, DecisionLogFile),
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}

	records, err := readJSONL[models.DecisionRecord](d.path, logger)
	if err != nil {
		return nil, err
	}
	cutoff := d.now().Add(-historyWindow)
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			d.window = append(d.window, rec)
		}
	}
	sortByTimestamp(d.window)

	logger.Debug("Decision history loaded",
		zap.String("path", d.path),
		zap.Int("records", len(records)),
		zap.Int("in_window", len(d.window)))
	return d, nil
}

// SetClock replaces the clock used for timestamps and window pruning.
func (d *DecisionLog) SetClock(now func() time.Time) {
	d.now = now
}

// Append writes rec to the log, filling in its ID and timestamp when unset.
// The record is kept in memory even when the file write fails.
func (d *DecisionLog) Append(ctx context.Context, rec *models.DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = d.now().UTC()
	}

	d.mu.Lock()
	d.window = append(d.window, *rec)
	if n := len(d.window); n > 1 && rec.Timestamp.Before(d.window[n-2].Timestamp) {
		sortByTimestamp(d.window)
	}
	d.prune()
	err := appendJSONL(d.path, rec)
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("Failed to write decision record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}

	if d.sink != nil {
		_ = d.sink.RecordDecision(ctx, rec)
	}
	return err
}

func (d *DecisionLog) prune() {
	cutoff := d.now().Add(-historyWindow)
	i := 0
	for i < len(d.window) && d.window[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.window = append([]models.DecisionRecord(nil), d.window[i:]...)
	}
}

// sortByTimestamp orders records oldest first, keeping file order for ties.
func sortByTimestamp(records []models.DecisionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// History returns a copy of the in-memory window, oldest first.
func (d *DecisionLog) History() []models.DecisionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune()
	out := make([]models.DecisionRecord, len(d.window))
	copy(out, d.window)
	return out
}

// Recent returns the last n records from the file, oldest first.
func (d *DecisionLog) Recent(n int) ([]models.DecisionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	d.mu.Lock()
	records, err := readJSONL[models.DecisionRecord](d.path, d.logger)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// DailyActionCounts counts executed actions per kind for the UTC day of now.
func (d *DecisionLog) DailyActionCounts(now time.Time) map[models.ActionKind]int {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	counts := make(map[models.ActionKind]int)
	for _, rec := range d.History() {
		if !rec.Executed || rec.Timestamp.Before(dayStart) {
			continue
		}
		counts[rec.Decision.Action]++
	}
	return counts
}

// SensorLog is the append-only history of sensor readings.
type SensorLog struct {
	path   string
	sink   AuditSink
	logger *zap.Logger
	mu     sync.Mutex
}

func NewSensorLog(dataDir string, sink AuditSink, logger *zap.Logger) *SensorLog {
	return &SensorLog{
		path:   filepath.Join(dataDir, SensorLogFile),
		sink:   sink,
		logger: logger,
	}
}

// Append records a reading. Write failures are logged and returned.
func (s *SensorLog) Append(ctx context.Context, reading *models.SensorReading) error {
	s.mu.Lock()
	err := appendJSONL(s.path, reading)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to write sensor reading", zap.Error(err))
	}
	if s.sink != nil {
		_ = s.sink.RecordReading(ctx, reading)
	}
	return err
}

// Recent returns the last n readings, oldest first.
func (s *SensorLog) Recent(n int) ([]models.SensorReading, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	readings, err := readJSONL[models.SensorReading](s.path, s.logger)
	if err != nil {
		return nil, err
	}
	if len(readings) > n {
		readings = readings[len(readings)-n:]
	}
	return readings, nil
}

func appendJSONL(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readJSONL decodes every line of path. Blank and malformed lines are
// skipped; a missing file yields no records.
func readJSONL[T any](path string, logger *zap.Logger) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			logger.Warn("Skipping malformed JSONL line",
				zap.String("path", path),
				zap.Int("line", lineNum),
				zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}
