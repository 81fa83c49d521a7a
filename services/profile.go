package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	KnowledgeFile = "plant_knowledge.md"
	PlantLogFile  = "plant_log.jsonl"
)

// ProfileStore owns the plant context handed to the reasoning service: the
// plant and hardware profiles, the knowledge file and the plant log.
type ProfileStore struct {
	plantPath    string
	hardwarePath string
	dataDir      string
	logger       *zap.Logger
	now          func() time.Time
	mu           sync.Mutex
}

func NewProfileStore(cfg *config.Config, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{
		plantPath:    cfg.PlantProfilePath,
		hardwarePath: cfg.HardwareProfilePath,
		dataDir:      cfg.DataDir,
		logger:       logger,
		now:          time.Now,
	}
}

// PlantProfile loads the plant profile. A missing file yields an empty map.
func (p *ProfileStore) PlantProfile() (map[string]any, error) {
	return loadYAMLMap(p.plantPath)
}

// HardwareProfile loads the hardware profile. A missing file yields an empty map.
func (p *ProfileStore) HardwareProfile() (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return loadYAMLMap(p.hardwarePath)
}

// Knowledge returns the cached knowledge markdown, or "" when there is none.
func (p *ProfileStore) Knowledge() string {
	data, err := os.ReadFile(filepath.Join(p.dataDir, KnowledgeFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Failed to read plant knowledge", zap.Error(err))
		}
		return ""
	}
	return string(data)
}

// AppendKnowledgeUpdate appends a timestamped block to the knowledge file.
func (p *ProfileStore) AppendKnowledgeUpdate(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	path := filepath.Join(p.dataDir, KnowledgeFile)
	entry := fmt.Sprintf("\n\n---\n*AI Update (%s):* %s\n", p.now().UTC().Format("2006-01-02 15:04 UTC"), text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open knowledge file: %w", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return fmt.Errorf("failed to append knowledge update: %w", err)
	}
	p.logger.Info("Appended knowledge update", zap.String("path", path))
	return f.Close()
}

// ApplyHardwareUpdate merges dot-separated keys such as
// "pump.flow_rate_ml_per_sec" into the hardware profile and saves it.
// Intermediate keys that are not maps are replaced by maps.
func (p *ProfileStore) ApplyHardwareUpdate(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, err := loadYAMLMap(p.hardwarePath)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, dotKey := range keys {
		setDotKey(profile, dotKey, updates[dotKey])
		p.logger.Info("Hardware profile updated",
			zap.String("key", dotKey),
			zap.Any("value", updates[dotKey]))
	}

	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal hardware profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.hardwarePath), 0o755); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}
	if err := os.WriteFile(p.hardwarePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to save hardware profile: %w", err)
	}
	return nil
}

func setDotKey(target map[string]any, dotKey string, value any) {
	parts := strings.Split(dotKey, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := target[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			target[part] = next
		}
		target = next
	}
	target[parts[len(parts)-1]] = value
}

// LogObservations appends free-text observations to the plant log.
func (p *ProfileStore) LogObservations(observations []string, source string) error {
	now := p.now().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()
	path := filepath.Join(p.dataDir, PlantLogFile)
	for _, obs := range observations {
		obs = strings.TrimSpace(obs)
		if obs == "" {
			continue
		}
		if err := appendJSONL(path, models.Observation{Timestamp: now, Source: source, Observation: obs}); err != nil {
			return fmt.Errorf("failed to log observation: %w", err)
		}
	}
	return nil
}

// RecentObservations returns the last n plant log entries, oldest first.
func (p *ProfileStore) RecentObservations(n int) ([]models.Observation, error) {
	if n <= 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entries, err := readJSONL[models.Observation](filepath.Join(p.dataDir, PlantLogFile), p.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func loadYAMLMap(path string) (map[string]any, error) {
	out := make(map[string]any)
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}
