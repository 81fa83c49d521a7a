package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	cfg := testConfig(t)
	cfg.PlantProfilePath = filepath.Join(cfg.DataDir, "plant_profile.yaml")
	cfg.HardwareProfilePath = filepath.Join(cfg.DataDir, "hardware_profile.yaml")
	p := NewProfileStore(cfg, zap.NewNop())
	p.now = func() time.Time { return testNow }
	return p
}

func TestProfileStore_MissingFilesAreEmpty(t *testing.T) {
	p := newTestProfileStore(t)

	plant, err := p.PlantProfile()
	require.NoError(t, err)
	assert.Empty(t, plant)
	assert.Empty(t, p.Knowledge())

	obs, err := p.RecentObservations(5)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestProfileStore_ApplyHardwareUpdate(t *testing.T) {
	p := newTestProfileStore(t)
	require.NoError(t, os.WriteFile(p.hardwarePath, []byte("pump:\n  model: peristaltic\nlight: 12W\n"), 0o644))

	err := p.ApplyHardwareUpdate(map[string]any{
		"pump.flow_rate_ml_per_sec": 2.5,
		"light.watts":               12,
		"camera":                    "usb",
	})
	require.NoError(t, err)

	hw, err := p.HardwareProfile()
	require.NoError(t, err)
	pump := hw["pump"].(map[string]any)
	assert.Equal(t, "peristaltic", pump["model"])
	assert.Equal(t, 2.5, pump["flow_rate_ml_per_sec"])
	// A scalar on the path is replaced by a map.
	assert.Equal(t, map[string]any{"watts": 12}, hw["light"])
	assert.Equal(t, "usb", hw["camera"])
}

func TestProfileStore_AppendKnowledgeUpdate(t *testing.T) {
	p := newTestProfileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.dataDir, KnowledgeFile), []byte("# Basil"), 0o644))

	require.NoError(t, p.AppendKnowledgeUpdate("  Prefers 60% humidity.  "))
	require.NoError(t, p.AppendKnowledgeUpdate(""))

	got := p.Knowledge()
	assert.True(t, strings.HasPrefix(got, "# Basil\n\n---\n"))
	assert.Contains(t, got, "*AI Update (2026-03-10 14:00 UTC):* Prefers 60% humidity.\n")
	assert.Equal(t, 1, strings.Count(got, "AI Update"))
}

func TestProfileStore_Observations(t *testing.T) {
	p := newTestProfileStore(t)

	require.NoError(t, p.LogObservations([]string{"first", " ", "second"}, "scheduled_check"))
	require.NoError(t, p.LogObservations([]string{"third"}, "chat"))

	obs, err := p.RecentObservations(2)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "second", obs[0].Observation)
	assert.Equal(t, "third", obs[1].Observation)
	assert.Equal(t, "chat", obs[1].Source)
	assert.Equal(t, testNow, obs[1].Timestamp)
}
