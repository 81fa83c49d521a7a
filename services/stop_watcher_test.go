package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type fakeStopAlerter struct {
	mu     sync.Mutex
	events []bool
}

func (f *fakeStopAlerter) SendEmergencyStopAlert(active bool, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, active)
	return nil
}

func (f *fakeStopAlerter) snapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.events...)
}

func TestStopWatcher_AlertsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	path := filepath.Join(t.TempDir(), "plant-agent-stop")
	alerter := &fakeStopAlerter{}
	w := NewStopWatcher(path, zap.NewNop(), alerter)
	assert.False(t, w.Active())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Eventually(t, w.Active, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return !w.Active() }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, []bool{true, false}, alerter.snapshot())
}

func TestStopWatcher_ActiveAtStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	alerter := &fakeStopAlerter{}

	w := NewStopWatcher(path, zap.NewNop(), alerter)
	assert.True(t, w.Active())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	assert.Eventually(t, func() bool { return len(alerter.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestStopWatcher_MissingDirectory(t *testing.T) {
	w := NewStopWatcher(filepath.Join(t.TempDir(), "absent", "stop"), zap.NewNop())
	err := w.Run(context.Background())
	require.Error(t, err)
}
