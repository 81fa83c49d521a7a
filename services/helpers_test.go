package services

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"plantops/config"

	"github.com/stretchr/testify/require"
)

// fakeBridge is a shell script standing in for the hardware bridge. Every
// invocation appends its arguments to calls.log.
type fakeBridge struct {
	path string
	log  string
}

func newFakeBridge(t *testing.T, body string) *fakeBridge {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake bridge needs a POSIX shell")
	}
	dir := t.TempDir()
	fb := &fakeBridge{
		path: filepath.Join(dir, "farmctl"),
		log:  filepath.Join(dir, "calls.log"),
	}
	script := "#!/bin/sh\necho \"$@\" >> '" + fb.log + "'\n" + body + "\n"
	require.NoError(t, os.WriteFile(fb.path, []byte(script), 0o755))
	return fb
}

func (fb *fakeBridge) bridge() *Bridge {
	return NewBridge(fb.path, "")
}

// calls returns the recorded invocations in order.
func (fb *fakeBridge) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(fb.log)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		DryRun:              true,
		SensorReadAttempts:  3,
		SensorReadSeconds:   2,
		ActionTimeout:       5 * time.Second,
		PhotoTimeout:        5 * time.Second,
		BridgeHealthTimeout: time.Hour,
		Fallback:            config.DefaultFallbackConfig(),
	}
}
