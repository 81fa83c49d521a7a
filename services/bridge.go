package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"plantops/config"
)

// BridgeErrorKind classifies why a bridge invocation failed.
type BridgeErrorKind string

const (
	BridgeErrExit     BridgeErrorKind = "exit"
	BridgeErrTimeout  BridgeErrorKind = "timeout"
	BridgeErrNotFound BridgeErrorKind = "not_found"
	BridgeErrOS       BridgeErrorKind = "os"
)

// BridgeError is returned by Bridge.Run for every failed invocation.
type BridgeError struct {
	Kind     BridgeErrorKind
	Path     string
	ExitCode int
	Stderr   string
	Timeout  time.Duration
	Err      error
}

func (e *BridgeError) Error() string {
	name := bridgeName(e.Path)
	switch e.Kind {
	case BridgeErrExit:
		return fmt.Sprintf("%s exited with code %d: %s", name, e.ExitCode, e.Stderr)
	case BridgeErrTimeout:
		return fmt.Sprintf("%s timed out after %s", name, formatSeconds(e.Timeout))
	case BridgeErrNotFound:
		return fmt.Sprintf("%s not found at: %s", name, e.Path)
	default:
		return fmt.Sprintf("OS error calling %s: %v", name, e.Err)
	}
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Bridge runs the hardware bridge executable as a bounded subprocess.
type Bridge struct {
	path        string
	interpreter string
}

func NewBridge(path, interpreter string) *Bridge {
	return &Bridge{path: path, interpreter: interpreter}
}

// NewBridgeFromConfig builds a bridge from the loaded configuration.
func NewBridgeFromConfig(cfg *config.Config) *Bridge {
	return NewBridge(cfg.BridgePath, cfg.BridgeInterpreter)
}

func (b *Bridge) Path() string {
	return b.path
}

// CommandString renders the literal invocation kept in audit records.
func (b *Bridge) CommandString(args ...string) string {
	return strings.Join(append(b.argv(), args...), " ")
}

func (b *Bridge) argv() []string {
	if b.interpreter == "" {
		return []string{b.path}
	}
	return []string{b.interpreter, b.path}
}

// Run invokes the bridge with args and returns its trimmed stdout. The
// process is killed when timeout elapses or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(b.argv(), args...)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", &BridgeError{Kind: BridgeErrTimeout, Path: b.path, Timeout: timeout, Err: runCtx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &BridgeError{
			Kind:     BridgeErrExit,
			Path:     b.path,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return "", &BridgeError{Kind: BridgeErrNotFound, Path: b.path, Err: err}
	}

	return "", &BridgeError{Kind: BridgeErrOS, Path: b.path, Err: err}
}

func bridgeName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func formatSeconds(d time.Duration) string {
	secs := d.Seconds()
	if secs == float64(int64(secs)) {
		return fmt.Sprintf("%ds", int64(secs))
	}
	return fmt.Sprintf("%.1fs", secs)
}
