package models

import (
	"time"
)

// BridgeHealthStatus is the liveness of the hardware bridge as seen through
// sensor reads.
type BridgeHealthStatus string

const (
	BridgeHealthy   BridgeHealthStatus = "healthy"
	BridgeTimeout   BridgeHealthStatus = "timeout"
	BridgeRecovered BridgeHealthStatus = "recovered"
)

// BridgeHealth tracks the outcome of recent bridge reads.
type BridgeHealth struct {
	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	ConsecutiveFailures int
	Status              BridgeHealthStatus
	TimeoutAt           time.Time // when the bridge was declared unresponsive
}
