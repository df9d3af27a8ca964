package gateway

import (
	"sync/atomic"
	"time"
)

// Metrics tracks gateway-level counters using atomic operations for lock-free concurrency.
type Metrics struct {
	calls         atomic.Int64
	errors        atomic.Int64
	approvals     atomic.Int64
	notifications atomic.Int64
	totalLatency  atomic.Int64 // nanoseconds
}

// RecordCall records a completed tool invocation.
func (m *Metrics) RecordCall(latency time.Duration) {
	m.calls.Add(1)
	m.totalLatency.Add(int64(latency))
}

// RecordError records a call that ended in a JSON-RPC error.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// RecordApprovalGated records a call parked behind an approval requirement.
func (m *Metrics) RecordApprovalGated() {
	m.approvals.Add(1)
}

// RecordNotification records an inbound notification.
func (m *Metrics) RecordNotification() {
	m.notifications.Add(1)
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	calls := m.calls.Load()
	snap := MetricsSnapshot{
		Calls:         calls,
		Errors:        m.errors.Load(),
		Approvals:     m.approvals.Load(),
		Notifications: m.notifications.Load(),
	}
	if calls > 0 {
		snap.AvgLatency = time.Duration(m.totalLatency.Load() / calls)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Calls         int64         `json:"calls"`
	Errors        int64         `json:"errors"`
	Approvals     int64         `json:"approvals_gated"`
	Notifications int64         `json:"notifications"`
	AvgLatency    time.Duration `json:"avg_latency_ns"`
}
