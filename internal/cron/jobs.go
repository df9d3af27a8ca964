package cron

import (
	"context"
	"log/slog"
	"time"
)

// AuditStore is the subset of the audit store needed by the retention job.
// Defined here to avoid a dependency on the audit package.
type AuditStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetentionJob deletes audit entries older than Retention.
type AuditRetentionJob struct {
	Store        AuditStore
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *" (daily, 03:00)
}

// Compile-time interface check.
var _ Job = (*AuditRetentionJob)(nil)

// Name implements Job.
func (j *AuditRetentionJob) Name() string { return "audit_retention" }

// Schedule implements Job.
func (j *AuditRetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run purges audit entries older than the retention window.
func (j *AuditRetentionJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.Retention)
	purged, err := j.Store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		j.Logger.Info("cron: purged audit entries", "count", purged, "cutoff", cutoff)
	}
	return nil
}
