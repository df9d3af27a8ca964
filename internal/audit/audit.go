// Package audit defines the audit collaborator interface consumed by the
// tool registry and provides its built-in sinks: a JSONL stream logger, a
// persistent SQLite store, and a fan-out combinator. Audit emission is
// fire-and-forget from the registry's perspective; sink failures are
// surfaced as errors for the caller to log, never rethrown into the call.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/security"
)

// Entry is a single audit record. Details is expected to be pre-masked by
// the producer; the Logger additionally redacts string values as a last
// line of defense.
type Entry struct {
	Timestamp      time.Time      `json:"timestamp"`
	Action         string         `json:"action"`
	OrganizationID string         `json:"organizationId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	ResourceType   string         `json:"resourceType,omitempty"`
	ResourceID     string         `json:"resourceId,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}

// Auditor receives one entry per terminal call outcome.
type Auditor interface {
	Log(ctx context.Context, entry Entry) error
}

// LoggerConfig configures the JSONL audit logger.
type LoggerConfig struct {
	// Writer is the destination for JSONL output. If nil, entries are
	// only dispatched to OnEntry (useful for testing).
	Writer io.Writer

	// Redactor, if non-nil, is applied to string detail values and the
	// error message before writing.
	Redactor *security.Redactor

	// OnEntry, if non-nil, is called for every entry (used in tests).
	OnEntry func(Entry)

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Logger writes audit entries as JSONL with optional redaction.
type Logger struct {
	writer   io.Writer
	redactor *security.Redactor
	onEntry  func(Entry)
	now      func() time.Time
	mu       sync.Mutex
}

// Compile-time check.
var _ Auditor = (*Logger)(nil)

// NewLogger creates a JSONL audit logger.
func NewLogger(cfg LoggerConfig) *Logger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{
		writer:   cfg.Writer,
		redactor: cfg.Redactor,
		onEntry:  cfg.OnEntry,
		now:      now,
	}
}

// Log implements Auditor. The timestamp is set automatically. The caller's
// Details map is never mutated; a copy is made when redaction applies.
func (l *Logger) Log(_ context.Context, entry Entry) error {
	entry.Timestamp = l.now()

	if l.redactor != nil {
		entry.ErrorMessage = l.redactor.Redact(entry.ErrorMessage)
		entry.Details = l.redactDetails(entry.Details)
	}

	// Dispatch to the test hook and write JSONL under the same lock so
	// observed ordering matches the written stream.
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.onEntry != nil {
		l.onEntry(entry)
	}

	if l.writer != nil {
		if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) redactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return details
	}
	cp := make(map[string]any, len(details))
	for k, v := range details {
		if s, ok := v.(string); ok {
			cp[k] = l.redactor.Redact(s)
			continue
		}
		cp[k] = v
	}
	return cp
}

// Multi fans an entry out to several sinks. Every sink sees every entry;
// the first error is returned after all sinks have run.
type Multi []Auditor

// Compile-time check.
var _ Auditor = (Multi)(nil)

// Log implements Auditor.
func (m Multi) Log(ctx context.Context, entry Entry) error {
	var first error
	for _, a := range m {
		if err := a.Log(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
