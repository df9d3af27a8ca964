// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for toolgate.
package config

import (
	"time"

	"github.com/toolgate/toolgate/internal/gateway"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Log controls structured logging output.
	Log LogConfig `yaml:"log"`

	// Server configures the HTTP gateway (bind address, base path, admin auth).
	Server gateway.Config `yaml:"server"`

	// Transport configures the streaming JSON-RPC layer.
	Transport TransportConfig `yaml:"transport"`

	// Permissions points at the tool permission file.
	Permissions PermissionsConfig `yaml:"permissions"`

	// Audit configures the audit trail sinks and retention.
	Audit AuditConfig `yaml:"audit"`
}

// LogConfig controls the slog setup.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// RedactLiterals are extra secret strings scrubbed from every log line
	// on top of the built-in credential patterns.
	RedactLiterals []string `yaml:"redact_literals,omitempty"`
}

// TransportConfig mirrors the tunable knobs of the streaming transport.
type TransportConfig struct {
	// SessionHeader overrides the session token header name.
	SessionHeader string `yaml:"session_header"`

	// Stateless disables session management entirely.
	Stateless bool `yaml:"stateless"`

	// MaxBodyBytes caps POST bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// IdleTimeout is how long a silent SSE stream survives before the
	// reaper closes it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ReapInterval is how often idle streams are scanned for.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// PermissionsConfig locates the tool permission declarations.
type PermissionsConfig struct {
	// File is the path to the tool_permissions YAML file.
	File string `yaml:"file"`
}

// AuditConfig configures where audit entries go and how long they live.
type AuditConfig struct {
	// LogFile receives JSONL audit entries. Empty disables the file sink.
	LogFile string `yaml:"log_file"`

	// DBFile is the SQLite audit store path. Empty disables the store
	// (and with it the /api/audit endpoint and retention job).
	DBFile string `yaml:"db_file"`

	// RetentionDays is how long stored entries are kept. Zero keeps forever.
	RetentionDays int `yaml:"retention_days"`

	// PurgeSchedule is the cron expression for the retention job.
	PurgeSchedule string `yaml:"purge_schedule"`
}

// defaults fills zero values with sensible defaults. Server and transport
// defaults are applied downstream by their own packages.
func (c *Config) defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Audit.PurgeSchedule == "" {
		c.Audit.PurgeSchedule = "0 3 * * *"
	}
}
