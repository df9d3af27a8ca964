package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/security"
)

// buildRedactor assembles the log redactor from the built-in credential
// patterns plus any literals declared in config.
func buildRedactor(cfg config.LogConfig) *security.Redactor {
	redactor := security.NewRedactor()
	for _, p := range security.DefaultPatterns() {
		redactor.AddPattern(p)
	}
	for _, lit := range cfg.RedactLiterals {
		redactor.AddLiteral(lit)
	}
	return redactor
}

// buildLogger constructs the slog logger: a JSON or text handler wrapped
// in the redacting handler so secrets never reach the log stream.
func buildLogger(cfg config.LogConfig, redactor *security.Redactor, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var inner slog.Handler
	if cfg.Format == "text" {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// auditSinks builds the configured audit pipeline. The returned cleanup
// closes whatever the sinks hold open; the store is also returned on its
// own because the gateway and the retention job need direct access.
func auditSinks(cfg config.AuditConfig, redactor *security.Redactor) (audit.Auditor, *audit.Store, func(), error) {
	var (
		sinks   audit.Multi
		closers []func()
	)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("app: opening audit log: %w", err)
		}
		sinks = append(sinks, audit.NewLogger(audit.LoggerConfig{Writer: f, Redactor: redactor}))
		closers = append(closers, func() { _ = f.Close() })
	}

	var store *audit.Store
	if cfg.DBFile != "" {
		s, err := audit.OpenStore(cfg.DBFile)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, nil, fmt.Errorf("app: opening audit store: %w", err)
		}
		store = s
		sinks = append(sinks, s)
		closers = append(closers, func() { _ = s.Close() })
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if len(sinks) == 0 {
		return nil, nil, cleanup, nil
	}
	return sinks, store, cleanup, nil
}

// retention converts configured days into the job's duration.
func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
