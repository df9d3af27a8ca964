// Package app provides the shared entry point for the toolgate binary.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/cron"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/internal/tool"
	"github.com/toolgate/toolgate/internal/transport"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string
}

// Run loads configuration, wires the registry, transport, gateway, and
// audit pipeline, and blocks until a shutdown signal is received.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Security foundation: every log line passes through the redactor.
	redactor := buildRedactor(cfg.Log)
	logger := buildLogger(cfg.Log, redactor, os.Stderr)

	auditor, store, auditCleanup, err := auditSinks(cfg.Audit, redactor)
	if err != nil {
		return err
	}
	defer auditCleanup()

	// Registry and permission layer.
	checker := permission.NewChecker(logger)
	registry := tool.NewRegistry(checker, logger)
	if auditor != nil {
		registry.SetAuditor(auditor)
	}
	if cfg.Permissions.File != "" {
		if err := registry.LoadPermissionsFile(cfg.Permissions.File); err != nil {
			return err
		}
		logger.Info("permissions loaded", "file", cfg.Permissions.File, "tools", len(registry.All()))
	}

	// Transport and gateway.
	tr := transport.New(transport.Options{
		SessionHeader:  cfg.Transport.SessionHeader,
		EnableSessions: !cfg.Transport.Stateless,
		MaxBodyBytes:   cfg.Transport.MaxBodyBytes,
		IdleTimeout:    cfg.Transport.IdleTimeout,
		ReapInterval:   cfg.Transport.ReapInterval,
		Logger:         logger,
	})

	metrics := &gateway.Metrics{}
	adapter := gateway.NewAdapter(registry, tr, metrics, logger)
	tr.RegisterHandler(adapter.Handle)

	var auditReader gateway.AuditReader
	if store != nil {
		auditReader = store
	}
	server := gateway.New(cfg.Server, registry, tr, metrics, auditReader, logger)

	// Retention job: only meaningful with a store and a bounded retention.
	var scheduler *cron.Scheduler
	if store != nil && cfg.Audit.RetentionDays > 0 {
		scheduler = cron.NewScheduler(logger)
		job := &cron.AuditRetentionJob{
			Store:        store,
			Retention:    retention(cfg.Audit.RetentionDays),
			Logger:       logger,
			ScheduleExpr: cfg.Audit.PurgeSchedule,
		}
		if err := scheduler.RegisterJob(job); err != nil {
			return err
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	if err := server.Start(); err != nil {
		return err
	}
	logger.Info("toolgate started", "version", params.Version, "commit", params.Commit)

	// Block until SIGINT or SIGTERM, then shut down in reverse order of
	// startup: stop accepting HTTP, drain in-flight JSON-RPC waits, then
	// stop the background jobs.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	tr.Close()
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown failed", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/toolgate/toolgate.yaml →
// ~/.config/toolgate/toolgate.yaml → ./toolgate.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "toolgate", "toolgate.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "toolgate", "toolgate.yaml"))
	}

	candidates = append(candidates, "toolgate.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
