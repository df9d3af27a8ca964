package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the structural validity of a Config. All problems are
// reported at once via errors.Join so operators fix the file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Errorf("config: invalid log level %q", cfg.Log.Level))
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("config: invalid log format %q (json or text)", cfg.Log.Format))
	}

	if cfg.Server.Bind != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Server.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: invalid bind address %q", cfg.Server.Bind))
		}
	}
	if bp := cfg.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("config: base_path %q must start with /", bp))
	}

	if cfg.Transport.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("config: max_body_bytes must not be negative"))
	}
	if cfg.Transport.IdleTimeout < 0 || cfg.Transport.ReapInterval < 0 {
		errs = append(errs, errors.New("config: transport timeouts must not be negative"))
	}

	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, errors.New("config: retention_days must not be negative"))
	}
	if cfg.Audit.RetentionDays > 0 && cfg.Audit.DBFile == "" {
		errs = append(errs, errors.New("config: retention_days requires audit db_file"))
	}

	return errors.Join(errs...)
}
