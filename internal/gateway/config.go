package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind              string        `yaml:"bind"`
	BasePath          string        `yaml:"base_path"`
	Auth              AuthConfig    `yaml:"auth"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
//
// The server deliberately carries no WriteTimeout: SSE streams stay open
// for the lifetime of a session and a write deadline would sever them.
// Idle streams are reclaimed by the transport's own reaper instead.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.BasePath == "" {
		c.BasePath = "/mcp"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
