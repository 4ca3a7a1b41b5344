// Package audit emits structured audit events for authorization decisions
// and policy lifecycle changes. Events are buffered and flushed by a
// background goroutine so the evaluation hot path never blocks on IO.
package audit

import (
	"context"
	"fmt"
	"time"
)

// Logger logs audit events
type Logger interface {
	// LogEvaluation logs one authorization decision
	LogEvaluation(ctx context.Context, eval *Evaluation)

	// LogPolicyChange logs a policy lifecycle mutation
	LogPolicyChange(ctx context.Context, change *PolicyChange)

	// LogRoleChange logs a role directory mutation
	LogRoleChange(ctx context.Context, change *RoleChange)

	// Flush flushes pending events
	Flush() error

	// Close closes the logger and flushes remaining events
	Close() error
}

// Config for the audit logger
type Config struct {
	// Enabled enables audit logging
	Enabled bool

	// Output type: stdout or file
	Type string

	// For file output
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int

	// Performance tuning
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		BufferSize:     1000,
		FlushInterval:  100 * time.Millisecond,
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Type != "stdout" && c.Type != "file" {
		return fmt.Errorf("invalid audit type: %s (must be stdout or file)", c.Type)
	}

	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}

	return nil
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return &noopLogger{}, nil
	}

	var writer Writer
	var err error

	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}

	return newAsyncLogger(writer, *cfg), nil
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

func (n *noopLogger) LogEvaluation(ctx context.Context, eval *Evaluation)        {}
func (n *noopLogger) LogPolicyChange(ctx context.Context, change *PolicyChange)  {}
func (n *noopLogger) LogRoleChange(ctx context.Context, change *RoleChange)      {}
func (n *noopLogger) Flush() error                                               { return nil }
func (n *noopLogger) Close() error                                               { return nil }
