package config

import (
	"fmt"
	"strings"
)

// ValidationErrors collects every problem found in a Config so they can be
// reported at once.
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Port == "" {
		errs.add("server.port is required")
	}

	live := c.Live
	if live.BatchInterval <= 0 {
		errs.add("live.batch_interval must be > 0")
	}
	if live.LivenessTimeout <= 0 {
		errs.add("live.liveness_timeout must be > 0")
	}
	if live.SweepInterval <= 0 {
		errs.add("live.sweep_interval must be > 0")
	} else if live.SweepInterval > live.LivenessTimeout {
		errs.add("live.sweep_interval (%s) must not exceed live.liveness_timeout (%s)",
			live.SweepInterval, live.LivenessTimeout)
	}
	if live.FlushConcurrency < 1 {
		errs.add("live.flush_concurrency must be >= 1")
	}
	if live.SendBuffer < 1 {
		errs.add("live.send_buffer must be >= 1")
	}
	if live.MaxConnsPerUser < 0 {
		errs.add("live.max_conns_per_user must be >= 0")
	}
	if live.HandshakeRate < 0 {
		errs.add("live.handshake_rate must be >= 0")
	}

	switch c.Data.Mode {
	case DataModeMemory:
		if c.Data.Dir == "" {
			errs.add("data.dir is required in memory mode")
		}
	case DataModePostgres:
		if c.Data.DSN == "" {
			errs.add("data.dsn is required in postgres mode (set DATABASE_URL)")
		}
	default:
		errs.add("data.mode must be %q or %q, got %q", DataModeMemory, DataModePostgres, c.Data.Mode)
	}
	if _, err := c.Data.Location(); err != nil {
		errs.add("data.timezone: %v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
