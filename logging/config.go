package logging

import "time"

// Config tunes the router. Which sinks exist is decided by whoever builds
// the router.
type Config struct {
	MinimumSeverity Severity
	// BufferSize bounds the publish queue. Publishing into a full queue drops
	// the event.
	BufferSize int
	// Fields are merged into every event's Extra without overriding keys the
	// event already carries.
	Fields map[string]any
	// JSONFlushInterval paces the NDJSON sink; zero flushes every event.
	JSONFlushInterval time.Duration
	DropWarnInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinimumSeverity:   SeverityInfo,
		BufferSize:        512,
		JSONFlushInterval: 2 * time.Second,
		DropWarnInterval:  5 * time.Second,
	}
}

// Tracing lowers the minimum severity so debug events (wire traffic, key
// presses) reach the sinks.
func (c Config) Tracing() Config {
	c.MinimumSeverity = SeverityDebug
	return c
}

func (c Config) fieldsCopy() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	fields := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	return fields
}
