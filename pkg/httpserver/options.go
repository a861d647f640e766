package httpserver

import (
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*config)

func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: WithAddr: addr cannot be empty")
	}
	return func(c *config) { c.addr = addr }
}

func WithShutdownTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: WithShutdownTimeout: duration must be > 0")
	}
	return func(c *config) { c.shutdownTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnStarted registers a callback invoked once the listener is bound.
func WithOnStarted(fn func(addr string)) Option {
	return func(c *config) { c.onStarted = fn }
}
