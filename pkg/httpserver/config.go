package httpserver

import "time"

// Config holds HTTP listener settings.
type Config struct {
	Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// NewFromConfig creates a Server from Config; zero values keep the defaults.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	all := make([]Option, 0, 6+len(opts))
	if cfg.Addr != "" {
		all = append(all, WithAddr(cfg.Addr))
	}
	if cfg.ReadHeaderTimeout > 0 {
		all = append(all, withTimeout(func(c *config) { c.readHeaderTimeout = cfg.ReadHeaderTimeout }))
	}
	if cfg.ReadTimeout > 0 {
		all = append(all, withTimeout(func(c *config) { c.readTimeout = cfg.ReadTimeout }))
	}
	if cfg.WriteTimeout > 0 {
		all = append(all, withTimeout(func(c *config) { c.writeTimeout = cfg.WriteTimeout }))
	}
	if cfg.IdleTimeout > 0 {
		all = append(all, withTimeout(func(c *config) { c.idleTimeout = cfg.IdleTimeout }))
	}
	if cfg.ShutdownTimeout > 0 {
		all = append(all, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return New(append(all, opts...)...)
}

func withTimeout(f func(*config)) Option { return f }
