// Package api hosts the HTTP server. JSON endpoints live in the handlers
// subpackage.
package api

import (
	"time"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "25M"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string
	Port string

	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BodyLimit uses echo notation, e.g. "25M".
	BodyLimit string

	// UploadDir is served under URLPrefix when storage is local.
	UploadDir string
	URLPrefix string

	Debug bool
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            "8080",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		URLPrefix:       "/uploads",
	}
}

// ConfigFromSettings creates a Config from the application settings.
// Zero values in settings keep the defaults.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := settings.WebServer

	cfg.Host = ws.Host
	if ws.Port != "" {
		cfg.Port = ws.Port
	}
	if len(ws.AllowOrigins) > 0 {
		cfg.AllowedOrigins = ws.AllowOrigins
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if settings.Storage.Type == "" || settings.Storage.Type == "local" {
		cfg.UploadDir = settings.ResolvePath(settings.Storage.UploadDir)
	}
	if settings.Storage.URLPrefix != "" {
		cfg.URLPrefix = settings.Storage.URLPrefix
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return configError("port is required")
	case c.ReadTimeout <= 0:
		return configError("read timeout must be positive")
	case c.WriteTimeout <= 0:
		return configError("write timeout must be positive")
	}
	return nil
}

// Address returns the address the server listens on.
func (c *Config) Address() string {
	if c.Host == "" {
		return ":" + c.Port
	}
	return c.Host + ":" + c.Port
}

func configError(msg string) error {
	return errors.Newf("invalid server configuration: %s", msg).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}
