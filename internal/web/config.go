// Package web serves the page manager UI over HTTP.
package web

import "time"

const (
	// DefaultPort is the default HTTP port.
	DefaultPort = 8080

	// DefaultWatchDebounce groups bursts of file events into one reload.
	DefaultWatchDebounce = 200 * time.Millisecond
)

// ServerConfig holds configuration for the web server.
type ServerConfig struct {
	Port       int  // HTTP port to listen on (PHUB_PORT, default 8080)
	LiveReload bool // Inject the live-reload script into pages
}

// IsValid returns true if the configuration is valid.
func (c *ServerConfig) IsValid() bool {
	return c.Port > 0 && c.Port < 65536
}
