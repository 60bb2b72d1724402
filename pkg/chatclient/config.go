package chatclient

import (
	"net/http"
	"time"
)

// Config configures a messaging client.
type Config struct {
	// ServerURL is the messaging service base URL, e.g. http://host:8083.
	// The websocket endpoint is derived from it.
	ServerURL string

	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// AckTimeout bounds how long an optimistic send waits for the server
	// acknowledgment before the entry is marked failed.
	AckTimeout time.Duration

	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}
