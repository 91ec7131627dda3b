package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the invariants the agent cannot start without.
func (c *Config) Validate() error {
	if c.AgentKey == "" {
		return errors.New("no agent_key configured")
	}
	if c.SDURL == "" && c.SDAccount == "" {
		return errors.New("either sd_url or sd_account must be configured")
	}
	if c.SDURL != "" && !strings.HasPrefix(c.SDURL, "http://") && !strings.HasPrefix(c.SDURL, "https://") {
		return fmt.Errorf("sd_url must be an http(s) URL, got %q", c.SDURL)
	}
	if c.Forwarder.ListenPort < 1 || c.Forwarder.ListenPort > 65535 {
		return fmt.Errorf("forwarder listen_port out of range: %d", c.Forwarder.ListenPort)
	}
	if c.Statsd.Enabled && (c.Statsd.Port < 1 || c.Statsd.Port > 65535) {
		return fmt.Errorf("statsd port out of range: %d", c.Statsd.Port)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats forwarding enabled but no url configured")
	}
	for _, tag := range c.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New("empty host tag configured")
		}
	}
	return nil
}
