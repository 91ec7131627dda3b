package collector

import (
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/version"
)

// basePayload builds the skeleton every payload carries.
func (c *Collector) basePayload(now time.Time) map[string]any {
	return map[string]any{
		"collection_timestamp": float64(now.UnixNano()) / float64(time.Second),
		"os":                   runtime.GOOS,
		"agentVersion":         version.AgentVersion,
		"sdAgentVersion":       version.AgentVersion,
		"agentKey":             c.cfg.AgentKey,
		"internalHostname":     c.hostname,
		"uuid":                 c.agentUUID,
	}
}

// agentUUID derives a stable identifier from the hostname so the backend can
// correlate payloads across restarts.
func agentUUID(hostname string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(hostname)).String()
}

// ResolveHostname picks the reporting hostname: the configured override wins,
// otherwise the OS hostname.
func ResolveHostname(cfg *config.Config) (string, error) {
	if cfg.Hostname != "" {
		return cfg.Hostname, nil
	}
	return os.Hostname()
}
