package daemon

import "github.com/serverdensity/sd-agent/internal/config"

// ConfdChanged is published when files under conf.d change on disk.
type ConfdChanged struct {
	Path string
}

// ContainersChanged is published by service discovery with the regenerated
// check configurations for the current container population.
type ContainersChanged struct {
	Configs []config.CheckConfig
}
