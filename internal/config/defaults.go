package config

import (
	"log/slog"
	"time"
)

var defaultHistogramAggregates = []string{"max", "median", "avg", "count"}

func (c *Config) applyDefaults() {
	if c.CheckFreq.Duration() <= 0 {
		c.CheckFreq = Duration(DefaultCheckFrequency)
	}
	if c.ConfdPath == "" {
		c.ConfdPath = "/etc/sd-agent/conf.d"
	}
	if c.RunPath == "" {
		c.RunPath = "/var/run/sd-agent"
	}

	if c.Forwarder.BindHost == "" {
		c.Forwarder.BindHost = "localhost"
	}
	if c.Forwarder.ListenPort == 0 {
		c.Forwarder.ListenPort = DefaultForwarderPort
	}
	if c.Forwarder.Timeout.Duration() <= 0 {
		c.Forwarder.Timeout = Duration(20 * time.Second)
	}
	if c.Forwarder.MaxConns <= 0 {
		c.Forwarder.MaxConns = 64
	}
	if c.Forwarder.MaxQueueAge.Duration() <= 0 {
		c.Forwarder.MaxQueueAge = Duration(30 * time.Minute)
	}
	if c.Forwarder.MaxQueueSize <= 0 {
		c.Forwarder.MaxQueueSize = 30 << 20
	}

	if c.Statsd.Port == 0 {
		c.Statsd.Port = 8125
	}
	if c.Statsd.FlushInterval.Duration() <= 0 {
		c.Statsd.FlushInterval = Duration(10 * time.Second)
	}

	if c.Discovery.DockerHost == "" {
		c.Discovery.DockerHost = "unix:///var/run/docker.sock"
	}
	if c.Discovery.PollInterval.Duration() <= 0 {
		c.Discovery.PollInterval = Duration(10 * time.Second)
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "sd.agent.payloads"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if len(c.HistogramAggregates) == 0 {
		c.HistogramAggregates = append([]string(nil), defaultHistogramAggregates...)
	} else {
		c.HistogramAggregates = filterAggregates(c.HistogramAggregates)
	}
	if len(c.HistogramPercentiles) == 0 {
		c.HistogramPercentiles = []float64{0.95}
	} else {
		c.HistogramPercentiles = filterPercentiles(c.HistogramPercentiles)
	}
}

func filterAggregates(in []string) []string {
	valid := map[string]bool{"min": true, "max": true, "median": true, "avg": true, "sum": true, "count": true}
	out := make([]string, 0, len(in))
	for _, a := range in {
		if !valid[a] {
			slog.Warn("Ignoring invalid histogram aggregate", "aggregate", a)
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return append([]string(nil), defaultHistogramAggregates...)
	}
	return out
}

func filterPercentiles(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	for _, p := range in {
		if p <= 0 || p >= 1 {
			slog.Warn("Ignoring histogram percentile outside ]0;1[", "percentile", p)
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []float64{0.95}
	}
	return out
}
