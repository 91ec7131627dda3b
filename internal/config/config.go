package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCheckFrequency is the collection interval used when check_freq is omitted.
const DefaultCheckFrequency = 60 * time.Second

// DefaultForwarderPort is the local forwarder listen port.
const DefaultForwarderPort = 17124

// Config is the main agent configuration, loaded from agent.yaml.
type Config struct {
	AgentKey  string `yaml:"agent_key"`
	SDURL     string `yaml:"sd_url,omitempty"`
	SDAccount string `yaml:"sd_account,omitempty"`

	Hostname  string   `yaml:"hostname,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	CheckFreq Duration `yaml:"check_freq,omitempty"`

	// ConfdPath is the directory holding per-check configuration
	// (<check>.yaml files plus an auto_conf/ subdirectory for service
	// discovery templates).
	ConfdPath string `yaml:"confd_path,omitempty"`
	// RunPath is where the agent persists run state (status, forwarder queue).
	RunPath string `yaml:"run_path,omitempty"`

	SkipSSLValidation bool `yaml:"skip_ssl_validation,omitempty"`
	CreateCheckTags   bool `yaml:"create_sd_check_tags,omitempty"`
	CheckTimings      bool `yaml:"check_timings,omitempty"`
	// UTF8Decoding scrubs invalid UTF-8 from statsd datagrams instead of
	// letting broken sequences reach the aggregator.
	UTF8Decoding bool `yaml:"utf8_decoding,omitempty"`

	HistogramAggregates  []string  `yaml:"histogram_aggregates,omitempty"`
	HistogramPercentiles []float64 `yaml:"histogram_percentiles,omitempty"`

	Forwarder Forwarder `yaml:"forwarder,omitempty"`
	Statsd    Statsd    `yaml:"statsd,omitempty"`
	Discovery Discovery `yaml:"service_discovery,omitempty"`
	NATS      NATS      `yaml:"nats,omitempty"`
	Logging   Logging   `yaml:"logging,omitempty"`
}

// Forwarder configures the local buffering proxy between collector and intake.
type Forwarder struct {
	BindHost        string   `yaml:"bind_host,omitempty"`
	ListenPort      int      `yaml:"listen_port,omitempty"`
	Timeout         Duration `yaml:"timeout,omitempty"`
	NonLocalTraffic bool     `yaml:"non_local_traffic,omitempty"`
	MaxConns        int      `yaml:"max_connections,omitempty"`
	// MaxQueueAge bounds how long an undeliverable payload is retried
	// before being dropped.
	MaxQueueAge Duration `yaml:"max_queue_age,omitempty"`
	// MaxQueueSize bounds the total queued payload bytes; the oldest
	// payloads are dropped once the bound is exceeded.
	MaxQueueSize int64 `yaml:"max_queue_size,omitempty"`
}

// Statsd configures the UDP statsd listener.
type Statsd struct {
	Enabled         bool     `yaml:"enabled,omitempty"`
	Port            int      `yaml:"port,omitempty"`
	FlushInterval   Duration `yaml:"flush_interval,omitempty"`
	MetricNamespace string   `yaml:"metric_namespace,omitempty"`
}

// Discovery configures Docker-based service discovery.
type Discovery struct {
	Enabled      bool     `yaml:"enabled,omitempty"`
	DockerHost   string   `yaml:"docker_host,omitempty"`
	PollInterval Duration `yaml:"poll_interval,omitempty"`
	// LabelsAsTags lists container labels added as tags to every
	// discovered instance.
	LabelsAsTags []string `yaml:"labels_as_tags,omitempty"`
}

// NATS configures optional payload forwarding to a NATS JetStream subject.
type NATS struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
}

// Duration is a yaml-friendly time.Duration accepting "30s" style strings
// or bare integers (seconds, matching the legacy config format).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load reads, expands and validates the main agent configuration.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Environment references in the YAML ($AGENT_KEY etc.) are expanded
	// before parsing so secrets can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IntakeURL returns the intake endpoint, derived from sd_url or sd_account.
func (c *Config) IntakeURL() string {
	if c.SDURL != "" {
		return strings.TrimSuffix(c.SDURL, "/")
	}
	return fmt.Sprintf("https://%s.agent.serverdensity.io", c.SDAccount)
}

// ForwarderURL is the local endpoint the collector posts payloads to.
func (c *Config) ForwarderURL() string {
	return fmt.Sprintf("http://%s:%d", c.Forwarder.BindHost, c.Forwarder.ListenPort)
}
