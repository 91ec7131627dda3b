package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoConfDir is the conf.d subdirectory holding service discovery templates.
const AutoConfDir = "auto_conf"

// CheckConfig is the parsed configuration of one check: a shared init_config
// plus one instance map per monitored target.
type CheckConfig struct {
	Name       string         `yaml:"-"`
	InitConfig map[string]any `yaml:"init_config"`
	Instances  []Instance     `yaml:"instances"`

	// Identifiers lists the container identifiers an auto_conf template
	// applies to. Ignored in regular conf.d files.
	Identifiers []string `yaml:"docker_identifiers,omitempty"`

	// Source records where the config came from: "file:<path>" or
	// "docker:<identifier>" for discovered configs.
	Source string `yaml:"-"`
}

// Instance is a single instance block from a check config file.
type Instance map[string]any

// MinCollectionInterval returns the per-instance collection interval floor,
// or zero when the instance runs every cycle.
func (i Instance) MinCollectionInterval() time.Duration {
	switch v := i["min_collection_interval"].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

// Tags returns the instance's tags list, if any.
func (i Instance) Tags() []string {
	raw, ok := i["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// String fetches a string-typed instance option.
func (i Instance) String(key string) string {
	s, _ := i[key].(string)
	return s
}

// Bool fetches a bool-typed instance option; yaml "yes"/"true" strings are
// accepted for compatibility with legacy configs.
func (i Instance) Bool(key string) bool {
	switch v := i[key].(type) {
	case bool:
		return v
	case string:
		return v == "yes" || v == "true" || v == "1"
	case int:
		return v != 0
	}
	return false
}

// LoadCheckConfigs parses every <check>.yaml under confdPath, skipping the
// auto_conf directory. A malformed file is reported but does not prevent
// other checks from loading.
func LoadCheckConfigs(confdPath string) ([]CheckConfig, []error) {
	entries, err := os.ReadDir(confdPath)
	if err != nil {
		return nil, []error{fmt.Errorf("read conf.d directory: %w", err)}
	}

	var configs []CheckConfig
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(confdPath, entry.Name())
		cc, err := LoadCheckConfig(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("check config %s: %w", entry.Name(), err))
			continue
		}
		configs = append(configs, *cc)
	}
	sort.Slice(configs, func(a, b int) bool { return configs[a].Name < configs[b].Name })
	return configs, errs
}

// LoadCheckConfig parses a single check configuration file. The check name is
// the file basename without extension.
func LoadCheckConfig(path string) (*CheckConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read check config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cc CheckConfig
	if err := yaml.Unmarshal([]byte(expanded), &cc); err != nil {
		return nil, fmt.Errorf("unmarshal check config: %w", err)
	}
	if len(cc.Instances) == 0 {
		return nil, fmt.Errorf("no instances defined")
	}
	cc.Name = checkNameFromPath(path)
	cc.Source = "file:" + path
	return &cc, nil
}

// LoadAutoConfTemplates parses the auto_conf templates used by service
// discovery, keyed by check name.
func LoadAutoConfTemplates(confdPath string) (map[string]CheckConfig, error) {
	dir := filepath.Join(confdPath, AutoConfDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]CheckConfig{}, nil
		}
		return nil, fmt.Errorf("read auto_conf directory: %w", err)
	}

	templates := make(map[string]CheckConfig)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cc, err := LoadCheckConfig(path)
		if err != nil {
			return nil, fmt.Errorf("auto_conf template %s: %w", entry.Name(), err)
		}
		templates[cc.Name] = *cc
	}
	return templates, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func checkNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
}
