package servicedisco

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/serverdensity/sd-agent/internal/config"
)

// ContainerLister is the Docker surface the engine needs; *DockerClient
// implements it.
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]Container, error)
	InspectPid(ctx context.Context, id string) (int, error)
}

// Engine polls Docker and produces check configurations from auto_conf
// templates whenever the container set changes.
type Engine struct {
	cfg       config.Discovery
	client    ContainerLister
	templates map[string]config.CheckConfig
	onChange  func([]config.CheckConfig)

	lastHash string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine builds a discovery engine. templates is the auto_conf template
// set keyed by check name; onChange receives the full regenerated config set
// whenever the container population changes.
func NewEngine(cfg config.Discovery, client ContainerLister, templates map[string]config.CheckConfig, onChange func([]config.CheckConfig)) *Engine {
	return &Engine{
		cfg:       cfg,
		client:    client,
		templates: templates,
		onChange:  onChange,
		done:      make(chan struct{}),
	}
}

// Start launches the poll loop. The first poll runs immediately so checks
// for already-running containers exist before the first collection cycle.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.loop(ctx)
}

func (e *Engine) Stop(ctx context.Context) {
	if e.cancel == nil {
		return
	}
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	interval := e.cfg.PollInterval.Duration()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	containers, err := e.client.ListContainers(ctx)
	if err != nil {
		slog.Warn("container listing failed", "error", err)
		return
	}

	hash := containerSetHash(containers)
	if hash == e.lastHash {
		return
	}
	e.lastHash = hash

	configs := e.Generate(ctx, containers)
	slog.Info("container set changed", "containers", len(containers), "discovered_checks", len(configs))
	if e.onChange != nil {
		e.onChange(configs)
	}
}

// containerSetHash fingerprints the population so restarts of the same
// containers still trigger a reload (IDs change) while an idle host does not.
func containerSetHash(containers []Container) string {
	keys := make([]string, 0, len(containers))
	for _, c := range containers {
		keys = append(keys, c.ID+"|"+c.State)
	}
	sort.Strings(keys)
	sum := sha1.Sum([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}

// Generate builds check configurations for every container that matches a
// template. Configurations for the same check are merged into one; the first
// template's init_config wins.
func (e *Engine) Generate(ctx context.Context, containers []Container) []config.CheckConfig {
	byName := make(map[string]*config.CheckConfig)
	var order []string

	for _, c := range containers {
		if c.State != "" && c.State != "running" {
			continue
		}
		identifier := Identifier(c)
		checkName, tpl, ok := e.matchTemplate(identifier)
		if !ok {
			continue
		}

		vars := containerVars{
			container: c,
			tags:      containerTags(c, e.cfg.LabelsAsTags),
		}
		if templateNeedsPid(tpl) {
			pid, err := e.client.InspectPid(ctx, c.ID)
			if err != nil {
				slog.Warn("container inspect failed", "container", c.Name(), "error", err)
			}
			vars.pid = pid
		}

		target, exists := byName[checkName]
		if !exists {
			target = &config.CheckConfig{
				Name:       checkName,
				InitConfig: tpl.InitConfig,
				Source:     "docker:" + identifier,
			}
			byName[checkName] = target
			order = append(order, checkName)
		} else if fmt.Sprint(target.InitConfig) != fmt.Sprint(tpl.InitConfig) {
			slog.Warn("conflicting init_config for discovered check, keeping first",
				"check", checkName, "container", c.Name())
		}

		for i, instTpl := range tpl.Instances {
			filled, err := vars.FillInstance(instTpl)
			if err != nil {
				slog.Warn("could not fill check template",
					"check", checkName, "container", c.Name(), "instance", i, "error", err)
				continue
			}
			target.Instances = append(target.Instances, filled)
		}
	}

	configs := make([]config.CheckConfig, 0, len(order))
	for _, name := range order {
		if len(byName[name].Instances) > 0 {
			configs = append(configs, *byName[name])
		}
	}
	return configs
}

// matchTemplate finds the template whose identifier list (or name, when the
// list is empty) matches the container identifier.
func (e *Engine) matchTemplate(identifier string) (string, config.CheckConfig, bool) {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tpl := e.templates[name]
		if len(tpl.Identifiers) == 0 {
			if name == identifier {
				return name, tpl, true
			}
			continue
		}
		for _, id := range tpl.Identifiers {
			if id == identifier {
				return name, tpl, true
			}
		}
	}
	return "", config.CheckConfig{}, false
}

// templateNeedsPid reports whether any instance references %%pid%%, so the
// engine only pays for inspect calls when needed.
func templateNeedsPid(tpl config.CheckConfig) bool {
	var scan func(any) bool
	scan = func(raw any) bool {
		switch val := raw.(type) {
		case string:
			return strings.Contains(val, "%%pid%%")
		case map[string]any:
			for _, inner := range val {
				if scan(inner) {
					return true
				}
			}
		case []any:
			for _, inner := range val {
				if scan(inner) {
					return true
				}
			}
		}
		return false
	}
	for _, inst := range tpl.Instances {
		for _, v := range inst {
			if scan(v) {
				return true
			}
		}
	}
	return false
}
