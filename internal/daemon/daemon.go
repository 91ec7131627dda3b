// Package daemon wires the agent together: forwarder, statsd listener,
// service discovery, the conf.d watcher and the scheduled collector.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/collector"
	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/daemon/events"
	"github.com/serverdensity/sd-agent/internal/emitter"
	"github.com/serverdensity/sd-agent/internal/forwarder"
	"github.com/serverdensity/sd-agent/internal/metrics"
	"github.com/serverdensity/sd-agent/internal/servicedisco"
	"github.com/serverdensity/sd-agent/internal/statsd"

	// Bundled checks register themselves for conf.d loading.
	_ "github.com/serverdensity/sd-agent/internal/checks/agentmetrics"
	_ "github.com/serverdensity/sd-agent/internal/checks/httpcheck"
)

const stopTimeout = 10 * time.Second

// Daemon owns the lifecycle of every agent component.
type Daemon struct {
	cfg      *config.Config
	hostname string
	bus      *events.Bus
	registry *prom.Registry
	recorder metrics.Recorder

	queue     *forwarder.Queue
	fwd       *forwarder.Forwarder
	nats      *emitter.NATSEmitter
	coll      *collector.Collector
	scheduler gocron.Scheduler

	statsdServer   *statsd.Server
	statsdReporter *statsd.Reporter
	discovery      *servicedisco.Engine
	watcher        *ConfdWatcher

	mu         sync.Mutex
	discovered []config.CheckConfig
}

// New assembles a daemon from configuration. Nothing is started yet.
func New(cfg *config.Config) (*Daemon, error) {
	hostname, err := collector.ResolveHostname(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve hostname: %w", err)
	}

	if err := os.MkdirAll(cfg.RunPath, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	queue, err := forwarder.NewQueue(filepath.Join(cfg.RunPath, "forwarder.db"))
	if err != nil {
		return nil, fmt.Errorf("open payload queue: %w", err)
	}

	upstream := emitter.NewHTTPEmitter(cfg.IntakeURL(), cfg.AgentKey,
		cfg.SkipSSLValidation, cfg.Forwarder.Timeout.Duration())
	fwd := forwarder.New(cfg, queue, upstream, emitter.NewStatus(upstream.Name()), recorder, registry)

	targets := []collector.Target{
		{Emitter: forwarder.QueueEmitter{F: fwd}, Status: emitter.NewStatus("forwarder")},
	}

	var natsEmitter *emitter.NATSEmitter
	if cfg.NATS.Enabled {
		natsEmitter, err = emitter.NewNATSEmitter(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			queue.Close()
			return nil, fmt.Errorf("nats emitter: %w", err)
		}
		targets = append(targets, collector.Target{
			Emitter: natsEmitter,
			Status:  emitter.NewStatus(natsEmitter.Name()),
		})
	}

	agg := aggregator.New(aggregator.Options{
		Hostname:             hostname,
		Interval:             cfg.CheckFreq.Duration(),
		HistogramAggregates:  cfg.HistogramAggregates,
		HistogramPercentiles: cfg.HistogramPercentiles,
	})
	coll := collector.New(cfg, hostname, agg, targets, collector.WithRecorder(recorder))

	d := &Daemon{
		cfg:      cfg,
		hostname: hostname,
		bus:      events.NewBus(),
		registry: registry,
		recorder: recorder,
		queue:    queue,
		fwd:      fwd,
		nats:     natsEmitter,
		coll:     coll,
	}
	return d, nil
}

// Run starts every component and blocks until ctx is canceled, then shuts
// down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("starting agent daemon", "hostname", d.hostname)

	if err := d.fwd.Start(ctx); err != nil {
		return err
	}

	if d.cfg.Statsd.Enabled {
		if err := d.startStatsd(); err != nil {
			return err
		}
	}

	go d.reloadLoop(ctx)
	d.reloadChecks()

	watcher, err := NewConfdWatcher(d.cfg.ConfdPath, d.bus)
	if err != nil {
		slog.Warn("conf.d watcher unavailable", "error", err)
	} else if err := watcher.Start(); err != nil {
		slog.Warn("conf.d watcher failed to start", "error", err)
	} else {
		d.watcher = watcher
	}

	if d.cfg.Discovery.Enabled {
		if err := d.startDiscovery(ctx); err != nil {
			slog.Warn("service discovery unavailable", "error", err)
		}
	}

	if err := d.startScheduler(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown requested")
	return d.stop()
}

func (d *Daemon) startStatsd() error {
	agg := aggregator.New(aggregator.Options{
		Hostname: d.hostname,
		Interval: d.cfg.Statsd.FlushInterval.Duration(),
	})
	server := statsd.NewServer(d.cfg, agg, d.recorder)
	if err := server.Start(); err != nil {
		return fmt.Errorf("statsd listener: %w", err)
	}
	d.statsdServer = server

	d.statsdReporter = statsd.NewReporter(agg, forwarder.QueueEmitter{F: d.fwd},
		d.cfg.Statsd.FlushInterval.Duration(), d.cfg.AgentKey, d.hostname)
	d.statsdReporter.Start()
	return nil
}

func (d *Daemon) startDiscovery(ctx context.Context) error {
	client, err := servicedisco.NewDockerClient(d.cfg.Discovery.DockerHost, 5*time.Second)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		return err
	}

	templates, err := config.LoadAutoConfTemplates(d.cfg.ConfdPath)
	if err != nil {
		return fmt.Errorf("load auto_conf templates: %w", err)
	}
	if len(templates) == 0 {
		slog.Info("service discovery enabled but no auto_conf templates found")
	}

	d.discovery = servicedisco.NewEngine(d.cfg.Discovery, client, templates,
		func(configs []config.CheckConfig) {
			pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.bus.Publish(pubCtx, ContainersChanged{Configs: configs}); err != nil {
				slog.Warn("could not publish discovery update", "error", err)
			}
		})
	d.discovery.Start()
	slog.Info("service discovery started", "docker_host", d.cfg.Discovery.DockerHost)
	return nil
}

func (d *Daemon) startScheduler(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(d.cfg.CheckFreq.Duration()),
		gocron.NewTask(func() {
			if err := d.coll.RunCycle(ctx); err != nil {
				slog.Error("collection cycle failed", "error", err)
			}
		}),
		gocron.WithName("collector"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule collector: %w", err)
	}

	d.scheduler = scheduler
	scheduler.Start()
	slog.Info("collector scheduled", "interval", d.cfg.CheckFreq.Duration())
	return nil
}

// reloadLoop reacts to conf.d edits and discovery updates.
func (d *Daemon) reloadLoop(ctx context.Context) {
	confd, cancelConfd := events.Subscribe[ConfdChanged](d.bus, 4)
	defer cancelConfd()
	containers, cancelContainers := events.Subscribe[ContainersChanged](d.bus, 4)
	defer cancelContainers()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-confd:
			if !ok {
				return
			}
			d.reloadChecks()
		case evt, ok := <-containers:
			if !ok {
				return
			}
			d.mu.Lock()
			d.discovered = evt.Configs
			d.mu.Unlock()
			d.reloadChecks()
		}
	}
}

// reloadChecks regenerates the active check set from conf.d plus the latest
// discovery output. The swap takes effect between collection cycles.
func (d *Daemon) reloadChecks() {
	fileConfigs, errs := config.LoadCheckConfigs(d.cfg.ConfdPath)
	var initErrors []checks.InitError
	for _, err := range errs {
		slog.Warn("check config skipped", "error", err)
		initErrors = append(initErrors, checks.InitError{Check: "conf.d", Err: err})
	}

	d.mu.Lock()
	merged := append(append([]config.CheckConfig{}, fileConfigs...), d.discovered...)
	d.mu.Unlock()

	loaded, loadErrors := checks.Load(merged, d.cfg)
	initErrors = append(initErrors, loadErrors...)
	for _, ie := range loadErrors {
		slog.Warn("check failed to initialize", "check", ie.Check, "error", ie.Err)
	}
	d.coll.SetChecks(loaded, initErrors)
}

// stop shuts everything down in reverse start order.
func (d *Daemon) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var errs []error
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if d.discovery != nil {
		d.discovery.Stop(ctx)
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if d.statsdReporter != nil {
		d.statsdReporter.Stop(ctx)
	}
	if d.statsdServer != nil {
		if err := d.statsdServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.fwd.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if d.nats != nil {
		d.nats.Close()
	}
	d.bus.Close()
	if err := d.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	slog.Info("agent daemon stopped")
	return nil
}
