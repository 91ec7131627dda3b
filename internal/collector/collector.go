// Package collector runs the collection cycle: system checks, configured
// agent checks, aggregator flush and payload assembly, then hands the result
// to the emitters.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/checks/agentmetrics"
	"github.com/serverdensity/sd-agent/internal/checks/system"
	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/emitter"
	"github.com/serverdensity/sd-agent/internal/metrics"
	"github.com/serverdensity/sd-agent/internal/status"
)

const (
	// The first flushes are logged at info so a fresh install shows signs of
	// life, after which only periodic flushes are.
	flushLoggingInitial = 5
	flushLoggingPeriod  = 10

	agentUpCheck     = "serverdensity.agent.up"
	checkStatusCheck = "serverdensity.agent.check_status"
	checkRunTime     = "serverdensity.agent.check_run_time"
)

// Target pairs an emitter with its delivery bookkeeping.
type Target struct {
	Emitter emitter.Emitter
	Status  *emitter.Status
}

// Collector owns one collection pipeline. Safe for use from a single
// scheduler goroutine; check-set swaps may come from any goroutine.
type Collector struct {
	cfg      *config.Config
	hostname string
	agg      *aggregator.Aggregator
	system   []system.Check
	targets  []Target
	recorder metrics.Recorder
	timings  *agentmetrics.Timings

	mu         sync.Mutex
	loaded     []*checks.LoadedCheck
	initErrors []checks.InitError

	runCount  int64
	lastMeta  map[string]time.Time
	agentUUID string
	now       func() time.Time
}

// Option customizes a Collector.
type Option func(*Collector)

func WithRecorder(r metrics.Recorder) Option {
	return func(c *Collector) { c.recorder = r }
}

func WithTimings(t *agentmetrics.Timings) Option {
	return func(c *Collector) { c.timings = t }
}

func WithSystemChecks(scs []system.Check) Option {
	return func(c *Collector) { c.system = scs }
}

// New builds a collector reporting as hostname through the given targets.
func New(cfg *config.Config, hostname string, agg *aggregator.Aggregator, targets []Target, opts ...Option) *Collector {
	c := &Collector{
		cfg:       cfg,
		hostname:  hostname,
		agg:       agg,
		system:    system.Checks(),
		targets:   targets,
		recorder:  metrics.NoopRecorder{},
		timings:   agentmetrics.DefaultTimings,
		lastMeta:  make(map[string]time.Time),
		agentUUID: agentUUID(hostname),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetChecks atomically replaces the configured check set. Called at startup
// and on conf.d or discovery reloads; takes effect next cycle.
func (c *Collector) SetChecks(loaded []*checks.LoadedCheck, initErrors []checks.InitError) {
	c.mu.Lock()
	c.loaded = loaded
	c.initErrors = initErrors
	c.mu.Unlock()

	names := make([]string, 0, len(loaded))
	for _, lc := range loaded {
		names = append(names, lc.Name)
	}
	slog.Info("check set updated", "checks", names, "init_errors", len(initErrors))
}

// RunCycle executes one collection and emits the payload. Errors from
// individual checks never fail the cycle; only emit failures are returned.
func (c *Collector) RunCycle(ctx context.Context) error {
	start := c.now()
	c.runCount++
	firstRun := c.runCount == 1

	if firstRun {
		slog.Info("collector starting",
			"hostname", c.hostname,
			"agent_key", maskKey(c.cfg.AgentKey),
			"check_freq", c.cfg.CheckFreq.Duration())
	}

	payload := c.basePayload(start)
	c.collectSystem(payload)

	sender := checks.NewAggregatorSender(c.agg, c.hostname)
	checkStatuses := c.runChecks(start, sender)

	serviceChecks := sender.DrainServiceChecks()
	serviceChecks = append(serviceChecks,
		checks.NewServiceCheck(agentUpCheck, checks.StatusOK, c.hostname, nil, ""))

	events := sender.DrainEvents()
	if firstRun {
		events = append(events, checks.Event{
			Timestamp: start.Unix(),
			EventType: "Agent Startup",
			MsgText:   fmt.Sprintf("Version %s", payload["agentVersion"]),
			Host:      c.hostname,
		})
	}

	samples := c.agg.Flush()
	payload[emitter.MetricsKey] = samples
	payload["service_checks"] = serviceChecks
	if len(events) > 0 {
		payload["events"] = events
	}
	c.attachMetadata(payload, start, firstRun)

	elapsed := c.now().Sub(start)
	c.timings.RecordCollection(elapsed)
	c.recorder.ObserveCycleDuration(elapsed)

	err := c.emit(ctx, payload)
	c.persistStatus(start, elapsed, checkStatuses)
	c.logFlush(len(samples), elapsed)
	return err
}

// runChecks executes every due check instance and returns per-check status
// for the status report.
func (c *Collector) runChecks(now time.Time, sender *checks.AggregatorSender) []status.CheckStatus {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()

	var statuses []status.CheckStatus
	for _, lc := range loaded {
		cs := status.CheckStatus{Name: lc.Name, Source: lc.Source}
		var checkDur time.Duration
		anyRan := false
		for i, inst := range lc.Instances {
			is := status.InstanceStatus{Instance: i, LastRun: inst.LastRun}
			if !inst.Due(now) {
				c.recorder.IncCheckResult(lc.Name, metrics.CheckResultSkipped)
				cs.Instances = append(cs.Instances, is)
				continue
			}
			anyRan = true
			inst.LastRun = now

			instSender := checks.NewAggregatorSender(c.agg, c.hostname)
			before, _ := c.agg.Stats()
			runStart := c.now()
			err := inst.Check.Run(instSender)
			runDur := c.now().Sub(runStart)
			checkDur += runDur
			after, _ := c.agg.Stats()

			is.LastRun = now
			is.Metrics = int(after - before)
			is.Warnings = instSender.DrainWarnings()

			c.recorder.ObserveCheckDuration(lc.Name, runDur)
			scStatus := checks.StatusOK
			scMessage := ""
			if err != nil {
				c.recorder.IncCheckResult(lc.Name, metrics.CheckResultError)
				is.Error = err.Error()
				scStatus = checks.StatusCritical
				scMessage = err.Error()
				slog.Error("check run failed", "check", lc.Name, "instance", i, "error", err)
			} else {
				c.recorder.IncCheckResult(lc.Name, metrics.CheckResultOK)
			}
			sender.ServiceCheck(checkStatusCheck, scStatus,
				[]string{"check:" + lc.Name}, scMessage)

			// Forward buffered results into the shared cycle sender.
			for _, sc := range instSender.DrainServiceChecks() {
				sender.ServiceCheck(sc.Check, sc.Status, sc.Tags, sc.Message)
			}
			for _, ev := range instSender.DrainEvents() {
				sender.Event(ev)
			}
			cs.Instances = append(cs.Instances, is)
		}
		if anyRan && c.cfg.CheckTimings {
			c.agg.Gauge(checkRunTime, checkDur.Seconds(), []string{"check:" + lc.Name}, c.hostname, "")
		}
		statuses = append(statuses, cs)
	}
	return statuses
}

func (c *Collector) collectSystem(payload map[string]any) {
	for _, sc := range c.system {
		frag, err := sc.Collect()
		if err != nil {
			slog.Warn("system check failed", "check", sc.Name(), "error", err)
			continue
		}
		for k, v := range frag {
			payload[k] = v
		}
	}
}

func (c *Collector) emit(ctx context.Context, payload map[string]any) error {
	emitStart := c.now()
	main, series := emitter.Split(payload)

	bodies := make([][]byte, 0, 2)
	body, err := emitter.Encode(main)
	if err != nil {
		return err
	}
	bodies = append(bodies, body)
	if series != nil {
		sbody, err := emitter.Encode(series)
		if err != nil {
			return err
		}
		bodies = append(bodies, sbody)
	}

	var firstErr error
	for _, t := range c.targets {
		for _, b := range bodies {
			if err := t.Emitter.Emit(ctx, b); err != nil {
				t.Status.RecordFailure(c.now(), err)
				c.recorder.IncEmitterAttempt(t.Emitter.Name(), false)
				slog.Error("payload emit failed", "emitter", t.Emitter.Name(), "error", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("emit via %s: %w", t.Emitter.Name(), err)
				}
				break
			}
			t.Status.RecordSuccess(c.now())
			c.recorder.IncEmitterAttempt(t.Emitter.Name(), true)
		}
	}
	c.timings.RecordEmit(c.now().Sub(emitStart))
	return firstErr
}

func (c *Collector) persistStatus(start time.Time, elapsed time.Duration, checkStatuses []status.CheckStatus) {
	c.mu.Lock()
	initErrors := c.initErrors
	c.mu.Unlock()

	st := status.New(c.hostname)
	st.RunCount = c.runCount
	st.LastRun = start
	st.LastDuration = elapsed
	st.Checks = checkStatuses
	for _, ie := range initErrors {
		st.InitErrors = append(st.InitErrors, ie.Error())
	}
	for _, t := range c.targets {
		st.Emitters = append(st.Emitters, t.Status.Snapshot())
	}
	if err := st.Persist(c.cfg.RunPath); err != nil {
		slog.Warn("could not persist status", "error", err)
	}
}

func (c *Collector) logFlush(sampleCount int, elapsed time.Duration) {
	attrs := []any{"run", c.runCount, "metrics", sampleCount, "duration", elapsed.Round(time.Millisecond)}
	switch {
	case c.runCount <= flushLoggingInitial:
		slog.Info("collection cycle completed", attrs...)
		if c.runCount == flushLoggingInitial {
			slog.Info("first collection cycles done, further cycles logged periodically",
				"period", flushLoggingPeriod)
		}
	case c.runCount%flushLoggingPeriod == 0:
		slog.Info("collection cycle completed", attrs...)
	default:
		slog.Debug("collection cycle completed", attrs...)
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
