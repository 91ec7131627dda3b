package statsd

import (
	"context"
	"log/slog"
	"time"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/emitter"
	"github.com/serverdensity/sd-agent/internal/version"
)

// Reporter flushes the statsd aggregator through the forwarder on its own
// cadence, independent of the collector cycle.
type Reporter struct {
	agg      *aggregator.Aggregator
	target   emitter.Emitter
	interval time.Duration
	agentKey string
	hostname string

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

func NewReporter(agg *aggregator.Aggregator, target emitter.Emitter, interval time.Duration, agentKey, hostname string) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{
		agg:      agg,
		target:   target,
		interval: interval,
		agentKey: agentKey,
		hostname: hostname,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

func (r *Reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

func (r *Reporter) Stop(ctx context.Context) {
	if r.cancel == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final flush so shutdown does not lose buffered samples.
			r.FlushOnce(context.Background())
			return
		case <-ticker.C:
			r.FlushOnce(ctx)
		}
	}
}

// FlushOnce drains the aggregator and emits one series payload. A flush with
// no samples emits nothing.
func (r *Reporter) FlushOnce(ctx context.Context) {
	samples := r.agg.Flush()
	if len(samples) == 0 {
		return
	}

	payload := map[string]any{
		"collection_timestamp": float64(r.now().UnixNano()) / float64(time.Second),
		"agentVersion":         version.AgentVersion,
		"agentKey":             r.agentKey,
		"internalHostname":     r.hostname,
		emitter.MetricsKey:     samples,
	}
	_, series := emitter.Split(payload)

	body, err := emitter.Encode(series)
	if err != nil {
		slog.Error("could not encode statsd payload", "error", err)
		return
	}
	if err := r.target.Emit(ctx, body); err != nil {
		slog.Error("could not emit statsd payload", "error", err)
		return
	}
	slog.Debug("statsd flush", "metrics", len(samples))
}
