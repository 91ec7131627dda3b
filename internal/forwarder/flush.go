package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/serverdensity/sd-agent/internal/emitter"
)

const flushIdleInterval = 5 * time.Second

// flushLoop drains the queue toward the upstream emitter until ctx is
// canceled. Transient failures reschedule with backoff; permanent failures
// and payloads past the queue age or size bounds are dropped.
func (f *Forwarder) flushLoop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(flushIdleInterval)
	defer ticker.Stop()

	for {
		f.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-f.wake:
		case <-ticker.C:
		}
	}
}

// drain attempts delivery of every ready payload, stopping at the first
// transient failure so backoff ordering holds.
func (f *Forwarder) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		now := time.Now()

		if maxAge := f.cfg.Forwarder.MaxQueueAge.Duration(); maxAge > 0 {
			if n, err := f.queue.DropOlderThan(ctx, now.Add(-maxAge)); err == nil && n > 0 {
				f.recorder.IncQueueDropped("max_age")
				slog.Warn("dropped stale payloads", "count", n, "max_age", maxAge)
			}
		}
		if maxSize := f.cfg.Forwarder.MaxQueueSize; maxSize > 0 {
			if n, err := f.queue.DropOverSize(ctx, maxSize); err == nil && n > 0 {
				f.recorder.IncQueueDropped("max_size")
				slog.Error("queue over size bound, dropped oldest payloads",
					"count", n, "max_bytes", maxSize)
			}
		}

		p, err := f.queue.NextReady(ctx, now)
		if errors.Is(err, ErrEmpty) {
			f.updateDepth(ctx)
			return
		}
		if err != nil {
			slog.Error("queue read failed", "error", err)
			return
		}

		err = f.upstream.Emit(ctx, p.Body)
		switch {
		case err == nil:
			f.upStatus.RecordSuccess(time.Now())
			f.recorder.IncEmitterAttempt(f.upstream.Name(), true)
			if err := f.queue.Remove(ctx, p.ID); err != nil {
				slog.Error("could not remove delivered payload", "id", p.ID, "error", err)
				return
			}
		case errors.Is(err, emitter.ErrPermanent):
			f.upStatus.RecordFailure(time.Now(), err)
			f.recorder.IncEmitterAttempt(f.upstream.Name(), false)
			f.recorder.IncQueueDropped("permanent")
			slog.Error("dropping payload after permanent failure", "id", p.ID, "error", err)
			if err := f.queue.Remove(ctx, p.ID); err != nil {
				slog.Error("could not remove rejected payload", "id", p.ID, "error", err)
				return
			}
		default:
			f.upStatus.RecordFailure(time.Now(), err)
			f.recorder.IncEmitterAttempt(f.upstream.Name(), false)
			delay := f.policy.Delay(p.Attempts + 1)
			slog.Warn("payload delivery failed, will retry",
				"id", p.ID, "attempts", p.Attempts+1, "retry_in", delay, "error", err)
			if err := f.queue.MarkFailure(ctx, p.ID, now.Add(delay)); err != nil {
				slog.Error("could not reschedule payload", "id", p.ID, "error", err)
			}
			f.updateDepth(ctx)
			return
		}
	}
}

func (f *Forwarder) updateDepth(ctx context.Context) {
	if depth, err := f.queue.Depth(ctx); err == nil {
		f.recorder.SetQueueDepth(depth)
	}
}
