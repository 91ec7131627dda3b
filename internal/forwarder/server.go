package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/emitter"
	"github.com/serverdensity/sd-agent/internal/metrics"
	"github.com/serverdensity/sd-agent/internal/retry"
	"github.com/serverdensity/sd-agent/internal/status"
)

const maxPayloadBytes = 4 << 20

// Forwarder is the local intake endpoint plus the delivery loop. The
// collector enqueues in-process; external clients (statsd reporters,
// plugins) POST to /intake on the loopback port.
type Forwarder struct {
	cfg      *config.Config
	queue    *Queue
	upstream emitter.Emitter
	upStatus *emitter.Status
	recorder metrics.Recorder
	policy   retry.Policy
	registry *prom.Registry

	srv     *http.Server
	started time.Time
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// New wires the forwarder from its parts. registry may be nil to disable
// the /metrics endpoint.
func New(cfg *config.Config, queue *Queue, upstream emitter.Emitter, upStatus *emitter.Status, recorder metrics.Recorder, registry *prom.Registry) *Forwarder {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Forwarder{
		cfg:      cfg,
		queue:    queue,
		upstream: upstream,
		upStatus: upStatus,
		recorder: recorder,
		policy:   retry.DefaultPolicy(),
		registry: registry,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue queues a payload for delivery and nudges the flush loop.
func (f *Forwarder) Enqueue(ctx context.Context, body []byte) error {
	if err := f.queue.Enqueue(ctx, body, time.Now()); err != nil {
		return err
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueEmitter adapts the forwarder into the collector's emitter slot.
type QueueEmitter struct{ F *Forwarder }

func (q QueueEmitter) Name() string { return "forwarder" }
func (q QueueEmitter) Emit(ctx context.Context, body []byte) error {
	return q.F.Enqueue(ctx, body)
}

// Start binds the listen port and launches the HTTP server and flush loop.
func (f *Forwarder) Start(ctx context.Context) error {
	host := f.cfg.Forwarder.BindHost
	if host == "" {
		host = "127.0.0.1"
	}
	if f.cfg.Forwarder.NonLocalTraffic {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, f.cfg.Forwarder.ListenPort)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("bind forwarder port: %w", err)
	}
	if f.cfg.Forwarder.MaxConns > 0 {
		ln = netutil.LimitListener(ln, f.cfg.Forwarder.MaxConns)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /intake", f.handleIntake)
	mux.HandleFunc("GET /status", f.handleStatus)
	if f.registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(f.registry))
	}
	f.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := f.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("forwarder server error", "error", err)
		}
	}()

	flushCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.started = time.Now()
	go f.flushLoop(flushCtx)

	slog.Info("forwarder started", "addr", addr, "max_conns", f.cfg.Forwarder.MaxConns)
	return nil
}

// Stop drains the HTTP server and stops the flush loop.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
		select {
		case <-f.done:
		case <-ctx.Done():
		}
	}
	if f.srv != nil {
		if err := f.srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("forwarder shutdown: %w", err)
		}
	}
	slog.Info("forwarder stopped")
	return nil
}

func (f *Forwarder) handleIntake(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := f.Enqueue(r.Context(), body); err != nil {
		slog.Error("could not queue payload", "error", err)
		http.Error(w, "queue error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (f *Forwarder) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := f.queue.Depth(r.Context())
	if err != nil {
		http.Error(w, "queue error", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"queue_depth": depth}
	if !f.started.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(f.started).Seconds())
	}
	if f.upStatus != nil {
		resp["upstream"] = f.upStatus.Snapshot()
	}
	if st, err := status.Load(f.cfg.RunPath); err == nil {
		resp["collector"] = st
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
