package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/metrics"
)

const readBufferSize = 8192

// Server reads statsd datagrams and feeds them into an aggregator.
type Server struct {
	cfg       config.Statsd
	agg       *aggregator.Aggregator
	recorder  metrics.Recorder
	namespace string
	nonLocal  bool
	scrubUTF8 bool

	conn *net.UDPConn
	done chan struct{}
}

func NewServer(agentCfg *config.Config, agg *aggregator.Aggregator, recorder metrics.Recorder) *Server {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	namespace := agentCfg.Statsd.MetricNamespace
	if namespace != "" && !strings.HasSuffix(namespace, ".") {
		namespace += "."
	}
	return &Server{
		cfg:       agentCfg.Statsd,
		agg:       agg,
		recorder:  recorder,
		namespace: namespace,
		nonLocal:  agentCfg.Forwarder.NonLocalTraffic,
		scrubUTF8: agentCfg.UTF8Decoding,
		done:      make(chan struct{}),
	}
}

// Start binds the UDP port and launches the read loop.
func (s *Server) Start() error {
	ip := net.IPv4(127, 0, 0, 1)
	if s.nonLocal {
		ip = net.IPv4zero
	}
	addr := &net.UDPAddr{IP: ip, Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind statsd port: %w", err)
	}
	s.conn = conn
	go s.readLoop()
	slog.Info("statsd listener started", "addr", addr.String())
	return nil
}

// Stop closes the socket, unblocking the read loop.
func (s *Server) Stop(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close statsd socket: %w", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	slog.Info("statsd listener stopped")
	return nil
}

func (s *Server) readLoop() {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Closed socket means shutdown.
			return
		}
		s.recorder.IncStatsdPackets(1)
		s.handlePacket(string(buf[:n]))
	}
}

// handlePacket processes one datagram, which may carry several newline
// separated lines.
func (s *Server) handlePacket(packet string) {
	if s.scrubUTF8 {
		packet = strings.ToValidUTF8(packet, "")
	}
	for _, line := range strings.Split(packet, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m, err := ParseLine(line)
		if err != nil {
			slog.Debug("dropping malformed statsd line", "error", err)
			continue
		}
		s.submit(m)
	}
}

func (s *Server) submit(m Metric) {
	name := s.namespace + m.Name
	if m.Type == aggregator.SetType {
		s.agg.Set(name, m.StringVal, m.Tags, "", "")
		return
	}
	s.agg.Submit(name, m.Value, m.Type, m.Tags, "", "", m.SampleRate)
}
