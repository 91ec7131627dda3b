package httpcheck

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverdensity/sd-agent/internal/checks"
	"github.com/serverdensity/sd-agent/internal/config"
)

type recordingSender struct {
	gauges        map[string]float64
	serviceChecks map[string]checks.ServiceCheckStatus
	messages      map[string]string
	tags          map[string][]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		gauges:        map[string]float64{},
		serviceChecks: map[string]checks.ServiceCheckStatus{},
		messages:      map[string]string{},
		tags:          map[string][]string{},
	}
}

func (r *recordingSender) Gauge(metric string, value float64, tags []string, _ string) {
	r.gauges[metric] = value
	r.tags[metric] = tags
}
func (r *recordingSender) Count(string, float64, []string, string)          {}
func (r *recordingSender) MonotonicCount(string, float64, []string, string) {}
func (r *recordingSender) Rate(string, float64, []string, string)           {}
func (r *recordingSender) Histogram(string, float64, []string, string)      {}
func (r *recordingSender) ServiceCheck(name string, status checks.ServiceCheckStatus, tags []string, message string) {
	r.serviceChecks[name] = status
	r.messages[name] = message
	r.tags[name] = tags
}
func (r *recordingSender) Event(checks.Event) {}
func (r *recordingSender) Warning(string)     {}

func configure(t *testing.T, instance config.Instance) *Check {
	t.Helper()
	c := New()
	require.NoError(t, c.Configure(nil, instance, &config.Config{}))
	return c
}

func TestHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := configure(t, config.Instance{"url": srv.URL, "tags": []any{"env:test"}})
	sender := newRecordingSender()
	require.NoError(t, c.Run(sender))

	assert.Equal(t, checks.StatusOK, sender.serviceChecks["http.can_connect"])
	assert.Equal(t, checks.StatusOK, sender.serviceChecks["http.response_status"])
	assert.Contains(t, sender.gauges, "network.http.response_time")
	assert.Contains(t, sender.tags["network.http.response_time"], "url:"+srv.URL)
	assert.Contains(t, sender.tags["network.http.response_time"], "env:test")
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := configure(t, config.Instance{"url": url})
	sender := newRecordingSender()
	require.NoError(t, c.Run(sender))

	assert.Equal(t, checks.StatusCritical, sender.serviceChecks["http.can_connect"])
	assert.NotContains(t, sender.gauges, "network.http.response_time")
	assert.NotContains(t, sender.serviceChecks, "http.response_status")
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := configure(t, config.Instance{"url": srv.URL})
	sender := newRecordingSender()
	require.NoError(t, c.Run(sender))

	assert.Equal(t, checks.StatusOK, sender.serviceChecks["http.can_connect"])
	assert.Equal(t, checks.StatusCritical, sender.serviceChecks["http.response_status"])
}

func TestExpectedStatusPattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := configure(t, config.Instance{"url": srv.URL, "http_response_status_code": "404"})
	sender := newRecordingSender()
	require.NoError(t, c.Run(sender))

	assert.Equal(t, checks.StatusOK, sender.serviceChecks["http.response_status"])
}

func TestContentMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := configure(t, config.Instance{"url": srv.URL, "content_match": "world"})
	sender := newRecordingSender()
	require.NoError(t, c.Run(sender))
	assert.Equal(t, checks.StatusOK, sender.serviceChecks["http.response_status"])

	c = configure(t, config.Instance{"url": srv.URL, "content_match": "absent"})
	sender = newRecordingSender()
	require.NoError(t, c.Run(sender))
	assert.Equal(t, checks.StatusCritical, sender.serviceChecks["http.response_status"])
	assert.Contains(t, sender.messages["http.response_status"], "not found")
}

func TestCustomHeadersSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Probe")
	}))
	defer srv.Close()

	c := configure(t, config.Instance{
		"url":     srv.URL,
		"headers": map[string]any{"X-Probe": "sd-agent"},
	})
	require.NoError(t, c.Run(newRecordingSender()))
	assert.Equal(t, "sd-agent", got)
}

func TestConfigureRejectsBadInstances(t *testing.T) {
	err := New().Configure(nil, config.Instance{}, &config.Config{})
	assert.ErrorContains(t, err, "url")

	err = New().Configure(nil, config.Instance{"url": "ftp://example.com"}, &config.Config{})
	assert.ErrorContains(t, err, "http")

	err = New().Configure(nil, config.Instance{"url": "http://x", "http_response_status_code": "("}, &config.Config{})
	assert.Error(t, err)
}
