package checks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverdensity/sd-agent/internal/aggregator"
	"github.com/serverdensity/sd-agent/internal/config"
)

type fakeCheck struct {
	name         string
	configureErr error
	configured   config.Instance
}

func (f *fakeCheck) Name() string { return f.name }
func (f *fakeCheck) Configure(_ map[string]any, instance config.Instance, _ *config.Config) error {
	f.configured = instance
	return f.configureErr
}
func (f *fakeCheck) Run(sender Sender) error { return nil }

func TestNormalizeMetricName(t *testing.T) {
	cases := map[string]string{
		"system.cpu user":     "system.cpu_user",
		"a,b@c":               "a_b_c",
		"__leading.trailing_": "leading.trailing",
		"double__under":       "double_under",
		"dot._join":           "dot.join",
		"join_.dot":           "join.dot",
		"already.fine":        "already.fine",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeMetricName(in), in)
	}
}

func TestLoadBindsInstances(t *testing.T) {
	Register("loader_test_check", func() Check { return &fakeCheck{name: "loader_test_check"} })

	configs := []config.CheckConfig{{
		Name:   "loader_test_check",
		Source: "file:/etc/sd-agent/conf.d/loader_test_check.yaml",
		Instances: []config.Instance{
			{"url": "a"},
			{"url": "b", "min_collection_interval": 120},
		},
	}}
	loaded, failures := Load(configs, &config.Config{})
	require.Empty(t, failures)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Instances, 2)
	assert.Equal(t, time.Duration(0), loaded[0].Instances[0].Interval)
	assert.Equal(t, 2*time.Minute, loaded[0].Instances[1].Interval)
}

func TestLoadReportsUnknownCheck(t *testing.T) {
	configs := []config.CheckConfig{{
		Name:      "does_not_exist",
		Instances: []config.Instance{{}},
	}}
	loaded, failures := Load(configs, &config.Config{})
	assert.Empty(t, loaded)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error(), "no such check")
}

func TestLoadKeepsGoodInstancesWhenOneFails(t *testing.T) {
	calls := 0
	Register("partial_fail_check", func() Check {
		calls++
		c := &fakeCheck{name: "partial_fail_check"}
		if calls == 1 {
			c.configureErr = errors.New("bad instance")
		}
		return c
	})

	configs := []config.CheckConfig{{
		Name:      "partial_fail_check",
		Instances: []config.Instance{{"bad": true}, {"good": true}},
	}}
	loaded, failures := Load(configs, &config.Config{})
	require.Len(t, failures, 1)
	require.Len(t, loaded, 1)
	assert.Len(t, loaded[0].Instances, 1)
}

func TestInstanceDueGating(t *testing.T) {
	now := time.Now()
	s := &InstanceState{Interval: time.Minute, LastRun: now.Add(-30 * time.Second)}
	assert.False(t, s.Due(now))
	s.LastRun = now.Add(-2 * time.Minute)
	assert.True(t, s.Due(now))

	everyCycle := &InstanceState{}
	assert.True(t, everyCycle.Due(now))
}

func TestAggregatorSenderBuffersAndDrains(t *testing.T) {
	agg := aggregator.New(aggregator.Options{Hostname: "h"})
	sender := NewAggregatorSender(agg, "h")

	sender.Gauge("test.metric name", 1, []string{"a:b"}, "")
	sender.ServiceCheck("svc.up", StatusCritical, []string{"b", "a", "a"}, "down")
	sender.Event(Event{EventType: "deploy", MsgText: "rolled"})
	sender.Warning("trouble")

	samples := agg.Flush()
	require.Len(t, samples, 1)
	assert.Equal(t, "test.metric_name", samples[0].Metric)

	scs := sender.DrainServiceChecks()
	require.Len(t, scs, 1)
	assert.Equal(t, "svc.up", scs[0].Check)
	assert.Equal(t, StatusCritical, scs[0].Status)
	assert.Equal(t, []string{"a", "b"}, scs[0].Tags)
	assert.Equal(t, "h", scs[0].HostName)
	assert.Empty(t, sender.DrainServiceChecks())

	events := sender.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "h", events[0].Host)

	assert.Equal(t, []string{"trouble"}, sender.DrainWarnings())
}

func TestServiceCheckIDsIncrease(t *testing.T) {
	a := NewServiceCheck("one", StatusOK, "", nil, "")
	b := NewServiceCheck("two", StatusOK, "", nil, "")
	assert.Greater(t, b.ID, a.ID)
}
