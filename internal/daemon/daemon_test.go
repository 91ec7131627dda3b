package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverdensity/sd-agent/internal/config"
	"github.com/serverdensity/sd-agent/internal/daemon/events"
	"github.com/serverdensity/sd-agent/internal/status"
)

func subscribeConfd(d *Daemon) (<-chan ConfdChanged, func()) {
	return events.Subscribe[ConfdChanged](d.bus, 4)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testDaemon(t *testing.T) (*Daemon, *config.Config) {
	t.Helper()
	confd := t.TempDir()
	cfg := &config.Config{
		AgentKey:  "0123456789abcdef",
		SDURL:     "https://example.agent.serverdensity.io",
		Hostname:  "web-1",
		ConfdPath: confd,
		RunPath:   t.TempDir(),
		CheckFreq: config.Duration(time.Minute),
	}
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.queue.Close() })
	return d, cfg
}

func TestReloadChecksBindsConfd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d, cfg := testDaemon(t)
	writeFile(t, filepath.Join(cfg.ConfdPath, "httpcheck.yaml"),
		"init_config:\ninstances:\n  - url: "+srv.URL+"\n")
	writeFile(t, filepath.Join(cfg.ConfdPath, "nosuch.yaml"),
		"init_config:\ninstances:\n  - {}\n")

	d.reloadChecks()

	// One cycle runs the check and queues a payload for the forwarder.
	require.NoError(t, d.coll.RunCycle(context.Background()))

	depth, err := d.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, depth, 1, "cycle payload queued")

	st, err := status.Load(cfg.RunPath)
	require.NoError(t, err)
	require.Len(t, st.Checks, 1)
	assert.Equal(t, "httpcheck", st.Checks[0].Name)
	require.NotEmpty(t, st.InitErrors)
	assert.Contains(t, st.InitErrors[0], "no such check")
}

func TestDiscoveryEventTriggersReload(t *testing.T) {
	d, _ := testDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.reloadLoop(ctx)

	// Give the subscriber a moment to attach before publishing.
	require.Eventually(t, func() bool {
		return d.bus.Publish(context.Background(), ContainersChanged{
			Configs: []config.CheckConfig{{
				Name:      "httpcheck",
				Source:    "docker:nginx",
				Instances: []config.Instance{{"url": "http://172.17.0.2"}},
			}},
		}) == nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.discovered) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConfdWatcherPublishesDebounced(t *testing.T) {
	d, cfg := testDaemon(t)
	w, err := NewConfdWatcher(cfg.ConfdPath, d.bus)
	require.NoError(t, err)
	w.debounceTime = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, w.Stop(ctx))
	}()

	changes, cancelSub := subscribeConfd(d)
	defer cancelSub()

	writeFile(t, filepath.Join(cfg.ConfdPath, "new.yaml"), "instances: []\n")
	writeFile(t, filepath.Join(cfg.ConfdPath, "new.yaml"), "instances: [{}]\n")
	writeFile(t, filepath.Join(cfg.ConfdPath, "ignored.txt"), "x")

	select {
	case evt := <-changes:
		assert.Contains(t, evt.Path, "new.yaml")
	case <-time.After(2 * time.Second):
		t.Fatal("no change event received")
	}

	select {
	case <-changes:
		t.Fatal("rapid writes should debounce to one event")
	case <-time.After(200 * time.Millisecond):
	}
}
