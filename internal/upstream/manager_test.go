package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

func TestReloadRemovesServerAndCancelsTimer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, map[string]*config.ServerConfig{
		"alpha": stdioServer(60),
		"beta":  stdioServer(60),
	})
	h.builder.add("alpha", newTestServer("alpha"))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))
	require.True(t, h.clock.HasWaiters(), "idle timer should be armed")

	h.m.Reload(&config.Config{Servers: map[string]*config.ServerConfig{"beta": stdioServer(60)}})

	assert.Equal(t, []string{"beta"}, h.m.Names())
	assert.False(t, h.clock.HasWaiters(), "idle timer should be cancelled")

	_, err := h.m.ServerStatus("alpha")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownServer)

	// Nothing may fire for the removed server.
	h.clock.Step(2 * time.Minute)
	assert.Equal(t, []string{"beta"}, h.m.Names())
}

func TestReloadUpdatesConfigWithoutReconnect(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(60)})
	h.builder.add("alpha", newTestServer("alpha"))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))

	updated := stdioServer(120)
	updated.Args = []string{"--verbose"}
	h.m.Reload(&config.Config{Servers: map[string]*config.ServerConfig{"alpha": updated}})

	assert.Equal(t, StatusConnected, h.status(t, "alpha").Status)
	assert.Equal(t, 1, h.builder.buildCount("alpha"))

	// The live connection keeps its original idle timeout.
	h.clock.Step(61 * time.Second)
	require.Eventually(t, func() bool {
		return h.status(t, "alpha").Status == StatusDisconnected
	}, time.Second, 10*time.Millisecond)
}

func TestReloadDisablingServerDisconnects(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(60)})
	h.builder.add("alpha", newTestServer("alpha"))

	require.NoError(t, h.m.Connect(context.Background(), "alpha"))

	disabled := stdioServer(60)
	disabled.Enabled = config.BoolPtr(false)
	h.m.Reload(&config.Config{Servers: map[string]*config.ServerConfig{"alpha": disabled}})

	st := h.status(t, "alpha")
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.False(t, st.Enabled)
	assert.False(t, h.clock.HasWaiters())
}

func TestConnectAlreadyConnectedIsNoop(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	ts := newTestServer("alpha")
	h.builder.add("alpha", ts)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))
	require.NoError(t, h.m.Connect(ctx, "alpha"))
	require.NoError(t, h.m.EnsureConnected(ctx, "alpha"))

	assert.Equal(t, 1, h.builder.buildCount("alpha"))
	assert.EqualValues(t, 1, ts.initializes.Load())
}

func TestConnectUnknownAndDisabled(t *testing.T) {
	disabled := stdioServer(0)
	disabled.Enabled = config.BoolPtr(false)
	h := newHarness(t, map[string]*config.ServerConfig{"off": disabled})
	ctx := context.Background()

	err := h.m.Connect(ctx, "missing")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownServer)

	err = h.m.Connect(ctx, "off")
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrServerDisabled)
	assert.Equal(t, 0, h.builder.buildCount("off"))
	assert.Equal(t, StatusDisconnected, h.status(t, "off").Status)
}

func TestConnectMissingURLIsConfigurationError(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{
		"remote": {Transport: config.TransportHTTP},
	})

	err := h.m.Connect(context.Background(), "remote")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, config.ErrMissingURL)

	st := h.status(t, "remote")
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Error, "url")
}

func TestConnectFailureRecordsError(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	h.builder.fail("alpha", errors.New("exec: no such file"))

	err := h.m.Connect(context.Background(), "alpha")
	var trErr *TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, "alpha", trErr.Server)

	st := h.status(t, "alpha")
	assert.Equal(t, StatusError, st.Status)
	assert.Contains(t, st.Error, "no such file")
	assert.False(t, st.AuthRequired)
	assert.False(t, h.clock.HasWaiters())

	// A later success clears the error.
	h.builder.fail("alpha", nil)
	h.builder.add("alpha", newTestServer("alpha"))
	require.NoError(t, h.m.Connect(context.Background(), "alpha"))
	st = h.status(t, "alpha")
	assert.Equal(t, StatusConnected, st.Status)
	assert.Empty(t, st.Error)
}

func TestConcurrentConnectsShareOneAttempt(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	ts := newTestServer("alpha")
	h.builder.add("alpha", ts)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.m.EnsureConnected(context.Background(), "alpha")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, h.builder.buildCount("alpha"))
	assert.EqualValues(t, 1, ts.initializes.Load())
}

func TestDisconnectKeepsToolCache(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	h.builder.add("alpha", newTestServer("alpha", textTool("ping", "", "pong")))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))
	require.NoError(t, h.m.Disconnect("alpha"))
	require.NoError(t, h.m.Disconnect("alpha"))

	st := h.status(t, "alpha")
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Empty(t, st.Error)
	assert.Nil(t, st.ConnectedAt)
	assert.Equal(t, 1, st.ToolCount)
	assert.False(t, h.clock.HasWaiters())
}

func TestIdleTimerDisconnects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(60)})
	h.builder.add("alpha", newTestServer("alpha", textTool("ping", "", "pong")))
	ctx := context.Background()

	require.NoError(t, h.m.EnsureConnected(ctx, "alpha"))

	h.clock.Step(59 * time.Second)
	assert.Equal(t, StatusConnected, h.status(t, "alpha").Status)

	// Activity before expiry pushes the deadline to t=119s.
	_, err := h.m.CallTool(ctx, "alpha", "ping", nil)
	require.NoError(t, err)

	h.clock.Step(2 * time.Second)
	assert.Never(t, func() bool {
		return h.status(t, "alpha").Status != StatusConnected
	}, 100*time.Millisecond, 10*time.Millisecond)

	h.clock.Step(59 * time.Second)
	require.Eventually(t, func() bool {
		return h.status(t, "alpha").Status == StatusDisconnected
	}, time.Second, 10*time.Millisecond)
	assert.False(t, h.clock.HasWaiters())
}

func TestIdleTimerIgnoresStaleGeneration(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(60)})
	h.builder.add("alpha", newTestServer("alpha"))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))
	s, err := h.m.lookup("alpha")
	require.NoError(t, err)
	s.mu.Lock()
	oldGen := s.gen
	s.mu.Unlock()

	require.NoError(t, h.m.Disconnect("alpha"))
	require.NoError(t, h.m.Connect(ctx, "alpha"))

	h.m.onIdle(s, oldGen)
	assert.Equal(t, StatusConnected, h.status(t, "alpha").Status)
}

func TestTransportCloseEventDisconnects(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	h.builder.add("alpha", newTestServer("alpha"))

	require.NoError(t, h.m.Connect(context.Background(), "alpha"))
	h.builder.listener("alpha").OnClose()

	st := h.status(t, "alpha")
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.Empty(t, st.Error)
	assert.False(t, h.clock.HasWaiters())
}

func TestTransportErrorEventRecordsError(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)})
	h.builder.add("alpha", newTestServer("alpha"))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "alpha"))
	stale := h.builder.listener("alpha")
	stale.OnError(errors.New("broken pipe"))

	st := h.status(t, "alpha")
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "broken pipe", st.Error)

	// Events from a superseded connection are ignored.
	require.NoError(t, h.m.Connect(ctx, "alpha"))
	stale.OnError(errors.New("late error"))
	stale.OnClose()
	assert.Equal(t, StatusConnected, h.status(t, "alpha").Status)
}

func TestStatusReportsEveryServer(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{
		"beta":   stdioServer(0),
		"alpha":  stdioServer(0),
		"remote": {URL: "https://example.com/mcp"},
	})
	h.builder.add("alpha", newTestServer("alpha", textTool("ping", "", "pong"), textTool("echo", "", "echo")))

	require.NoError(t, h.m.Connect(context.Background(), "alpha"))

	statuses := h.m.Status()
	require.Len(t, statuses, 3)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "beta", statuses[1].Name)
	assert.Equal(t, "remote", statuses[2].Name)

	assert.Equal(t, StatusConnected, statuses[0].Status)
	assert.Equal(t, 2, statuses[0].ToolCount)
	assert.NotNil(t, statuses[0].ConnectedAt)
	assert.Equal(t, AuthNotApplicable, statuses[0].AuthStatus)

	assert.Equal(t, StatusDisconnected, statuses[1].Status)
	assert.Equal(t, config.TransportHTTP, statuses[2].Transport)
}

func TestConnectEagerConnectsOnlyEagerServers(t *testing.T) {
	eager := stdioServer(0)
	eager.Lifecycle = config.LifecycleEager
	broken := stdioServer(0)
	broken.Lifecycle = config.LifecycleEager

	h := newHarness(t, map[string]*config.ServerConfig{
		"eager":  eager,
		"broken": broken,
		"lazy":   stdioServer(0),
	})
	h.builder.add("eager", newTestServer("eager"))
	h.builder.add("lazy", newTestServer("lazy"))

	h.m.ConnectEager(context.Background())

	assert.Equal(t, StatusConnected, h.status(t, "eager").Status)
	assert.Equal(t, StatusError, h.status(t, "broken").Status)
	assert.Equal(t, StatusDisconnected, h.status(t, "lazy").Status)
	assert.Equal(t, 0, h.builder.buildCount("lazy"))
}

func TestStateChangesAreNotified(t *testing.T) {
	got := make(chan *Notification, 8)
	nm := NewNotificationManager()
	nm.AddHandler(NotificationHandlerFunc(func(n *Notification) { got <- n }))

	h := newHarness(t, map[string]*config.ServerConfig{"alpha": stdioServer(0)}, func(o *Options) {
		o.Notifications = nm
	})
	h.builder.add("alpha", newTestServer("alpha"))

	require.NoError(t, h.m.Connect(context.Background(), "alpha"))
	select {
	case n := <-got:
		assert.Equal(t, "Server Connected", n.Title)
		assert.Equal(t, "alpha", n.ServerName)
		assert.False(t, n.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

// End to end through the manager: connect, list an empty catalog, then go
// idle.
func TestEchoServerLifecycle(t *testing.T) {
	h := newHarness(t, map[string]*config.ServerConfig{
		"echo": {Command: "true", Transport: config.TransportStdio, Enabled: config.BoolPtr(true)},
	})
	h.builder.add("echo", newTestServer("echo"))
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "echo"))
	assert.Equal(t, StatusConnected, h.status(t, "echo").Status)

	tools, err := h.m.ListTools(ctx, "echo")
	require.NoError(t, err)
	assert.Empty(t, tools)

	h.clock.Step(config.DefaultIdleTimeout)
	require.Eventually(t, func() bool {
		return h.status(t, "echo").Status == StatusDisconnected
	}, time.Second, 10*time.Millisecond)
}
