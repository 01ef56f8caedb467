package netmgr

import (
	"context"
	"errors"
	"io/ioutil"
	"testing"
	"time"

	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls fn until it returns true or the deadline passes, matching
// the polling style used for async callback-bus handlers elsewhere.
func waitFor(t *testing.T, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return fn()
}

// fakeConfig is a minimal in-memory ConfigStore for tests that don't need
// file persistence, with a readOnly knob to exercise SetParameters' abort
// path.
type fakeConfig struct {
	values   map[string]string
	readOnly bool
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{values: make(map[string]string)}
}

func (f *fakeConfig) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeConfig) SetKey(key, value string, userVisible bool) bool {
	if f.readOnly {
		return false
	}
	f.values[key] = value
	return true
}

func newTestManager(t *testing.T, cfg *fakeConfig) *NetworkManager {
	dir, err := ioutil.TempDir("", "netmgr")
	require.NoError(t, err)
	m, err := New(cfg, callbackbus.New(), Options{Network: utils.Mainnet, CertDir: dir})
	require.NoError(t, err)
	return m
}

func TestNewPicksUpConfiguredDefaultServer(t *testing.T) {
	cfg := newFakeConfig()
	cfg.values["server"] = "electrum.example.com:50002:s"
	m := newTestManager(t, cfg)
	assert.Equal(t, "electrum.example.com:50002:s", m.DefaultServer())
	assert.Equal(t, serveraddr.SSL, m.protocol)
}

func TestNewIgnoresUnparseableConfiguredServer(t *testing.T) {
	cfg := newFakeConfig()
	cfg.values["server"] = "not-a-valid-server-string"
	m := newTestManager(t, cfg)
	assert.NotEqual(t, "not-a-valid-server-string", m.DefaultServer())
}

func TestNewDefaultsAutoConnectTrue(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	assert.True(t, m.AutoConnect())
}

func TestNewHonorsPersistedAutoConnectFalse(t *testing.T) {
	cfg := newFakeConfig()
	cfg.values["auto_connect"] = "false"
	m := newTestManager(t, cfg)
	assert.False(t, m.AutoConnect())
}

func TestSetParametersRejectsBadServerString(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	ok := m.SetParameters(serveraddr.ServerAddr{Host: "", Port: 0, Proto: serveraddr.SSL}, nil, true)
	assert.False(t, ok)
}

func TestSetParametersRejectsReadOnlyConfig(t *testing.T) {
	cfg := newFakeConfig()
	cfg.readOnly = true
	m := newTestManager(t, cfg)
	ok := m.SetParameters(serveraddr.ServerAddr{Host: "electrum.example.com", Port: 50002, Proto: serveraddr.SSL}, nil, true)
	assert.False(t, ok)
}

func TestGetLocalHeightStartsAtEmptyStore(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	assert.Equal(t, int32(-1), m.GetLocalHeight())
}

func TestIsConnectedFalseBeforeStart(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	assert.False(t, m.IsConnected())
	assert.Equal(t, int32(0), m.GetServerHeight())
}

func TestServersReturnsACopy(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	m.setPeers(map[string]ServerEntry{"a.example.com": {Host: "a.example.com"}})
	out := m.Servers()
	out["b.example.com"] = ServerEntry{Host: "b.example.com"}
	assert.Len(t, m.Servers(), 1, "mutating the returned map must not affect internal state")
}

// TestStopReturnsAfterStart guards against Stop deadlocking: maintainSessions
// only exits on its own context's Done(), so Stop must cancel the manager's
// task group before waiting on it, the same Cancel-then-Wait contract
// taskgroup_test.go's TestCancelStopsTasks documents.
func TestStopReturnsAfterStart(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	m.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Stop() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Start")
	}
}

// TestSetParametersRestartDoesNotDeadlock exercises the proxy/protocol-changed
// branch, which calls Stop on an already-started manager before restarting.
func TestSetParametersRestartDoesNotDeadlock(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	m.Start(context.Background())
	defer m.Stop()

	done := make(chan bool, 1)
	go func() {
		proxy := &serveraddr.ProxySpec{Mode: serveraddr.Socks5, Host: "localhost", Port: 1080}
		done <- m.SetParameters(serveraddr.ServerAddr{Host: "electrum.example.com", Port: 50002, Proto: serveraddr.SSL}, proxy, true)
	}()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("SetParameters' restart branch deadlocked")
	}
}

// TestSetParametersTriggersProxySet covers spec scenario 6: installing a new
// proxy must fire "proxy_set" on the bus.
func TestSetParametersTriggersProxySet(t *testing.T) {
	cfg := newFakeConfig()
	dir, err := ioutil.TempDir("", "netmgr")
	require.NoError(t, err)
	bus := callbackbus.New()

	var gotProxy *serveraddr.ProxySpec
	var gotEvent bool
	bus.Register("proxy_set", callbackbus.Sync(func(event string, args ...interface{}) {
		gotEvent = true
		if len(args) > 0 {
			gotProxy, _ = args[0].(*serveraddr.ProxySpec)
		}
	}))

	m, err := New(cfg, bus, Options{Network: utils.Mainnet, CertDir: dir})
	require.NoError(t, err)
	m.Start(context.Background())
	defer m.Stop()

	proxy := &serveraddr.ProxySpec{Mode: serveraddr.Socks5, Host: "localhost", Port: 1080}
	ok := m.SetParameters(serveraddr.ServerAddr{Host: "electrum.example.com", Port: 50002, Proto: serveraddr.SSL}, proxy, true)
	require.True(t, ok)
	assert.True(t, gotEvent)
	require.NotNil(t, gotProxy)
	assert.Equal(t, *proxy, *gotProxy)
}

// TestNewTriggersProxySetFromPersistedConfig covers the other install site:
// loading a previously persisted proxy at construction time.
func TestNewTriggersProxySetFromPersistedConfig(t *testing.T) {
	cfg := newFakeConfig()
	cfg.values["proxy"] = serveraddr.SerializeProxy(serveraddr.ProxySpec{Mode: serveraddr.Socks5, Host: "localhost", Port: 1080})
	dir, err := ioutil.TempDir("", "netmgr")
	require.NoError(t, err)
	bus := callbackbus.New()

	var gotEvent bool
	bus.Register("proxy_set", callbackbus.Sync(func(event string, args ...interface{}) {
		gotEvent = true
	}))

	_, err = New(cfg, bus, Options{Network: utils.Mainnet, CertDir: dir})
	require.NoError(t, err)
	assert.True(t, gotEvent)
}

// TestMaintainSessionsMarksDownOnRealError covers the ordinary failure path:
// an interface exiting with a real error still gets marked disconnected.
func TestMaintainSessionsMarksDownOnRealError(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.maintainSessions(ctx)

	m.interfaceDone <- interfaceExit{server: "down.example.com:50002:s", err: errors.New("boom")}

	ok := waitFor(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.disconnectedServers["down.example.com:50002:s"]
	})
	assert.True(t, ok)
}

// TestMaintainSessionsIgnoresCleanExitOfUnregisteredInterface covers the
// election-rotation case: switchToInterface already removed the old server
// from the pool before closing it, so the clean (nil-error) exit it produces
// must not be treated as a disconnect.
func TestMaintainSessionsIgnoresCleanExitOfUnregisteredInterface(t *testing.T) {
	m := newTestManager(t, newFakeConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.maintainSessions(ctx)

	m.interfaceDone <- interfaceExit{server: "rotated.example.com:50002:s", err: nil}

	time.Sleep(50 * time.Millisecond)
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.False(t, m.disconnectedServers["rotated.example.com:50002:s"])
}

func TestProxyEqual(t *testing.T) {
	a := serveraddr.ProxySpec{Mode: serveraddr.Socks5, Host: "localhost", Port: 1080}
	b := a
	assert.True(t, proxyEqual(&a, &b))
	assert.True(t, proxyEqual(nil, nil))
	assert.False(t, proxyEqual(&a, nil))
	b.Port = 1081
	assert.False(t, proxyEqual(&a, &b))
}
