// Package netmgr implements NetworkManager: the pool of
// Electrum server connections, server selection and election of a main
// interface, header-chunk coordination, fee/banner refresh, and the
// blockchain.*-proxying RPC facade the rest of the wallet calls.
package netmgr

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/configstore"
	"github.com/square/ltcnet/electrum"
	"github.com/square/ltcnet/headerstore"
	"github.com/square/ltcnet/netiface"
	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/taskgroup"
	"github.com/square/ltcnet/txcodec"
	"github.com/square/ltcnet/utils"
)

// Retry intervals, matching the original's NODES_RETRY_INTERVAL and
// SERVER_RETRY_INTERVAL.
const (
	nodesRetryInterval  = 60 * time.Second
	serverRetryInterval = 10 * time.Second
	maintainTick        = 100 * time.Millisecond
	recentServersLimit  = 20
)

// NetworkManager owns every live and pending Electrum session, elects one
// as the main interface, and serves as the single point of contact for the
// rest of the wallet's blockchain.* RPCs.
type NetworkManager struct {
	config    configstore.ConfigStore
	bus       *callbackbus.Bus
	network   utils.Network
	certStore *netiface.CertStore
	txCodec   txcodec.TxCodec
	dns       DnsPolicy
	logf      func(format string, args ...interface{})

	headers *headerstore.MemStore
	chunks  *chunkTracker

	mu                  sync.RWMutex
	interfaces          map[string]*netiface.Interface
	connecting          map[string]bool
	disconnectedServers map[string]bool
	mainInterface       *netiface.Interface
	defaultServer       string
	protocol            serveraddr.Proto
	proxy               *serveraddr.ProxySpec
	autoConnect         bool
	numServer           int

	peersMu sync.RWMutex
	peers   map[string]ServerEntry

	infoMu sync.RWMutex
	info   ServerInfo

	recentMu      sync.Mutex
	recentServers []string

	socketMu    sync.Mutex
	socketQueue []string

	interfaceDone chan interfaceExit

	status   string
	statusMu sync.RWMutex

	root *taskgroup.Group

	nodesRetryTime  time.Time
	serverRetryTime time.Time
}

// interfaceExit is pushed to interfaceDone by the watcher goroutine spawned
// for every interface, once its driver task (the headers loop) ends.
type interfaceExit struct {
	server string
	err    error
}

// Options configures New. Zero values pick sensible defaults (direct DNS,
// 10 pooled servers, a no-op logger).
type Options struct {
	Network   utils.Network
	CertDir   string
	TxCodec   txcodec.TxCodec
	NumServer int
	LogFunc   func(format string, args ...interface{})
}

// New builds a NetworkManager backed by cfg for persisted settings and bus
// for status/event publication. It does not connect to anything until
// Start is called.
func New(cfg configstore.ConfigStore, bus *callbackbus.Bus, opts Options) (*NetworkManager, error) {
	certStore, err := netiface.NewCertStore(opts.CertDir)
	if err != nil {
		return nil, errors.Wrap(err, "netmgr: opening cert store")
	}

	numServer := opts.NumServer
	if numServer == 0 {
		numServer = 10
	}
	logf := opts.LogFunc
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	txCodec := opts.TxCodec
	if txCodec == nil {
		txCodec = txcodec.NewWireCodec()
	}

	m := &NetworkManager{
		config:              cfg,
		bus:                 bus,
		network:             opts.Network,
		certStore:           certStore,
		txCodec:             txCodec,
		dns:                 NewDirectDnsPolicy(),
		logf:                logf,
		headers:             headerstore.NewMemStore(),
		chunks:              newChunkTracker(),
		interfaces:          make(map[string]*netiface.Interface),
		connecting:          make(map[string]bool),
		disconnectedServers: make(map[string]bool),
		autoConnect:         true,
		numServer:           numServer,
		peers:               make(map[string]ServerEntry),
		interfaceDone:       make(chan interfaceExit, 16),
	}

	m.loadPersistedState()
	return m, nil
}

// loadPersistedState restores the default server, proxy, auto-connect flag
// and recent-servers list from config, falling back to sane defaults the
// way the original's __init__ does (pick_random_server when no default
// server is configured).
func (m *NetworkManager) loadPersistedState() {
	if v, ok := m.config.Get("auto_connect"); ok {
		m.autoConnect = v != "false"
	}
	if v, ok := m.config.Get("recent_servers"); ok {
		var recent []string
		if json.Unmarshal([]byte(v), &recent) == nil {
			m.recentServers = recent
		}
	}
	if v, ok := m.config.Get("proxy"); ok {
		if proxy, ok := serveraddr.DeserializeProxy(v); ok {
			m.proxy = &proxy
			m.dns = NewProxyDnsPolicy(proxy)
			m.bus.Trigger("proxy_set", m.proxy)
		}
	}

	defaultServer, _ := m.config.Get("server")
	if defaultServer != "" {
		if _, err := serveraddr.Deserialize(defaultServer); err != nil {
			m.logf("netmgr: ignoring unparseable configured server %q: %v", defaultServer, err)
			defaultServer = ""
		}
	}
	if defaultServer == "" {
		if s, ok := pickRandomServer(m.peers, serveraddr.SSL, nil); ok {
			defaultServer = s
		}
	}
	m.defaultServer = defaultServer
	if addr, err := serveraddr.Deserialize(defaultServer); err == nil {
		m.protocol = addr.Proto
	} else {
		m.protocol = serveraddr.SSL
	}
}

// Start begins the connection-maintenance loop: it enqueues the default
// server and runs maintainSessions until ctx is cancelled.
func (m *NetworkManager) Start(ctx context.Context) {
	m.root = taskgroup.New(ctx)
	m.enqueueServer(m.defaultServer)
	m.root.Spawn(m.maintainSessions)
}

// Stop cancels every interface and the maintenance loop, and waits for them
// to unwind.
func (m *NetworkManager) Stop() error {
	if m.root != nil {
		m.root.Cancel()
	}

	m.mu.Lock()
	ifaces := make([]*netiface.Interface, 0, len(m.interfaces))
	for _, i := range m.interfaces {
		ifaces = append(ifaces, i)
	}
	m.interfaces = make(map[string]*netiface.Interface)
	m.connecting = make(map[string]bool)
	m.mainInterface = nil
	m.mu.Unlock()

	for _, i := range ifaces {
		i.Close()
	}
	if m.root != nil {
		return m.root.Wait()
	}
	return nil
}

func (m *NetworkManager) enqueueServer(server string) {
	if server == "" {
		return
	}
	m.mu.Lock()
	already := m.interfaces[server] != nil || m.connecting[server]
	if !already {
		m.connecting[server] = true
	}
	if server == m.defaultServer && !already {
		m.setStatusLocked("connecting")
	}
	m.mu.Unlock()
	if already {
		return
	}
	m.socketMu.Lock()
	m.socketQueue = append(m.socketQueue, server)
	m.socketMu.Unlock()
}

// maintainSessions is NetworkManager's one long-running supervisory task,
// following the original's maintain_sessions loop: drain pending connects,
// reap dead interfaces, top up the pool, and keep a main interface elected.
func (m *NetworkManager) maintainSessions(ctx context.Context) error {
	ticker := time.NewTicker(maintainTick)
	defer ticker.Stop()

	m.nodesRetryTime = time.Now()
	m.serverRetryTime = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case exit := <-m.interfaceDone:
			if exit.err != nil {
				m.logf("netmgr: %s errored because: %v", exit.server, exit.err)
				m.connectionDown(exit.server)
				continue
			}
			// A nil exit.err means the interface's task group was
			// cancelled deliberately (Close from switchToInterface's
			// election rotation, or Stop): it was already removed from
			// the pool by whoever closed it. If it's still registered,
			// something completed cleanly that nobody asked to close.
			m.mu.RLock()
			_, stillRegistered := m.interfaces[exit.server]
			m.mu.RUnlock()
			if stillRegistered {
				panic("netmgr: interface " + exit.server + " exited cleanly while still registered")
			}
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *NetworkManager) tick(ctx context.Context) {
	m.socketMu.Lock()
	pending := m.socketQueue
	m.socketQueue = nil
	m.socketMu.Unlock()
	for _, server := range pending {
		go m.newInterface(ctx, server)
	}

	now := time.Now()
	m.mu.Lock()
	need := m.numServer - len(m.interfaces) - len(m.connecting)
	retryNodes := now.Sub(m.nodesRetryTime) > nodesRetryInterval
	if retryNodes {
		m.disconnectedServers = make(map[string]bool)
		m.nodesRetryTime = now
	}
	m.mu.Unlock()

	for i := 0; i < need; i++ {
		m.startRandomInterface()
	}

	if !m.IsConnected() {
		if m.AutoConnect() {
			if !m.isConnecting(m.DefaultServer()) {
				m.switchToRandomInterface()
			}
		} else {
			def := m.DefaultServer()
			m.mu.Lock()
			disconnected := m.disconnectedServers[def]
			retryServer := now.Sub(m.serverRetryTime) > serverRetryInterval
			m.mu.Unlock()
			if disconnected {
				if retryServer {
					m.mu.Lock()
					delete(m.disconnectedServers, def)
					m.serverRetryTime = now
					m.mu.Unlock()
				}
			} else {
				m.switchToInterface(def)
			}
		}
	}
}

func (m *NetworkManager) isConnecting(server string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connecting[server]
}

// startRandomInterface enqueues a random eligible server not already
// connected or connecting.
func (m *NetworkManager) startRandomInterface() {
	m.mu.RLock()
	exclude := make(map[string]bool, len(m.disconnectedServers)+len(m.interfaces))
	for s := range m.disconnectedServers {
		exclude[s] = true
	}
	for s := range m.interfaces {
		exclude[s] = true
	}
	proto := m.protocol
	m.mu.RUnlock()

	m.peersMu.RLock()
	peers := m.peers
	m.peersMu.RUnlock()

	if server, ok := pickRandomServer(peers, proto, exclude); ok {
		m.enqueueServer(server)
	}
}

// switchToRandomInterface switches to a random already-connected interface
// other than the current default.
func (m *NetworkManager) switchToRandomInterface() {
	m.mu.RLock()
	var candidates []string
	for s := range m.interfaces {
		if s != m.defaultServer {
			candidates = append(candidates, s)
		}
	}
	m.mu.RUnlock()
	if len(candidates) == 0 {
		return
	}
	m.switchToInterface(candidates[rand.Intn(len(candidates))])
}

// switchLaggingInterface re-elects a connected interface that already has
// the local tip's header when auto-connect is on and the current main
// interface is lagging behind it.
func (m *NetworkManager) switchLaggingInterface() {
	m.mu.RLock()
	autoConnect := m.autoConnect
	m.mu.RUnlock()
	if !autoConnect || !m.serverIsLagging() {
		return
	}
	localHeight := m.GetLocalHeight()
	header, err := m.headers.ReadHeader(localHeight)
	if err != nil {
		return
	}

	wantHex, err := encodeHeaderHex(header)
	if err != nil {
		return
	}

	m.mu.RLock()
	var candidates []string
	for s, iface := range m.interfaces {
		tip, tipHex := iface.Tip()
		if tip >= localHeight && tipHex == wantHex {
			candidates = append(candidates, s)
		}
	}
	m.mu.RUnlock()
	if len(candidates) == 0 {
		return
	}
	m.switchToInterface(candidates[rand.Intn(len(candidates))])
}

// encodeHeaderHex renders h back to the raw hex form Electrum pushes over
// blockchain.headers.subscribe, so it can be compared against an
// Interface's last-known tip hex.
func encodeHeaderHex(h *wire.BlockHeader) (string, error) {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// serverIsLagging reports whether the main interface's reported tip is more
// than one block behind our local best-known height.
func (m *NetworkManager) serverIsLagging() bool {
	serverHeight := m.GetServerHeight()
	if serverHeight == 0 {
		return true
	}
	localHeight := m.GetLocalHeight()
	lagging := (localHeight - serverHeight) > 1
	if lagging {
		m.logf("netmgr: %s is lagging (%d vs %d)", m.DefaultServer(), serverHeight, localHeight)
	}
	return lagging
}

// switchToInterface makes server the default server and, if it's already
// connected, the main interface — closing the previous main interface and
// (pool permitting) re-queuing it, mirroring the original's
// switch_to_interface.
func (m *NetworkManager) switchToInterface(server string) {
	m.mu.Lock()
	m.defaultServer = server
	iface, ok := m.interfaces[server]
	if !ok {
		m.mainInterface = nil
		m.mu.Unlock()
		m.enqueueServer(server)
		return
	}
	current := m.mainInterface
	if current == iface {
		m.mu.Unlock()
		return
	}
	m.logf("netmgr: switching to %s", server)
	if current != nil {
		oldServer := current.Server.String()
		delete(m.interfaces, oldServer)
		poolSize := len(m.interfaces)
		limit := m.numServer
		m.mu.Unlock()
		current.Close()
		if poolSize <= limit {
			m.enqueueServer(oldServer)
		}
		m.mu.Lock()
	}
	m.mainInterface = iface
	m.mu.Unlock()

	m.root.Spawn(func(ctx context.Context) error {
		return m.requestServerInfo(iface)
	})
	m.bus.Trigger("default_server_changed")
	m.setStatus("connected")
	m.notifyUpdated()
	m.bus.Trigger("interfaces", m.Interfaces())
}

// connectionDown marks server as disconnected and drops it from the pool.
func (m *NetworkManager) connectionDown(server string) {
	m.mu.Lock()
	m.disconnectedServers[server] = true
	delete(m.connecting, server)
	if server == m.defaultServer {
		m.setStatusLocked("disconnected")
	}
	iface, ok := m.interfaces[server]
	if ok {
		delete(m.interfaces, server)
		if m.mainInterface == iface {
			m.mainInterface = nil
		}
	}
	m.mu.Unlock()
	if ok {
		iface.Close()
		m.bus.Trigger("interfaces", m.Interfaces())
	}
}

// addRecentServer records server at the front of the recent-servers list,
// capped to recentServersLimit entries, and persists it.
func (m *NetworkManager) addRecentServer(server string) {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	out := []string{server}
	for _, s := range m.recentServers {
		if s != server {
			out = append(out, s)
		}
	}
	if len(out) > recentServersLimit {
		out = out[:recentServersLimit]
	}
	m.recentServers = out
	if b, err := json.Marshal(out); err == nil {
		m.config.SetKey("recent_servers", string(b), false)
	}
}

// newInterface dials server, waits for it to become ready within the
// proxy-aware timeout, and on success adds it to the pool (electing it as
// main if it's the current default server), mirroring the original's
// new_interface coroutine.
func (m *NetworkManager) newInterface(ctx context.Context, server string) {
	defer func() {
		m.mu.Lock()
		delete(m.connecting, server)
		m.mu.Unlock()
	}()

	m.addRecentServer(server)

	addr, err := serveraddr.Deserialize(server)
	if err != nil {
		m.connectionDown(server)
		return
	}

	var verify electrum.VerifyFunc
	if addr.Proto == serveraddr.SSL {
		verify = m.certStore.Verify
	}

	m.mu.RLock()
	proxy := m.dns.ForDial()
	m.mu.RUnlock()

	iface := netiface.Open(m.root.Context(), addr, proxy, verify, m.headers, m)

	timeout := netiface.ReadyTimeout(proxy)
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err = iface.Ready(waitCtx)
	cancel()
	if err != nil {
		m.logf("netmgr: %s couldn't launch because %v", server, err)
		iface.Close()
		m.connectionDown(server)
		return
	}

	m.mu.Lock()
	m.interfaces[server] = iface
	isDefault := server == m.defaultServer
	m.mu.Unlock()

	go func() {
		err := iface.Wait()
		m.interfaceDone <- interfaceExit{server: server, err: err}
	}()

	if isDefault {
		m.switchToInterface(server)
	}
	m.bus.Trigger("interfaces", m.Interfaces())
}

func (m *NetworkManager) setStatus(status string) {
	m.mu.Lock()
	m.setStatusLocked(status)
	m.mu.Unlock()
}

func (m *NetworkManager) setStatusLocked(status string) {
	m.statusMu.Lock()
	m.status = status
	m.statusMu.Unlock()
	m.bus.SetStatus("status", status)
	m.bus.Trigger("status")
}

func (m *NetworkManager) notifyUpdated() {
	m.bus.SetStatus("updated", [2]int32{m.GetLocalHeight(), m.GetServerHeight()})
	m.bus.Trigger("updated")
}

func (m *NetworkManager) setPeers(peers map[string]ServerEntry) {
	m.peersMu.Lock()
	m.peers = peers
	m.peersMu.Unlock()
}

func (m *NetworkManager) setServerInfo(info ServerInfo) {
	m.infoMu.Lock()
	m.info = info
	m.infoMu.Unlock()
}

// Servers returns a fresh copy of the server feature map from the main
// interface's last server.peers.subscribe. Recent servers are not merged in,
// and there is no built-in default server list.
func (m *NetworkManager) Servers() map[string]ServerEntry {
	m.peersMu.RLock()
	defer m.peersMu.RUnlock()
	out := make(map[string]ServerEntry, len(m.peers))
	for k, v := range m.peers {
		out[k] = v
	}
	return out
}

// Interfaces returns the server strings currently in the connected pool.
func (m *NetworkManager) Interfaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.interfaces))
	for s := range m.interfaces {
		out = append(out, s)
	}
	return out
}

// IsConnected reports whether a main interface is elected and ready.
func (m *NetworkManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mainInterface != nil
}

// AutoConnect reports the current auto-connect setting.
func (m *NetworkManager) AutoConnect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoConnect
}

// DefaultServer returns the currently configured default server string.
func (m *NetworkManager) DefaultServer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultServer
}

// GetLocalHeight returns the height of our best-known header chain.
func (m *NetworkManager) GetLocalHeight() int32 {
	return m.headers.Height()
}

// GetServerHeight returns the main interface's last reported tip, or 0 if
// not connected.
func (m *NetworkManager) GetServerHeight() int32 {
	m.mu.RLock()
	iface := m.mainInterface
	m.mu.RUnlock()
	if iface == nil {
		return 0
	}
	tip, _ := iface.Tip()
	return tip
}

// Session returns the main interface's RPC session, or nil if not
// connected. Synchronizer uses this to issue its scripthash/transaction
// RPCs, mirroring the original's Synchronizer.session property.
func (m *NetworkManager) Session() *electrum.Node {
	m.mu.RLock()
	iface := m.mainInterface
	m.mu.RUnlock()
	if iface == nil {
		return nil
	}
	return iface.Session()
}

// GetStatusValue implements the same pull-accessor shape as the original's
// get_status_value, for callers that want the latest value without having
// subscribed before it was last triggered.
func (m *NetworkManager) GetStatusValue(key string) (interface{}, bool) {
	return m.bus.GetStatusValue(key)
}

// FollowChain re-points the manager at the fork identified by index,
// switching to whichever connected interface already follows that fork if
// one exists.
func (m *NetworkManager) FollowChain(index int) error {
	m.mu.RLock()
	var candidate string
	for s, iface := range m.interfaces {
		if iface.Blockchain != nil && iface.Blockchain.Forkpoint() == int32(index) {
			candidate = s
			break
		}
	}
	m.mu.RUnlock()
	if candidate == "" {
		return errors.Errorf("netmgr: no interface following fork %d", index)
	}
	m.switchToInterface(candidate)
	return nil
}

// BroadcastTransaction submits rawTxHex to the main interface, returning
// (true, txid) on acceptance or (false, detail) on rejection/timeout.
func (m *NetworkManager) BroadcastTransaction(ctx context.Context, rawTxHex string, timeout time.Duration) (bool, string) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	m.mu.RLock()
	iface := m.mainInterface
	m.mu.RUnlock()
	if iface == nil || iface.Session() == nil {
		return false, "error: not connected"
	}

	txid, err := m.txCodec.Txid(rawTxHex)
	if err != nil {
		return false, "error: " + err.Error()
	}

	type result struct {
		txid string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		got, err := iface.Session().BlockchainTransactionBroadcast(rawTxHex)
		done <- result{txid: got, err: err}
	}()

	select {
	case <-time.After(timeout):
		return false, "error: operation timed out"
	case r := <-done:
		if r.err != nil {
			return false, "error: " + r.err.Error()
		}
		if r.txid != txid {
			return false, "error: " + r.txid
		}
		return true, r.txid
	case <-ctx.Done():
		return false, "error: " + ctx.Err().Error()
	}
}

// GetMerkleForTransaction fetches the merkle proof for txid confirmed at
// txHeight from the main interface.
func (m *NetworkManager) GetMerkleForTransaction(txid string, txHeight int32) (electrum.Merkle, error) {
	m.mu.RLock()
	iface := m.mainInterface
	m.mu.RUnlock()
	if iface == nil || iface.Session() == nil {
		return electrum.Merkle{}, errors.New("netmgr: not connected")
	}
	return iface.Session().BlockchainTransactionGetMerkle(txid, txHeight)
}

// SetParameters validates and applies a new (server, proxy, auto-connect)
// triple. It returns false without applying anything if the triple fails
// validation or persistence is rejected by config.
func (m *NetworkManager) SetParameters(server serveraddr.ServerAddr, proxy *serveraddr.ProxySpec, autoConnect bool) bool {
	serverStr := server.String()
	if _, err := serveraddr.Deserialize(serverStr); err != nil {
		return false
	}
	proxyStr := "none"
	if proxy != nil {
		if proxy.Mode != serveraddr.Socks4 && proxy.Mode != serveraddr.Socks5 {
			return false
		}
		proxyStr = serveraddr.SerializeProxy(*proxy)
	}

	autoConnectStr := "true"
	if !autoConnect {
		autoConnectStr = "false"
	}
	if !m.config.SetKey("auto_connect", autoConnectStr, false) {
		return false
	}
	if !m.config.SetKey("proxy", proxyStr, false) {
		return false
	}
	if !m.config.SetKey("server", serverStr, true) {
		return false
	}
	gotServer, _ := m.config.Get("server")
	gotProxy, _ := m.config.Get("proxy")
	if gotServer != serverStr || gotProxy != proxyStr {
		return false
	}

	m.mu.Lock()
	m.autoConnect = autoConnect
	proxyChanged := !proxyEqual(m.proxy, proxy)
	protocolChanged := m.protocol != server.Proto
	oldDefault := m.defaultServer
	m.mu.Unlock()

	if proxyChanged || protocolChanged {
		m.Stop()
		m.mu.Lock()
		m.proxy = proxy
		if proxy != nil {
			m.dns = NewProxyDnsPolicy(*proxy)
		} else {
			m.dns = NewDirectDnsPolicy()
		}
		m.protocol = server.Proto
		m.defaultServer = serverStr
		m.interfaces = make(map[string]*netiface.Interface)
		m.connecting = make(map[string]bool)
		m.mu.Unlock()
		m.bus.Trigger("proxy_set", proxy)
		m.Start(context.Background())
	} else if oldDefault != serverStr {
		m.switchToInterface(serverStr)
	} else {
		m.switchLaggingInterface()
		m.notifyUpdated()
	}
	return true
}

func proxyEqual(a, b *serveraddr.ProxySpec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
