// Package netiface implements the Interface session wrapper: one TCP+TLS
// JSON-RPC session to one Electrum server, owning its current chain-tip
// view and a task group for server-scoped background work (the headers
// subscription loop).
package netiface

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/square/ltcnet/electrum"
	"github.com/square/ltcnet/headerstore"
	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/taskgroup"
)

// Sentinel errors for the ready future.
var (
	ErrHandshakeFailed = errors.New("netiface: handshake failed")
	ErrVersionTooOld   = errors.New("netiface: server protocol version too old")
	ErrTLSError        = errors.New("netiface: TLS error")
)

const (
	// defaultReadyTimeout and proxyReadyTimeout are the connect timeouts:
	// 10s direct, 20s behind a proxy (a SOCKS handshake adds a hop of
	// latency).
	defaultReadyTimeout = 10 * time.Second
	proxyReadyTimeout   = 20 * time.Second

	clientName      = "ltcnet"
	minProtocolVers = "1.4"
	maxProtocolVers = "1.4.2"
)

// ChunkRequester lets an Interface ask its owning NetworkManager to fetch a
// header chunk, rather than doing so itself — netmgr owns request dedup.
type ChunkRequester interface {
	RequestChunk(iface *Interface, index int)
}

// Interface is one live (or connecting) session to a remote Electrum
// server.
type Interface struct {
	Server serveraddr.ServerAddr

	node *electrum.Node

	readyCh chan struct{}
	readyMu sync.Mutex
	readyErr error
	ready   bool

	tipMu  sync.RWMutex
	tip    int32
	tipHex string

	Blockchain *headerstore.MemStore

	group *taskgroup.Group

	serverVersion string
}

// Open begins connecting to server and returns immediately; the caller
// must wait on Ready before using the Interface for RPCs. headers is the
// shared (per-fork) header store the chunk coordinator will fill in;
// verify pins the server's TLS certificate (nil to skip pinning, e.g. for
// plain TCP).
func Open(ctx context.Context, server serveraddr.ServerAddr, proxy *serveraddr.ProxySpec, verify electrum.VerifyFunc, headers *headerstore.MemStore, chunks ChunkRequester) *Interface {
	iface := &Interface{
		Server:     server,
		readyCh:    make(chan struct{}),
		Blockchain: headers,
		group:      taskgroup.New(ctx),
	}
	go iface.connect(proxy, verify, chunks)
	return iface
}

func (i *Interface) connect(proxy *serveraddr.ProxySpec, verify electrum.VerifyFunc, chunks ChunkRequester) {
	node, err := electrum.Dial(i.Server, proxy, verify)
	if err != nil {
		i.fail(errors.Wrapf(ErrHandshakeFailed, "%s: %v", i.Server, err))
		return
	}
	i.node = node

	serverVers, protoVers, err := node.ServerVersion(clientName, maxProtocolVers)
	if err != nil {
		node.Close()
		i.fail(errors.Wrapf(ErrVersionTooOld, "%s: %v", i.Server, err))
		return
	}
	i.serverVersion = serverVers
	_ = protoVers

	initial, pushCh, err := node.BlockchainHeadersSubscribe()
	if err != nil {
		node.Close()
		i.fail(err)
		return
	}
	i.setTip(initial.Height, initial.Hex)

	i.readyMu.Lock()
	i.ready = true
	i.readyMu.Unlock()
	close(i.readyCh)

	i.group.Spawn(func(ctx context.Context) error {
		return i.headersLoop(ctx, pushCh, chunks)
	})
}

func (i *Interface) fail(err error) {
	i.readyMu.Lock()
	i.readyErr = err
	i.readyMu.Unlock()
	close(i.readyCh)
}

// Ready blocks until the session is usable or ctx is cancelled, returning
// the error the connect attempt failed with, or nil on success. Dial
// failures, TLS handshake and certificate-pin failures included, wrap
// ErrHandshakeFailed; a failed server.version call wraps ErrVersionTooOld; a
// failed headers subscription is returned unwrapped. ErrTLSError is never
// returned.
func (i *Interface) Ready(ctx context.Context) error {
	select {
	case <-i.readyCh:
		i.readyMu.Lock()
		defer i.readyMu.Unlock()
		return i.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadyTimeout returns the connect deadline to use for this interface:
// longer when a proxy is configured.
func ReadyTimeout(proxy *serveraddr.ProxySpec) time.Duration {
	if proxy != nil {
		return proxyReadyTimeout
	}
	return defaultReadyTimeout
}

// Tip returns the interface's last-known best height and raw header hex.
func (i *Interface) Tip() (height int32, headerHex string) {
	i.tipMu.RLock()
	defer i.tipMu.RUnlock()
	return i.tip, i.tipHex
}

func (i *Interface) setTip(height int32, headerHex string) {
	i.tipMu.Lock()
	i.tip = height
	i.tipHex = headerHex
	i.tipMu.Unlock()
}

// ServerVersion returns the server's self-reported version string,
// available once Ready has completed successfully.
func (i *Interface) ServerVersion() string {
	return i.serverVersion
}

// Session exposes the underlying RPC session for NetworkManager's
// blockchain.* proxying: client RPCs are served by proxying to the main
// interface's session.
func (i *Interface) Session() *electrum.Node {
	return i.node
}

// Close drops the socket, cancels the interface's task group, and causes
// any in-flight Ready/headersLoop to unwind.
func (i *Interface) Close() error {
	i.group.Cancel()
	if i.node != nil {
		return i.node.Close()
	}
	return nil
}

// Wait blocks until the interface's driver task (the headers loop)
// completes, returning its error — a non-nil error here is the signal
// NetworkManager uses to mark this interface dead.
func (i *Interface) Wait() error {
	return i.group.Wait()
}

// headersLoop is the interface's one long-running background task: it
// follows blockchain.headers.subscribe pushes, updates the tip, and, when
// the new tip is above the shared header store's height, asks the chunk
// coordinator for the chunk containing the new tip.
func (i *Interface) headersLoop(ctx context.Context, pushCh <-chan electrum.Frame, chunks ChunkRequester) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-pushCh:
			if !ok {
				return errors.New("netiface: headers subscription closed")
			}
			var params []electrum.BlockHeader
			if err := unmarshalParams(f, &params); err != nil || len(params) == 0 {
				continue
			}
			h := params[0]
			i.setTip(h.Height, h.Hex)
			if i.Blockchain != nil && chunks != nil {
				have := i.Blockchain.Height()
				if int32(h.Height) > have {
					chunks.RequestChunk(i, int(h.Height)/2016)
				}
			}
		}
	}
}
