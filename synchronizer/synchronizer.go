package synchronizer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/square/ltcnet/addrcodec"
	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/electrum"
	"github.com/square/ltcnet/taskgroup"
	"github.com/square/ltcnet/txcodec"
	"github.com/square/ltcnet/walletstore"
)

const mainLoopInterval = 100 * time.Millisecond

// SessionProvider is the one thing Synchronizer needs from NetworkManager:
// the main interface's current RPC session, or nil if not connected.
// Keeping this narrow (rather than depending on *netmgr.NetworkManager
// directly) mirrors the rest of the module's collaborator contracts
// (TxCodec, AddrCodec, WalletStore) and lets tests supply a fake session
// without a live Electrum connection.
type SessionProvider interface {
	Session() *electrum.Node
}

// statusUpdate is one (scripthash, status) pair, either the initial result
// of a subscribe call or a later push, queued for handleStatus.
type statusUpdate struct {
	scripthash string
	status     string
}

// Synchronizer keeps a WalletStore's addresses subscribed against the
// network's main interface: it subscribes every address, reacts to status
// digest changes by fetching the new history and whichever transactions it
// references, and reports up-to-date transitions on the callback bus.
// Mirrors the original's Synchronizer almost line-for-line.
type Synchronizer struct {
	wallet    walletstore.WalletStore
	net       SessionProvider
	bus       *callbackbus.Bus
	addrCodec addrcodec.AddrCodec
	txCodec   txcodec.TxCodec

	addQueue    chan string
	statusQueue chan statusUpdate

	mu                   sync.Mutex
	requestedAddrs       map[string]bool   // addr -> queued for subscription by Add
	requestedHistories   map[string]string // addr -> status last validated against
	scripthashToAddress  map[string]string // scripthash -> addr
	requestedTx          map[string]int64  // txid -> height, awaiting fetch

	root *taskgroup.Group
}

// New returns a Synchronizer for wallet, driven by net's main interface.
func New(wallet walletstore.WalletStore, net SessionProvider, bus *callbackbus.Bus, addrCodec addrcodec.AddrCodec, txCodec txcodec.TxCodec) *Synchronizer {
	return &Synchronizer{
		wallet:              wallet,
		net:                 net,
		bus:                 bus,
		addrCodec:           addrCodec,
		txCodec:             txCodec,
		addQueue:            make(chan string, 256),
		statusQueue:         make(chan statusUpdate, 256),
		requestedAddrs:      make(map[string]bool),
		requestedHistories:  make(map[string]string),
		scripthashToAddress: make(map[string]string),
		requestedTx:         make(map[string]int64),
	}
}

// IsUpToDate reports whether every watched address's history has been
// fetched and matches its last-known server status.
func (s *Synchronizer) IsUpToDate() bool {
	return s.wallet.IsUpToDate()
}

// Add queues addr to be subscribed, skipping it if already requested —
// mirroring the original's Synchronizer.add, which is safe to call multiple
// times for the same address (e.g. as a wallet's lookahead grows).
func (s *Synchronizer) Add(addr string) {
	s.mu.Lock()
	already := s.requestedAddrs[addr]
	if !already {
		s.requestedAddrs[addr] = true
	}
	s.mu.Unlock()
	if already {
		return
	}
	s.bus.Trigger("address_scheduled", addr)
	s.addQueue <- addr
}

// Start launches the synchronizer's background tasks (subscription sender,
// status handler, main loop) in a task group scoped to ctx.
func (s *Synchronizer) Start(ctx context.Context) {
	s.root = taskgroup.New(ctx)
	s.root.Spawn(s.sendSubscriptions)
	s.root.Spawn(s.handleStatus)
	s.root.Spawn(s.main)
}

// Stop cancels the synchronizer's background tasks and waits for them to
// return.
func (s *Synchronizer) Stop() error {
	if s.root == nil {
		return nil
	}
	s.root.Cancel()
	return s.root.Wait()
}

// sendSubscriptions drains addQueue, issuing a blockchain.scripthash.subscribe
// for each address as it arrives. Mirrors the original's
// Synchronizer.send_subscriptions coroutine.
func (s *Synchronizer) sendSubscriptions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr, ok := <-s.addQueue:
			if !ok {
				return nil
			}
			if err := s.subscribeToAddress(ctx, addr); err != nil {
				// A single address failing to subscribe (e.g. no main
				// interface yet) shouldn't kill the pipeline; the address
				// is queued again after mainLoopInterval.
				go func(addr string) {
					select {
					case <-time.After(mainLoopInterval):
					case <-ctx.Done():
						return
					}
					select {
					case s.addQueue <- addr:
					case <-ctx.Done():
					}
				}(addr)
				continue
			}
		}
	}
}

// subscribeToAddress issues the subscribe RPC for addr, queues its initial
// status, and starts a background task forwarding this scripthash's further
// pushes into statusQueue.
func (s *Synchronizer) subscribeToAddress(ctx context.Context, addr string) error {
	session := s.net.Session()
	if session == nil {
		return errors.New("synchronizer: no active session")
	}
	scripthash, err := s.addrCodec.Scripthash(addr)
	if err != nil {
		return errors.Wrapf(err, "synchronizer: address %q", addr)
	}

	status, pushCh, err := session.BlockchainScripthashSubscribe(scripthash)
	if err != nil {
		return errors.Wrap(err, "synchronizer: scripthash.subscribe")
	}

	s.mu.Lock()
	s.scripthashToAddress[scripthash] = addr
	s.mu.Unlock()

	s.root.Spawn(func(ctx context.Context) error {
		return s.forwardPushes(ctx, scripthash, pushCh)
	})

	select {
	case s.statusQueue <- statusUpdate{scripthash: scripthash, status: status}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// forwardPushes relays status pushes for scripthash into statusQueue. Every
// subscribeToAddress call registers its own channel against the same
// "blockchain.scripthash.subscribe" push stream, so each push arrives once
// per subscribed address; forwardPushes only forwards the one it owns,
// filtering out anyone else's by scripthash.
func (s *Synchronizer) forwardPushes(ctx context.Context, scripthash string, pushCh <-chan electrum.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-pushCh:
			if !ok {
				return errors.New("synchronizer: status subscription closed")
			}
			var params []*string
			if err := json.Unmarshal(f.Params, &params); err != nil || len(params) != 2 {
				continue
			}
			if params[0] == nil || *params[0] != scripthash {
				continue
			}
			status := ""
			if params[1] != nil {
				status = *params[1]
			}
			select {
			case s.statusQueue <- statusUpdate{scripthash: scripthash, status: status}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleStatus drains statusQueue, resolving each scripthash back to its
// address and handing it to onAddressStatus. Mirrors the original's
// Synchronizer.handle_status.
func (s *Synchronizer) handleStatus(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-s.statusQueue:
			if !ok {
				return nil
			}
			s.mu.Lock()
			addr, known := s.scripthashToAddress[upd.scripthash]
			s.mu.Unlock()
			if !known {
				continue
			}
			if err := s.onAddressStatus(ctx, addr, upd.status); err != nil {
				continue
			}
		}
	}
}

// onAddressStatus reacts to a (possibly unchanged) status digest for addr:
// if it matches what's already been validated, there's nothing to do;
// otherwise fetch the new history, validate its digest, record it, and
// fetch whichever referenced transactions aren't already held. Mirrors the
// original's Synchronizer.on_address_status.
func (s *Synchronizer) onAddressStatus(ctx context.Context, addr, status string) error {
	s.mu.Lock()
	last, seen := s.requestedHistories[addr]
	s.mu.Unlock()
	if seen && last == status {
		return nil
	}

	if status == "" {
		s.wallet.ReceiveHistory(addr, nil)
		s.mu.Lock()
		s.requestedHistories[addr] = status
		s.mu.Unlock()
		s.bus.Trigger("address_fetched", addr)
		s.bus.Trigger("updated")
		return nil
	}

	session := s.net.Session()
	if session == nil {
		return errors.New("synchronizer: no active session")
	}
	scripthash, err := s.addrCodec.Scripthash(addr)
	if err != nil {
		return err
	}
	raw, err := session.BlockchainScripthashGetHistory(scripthash)
	if err != nil {
		return errors.Wrap(err, "synchronizer: scripthash.get_history")
	}

	hist := make([]walletstore.HistEntry, len(raw))
	for i, e := range raw {
		hist[i] = walletstore.HistEntry{Height: e.Height, TxHash: e.TxHash, Fee: e.Fee}
	}
	if digest := StatusDigest(hist); digest != status {
		return errors.Errorf("synchronizer: status digest mismatch for %s: server=%s computed=%s", addr, status, digest)
	}

	s.wallet.ReceiveHistory(addr, hist)
	s.mu.Lock()
	s.requestedHistories[addr] = status
	s.mu.Unlock()

	if err := s.requestMissingTxs(ctx, hist); err != nil {
		return err
	}
	s.bus.Trigger("address_fetched", addr)
	s.bus.Trigger("updated")
	return nil
}

// requestMissingTxs fetches every transaction hist references that the
// wallet store doesn't already hold, one task group child per transaction
// so a slow or stuck fetch doesn't stall the others. Mirrors the original's
// Synchronizer.request_missing_txs.
func (s *Synchronizer) requestMissingTxs(ctx context.Context, hist []walletstore.HistEntry) error {
	have := s.wallet.Transactions()
	group := taskgroup.New(ctx)
	for _, h := range hist {
		if have[h.TxHash] {
			continue
		}
		s.mu.Lock()
		_, pending := s.requestedTx[h.TxHash]
		s.requestedTx[h.TxHash] = h.Height
		s.mu.Unlock()
		if pending {
			continue
		}
		txHash, height := h.TxHash, h.Height
		s.bus.Trigger("tx_scheduled", txHash)
		group.Spawn(func(ctx context.Context) error {
			return s.getTransaction(ctx, txHash, height)
		})
	}
	return group.Wait()
}

// getTransaction fetches one transaction's raw hex and deposits it in the
// wallet store. Mirrors the original's Synchronizer.get_transaction.
func (s *Synchronizer) getTransaction(ctx context.Context, txHash string, height int64) error {
	session := s.net.Session()
	if session == nil {
		return errors.New("synchronizer: no active session")
	}
	raw, err := session.BlockchainTransactionGet(txHash)
	if err != nil {
		return errors.Wrapf(err, "synchronizer: transaction.get %s", txHash)
	}
	if got, err := s.txCodec.Txid(raw); err != nil || got != txHash {
		return errors.Errorf("synchronizer: fetched transaction hash mismatch for %s", txHash)
	}
	s.wallet.ReceiveTx(txHash, raw, height)

	s.mu.Lock()
	delete(s.requestedTx, txHash)
	s.mu.Unlock()
	s.bus.Trigger("new_transaction", txHash)
	return nil
}

// main is the synchronizer's bootstrap and polling loop: re-request any
// transaction a previously recorded history still references but the
// wallet doesn't hold, queue every address for subscription, then tick
// every mainLoopInterval, ticking the wallet's own periodic bookkeeping and
// triggering "updated" whenever up-to-date-ness changes. Mirrors the
// original's Synchronizer.main.
func (s *Synchronizer) main(ctx context.Context) error {
	for _, addr := range s.wallet.Addresses() {
		hist, ok := s.wallet.History(addr)
		if !ok || walletstore.IsPrunedHistory(hist) {
			continue
		}
		if err := s.requestMissingTxs(ctx, hist); err != nil {
			return err
		}
	}

	for _, addr := range s.wallet.Addresses() {
		s.Add(addr)
	}

	wasUpToDate := false
	ticker := time.NewTicker(mainLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.wallet.Synchronize()
			upToDate := s.isSynchronized()
			s.wallet.SetUpToDate(upToDate)
			if upToDate != wasUpToDate {
				wasUpToDate = upToDate
				s.bus.Trigger("updated")
			}
		}
	}
}

// isSynchronized reports whether every requested address has a recorded
// history matching its last status and no transaction fetch is still
// pending.
func (s *Synchronizer) isSynchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requestedTx) > 0 {
		return false
	}
	for addr := range s.requestedAddrs {
		if _, ok := s.requestedHistories[addr]; !ok {
			return false
		}
	}
	return true
}
