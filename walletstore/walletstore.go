// Package walletstore implements a narrow contract for wallet state:
// Synchronizer needs somewhere to read which addresses to watch and
// somewhere to deposit history/tx results, without owning wallet/key
// state itself.
package walletstore

import "sync"

// HistEntry is one (height, txid[, fee]) history entry, mirroring
// blockchain.scripthash.get_history's shape once decoded.
type HistEntry struct {
	Height int64
	TxHash string
	Fee    int64
}

// PrunedHistory is the sentinel History result old Electrum servers
// returned as ['*'] for a fully-pruned address. Old wallets may still carry
// it; IsPrunedHistory recognizes it so callers skip treating it as a real
// transaction reference.
var PrunedHistory = []HistEntry{{TxHash: "*"}}

// IsPrunedHistory reports whether hist is the pruned-history sentinel.
func IsPrunedHistory(hist []HistEntry) bool {
	return len(hist) == 1 && hist[0].TxHash == "*"
}

// WalletStore is the collaborator Synchronizer reads addresses from and
// writes sync results to. The only implementation in this module is
// MemStore; a real wallet would back this with on-disk/database state.
type WalletStore interface {
	// Addresses returns every address the wallet wants watched.
	Addresses() []string

	// History returns the last history this store recorded for addr, and
	// whether any has been recorded (false means "never synced", distinct
	// from "recorded as empty").
	History(addr string) ([]HistEntry, bool)

	// ReceiveHistory records a new history for addr, replacing whatever
	// was stored before — called once a status digest has been validated
	// against the newly fetched history (synchronizer.go).
	ReceiveHistory(addr string, hist []HistEntry)

	// Transactions reports which transaction hashes this store already
	// holds, so Synchronizer only requests transactions it doesn't have.
	Transactions() map[string]bool

	// ReceiveTx records a fetched transaction's raw hex and height.
	ReceiveTx(txid string, rawHex string, height int64)

	// Synchronize is called once per synchronizer tick; implementations
	// that need to do periodic bookkeeping (e.g. a real wallet recomputing
	// balances) hook in here. MemStore's implementation is a no-op.
	Synchronize()

	// IsUpToDate reports whether every address's history matches its
	// last-known server status and every referenced transaction has been
	// fetched.
	IsUpToDate() bool

	// SetUpToDate records the current up-to-date state.
	SetUpToDate(bool)
}

// MemStore is an in-memory WalletStore, sufficient for tests and the CLI
// demo; it is not persisted.
type MemStore struct {
	mu         sync.Mutex
	addresses  []string
	history    map[string][]HistEntry
	haveHist   map[string]bool
	txs        map[string]rawTx
	upToDate   bool
}

type rawTx struct {
	hex    string
	height int64
}

// NewMemStore returns a store that watches the given addresses.
func NewMemStore(addresses []string) *MemStore {
	return &MemStore{
		addresses: addresses,
		history:   make(map[string][]HistEntry),
		haveHist:  make(map[string]bool),
		txs:       make(map[string]rawTx),
	}
}

// Addresses implements WalletStore.
func (s *MemStore) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.addresses...)
}

// History implements WalletStore.
func (s *MemStore) History(addr string) ([]HistEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveHist[addr] {
		return nil, false
	}
	return append([]HistEntry(nil), s.history[addr]...), true
}

// ReceiveHistory implements WalletStore.
func (s *MemStore) ReceiveHistory(addr string, hist []HistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[addr] = hist
	s.haveHist[addr] = true
}

// Transactions implements WalletStore.
func (s *MemStore) Transactions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.txs))
	for txid := range s.txs {
		out[txid] = true
	}
	return out
}

// ReceiveTx implements WalletStore.
func (s *MemStore) ReceiveTx(txid string, rawHex string, height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[txid] = rawTx{hex: rawHex, height: height}
}

// Synchronize implements WalletStore; MemStore has no periodic work to do.
func (s *MemStore) Synchronize() {}

// IsUpToDate implements WalletStore.
func (s *MemStore) IsUpToDate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upToDate
}

// SetUpToDate implements WalletStore.
func (s *MemStore) SetUpToDate(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upToDate = v
}
