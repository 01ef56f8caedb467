package synchronizer

import (
	"context"
	"testing"

	"github.com/square/ltcnet/addrcodec"
	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/electrum"
	"github.com/square/ltcnet/txcodec"
	"github.com/square/ltcnet/walletstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession never connects; it's used to exercise the "no active
// session" error paths without a live Electrum server.
type fakeSession struct{}

func (fakeSession) Session() *electrum.Node { return nil }

// fakeAddrCodec maps every address to a fixed scripthash, avoiding a
// dependency on real chain params in tests that don't care about the
// mapping itself.
type fakeAddrCodec struct{}

func (fakeAddrCodec) Scripthash(addr string) (string, error) {
	return "sh-" + addr, nil
}

func newTestSynchronizer() (*Synchronizer, *walletstore.MemStore) {
	wallet := walletstore.NewMemStore([]string{"addr1", "addr2"})
	s := New(wallet, fakeSession{}, callbackbus.New(), fakeAddrCodec{}, txcodec.NewWireCodec())
	return s, wallet
}

func TestAddSkipsDuplicateRequests(t *testing.T) {
	s, _ := newTestSynchronizer()
	s.Add("addr1")
	s.Add("addr1")
	assert.Len(t, s.addQueue, 1, "the second Add for the same address must not enqueue again")
}

func TestOnAddressStatusEmptyClearsHistory(t *testing.T) {
	s, wallet := newTestSynchronizer()
	wallet.ReceiveHistory("addr1", []walletstore.HistEntry{{TxHash: "aa", Height: 1}})

	err := s.onAddressStatus(context.Background(), "addr1", "")
	require.NoError(t, err)

	hist, ok := wallet.History("addr1")
	require.True(t, ok)
	assert.Empty(t, hist)
}

func TestOnAddressStatusSkipsUnchangedStatus(t *testing.T) {
	s, _ := newTestSynchronizer()
	s.requestedHistories["addr1"] = "abc123"

	err := s.onAddressStatus(context.Background(), "addr1", "abc123")
	assert.NoError(t, err)
}

func TestOnAddressStatusWithoutSessionErrors(t *testing.T) {
	s, _ := newTestSynchronizer()
	err := s.onAddressStatus(context.Background(), "addr1", "some-new-status")
	assert.Error(t, err)
}

func TestSubscribeToAddressWithoutSessionErrors(t *testing.T) {
	s, _ := newTestSynchronizer()
	err := s.subscribeToAddress(context.Background(), "addr1")
	assert.Error(t, err)
}

func TestGetTransactionWithoutSessionErrors(t *testing.T) {
	s, _ := newTestSynchronizer()
	err := s.getTransaction(context.Background(), "deadbeef", 100)
	assert.Error(t, err)
}

func TestIsSynchronizedFalseUntilEveryAddressHasHistory(t *testing.T) {
	s, _ := newTestSynchronizer()
	s.mu.Lock()
	s.requestedAddrs["addr1"] = true
	s.requestedAddrs["addr2"] = true
	s.mu.Unlock()

	assert.False(t, s.isSynchronized())

	s.mu.Lock()
	s.requestedHistories["addr1"] = ""
	s.requestedHistories["addr2"] = ""
	s.mu.Unlock()
	assert.True(t, s.isSynchronized())
}

func TestIsSynchronizedFalseWhilePendingTxFetch(t *testing.T) {
	s, _ := newTestSynchronizer()
	s.mu.Lock()
	s.requestedTx["deadbeef"] = 100
	s.mu.Unlock()
	assert.False(t, s.isSynchronized())
}

func TestIsUpToDateDelegatesToWalletStore(t *testing.T) {
	s, wallet := newTestSynchronizer()
	assert.False(t, s.IsUpToDate())
	wallet.SetUpToDate(true)
	assert.True(t, s.IsUpToDate())
}

// TestMainBootstrapRequestsMissingTxsForKnownHistory covers the bootstrap
// pass that runs before the subscribe-everything loop: an address whose
// history was already recorded on a previous run still needs its
// referenced transactions re-requested if the wallet doesn't hold them.
func TestMainBootstrapRequestsMissingTxsForKnownHistory(t *testing.T) {
	s, wallet := newTestSynchronizer()
	wallet.ReceiveHistory("addr1", []walletstore.HistEntry{{TxHash: "deadbeef", Height: 10}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.main(ctx)

	s.mu.Lock()
	_, pending := s.requestedTx["deadbeef"]
	s.mu.Unlock()
	assert.True(t, pending, "bootstrap must re-request a transaction a known history still references")
}

// TestMainBootstrapSkipsPrunedHistorySentinel covers the ['*'] sentinel old
// Electrum servers used for a fully-pruned address: bootstrap must not treat
// it as a real transaction reference.
func TestMainBootstrapSkipsPrunedHistorySentinel(t *testing.T) {
	s, wallet := newTestSynchronizer()
	wallet.ReceiveHistory("addr1", walletstore.PrunedHistory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.main(ctx)
	assert.Equal(t, context.Canceled, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.requestedTx, "pruned-history sentinel must not be treated as a real transaction reference")
}

var _ addrcodec.AddrCodec = fakeAddrCodec{}
