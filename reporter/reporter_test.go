package reporter

import (
	"testing"
	"time"

	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/netmgr"
	"github.com/stretchr/testify/assert"
)

// Async handlers run in their own goroutine, so tests poll briefly instead
// of asserting immediately after Trigger.
func eventually(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, fn())
}

func TestAddressScheduledIncrementsCounter(t *testing.T) {
	bus := callbackbus.New()
	r := New(bus)
	bus.Trigger("address_scheduled", "addr1")
	eventually(t, func() bool { return r.GetAddressesScheduled() == 1 })
}

func TestAddressFetchedIncrementsCounter(t *testing.T) {
	bus := callbackbus.New()
	r := New(bus)
	bus.Trigger("address_fetched", "addr1")
	eventually(t, func() bool { return r.GetAddressesFetched() == 1 })
}

func TestNewTransactionIncrementsTxFetched(t *testing.T) {
	bus := callbackbus.New()
	r := New(bus)
	bus.Trigger("new_transaction", "deadbeef")
	eventually(t, func() bool { return r.GetTxFetched() == 1 })
}

func TestTxScheduledIncrementsCounter(t *testing.T) {
	bus := callbackbus.New()
	r := New(bus)
	bus.Trigger("tx_scheduled", "deadbeef")
	eventually(t, func() bool { return r.GetTxScheduled() == 1 })
}

func TestServersUpdatesPeerCount(t *testing.T) {
	bus := callbackbus.New()
	r := New(bus)
	bus.Trigger("servers", map[string]netmgr.ServerEntry{
		"a.example.com": {Host: "a.example.com"},
		"b.example.com": {Host: "b.example.com"},
	})
	eventually(t, func() bool { return r.GetPeers() == 2 })
}

func TestLogWithCountersDoesNotPanic(t *testing.T) {
	r := &Reporter{}
	r.IncAddressesScheduled()
	r.IncAddressesFetched()
	r.SetPeers(3)
	// Log writes to the standard logger; this just exercises the formatting
	// path for panics, since GetInstance()-style singleton state no longer
	// exists to assert against.
	r.Log("test message")
}
