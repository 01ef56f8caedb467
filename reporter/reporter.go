// Package reporter implements a progress logger for NetworkManager and
// Synchronizer activity: addresses/transactions scheduled and fetched, peer
// count, and human-readable status lines, wired as a CallbackBus subscriber
// instead of a free-standing global singleton.
package reporter

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/netmgr"
)

// Reporter tracks synchronization progress and logs a line whenever a
// tracked event fires on the bus it's attached to.
type Reporter struct {
	addressesScheduled uint32
	addressesFetched   uint32
	txScheduled        uint32
	txFetched          uint32
	peers              int32
}

// New creates a Reporter and registers its handlers on bus. The returned
// Reporter needs no further wiring; it logs for the lifetime of bus.
func New(bus *callbackbus.Bus) *Reporter {
	r := &Reporter{}
	bus.Register("new_transaction", callbackbus.Async(r.onNewTransaction))
	bus.Register("updated", callbackbus.Async(r.onUpdated))
	bus.Register("servers", callbackbus.Async(r.onServers))
	bus.Register("status", callbackbus.Async(r.onStatus))
	bus.Register("banner", callbackbus.Async(r.onBanner))
	bus.Register("address_scheduled", callbackbus.Async(func(string, ...interface{}) { r.IncAddressesScheduled() }))
	bus.Register("address_fetched", callbackbus.Async(func(string, ...interface{}) { r.IncAddressesFetched() }))
	bus.Register("tx_scheduled", callbackbus.Async(func(string, ...interface{}) { r.IncTxScheduled() }))
	return r
}

func (r *Reporter) onNewTransaction(event string, args ...interface{}) {
	r.IncTxFetched()
	if len(args) > 0 {
		if txid, ok := args[0].(string); ok {
			r.Logf("fetched transaction %s", txid)
			return
		}
	}
	r.Log("fetched transaction")
}

func (r *Reporter) onUpdated(event string, args ...interface{}) {
	r.Log("wallet state updated")
}

func (r *Reporter) onServers(event string, args ...interface{}) {
	if len(args) == 0 {
		return
	}
	if servers, ok := args[0].(map[string]netmgr.ServerEntry); ok {
		r.SetPeers(int32(len(servers)))
	}
}

func (r *Reporter) onStatus(event string, args ...interface{}) {
	if len(args) > 0 {
		if status, ok := args[0].(string); ok {
			r.Logf("status: %s", status)
			return
		}
	}
	r.Log("status changed")
}

func (r *Reporter) onBanner(event string, args ...interface{}) {
	if len(args) > 0 {
		if banner, ok := args[0].(string); ok {
			r.Logf("banner: %s", banner)
		}
	}
}

// Log prints msg prefixed with the current scheduled/fetched counters and
// peer count, matching the original process-wide logger's line shape exactly.
func (r *Reporter) Log(msg string) {
	log.Printf("%d/%d %d/%d %d: %s\n", r.GetAddressesScheduled(), r.GetAddressesFetched(),
		r.GetTxScheduled(), r.GetTxFetched(), r.GetPeers(), msg)
}

// Logf is Log with fmt.Sprintf-style formatting.
func (r *Reporter) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}

func (r *Reporter) IncAddressesFetched() {
	atomic.AddUint32(&r.addressesFetched, 1)
}

func (r *Reporter) GetAddressesFetched() uint32 {
	return atomic.LoadUint32(&r.addressesFetched)
}

func (r *Reporter) IncAddressesScheduled() {
	atomic.AddUint32(&r.addressesScheduled, 1)
}

func (r *Reporter) GetAddressesScheduled() uint32 {
	return atomic.LoadUint32(&r.addressesScheduled)
}

func (r *Reporter) IncTxFetched() {
	atomic.AddUint32(&r.txFetched, 1)
}

func (r *Reporter) GetTxFetched() uint32 {
	return atomic.LoadUint32(&r.txFetched)
}

func (r *Reporter) IncTxScheduled() {
	atomic.AddUint32(&r.txScheduled, 1)
}

func (r *Reporter) GetTxScheduled() uint32 {
	return atomic.LoadUint32(&r.txScheduled)
}

func (r *Reporter) GetPeers() int32 {
	return atomic.LoadInt32(&r.peers)
}

func (r *Reporter) SetPeers(n int32) {
	atomic.StoreInt32(&r.peers, n)
}
