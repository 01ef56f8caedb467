package netmgr

import (
	"github.com/bcext/cashutil"
	"github.com/pkg/errors"
	"github.com/square/ltcnet/netiface"
)

// FeeETATargets are the confirmation targets (in blocks) fee estimates are
// requested for, matching the original's FEE_ETA_TARGETS.
var FeeETATargets = []int{2, 5, 10, 25}

// ServerInfo is the banner/donation/fee snapshot requestServerInfo collects
// from the main interface, published on the callback bus as it's refreshed.
type ServerInfo struct {
	Banner          string
	DonationAddress string
	Peers           map[string]ServerEntry
	FeeHistogram    []FeeHistogramBucket
	FeeEstimates    map[int]cashutil.Amount
	RelayFee        cashutil.Amount
}

// FeeHistogramBucket is one (fee-rate, cumulative-vsize) entry, mirrored
// from electrum.FeeHistogramEntry to keep netmgr's public surface free of
// the wire package.
type FeeHistogramBucket struct {
	FeeRatePerKB int64
	VSize        int64
}

// requestServerInfo fetches the banner, donation address, peer list, fee
// histogram and per-target fee estimates, and the relay fee from iface's
// session, in the sequence request_server_info/request_fee_estimates follow
// in the original: banner and donation address first (cheap, used
// immediately by UIs), then peers, then the fee estimation round trip.
func (m *NetworkManager) requestServerInfo(iface *netiface.Interface) error {
	session := iface.Session()
	if session == nil {
		return errors.New("netmgr: interface has no active session")
	}

	banner, err := session.ServerBanner()
	if err != nil {
		return errors.Wrap(err, "netmgr: server.banner")
	}
	m.bus.SetStatus("banner", banner)
	m.bus.Trigger("banner", banner)

	donation, err := session.ServerDonationAddress()
	if err != nil {
		return errors.Wrap(err, "netmgr: server.donation_address")
	}

	peers, err := session.ServerPeersSubscribe()
	if err != nil {
		return errors.Wrap(err, "netmgr: server.peers.subscribe")
	}
	parsed := parseServers(peers, m.network)
	m.setPeers(parsed)
	m.bus.SetStatus("servers", m.Servers())
	m.bus.Trigger("servers", m.Servers())

	info := ServerInfo{
		Banner:          banner,
		DonationAddress: donation,
		Peers:           parsed,
		FeeEstimates:    make(map[int]cashutil.Amount),
	}

	histogram, err := session.MempoolGetFeeHistogram()
	if err != nil {
		return errors.Wrap(err, "netmgr: mempool.get_fee_histogram")
	}
	for _, h := range histogram {
		info.FeeHistogram = append(info.FeeHistogram, FeeHistogramBucket{FeeRatePerKB: h.FeeRate, VSize: h.VSize})
	}
	m.bus.SetStatus("fee_histogram", info.FeeHistogram)
	m.bus.Trigger("fee_histogram", info.FeeHistogram)

	for _, target := range FeeETATargets {
		btcPerKB, err := session.BlockchainEstimateFee(target)
		if err != nil {
			return errors.Wrapf(err, "netmgr: blockchain.estimatefee(%d)", target)
		}
		amt, err := cashutil.NewAmount(btcPerKB)
		if err != nil {
			continue
		}
		info.FeeEstimates[target] = amt
	}
	m.bus.Trigger("fee", info.FeeEstimates)

	relayBTC, err := session.BlockchainRelayFee()
	if err != nil {
		return errors.Wrap(err, "netmgr: blockchain.relayfee")
	}
	if relayAmt, err := cashutil.NewAmount(relayBTC); err == nil {
		info.RelayFee = relayAmt
	}

	m.setServerInfo(info)
	return nil
}
