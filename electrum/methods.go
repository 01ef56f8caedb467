package electrum

import (
	"encoding/json"
)

// BlockHeader mirrors the "hex-header + height" shape returned by
// blockchain.headers.subscribe and blockchain.block.headers.
type BlockHeader struct {
	Height int32  `json:"height"`
	Hex    string `json:"hex"`
}

// HeadersChunk is the result of blockchain.block.headers: up to Count
// concatenated 80-byte raw headers starting at the requested height, plus
// an optional checkpoint root when a checkpoint height was supplied.
type HeadersChunk struct {
	Count int32  `json:"count"`
	Hex   string `json:"hex"`
	Max   int32  `json:"max"`
	Root  string `json:"root,omitempty"`
	Proof string `json:"branch,omitempty"`
}

// ScripthashStatus is the (possibly null) status digest pushed by
// blockchain.scripthash.subscribe. A null/empty status means the scripthash
// has no history.
type ScripthashStatus struct {
	Status string
}

// HistoryEntry is one element of blockchain.scripthash.get_history.
type HistoryEntry struct {
	Height int64  `json:"height"`
	TxHash string `json:"tx_hash"`
	Fee    int64  `json:"fee,omitempty"`
}

// Merkle is the result of blockchain.transaction.get_merkle.
type Merkle struct {
	BlockHeight int32    `json:"block_height"`
	Pos         int      `json:"pos"`
	Merkle      []string `json:"merkle"`
}

// FeeHistogramEntry is one (fee-rate, cumulative-vsize) bucket returned by
// mempool.get_fee_histogram.
type FeeHistogramEntry struct {
	FeeRate int64
	VSize   int64
}

// ServerVersion negotiates the protocol version. clientName identifies us
// to the server; protocolVersion is the version we ask for, Electrum-style
// ("1.4", "1.4.2").
func (n *Node) ServerVersion(clientName, protocolVersion string) (serverVersion, serverProtocol string, err error) {
	raw, err := n.Request("server.version", []interface{}{clientName, protocolVersion})
	if err != nil {
		return "", "", err
	}
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return "", "", err
	}
	if len(pair) != 2 {
		return "", "", ErrBadResult
	}
	return pair[0], pair[1], nil
}

// ServerBanner returns the server's banner text (server.banner).
func (n *Node) ServerBanner() (string, error) {
	raw, err := n.Request("server.banner", nil)
	if err != nil {
		return "", err
	}
	var banner string
	err = json.Unmarshal(raw, &banner)
	return banner, err
}

// ServerDonationAddress returns the server operator's donation address
// (server.donation_address), possibly empty.
func (n *Node) ServerDonationAddress() (string, error) {
	raw, err := n.Request("server.donation_address", nil)
	if err != nil {
		return "", err
	}
	var addr string
	err = json.Unmarshal(raw, &addr)
	return addr, err
}

// ServerPeersSubscribe requests the server's known-peers list
// (server.peers.subscribe). Each entry is [ip, host, features...].
func (n *Node) ServerPeersSubscribe() ([][]interface{}, error) {
	raw, err := n.Request("server.peers.subscribe", nil)
	if err != nil {
		return nil, err
	}
	var peers [][]interface{}
	err = json.Unmarshal(raw, &peers)
	return peers, err
}

// BlockchainHeadersSubscribe subscribes to new-tip header notifications. The
// initial result and each subsequent push carry a BlockHeader.
func (n *Node) BlockchainHeadersSubscribe() (BlockHeader, <-chan Frame, error) {
	raw, ch, err := n.Subscribe("blockchain.headers.subscribe", nil)
	if err != nil {
		return BlockHeader{}, nil, err
	}
	var h BlockHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return BlockHeader{}, nil, err
	}
	return h, ch, nil
}

// BlockchainBlockHeaders fetches up to count raw headers starting at
// startHeight (blockchain.block.headers). cpHeight is a checkpoint height to
// request a merkle proof against; 0 disables it.
func (n *Node) BlockchainBlockHeaders(startHeight, count int32, cpHeight int32) (HeadersChunk, error) {
	params := []interface{}{startHeight, count}
	if cpHeight > 0 {
		params = append(params, cpHeight)
	}
	raw, err := n.Request("blockchain.block.headers", params)
	if err != nil {
		return HeadersChunk{}, err
	}
	var chunk HeadersChunk
	err = json.Unmarshal(raw, &chunk)
	return chunk, err
}

// BlockchainEstimateFee estimates a fee rate (BTC/kB) for confirmation
// within target blocks (blockchain.estimatefee). -1 means the server has no
// estimate.
func (n *Node) BlockchainEstimateFee(target int) (float64, error) {
	raw, err := n.Request("blockchain.estimatefee", []interface{}{target})
	if err != nil {
		return 0, err
	}
	var fee float64
	err = json.Unmarshal(raw, &fee)
	return fee, err
}

// BlockchainRelayFee returns the server's minimum relay fee, in BTC/kB
// (blockchain.relayfee).
func (n *Node) BlockchainRelayFee() (float64, error) {
	raw, err := n.Request("blockchain.relayfee", nil)
	if err != nil {
		return 0, err
	}
	var fee float64
	err = json.Unmarshal(raw, &fee)
	return fee, err
}

// MempoolGetFeeHistogram returns the server's mempool fee-rate histogram
// (mempool.get_fee_histogram), used for fee estimation below the lowest
// confirmation target the server will quote.
func (n *Node) MempoolGetFeeHistogram() ([]FeeHistogramEntry, error) {
	raw, err := n.Request("mempool.get_fee_histogram", nil)
	if err != nil {
		return nil, err
	}
	var pairs [][2]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	out := make([]FeeHistogramEntry, len(pairs))
	for i, p := range pairs {
		out[i] = FeeHistogramEntry{FeeRate: int64(p[0]), VSize: int64(p[1])}
	}
	return out, nil
}

// BlockchainScripthashSubscribe subscribes to status-digest updates for a
// scripthash (blockchain.scripthash.subscribe). The initial result and each
// push are the (possibly empty) status digest.
func (n *Node) BlockchainScripthashSubscribe(scripthash string) (string, <-chan Frame, error) {
	raw, ch, err := n.Subscribe("blockchain.scripthash.subscribe", []interface{}{scripthash})
	if err != nil {
		return "", nil, err
	}
	var status *string
	if err := json.Unmarshal(raw, &status); err != nil {
		return "", nil, err
	}
	if status == nil {
		return "", ch, nil
	}
	return *status, ch, nil
}

// BlockchainScripthashGetHistory returns the confirmed and mempool history
// for a scripthash (blockchain.scripthash.get_history).
func (n *Node) BlockchainScripthashGetHistory(scripthash string) ([]HistoryEntry, error) {
	raw, err := n.Request("blockchain.scripthash.get_history", []interface{}{scripthash})
	if err != nil {
		return nil, err
	}
	var hist []HistoryEntry
	err = json.Unmarshal(raw, &hist)
	return hist, err
}

// BlockchainTransactionGet fetches a raw transaction by txid
// (blockchain.transaction.get), as hex.
func (n *Node) BlockchainTransactionGet(txid string) (string, error) {
	raw, err := n.Request("blockchain.transaction.get", []interface{}{txid, false})
	if err != nil {
		return "", err
	}
	var hex string
	err = json.Unmarshal(raw, &hex)
	return hex, err
}

// BlockchainTransactionBroadcast submits a raw signed transaction
// (blockchain.transaction.broadcast) and returns its txid on acceptance.
func (n *Node) BlockchainTransactionBroadcast(rawTxHex string) (string, error) {
	raw, err := n.Request("blockchain.transaction.broadcast", []interface{}{rawTxHex})
	if err != nil {
		return "", err
	}
	var txid string
	err = json.Unmarshal(raw, &txid)
	return txid, err
}

// BlockchainTransactionGetMerkle fetches the merkle proof for a confirmed
// transaction (blockchain.transaction.get_merkle).
func (n *Node) BlockchainTransactionGetMerkle(txid string, height int32) (Merkle, error) {
	raw, err := n.Request("blockchain.transaction.get_merkle", []interface{}{txid, height})
	if err != nil {
		return Merkle{}, err
	}
	var m Merkle
	err = json.Unmarshal(raw, &m)
	return m, err
}
