// Package synchronizer implements the subscribe/status/transaction
// pipelines that keep a WalletStore's addresses subscribed against the
// current main interface, detect when a server-reported status digest
// means new history, fetch whatever transactions that history references,
// and report up-to-date-ness on the callback bus.
package synchronizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/square/ltcnet/walletstore"
)

// StatusDigest computes the status digest Electrum servers compare against
// when deciding whether to push a new blockchain.scripthash.subscribe
// notification: sha256 of "tx_hash:height:" repeated for every history
// entry in server order, hex-encoded. An address with no history digests to
// the empty string, matching the original's history_status.
func StatusDigest(hist []walletstore.HistEntry) string {
	if len(hist) == 0 {
		return ""
	}
	var buf []byte
	for _, h := range hist {
		buf = append(buf, fmt.Sprintf("%s:%d:", h.TxHash, h.Height)...)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
