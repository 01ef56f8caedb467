// Package txcodec implements a narrow contract for transaction parsing as a
// collaborator rather than something this module owns: NetworkManager and
// Synchronizer need to parse raw transaction hex off the wire (inputs,
// outputs, txid) without caring how it's built, so the contract stays
// small on purpose.
package txcodec

import (
	"encoding/hex"

	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// Input is one transaction input: which previous output it spends.
type Input struct {
	PrevTxid string
	PrevVout uint32
}

// Output is one transaction output.
type Output struct {
	Value    int64 // satoshis
	PkScript []byte
}

// Tx is a parsed transaction, reduced to what synchronizer.go and netmgr's
// broadcast path need.
type Tx struct {
	Txid string
	Raw  string // original hex, kept for re-broadcast / merkle matching
	Vin  []Input
	Vout []Output
}

// TxCodec decodes raw transaction hex. The only implementation
// in this module is WireCodec; tests may supply a fake.
type TxCodec interface {
	// Decode parses raw transaction hex as returned by
	// blockchain.transaction.get.
	Decode(rawHex string) (Tx, error)

	// Txid returns the transaction id for raw transaction hex. Callers use
	// it to check a broadcast result and a fetched transaction's hash.
	// WireCodec computes it through a full Decode.
	Txid(rawHex string) (string, error)
}

// WireCodec implements TxCodec using btcsuite/btcd's wire transaction
// encoding, the same one used elsewhere in this codebase to walk
// vin/vout.
type WireCodec struct{}

// NewWireCodec returns the default TxCodec.
func NewWireCodec() WireCodec { return WireCodec{} }

// Decode implements TxCodec.
func (WireCodec) Decode(rawHex string) (Tx, error) {
	b, err := hex.DecodeString(rawHex)
	if err != nil {
		return Tx{}, errors.Wrap(err, "txcodec: invalid hex")
	}
	parsed, err := btcutil.NewTxFromBytes(b)
	if err != nil {
		return Tx{}, errors.Wrap(err, "txcodec: invalid transaction")
	}
	msg := parsed.MsgTx()

	tx := Tx{
		Txid: msg.TxHash().String(),
		Raw:  rawHex,
	}
	for _, txin := range msg.TxIn {
		tx.Vin = append(tx.Vin, Input{
			PrevTxid: txin.PreviousOutPoint.Hash.String(),
			PrevVout: txin.PreviousOutPoint.Index,
		})
	}
	for _, txout := range msg.TxOut {
		tx.Vout = append(tx.Vout, Output{
			Value:    txout.Value,
			PkScript: txout.PkScript,
		})
	}
	return tx, nil
}

// Txid implements TxCodec.
func (c WireCodec) Txid(rawHex string) (string, error) {
	tx, err := c.Decode(rawHex)
	if err != nil {
		return "", err
	}
	return tx.Txid, nil
}
