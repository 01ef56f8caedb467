// Package addrcodec implements a narrow contract for turning a wallet
// address into the scripthash Electrum servers index by
// (electrum-protocol.readthedocs.io's "script hashes" section), so that
// Synchronizer can do that translation without owning address derivation
// itself.
package addrcodec

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// AddrCodec converts between wallet addresses and the scripthash identifiers
// Electrum's blockchain.scripthash.* methods key on. The only implementation
// is ScriptHashCodec; tests may supply a fake.
type AddrCodec interface {
	// Scripthash returns the Electrum scripthash for addr: the sha256 of
	// its output script, byte-reversed, hex-encoded.
	Scripthash(addr string) (string, error)
}

// ScriptHashCodec implements AddrCodec using btcsuite/btcd's txscript and
// btcutil, the same pair used elsewhere in this codebase to build a
// PayToAddrScript.
type ScriptHashCodec struct {
	params *chaincfg.Params
}

// NewScriptHashCodec returns a codec for the given chain.
func NewScriptHashCodec(params *chaincfg.Params) ScriptHashCodec {
	return ScriptHashCodec{params: params}
}

// Scripthash implements AddrCodec. It follows the Electrum protocol
// definition exactly: sha256(script), byte-reversed, hex-encoded — the same
// reversal convention btcd's chainhash.Hash uses for displaying txids.
func (c ScriptHashCodec) Scripthash(addr string) (string, error) {
	decoded, err := btcutil.DecodeAddress(addr, c.params)
	if err != nil {
		return "", errors.Wrapf(err, "addrcodec: invalid address %q", addr)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return "", errors.Wrapf(err, "addrcodec: cannot script address %q", addr)
	}
	sum := sha256.Sum256(script)
	reverseBytes(sum[:])
	return hex.EncodeToString(sum[:]), nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
