package headerstore

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
)

func encodeHeader(t *testing.T, prev chainhash.Hash, nonce uint32) []byte {
	h := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: chainhash.Hash{},
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x1d00ffff,
		Nonce:      nonce,
	}
	var buf bytes.Buffer
	assert.NoError(t, h.Serialize(&buf))
	return buf.Bytes()
}

func TestConnectChunkThenReadHeader(t *testing.T) {
	s := NewMemStore()
	h0 := encodeHeader(t, chainhash.Hash{}, 1)
	h1 := encodeHeader(t, chainhash.Hash{}, 2)

	raw := append(append([]byte{}, h0...), h1...)
	reorg, err := s.ConnectChunk(0, hex.EncodeToString(raw))
	assert.NoError(t, err)
	assert.False(t, reorg)

	assert.Equal(t, int32(1), s.Height())
	hdr, err := s.ReadHeader(0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), hdr.Nonce)

	hdr, err = s.ReadHeader(1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.Nonce)
}

func TestConnectChunkExtendsChain(t *testing.T) {
	s := NewMemStore()
	h0 := encodeHeader(t, chainhash.Hash{}, 1)
	_, err := s.ConnectChunk(0, hex.EncodeToString(h0))
	assert.NoError(t, err)
	assert.Equal(t, int32(0), s.Height())

	// A re-request of the same chunk index that now returns more headers
	// (the server's tip advanced) extends the stored chain in place.
	h1 := encodeHeader(t, chainhash.Hash{}, 2)
	raw := append(append([]byte{}, h0...), h1...)
	_, err = s.ConnectChunk(0, hex.EncodeToString(raw))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), s.Height())
}

func TestConnectChunkRejectsBadLength(t *testing.T) {
	s := NewMemStore()
	_, err := s.ConnectChunk(0, hex.EncodeToString([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestReadHeaderOutOfRange(t *testing.T) {
	s := NewMemStore()
	_, err := s.ReadHeader(0)
	assert.Error(t, err)
}

func TestForkPromotesLongerChain(t *testing.T) {
	s := NewMemStore()
	h0 := encodeHeader(t, chainhash.Hash{}, 1)
	h1 := encodeHeader(t, chainhash.Hash{}, 2)
	_, err := s.ConnectChunk(0, hex.EncodeToString(append(append([]byte{}, h0...), h1...)))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), s.Height())

	// A chunk far beyond the current main chain's reach starts its own
	// fork; since it reports a taller tip height, it becomes main.
	far := encodeHeader(t, chainhash.Hash{}, 99)
	reorg, err := s.ConnectChunk(50, hex.EncodeToString(far))
	assert.NoError(t, err)
	assert.True(t, reorg)
	assert.Equal(t, int32(50*2016), s.Height())
}
