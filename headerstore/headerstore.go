// Package headerstore implements a narrow contract for header persistence:
// NetworkManager needs somewhere to persist the header chain(s) it
// downloads in 2016-header chunks without owning chain-selection policy
// itself — that stays in netmgr's chunks.go and selection.go.
package headerstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// HeaderSize is the size in bytes of one serialized block header.
const HeaderSize = 80

// ErrGap reports a chunk that does not connect to the tip of any known
// chain. MemStore.ConnectChunk does not return it: it compares heights only,
// not prev-hashes, and keeps a chunk that extends no chain as a new fork.
var ErrGap = errors.New("headerstore: chunk does not connect to any known chain")

// HeaderStore persists raw block headers across one or more forks,
// following a flat-file, 80-bytes-per-header design.
type HeaderStore interface {
	// Height returns the tip height of the main chain, or -1 if empty.
	Height() int32

	// ConnectChunk appends or replaces headers starting at chunk index
	// (height = index*2016), deserializing rawHex as concatenated 80-byte
	// headers. It returns true if this extended or created a fork whose
	// work now exceeds the prior main chain (a reorg), matching the
	// original's connect_chunk/follow_chain semantics.
	ConnectChunk(index int, rawHex string) (reorged bool, err error)

	// ReadHeader returns the main-chain header at height.
	ReadHeader(height int32) (*wire.BlockHeader, error)

	// Forkpoint returns the height at which the main chain's earliest
	// fork diverged from its parent, or 0 if there is no fork.
	Forkpoint() int32
}

// chain is one fork: a contiguous run of headers starting at a height.
type chain struct {
	startHeight int32
	headers     []*wire.BlockHeader
}

func (c *chain) tipHeight() int32 {
	return c.startHeight + int32(len(c.headers)) - 1
}

// MemStore is an in-memory, multi-fork HeaderStore. It keeps every chain it
// has seen so headersstore can follow a reorg onto a competing fork, then
// reports whichever chain has the greatest height as "main" — the same
// rule the original's get_chains_with_bestheight/follow_chain() use (this
// module only tracks height, not cumulative work, since Electrum servers
// report headers by height already filtered by their own validation).
type MemStore struct {
	mu     sync.Mutex
	chains []*chain
	mainID int // index into chains of the current best chain; -1 if empty
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{mainID: -1}
}

// Height implements HeaderStore.
func (s *MemStore) Height() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mainID < 0 {
		return -1
	}
	return s.chains[s.mainID].tipHeight()
}

// Forkpoint implements HeaderStore.
func (s *MemStore) Forkpoint() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mainID < 0 {
		return 0
	}
	return s.chains[s.mainID].startHeight
}

// ReadHeader implements HeaderStore.
func (s *MemStore) ReadHeader(height int32) (*wire.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mainID < 0 {
		return nil, fmt.Errorf("headerstore: empty store")
	}
	c := s.chains[s.mainID]
	idx := height - c.startHeight
	if idx < 0 || int(idx) >= len(c.headers) {
		return nil, fmt.Errorf("headerstore: height %d out of range [%d,%d]", height, c.startHeight, c.tipHeight())
	}
	return c.headers[idx], nil
}

// ConnectChunk implements HeaderStore.
func (s *MemStore) ConnectChunk(index int, rawHex string) (bool, error) {
	headers, err := decodeHeaders(rawHex)
	if err != nil {
		return false, err
	}
	if len(headers) == 0 {
		return false, nil
	}
	startHeight := int32(index) * 2016

	s.mu.Lock()
	defer s.mu.Unlock()

	// Find a chain this chunk extends (its start is at or before the
	// target's tip+1) or overwrites in place.
	for i, c := range s.chains {
		if startHeight >= c.startHeight && startHeight <= c.tipHeight()+1 {
			offset := startHeight - c.startHeight
			c.headers = append(c.headers[:offset:offset], headers...)
			return s.promoteIfBest(i), nil
		}
	}

	// No existing chain connects; start a new fork. A genuinely
	// disconnected chunk (not even a plausible fork start) is still kept
	// as its own chain — the caller (netmgr) is responsible for deciding
	// whether a gap means "request the missing chunk" or "distrust this
	// server", matching the original's dedup-by-requested_chunks policy.
	s.chains = append(s.chains, &chain{startHeight: startHeight, headers: headers})
	return s.promoteIfBest(len(s.chains) - 1), nil
}

// promoteIfBest makes chains[i] the main chain if its tip height exceeds
// the current main chain's, and reports whether this is a reorg away from
// the previous main chain.
func (s *MemStore) promoteIfBest(i int) bool {
	if s.mainID < 0 {
		s.mainID = i
		return false
	}
	if s.chains[i].tipHeight() > s.chains[s.mainID].tipHeight() {
		reorged := i != s.mainID
		s.mainID = i
		return reorged
	}
	return false
}

func decodeHeaders(rawHex string) ([]*wire.BlockHeader, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}
	if len(raw)%HeaderSize != 0 {
		return nil, fmt.Errorf("headerstore: chunk length %d is not a multiple of %d", len(raw), HeaderSize)
	}
	r := bytes.NewReader(raw)
	headers := make([]*wire.BlockHeader, 0, len(raw)/HeaderSize)
	for r.Len() > 0 {
		var h wire.BlockHeader
		if err := h.Deserialize(r); err != nil {
			return nil, errors.Wrap(err, "headerstore: malformed header")
		}
		headers = append(headers, &h)
	}
	return headers, nil
}
