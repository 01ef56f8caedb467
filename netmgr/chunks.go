package netmgr

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/square/ltcnet/netiface"
)

const chunkSize = 2016

// chunkTracker deduplicates in-flight chunk requests so at most one request
// per header-chunk index is ever outstanding at a time, mirroring the
// original's requested_chunks set.
type chunkTracker struct {
	mu      sync.Mutex
	pending map[int]bool
}

func newChunkTracker() *chunkTracker {
	return &chunkTracker{pending: make(map[int]bool)}
}

// tryStart marks index in-flight, returning false if it already was.
func (c *chunkTracker) tryStart(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[index] {
		return false
	}
	c.pending[index] = true
	return true
}

func (c *chunkTracker) finish(index int) {
	c.mu.Lock()
	delete(c.pending, index)
	c.mu.Unlock()
}

// RequestChunk implements netiface.ChunkRequester: it's called from an
// Interface's headers-subscription loop when the interface's local header
// store falls behind the server's announced tip.
func (m *NetworkManager) RequestChunk(iface *netiface.Interface, index int) {
	tip, _ := iface.Tip()
	if _, _, err := m.requestChunk(context.Background(), iface, int32(index)*chunkSize, tip, true); err != nil {
		m.logf("%s: chunk %d request failed: %v", iface.Server, index, err)
	}
}

// requestChunk fetches one 2016-header chunk starting at height from iface's
// session and feeds it to iface's header store. If canReturnEarly is true
// and the chunk is already in flight, it's a no-op (connected=false,
// count=0, err=nil) rather than a duplicate request.
func (m *NetworkManager) requestChunk(ctx context.Context, iface *netiface.Interface, height int32, tip int32, canReturnEarly bool) (connected bool, count int32, err error) {
	index := int(height / chunkSize)

	if canReturnEarly {
		if !m.chunks.tryStart(index) {
			return false, 0, nil
		}
		defer m.chunks.finish(index)
	}

	size := int32(chunkSize)
	if tip > 0 {
		size = tip - int32(index)*chunkSize
		if size > chunkSize {
			size = chunkSize
		}
		if size < 0 {
			size = 0
		}
	}

	session := iface.Session()
	if session == nil {
		return false, 0, errors.New("netmgr: interface has no active session")
	}

	chunk, err := session.BlockchainBlockHeaders(int32(index)*chunkSize, size, 0)
	if err != nil {
		return false, 0, errors.Wrap(err, "netmgr: blockchain.block.headers")
	}

	reorged, err := iface.Blockchain.ConnectChunk(index, chunk.Hex)
	if err != nil {
		return false, 0, errors.Wrap(err, "netmgr: connect_chunk")
	}
	_ = reorged
	return true, chunk.Count, nil
}
