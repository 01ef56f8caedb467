package electrum

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/square/ltcnet/serveraddr"
)

// Node is one live connection to an Electrum server. It multiplexes request
// responses (matched by ID) and unsolicited subscription pushes (matched by
// method name) over a single socket, following the async listen-loop pattern
// used by the vendored d4l3k/qshuai Electrum clients rather than the
// teacher's synchronous one-request-in-flight transport.
type Node struct {
	Addr serveraddr.ServerAddr

	t      *transport
	nextID uint64

	mu       sync.Mutex
	pending  map[uint64]chan Frame
	pushSubs map[string][]chan Frame
	closed   bool

	done chan struct{}
}

// Dial connects to addr and starts the node's listen loop. proxy is nil for
// a direct connection.
func Dial(addr serveraddr.ServerAddr, proxy *serveraddr.ProxySpec, verify VerifyFunc) (*Node, error) {
	t, err := dial(addr, proxy, verify)
	if err != nil {
		return nil, errors.Wrap(err, "electrum: dial")
	}
	n := &Node{
		Addr:     addr,
		t:        t,
		pending:  make(map[uint64]chan Frame),
		pushSubs: make(map[string][]chan Frame),
		done:     make(chan struct{}),
	}
	go n.listen()
	return n, nil
}

// listen reads frames off the wire for the life of the connection, routing
// each to whichever caller is waiting on it. It is the node's only reader;
// all request/response state is owned by this goroutine and the mutex.
func (n *Node) listen() {
	defer n.shutdown()
	for {
		line, err := n.t.readFrame()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			continue
		}
		if f.IsPush() {
			n.dispatchPush(f)
		} else {
			n.dispatchResponse(f)
		}
	}
}

func (n *Node) dispatchResponse(f Frame) {
	n.mu.Lock()
	ch, ok := n.pending[f.ID]
	if ok {
		delete(n.pending, f.ID)
	}
	n.mu.Unlock()
	if ok {
		ch <- f
		close(ch)
	}
}

func (n *Node) dispatchPush(f Frame) {
	n.mu.Lock()
	subs := append([]chan Frame(nil), n.pushSubs[f.Method]...)
	n.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- f:
		default:
			// A slow subscriber doesn't block the listen loop; callers are
			// expected to drain faster than new block/status pushes arrive.
		}
	}
}

func (n *Node) shutdown() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	pending := n.pending
	n.pending = nil
	pushSubs := n.pushSubs
	n.pushSubs = nil
	n.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, chans := range pushSubs {
		for _, ch := range chans {
			close(ch)
		}
	}
	close(n.done)
}

// Close tears down the connection. Pending requests receive ErrShutdown and
// subscribers stop receiving pushes.
func (n *Node) Close() error {
	err := n.t.close()
	<-n.done
	return err
}

// Request sends method(params) and blocks for the matching response.
func (n *Node) Request(method string, params []interface{}) (json.RawMessage, error) {
	id := atomic.AddUint64(&n.nextID, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrShutdown
	}
	ch := make(chan Frame, 1)
	n.pending[id] = ch
	n.mu.Unlock()

	b, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := n.t.writeFrame(b); err != nil {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
		return nil, err
	}

	f, ok := <-ch
	if !ok {
		return nil, ErrShutdown
	}
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Result, nil
}

// Subscribe sends method(params), a subscription request by Electrum
// convention, and returns the initial result plus a channel of subsequent
// pushes for the same method. The channel is closed when the node shuts
// down; callers must not close it themselves.
func (n *Node) Subscribe(method string, params []interface{}) (json.RawMessage, <-chan Frame, error) {
	ch := make(chan Frame, 16)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, nil, ErrShutdown
	}
	n.pushSubs[method] = append(n.pushSubs[method], ch)
	n.mu.Unlock()

	initial, err := n.Request(method, params)
	if err != nil {
		return nil, nil, err
	}
	return initial, ch, nil
}
