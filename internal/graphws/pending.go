package graphws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hongjun500/graph-go/internal/observe"
)

type item struct {
	body json.RawMessage
	err  error
}

// pendingEntry buffers the responses of one request until its consumer reads them.
// The queue is unbounded so the receiver never blocks on a slow consumer.
type pendingEntry struct {
	id string

	mu        sync.Mutex
	queue     []item
	signal    chan struct{} // closed and replaced on every change
	completed bool
	fatal     error
	done      chan struct{}
}

func newPendingEntry(id string) *pendingEntry {
	return &pendingEntry{
		id:     id,
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// wakeLocked 唤醒所有等待者
func (e *pendingEntry) wakeLocked() {
	close(e.signal)
	e.signal = make(chan struct{})
}

func (e *pendingEntry) push(it item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return
	}
	e.queue = append(e.queue, it)
	e.wakeLocked()
}

func (e *pendingEntry) complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completeLocked()
}

func (e *pendingEntry) completeLocked() {
	if e.completed {
		return
	}
	e.completed = true
	close(e.done)
	e.wakeLocked()
}

// failConn records a connection failure. It wins over anything still buffered.
func (e *pendingEntry) failConn(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.completeLocked()
	e.wakeLocked()
}

func (e *pendingEntry) next(ctx context.Context) (json.RawMessage, error) {
	for {
		e.mu.Lock()
		if e.fatal != nil {
			err := e.fatal
			e.mu.Unlock()
			return nil, err
		}
		if len(e.queue) > 0 {
			it := e.queue[0]
			e.queue[0] = item{}
			e.queue = e.queue[1:]
			e.mu.Unlock()
			if it.err != nil {
				return nil, it.err
			}
			return it.body, nil
		}
		if e.completed {
			e.mu.Unlock()
			return nil, io.EOF
		}
		wait := e.signal
		e.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// pendingTable maps request ids to their entries. One table belongs to one socket.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	closed  error
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

func (t *pendingTable) register(id string) (*pendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	if _, ok := t.entries[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	e := newPendingEntry(id)
	t.entries[id] = e
	observe.AddPending(1)
	return e, nil
}

func (t *pendingTable) lookup(id string) (*pendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return e, nil
}

// take removes and returns the entry for id.
func (t *pendingTable) take(id string) (*pendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	delete(t.entries, id)
	observe.AddPending(-1)
	return e, nil
}

func (t *pendingTable) deliver(id string, body json.RawMessage) error {
	e, err := t.lookup(id)
	if err != nil {
		return err
	}
	e.push(item{body: body})
	return nil
}

// fail queues err for id and completes it.
func (t *pendingTable) fail(id string, err error) error {
	e, lerr := t.take(id)
	if lerr != nil {
		return lerr
	}
	e.push(item{err: err})
	e.complete()
	return nil
}

func (t *pendingTable) complete(id string) error {
	e, err := t.take(id)
	if err != nil {
		return err
	}
	e.complete()
	return nil
}

// remove drops id without completing it, used when the request never reached the wire.
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		delete(t.entries, id)
		observe.AddPending(-1)
	}
}

// broadcastFailure fails every pending entry with err, empties the table and
// rejects later registrations. It returns how many entries were failed.
func (t *pendingTable) broadcastFailure(err error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = err
	}
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	if len(entries) == 0 {
		return 0
	}
	observe.AddPending(-float64(len(entries)))
	for _, e := range entries {
		e.failConn(err)
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
