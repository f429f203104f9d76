package graphws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/hongjun500/graph-go/internal/auth"
	"github.com/hongjun500/graph-go/internal/observe"
	"github.com/hongjun500/graph-go/internal/protocol"
	"github.com/hongjun500/graph-go/internal/transport"
	"github.com/hongjun500/graph-go/pkg/logger"
)

// State of a Conn.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var nullBody = json.RawMessage("null")

// Options configures a Conn. Zero values select defaults.
type Options struct {
	Transport    transport.Options
	Codec        protocol.MessageCodec // JSONCodec
	RenewAdvance time.Duration         // auth.DefaultAdvance
	Clock        clock.Clock           // wall clock
	// OnError 接收连接级错误：连接失败的 *ConnError 与续期失败的 *auth.RenewalError
	OnError func(err error)
}

// Conn multiplexes requests over one graph websocket. Any number of goroutines may
// Submit concurrently; responses are routed to their request by id.
type Conn struct {
	url     string
	src     auth.Source
	opt     Options
	codec   protocol.MessageCodec
	renewer *auth.Renewer
	log     *zap.SugaredLogger

	openMu sync.Mutex // serialises dials

	mu       sync.Mutex
	state    State
	ws       *transport.WSConn
	pending  *pendingTable
	closeGen uint64 // Close 次数；拨号期间变化则放弃新连接
}

// New prepares a connection to url. Nothing is dialled until Open or the first Submit.
func New(url string, src auth.Source, opt Options) *Conn {
	c := &Conn{
		url:     url,
		src:     src,
		opt:     opt,
		codec:   opt.Codec,
		log:     logger.L().Named("graphws").Sugar(),
		state:   StateIdle,
		pending: newPendingTable(),
	}
	if c.codec == nil {
		c.codec = protocol.JSONCodec{}
	}
	r := auth.NewRenewer(src)
	if opt.RenewAdvance > 0 {
		r.Advance = opt.RenewAdvance
	}
	if opt.Clock != nil {
		r.Clock = opt.Clock
	}
	r.Push = func(ctx context.Context, tok auth.Token) error {
		return c.UpdateToken(ctx, tok.Value)
	}
	r.OnError = c.reportError
	c.renewer = r
	return c
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of requests still awaiting completion.
func (c *Conn) Pending() int {
	c.mu.Lock()
	t := c.pending
	c.mu.Unlock()
	return t.len()
}

// Token returns the credential currently presented to the server.
func (c *Conn) Token() auth.Token { return c.renewer.Current() }

// Open acquires a token, dials and starts the receiver. It is a no-op on an open
// connection and re-establishes a closed one. A Close issued while Open is still
// dialling wins: the new socket is discarded and Open returns ErrClosed.
func (c *Conn) Open(ctx context.Context) error {
	return c.open(ctx, false)
}

// open dials unless already open. With idleOnly a closed connection is left closed.
func (c *Conn) open(ctx context.Context, idleOnly bool) error {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	state, gen := c.state, c.closeGen
	c.mu.Unlock()
	switch {
	case state == StateOpen:
		return nil
	case idleOnly && state == StateClosed:
		return ErrNotOpen
	}

	tok, err := c.src.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	ws, err := transport.Dial(ctx, c.url, tok.Value, c.opt.Transport)
	if err != nil {
		return err
	}
	table := newPendingTable()

	c.mu.Lock()
	if c.closeGen != gen {
		c.mu.Unlock()
		_ = ws.Close()
		c.log.Infow("ws_open_aborted", "url", c.url)
		return ErrClosed
	}
	c.ws = ws
	c.pending = table
	c.state = StateOpen
	c.mu.Unlock()

	c.renewer.Start(tok)
	go c.receive(ws, table)
	c.log.Infow("ws_connected", "url", c.url, "renewable", tok.Renewable())
	return nil
}

func (c *Conn) active(ctx context.Context) (*transport.WSConn, *pendingTable, error) {
	c.mu.Lock()
	state, ws, table := c.state, c.ws, c.pending
	c.mu.Unlock()

	switch state {
	case StateOpen:
		return ws, table, nil
	case StateIdle:
		if err := c.open(ctx, true); err != nil {
			return nil, nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateOpen {
			return nil, nil, ErrNotOpen
		}
		return c.ws, c.pending, nil
	default:
		return nil, nil, ErrNotOpen
	}
}

// Submit sends req and returns its result stream. A connection that was never
// opened is opened first; a closed one yields ErrNotOpen until Open is called.
func (c *Conn) Submit(ctx context.Context, req *protocol.Request) (*Results, error) {
	var buf bytes.Buffer
	if err := c.codec.Encode(&buf, req); err != nil {
		return nil, err
	}
	ws, table, err := c.active(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := table.register(req.ID)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteFrame(buf.Bytes()); err != nil {
		table.remove(req.ID)
		observe.IncRequestError("send")
		return nil, fmt.Errorf("send %s request: %w", req.Type, err)
	}
	c.log.Debugw("ws_tx", "id", req.ID, "type", req.Type)
	return &Results{id: req.ID, entry: entry}, nil
}

// Close stops renewal, closes the socket and fails every pending request with a
// *ConnError wrapping ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws, table := c.ws, c.pending
	c.ws = nil
	c.state = StateClosed
	c.closeGen++
	c.mu.Unlock()

	c.renewer.Stop()
	var err error
	if ws != nil {
		err = ws.Close()
	}
	if n := table.broadcastFailure(&ConnError{Cause: ErrClosed}); n > 0 {
		observe.IncRequestError("connection")
		c.log.Infow("ws_closed_with_pending", "pending", n)
	}
	return err
}

func (c *Conn) receive(ws *transport.WSConn, table *pendingTable) {
	for {
		data, err := ws.ReadFrame()
		if err != nil {
			c.teardown(ws, table, err)
			return
		}
		if c.log.Desugar().Core().Enabled(zap.DebugLevel) {
			c.log.Debugw("ws_rx", "frame", string(data))
		}
		resp, err := c.codec.Decode(bytes.NewReader(data), 0)
		if err != nil {
			c.teardown(ws, table, fmt.Errorf("decode frame: %w", err))
			return
		}
		if err := c.route(table, resp); err != nil {
			c.teardown(ws, table, err)
			return
		}
	}
}

// route applies one response to the pending table. A non-nil error is fatal to
// the connection.
func (c *Conn) route(table *pendingTable, resp protocol.Response) error {
	switch r := resp.(type) {
	case *protocol.ErrorResponse:
		observe.IncRequestError("server")
		return table.fail(r.ID, r.Err())
	case *protocol.SingleResponse:
		if r.More {
			observe.IncRequestError("protocol")
			return table.fail(r.ID, &ProtocolError{ID: r.ID, Reason: "single response marked as having more"})
		}
		body := r.Body
		if body == nil {
			body = nullBody
		}
		if err := table.deliver(r.ID, body); err != nil {
			return err
		}
		return table.complete(r.ID)
	case *protocol.ChunkResponse:
		if r.HasBody() {
			if err := table.deliver(r.ID, r.Body); err != nil {
				return err
			}
		}
		if !r.More {
			return table.complete(r.ID)
		}
		if !r.HasBody() {
			_, err := table.lookup(r.ID)
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported response %T", resp)
	}
}

func (c *Conn) teardown(ws *transport.WSConn, table *pendingTable, cause error) {
	closedByUs := false
	select {
	case <-ws.Done():
		closedByUs = true
	default:
	}

	c.mu.Lock()
	current := c.ws == ws
	if current {
		c.ws = nil
		c.state = StateClosed
	}
	c.mu.Unlock()

	_ = ws.Close()
	if current {
		c.renewer.Stop()
	}
	connErr := &ConnError{Cause: cause}
	n := table.broadcastFailure(connErr)
	if closedByUs {
		return
	}
	observe.IncConnection("fatal")
	if n > 0 {
		observe.IncRequestError("connection")
	}
	c.log.Warnw("ws_rx_fatal", "err", cause, "failed_pending", n)
	c.reportError(connErr)
}

func (c *Conn) reportError(err error) {
	if c.opt.OnError != nil {
		c.opt.OnError(err)
	}
}
