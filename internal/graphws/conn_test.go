package graphws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongjun500/graph-go/internal/auth"
	"github.com/hongjun500/graph-go/internal/protocol"
	"github.com/hongjun500/graph-go/internal/transport"
)

const waitTimeout = 3 * time.Second

type wireRequest struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Token   string         `json:"_TOKEN"`
	Headers map[string]any `json:"headers"`
	Body    map[string]any `json:"body"`
}

// peer is a scripted graph websocket server. Requests are queued on reqs and the
// test answers them with send.
type peer struct {
	url       string
	reqs      chan wireRequest
	protocols chan []string

	mu   sync.Mutex
	conn *websocket.Conn
}

func startPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{
		reqs:      make(chan wireRequest, 256),
		protocols: make(chan []string, 8),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{transport.SubprotocolGraph},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		p.protocols <- websocket.Subprotocols(r)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wireRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			p.reqs <- req
		}
	}))
	t.Cleanup(server.Close)
	p.url = "ws" + strings.TrimPrefix(server.URL, "http")
	return p
}

func (p *peer) next(t *testing.T) wireRequest {
	t.Helper()
	select {
	case req := <-p.reqs:
		return req
	case <-time.After(waitTimeout):
		t.Fatalf("peer received no request")
	}
	return wireRequest{}
}

func (p *peer) sendRaw(t *testing.T, frame string) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (p *peer) send(t *testing.T, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	p.sendRaw(t, string(data))
}

func (p *peer) single(t *testing.T, id string, body any) {
	p.send(t, map[string]any{"id": id, "multi": false, "more": false, "body": body})
}

func (p *peer) chunk(t *testing.T, id string, body any, more bool) {
	p.send(t, map[string]any{"id": id, "multi": true, "more": more, "body": body})
}

func (p *peer) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.Close()
}

type errSink chan error

func (s errSink) handle(err error) {
	select {
	case s <- err:
	default:
	}
}

func (s errSink) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("no connection error reported")
	}
	return nil
}

func openConn(t *testing.T, p *peer, opt Options) *Conn {
	t.Helper()
	c := New(p.url, auth.StaticSource{Value: "tok"}, opt)
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmit_OpensOnFirstUseAndOffersToken(t *testing.T) {
	p := startPeer(t)
	c := New(p.url, auth.StaticSource{Value: "secret"}, Options{})
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, StateIdle, c.State())

	res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	require.NoError(t, err)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, []string{transport.SubprotocolGraph, "token-secret"}, <-p.protocols)

	req := p.next(t)
	assert.Equal(t, "me", req.Type)
	assert.Equal(t, res.ID(), req.ID)
	p.single(t, req.ID, map[string]any{"ogit/_id": "acc1"})

	v, err := res.First(ctxT(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ogit/_id":"acc1"}`, string(v))
	assert.Eventually(t, func() bool { return c.Pending() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	p := startPeer(t)
	c := openConn(t, p, Options{})

	const n, k = 40, 3
	results := make([]*Results, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Submit(ctxT(t), protocol.NewGraphQueryRequest(fmt.Sprintf("v%d", i), "outE().inV()", protocol.GraphQuery{}))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, p.next(t).ID)
	}
	wg.Wait()

	// interleave the chunks of every request
	for j := 0; j < k; j++ {
		for _, id := range ids {
			p.chunk(t, id, map[string]any{"id": id, "n": j}, j < k-1)
		}
	}

	for _, res := range results {
		require.NotNil(t, res)
		values, err := res.Collect(ctxT(t))
		require.NoError(t, err)
		require.Len(t, values, k)
		for j, v := range values {
			var got struct {
				ID string `json:"id"`
				N  int    `json:"n"`
			}
			require.NoError(t, json.Unmarshal(v, &got))
			assert.Equal(t, res.ID(), got.ID)
			assert.Equal(t, j, got.N)
		}
	}
	assert.Equal(t, 0, c.Pending())
}

func TestChunkedSequenceYieldsEveryBody(t *testing.T) {
	p := startPeer(t)
	c := openConn(t, p, Options{})

	res, err := c.SearchIndex(ctxT(t), "*", protocol.IndexQuery{})
	require.NoError(t, err)
	req := p.next(t)
	assert.Equal(t, "vertices", req.Headers["type"])
	assert.Equal(t, float64(-1), req.Body["limit"])

	p.chunk(t, req.ID, 1, true)
	p.chunk(t, req.ID, nil, true)
	p.chunk(t, req.ID, 2, true)
	p.chunk(t, req.ID, nil, false)

	values, err := res.Collect(ctxT(t))
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.JSONEq(t, `1`, string(values[0]))
	assert.JSONEq(t, `2`, string(values[1]))
}

func TestSingleResponse(t *testing.T) {
	p := startPeer(t)
	c := openConn(t, p, Options{})

	res, err := c.Submit(ctxT(t), protocol.NewVertexGetRequest("v1", protocol.VertexGet{}))
	require.NoError(t, err)
	req := p.next(t)
	assert.Equal(t, "v1", req.Headers[protocol.AttrID])
	p.single(t, req.ID, nil)

	values, err := res.Collect(ctxT(t))
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "null", string(values[0]))
}

func TestSingleMarkedMoreIsProtocolError(t *testing.T) {
	p := startPeer(t)
	c := openConn(t, p, Options{})

	bad, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	require.NoError(t, err)
	good, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	require.NoError(t, err)
	badID, goodID := p.next(t).ID, p.next(t).ID
	if badID != bad.ID() {
		badID, goodID = goodID, badID
	}

	p.send(t, map[string]any{"id": badID, "multi": false, "more": true, "body": 1})
	p.single(t, goodID, 2)

	_, err = bad.Next(ctxT(t))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, badID, pe.ID)

	v, err := good.First(ctxT(t))
	require.NoError(t, err)
	assert.JSONEq(t, `2`, string(v))
	assert.Equal(t, StateOpen, c.State())
}

func TestErrorResponseIsPerRequest(t *testing.T) {
	p := startPeer(t)
	c := openConn(t, p, Options{})

	x, err := c.SearchGraph(ctxT(t), "root", "bad(", protocol.GraphQuery{})
	require.NoError(t, err)
	y, err := c.SearchGraph(ctxT(t), "root", "outE()", protocol.GraphQuery{})
	require.NoError(t, err)
	reqs := map[string]wireRequest{}
	for i := 0; i < 2; i++ {
		r := p.next(t)
		reqs[r.Body["query"].(string)] = r
	}

	p.chunk(t, reqs["outE()"].ID, "first", true)
	p.send(t, map[string]any{"id": reqs["bad("].ID, "error": map[string]any{"code": 400, "message": "syntax error"}})
	p.chunk(t, reqs["outE()"].ID, "second", false)

	_, err = x.Next(ctxT(t))
	var se *protocol.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "400", se.Code)
	assert.Equal(t, "syntax error", se.Message)
	_, err = x.Next(ctxT(t))
	assert.ErrorIs(t, err, io.EOF)

	values, err := y.Collect(ctxT(t))
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, StateOpen, c.State())
}

func TestUnknownIDFailsEveryPendingRequest(t *testing.T) {
	p := startPeer(t)
	errs := make(errSink, 1)
	c := openConn(t, p, Options{OnError: errs.handle})

	var pending []*Results
	for i := 0; i < 3; i++ {
		res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
		require.NoError(t, err)
		pending = append(pending, res)
		p.next(t)
	}
	// buffered but unread: the connection failure must still win
	p.chunk(t, pending[0].ID(), "buffered", true)
	p.single(t, "no-such-request", 1)

	var ce *ConnError
	require.ErrorAs(t, errs.wait(t), &ce)
	assert.ErrorIs(t, ce, ErrUnknownID)

	for _, res := range pending {
		_, err := res.Next(ctxT(t))
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, ErrUnknownID)
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 0, c.Pending())

	_, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestMalformedFramesAreFatal(t *testing.T) {
	frames := map[string]string{
		"not json":         `not json`,
		"array":            `[1,2]`,
		"missing id":       `{"multi":false,"more":false,"body":1}`,
		"error without id": `{"error":{"code":500,"message":"boom"}}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			p := startPeer(t)
			errs := make(errSink, 1)
			c := openConn(t, p, Options{OnError: errs.handle})

			res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
			require.NoError(t, err)
			p.next(t)
			p.sendRaw(t, frame)

			var ce *ConnError
			require.ErrorAs(t, errs.wait(t), &ce)
			_, err = res.Next(ctxT(t))
			assert.ErrorAs(t, err, &ce)
			assert.Equal(t, StateClosed, c.State())
		})
	}
}

func TestPeerDisconnectFailsPending(t *testing.T) {
	p := startPeer(t)
	errs := make(errSink, 1)
	c := openConn(t, p, Options{OnError: errs.handle})

	res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	require.NoError(t, err)
	p.next(t)
	p.drop()

	_, err = res.Next(ctxT(t))
	var ce *ConnError
	require.ErrorAs(t, err, &ce)
	require.ErrorAs(t, errs.wait(t), &ce)
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseFailsAllPendingAndAllowsReopen(t *testing.T) {
	p := startPeer(t)
	var reported atomic.Int32
	c := openConn(t, p, Options{OnError: func(error) { reported.Add(1) }})
	<-p.protocols

	const n = 5
	var pending []*Results
	for i := 0; i < n; i++ {
		res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
		require.NoError(t, err)
		pending = append(pending, res)
	}
	assert.Equal(t, n, c.Pending())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, StateClosed, c.State())
	for _, res := range pending {
		_, err := res.Next(ctxT(t))
		assert.ErrorIs(t, err, ErrClosed)
	}
	require.NoError(t, c.Close(), "closing twice is harmless")

	_, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, c.Open(ctxT(t)))
	<-p.protocols
	res, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	require.NoError(t, err)
	var req wireRequest
	for req.ID != res.ID() {
		req = p.next(t)
	}
	p.single(t, req.ID, "again")
	v, err := res.First(ctxT(t))
	require.NoError(t, err)
	assert.JSONEq(t, `"again"`, string(v))
	assert.Equal(t, int32(0), reported.Load(), "explicit close is not reported as a failure")
}

func TestRenewalPushesTokenRequest(t *testing.T) {
	p := startPeer(t)
	mock := clock.NewMock()
	var issued atomic.Int32
	src := auth.SourceFunc(func(context.Context) (auth.Token, error) {
		n := issued.Add(1)
		return auth.Token{Value: fmt.Sprintf("tok-%d", n), ExpiresAt: mock.Now().Add(10 * time.Minute)}, nil
	})
	c := New(p.url, src, Options{Clock: mock})
	require.NoError(t, c.Open(ctxT(t)))
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, []string{transport.SubprotocolGraph, "token-tok-1"}, <-p.protocols)

	mock.Add(8 * time.Minute)

	req := p.next(t)
	assert.Equal(t, "token", req.Type)
	assert.Equal(t, "tok-2", req.Token)
	p.single(t, req.ID, map[string]any{})

	assert.Eventually(t, func() bool { return c.Pending() == 0 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, "tok-2", c.Token().Value)
}

func TestSubmitRejectsRequestWithoutID(t *testing.T) {
	c := New("ws://127.0.0.1:1/unused", auth.StaticSource{Value: "tok"}, Options{})
	_, err := c.Submit(context.Background(), &protocol.Request{Type: protocol.ReqQuery})
	require.Error(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestOpenFailureLeavesConnIdle(t *testing.T) {
	c := New("ws://127.0.0.1:1/unused", auth.SourceFunc(func(context.Context) (auth.Token, error) {
		return auth.Token{}, errors.New("no credentials")
	}), Options{})
	_, err := c.Submit(context.Background(), protocol.NewIdentityRequest())
	require.Error(t, err)
	assert.Equal(t, StateIdle, c.State())
}

// gatedSource blocks token acquisition until release is closed.
func gatedSource(value string) (auth.Source, <-chan struct{}, chan struct{}) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	src := auth.SourceFunc(func(ctx context.Context) (auth.Token, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return auth.ConstantToken(value), nil
		case <-ctx.Done():
			return auth.Token{}, ctx.Err()
		}
	})
	return src, started, release
}

func TestCloseDuringOpenWins(t *testing.T) {
	p := startPeer(t)
	src, started, release := gatedSource("tok")
	c := New(p.url, src, Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := ctxT(t)
	done := make(chan error, 1)
	go func() { done <- c.Open(ctx) }()
	<-started

	require.NoError(t, c.Close())
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(waitTimeout):
		t.Fatalf("Open did not return")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, c.Token().Value)

	_, err := c.Submit(ctxT(t), protocol.NewIdentityRequest())
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, c.Open(ctxT(t)))
	assert.Equal(t, StateOpen, c.State())
}

func TestCloseDuringAutoOpenSubmit(t *testing.T) {
	p := startPeer(t)
	src, started, release := gatedSource("tok")
	c := New(p.url, src, Options{})
	t.Cleanup(func() { _ = c.Close() })

	ctx := ctxT(t)
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, protocol.NewIdentityRequest())
		done <- err
	}()
	<-started

	require.NoError(t, c.Close())
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(waitTimeout):
		t.Fatalf("Submit did not return")
	}
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 0, c.Pending())
}
