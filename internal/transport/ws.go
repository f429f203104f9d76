package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hongjun500/graph-go/internal/observe"
	"github.com/hongjun500/graph-go/pkg/logger"
)

const (
	SubprotocolGraph     = "graph-2.0.0"
	SubprotocolTokenPref = "token-"
)

// WSConn is one client-side graph websocket. Reads must come from a single
// goroutine; writes are serialised internally.
type WSConn struct {
	conn      *websocket.Conn
	opt       Options
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeChan chan struct{}
}

// Dial opens the socket offering the graph protocol and the token as subprotocols.
// The server must echo the graph protocol.
func Dial(ctx context.Context, url, token string, opt Options) (*WSConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opt.handshakeTimeout(),
		Subprotocols:     []string{SubprotocolGraph, SubprotocolTokenPref + token},
	}
	conn, resp, err := dialer.DialContext(ctx, url, opt.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d): %w", url, ErrHandshakeRejected, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if got := conn.Subprotocol(); got != SubprotocolGraph {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: server selected %q", ErrProtocolMismatch, got)
	}

	c := &WSConn{
		conn:      conn,
		opt:       opt,
		closeChan: make(chan struct{}),
	}
	if opt.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(opt.MaxFrameSize))
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	if opt.PingInterval > 0 {
		go c.pingLoop()
	}

	observe.IncConnection("open")
	logger.L().Sugar().Infow("websocket_connected", "url", url, "subprotocol", conn.Subprotocol())
	return c, nil
}

func (c *WSConn) extendReadDeadline() {
	if c.opt.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
	}
}

func (c *WSConn) pingLoop() {
	ticker := time.NewTicker(c.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				logger.L().Sugar().Debugw("websocket_ping_failed", "err", err)
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// ReadFrame blocks until the next text frame. Control frames are handled by the
// underlying connection.
func (c *WSConn) ReadFrame() ([]byte, error) {
	mt, r, err := c.conn.NextReader()
	if err != nil {
		return nil, c.readErr(err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, c.readErr(err)
	}
	c.extendReadDeadline()
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedFrame, mt)
	}
	observe.IncFrame("rx")
	return data, nil
}

func (c *WSConn) readErr(err error) error {
	select {
	case <-c.closeChan:
		return fmt.Errorf("%w: %w", ErrConnClosed, err)
	default:
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("%w: %w", ErrFrameTooLarge, err)
	}
	return err
}

// WriteFrame sends data as one text frame.
func (c *WSConn) WriteFrame(data []byte) error {
	select {
	case <-c.closeChan:
		return ErrConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opt.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	observe.IncFrame("tx")
	return nil
}

// Close sends a normal close frame and releases the socket. Safe to call repeatedly.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
		observe.IncConnection("close")
	})
	return err
}

// Done is closed once Close has been called.
func (c *WSConn) Done() <-chan struct{} { return c.closeChan }

func (c *WSConn) Subprotocol() string { return c.conn.Subprotocol() }
