package transport

import (
	"net/http"
	"time"
)

// Options configures the graph websocket transport
type Options struct {
	HandshakeTimeout time.Duration // 0 uses 30s
	ReadTimeout      time.Duration // idle read deadline, extended by every frame and pong; 0 to disable
	WriteTimeout     time.Duration // per-write deadline; 0 to disable
	PingInterval     time.Duration // 0 disables keepalive pings
	MaxFrameSize     int           // inbound frame limit in bytes; 0 is unlimited
	Header           http.Header   // extra handshake headers
}

func (o Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return 30 * time.Second
}
