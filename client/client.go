// Package client wires configuration, credentials, the REST side and the graph
// websocket into one handle.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/graph-go/internal/auth"
	"github.com/hongjun500/graph-go/internal/config"
	"github.com/hongjun500/graph-go/internal/graphws"
	"github.com/hongjun500/graph-go/internal/rest"
	"github.com/hongjun500/graph-go/internal/transport"
	"github.com/hongjun500/graph-go/pkg/logger"
)

type Client struct {
	REST  *rest.Client
	Graph *graphws.Conn

	cfg   *config.Config
	redis *redis.Client
}

// New builds a client from cfg. The websocket is not dialled until first use.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Client{cfg: cfg, REST: rest.New(cfg.Endpoint)}

	src := c.source()
	c.REST.Token = func(ctx context.Context) (string, error) {
		if c.Graph != nil {
			if tok := c.Graph.Token(); tok.Value != "" {
				return tok.Value, nil
			}
		}
		tok, err := src.Token(ctx)
		return tok.Value, err
	}

	url, err := c.REST.GraphWSURL(ctx, cfg.GraphWSPath)
	if err != nil {
		return nil, fmt.Errorf("resolve graph websocket: %w", err)
	}
	c.Graph = graphws.New(url, src, graphws.Options{
		Transport: transport.Options{
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PingInterval: cfg.PingInterval,
			MaxFrameSize: cfg.MaxFrameSize,
		},
		RenewAdvance: c.renewAdvance(),
		OnError: func(err error) {
			logger.L().Sugar().Warnw("graph_connection_error", "err", err)
		},
	})
	return c, nil
}

// source picks the credential source: a static token, or the password grant
// shared through redis when configured.
func (c *Client) source() auth.Source {
	cfg := c.cfg
	if !cfg.UsesPassword() {
		return auth.StaticSource{Value: cfg.Token}
	}
	ps := &auth.PasswordSource{
		Client: c.REST,
		Grant: rest.PasswordGrant{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     cfg.Password,
		},
	}
	if cfg.RedisAddr == "" {
		return ps
	}
	c.redis = auth.NewRedisClient(cfg.RedisAddr, cfg.RedisDB)
	return auth.NewRedisCache(c.redis, ps, cfg.RedisPrefix, ps.CacheKey(), c.renewAdvance())
}

// renewAdvance is shared by the renewer and the redis cache so a cached token is
// never handed back inside the renewal window.
func (c *Client) renewAdvance() time.Duration {
	if c.cfg.RenewAdvance > 0 {
		return c.cfg.RenewAdvance
	}
	return auth.DefaultAdvance
}

// Revoke invalidates the tokens issued to the configured application.
func (c *Client) Revoke(ctx context.Context) error {
	if c.cfg.ClientID == "" {
		return errors.New("revoke: no client_id configured")
	}
	return c.REST.Revoke(ctx, c.cfg.ClientID)
}

func (c *Client) Close() error {
	err := c.Graph.Close()
	if c.redis != nil {
		err = errors.Join(err, c.redis.Close())
	}
	return err
}
