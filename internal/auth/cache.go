package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/hongjun500/graph-go/pkg/logger"
)

// Cmdable is the subset of redis commands the cache needs. *redis.Client satisfies it.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache shares renewable tokens between processes using the same grant.
// Constant tokens bypass the cache.
type RedisCache struct {
	cli     Cmdable
	inner   Source
	key     string
	advance time.Duration
	clock   clock.Clock
}

func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// NewRedisCache caches tokens of inner under prefix+key. Cached tokens closer than
// advance to expiry are treated as missing.
// advance should match the renewer's; a non-positive value means DefaultAdvance.
func NewRedisCache(cli Cmdable, inner Source, prefix, key string, advance time.Duration) *RedisCache {
	if advance <= 0 {
		advance = DefaultAdvance
	}
	return &RedisCache{
		cli:     cli,
		inner:   inner,
		key:     prefix + key,
		advance: advance,
		clock:   clock.New(),
	}
}

// WithClock replaces the wall clock, used by tests.
func (c *RedisCache) WithClock(clk clock.Clock) *RedisCache {
	c.clock = clk
	return c
}

func (c *RedisCache) Token(ctx context.Context) (Token, error) {
	if tok, ok := c.lookup(ctx); ok {
		return tok, nil
	}
	tok, err := c.inner.Token(ctx)
	if err != nil {
		return Token{}, err
	}
	c.store(ctx, tok)
	return tok, nil
}

func (c *RedisCache) lookup(ctx context.Context) (Token, bool) {
	raw, err := c.cli.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false
	}
	if err != nil {
		logger.L().Sugar().Warnw("token_cache_get_failed", "key", c.key, "err", err)
		return Token{}, false
	}
	tok, err := ParseToken(raw)
	if err != nil {
		logger.L().Sugar().Warnw("token_cache_corrupt", "key", c.key, "err", err)
		return Token{}, false
	}
	if !tok.Renewable() || !tok.Valid(c.clock.Now().Add(c.advance)) {
		return Token{}, false
	}
	return tok, true
}

func (c *RedisCache) store(ctx context.Context, tok Token) {
	if !tok.Renewable() {
		return
	}
	ttl := tok.ExpiresAt.Sub(c.clock.Now()) - c.advance
	if ttl <= 0 {
		return
	}
	payload, err := json.Marshal(PayloadOf(tok))
	if err != nil {
		return
	}
	if err := c.cli.Set(ctx, c.key, payload, ttl).Err(); err != nil {
		logger.L().Sugar().Warnw("token_cache_set_failed", "key", c.key, "err", err)
	}
}
