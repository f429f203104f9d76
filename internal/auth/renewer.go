package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/hongjun500/graph-go/internal/observe"
	"github.com/hongjun500/graph-go/pkg/logger"
)

const (
	DefaultAdvance      = 2 * time.Minute
	DefaultRetry        = 15 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Renewer keeps a renewable token fresh. It arms a one-shot timer at
// ExpiresAt-Advance; on fire it fetches a replacement from Source, re-arms for the
// new expiry and hands the token to Push on a separate goroutine.
//
// Push and OnError must be set before Start.
type Renewer struct {
	Source  Source
	Advance time.Duration
	// Retry 获取失败且旧 token 仍有效时的重试间隔
	Retry   time.Duration
	Clock   clock.Clock
	Push    func(ctx context.Context, tok Token) error
	OnError func(err error)

	current atomic.Pointer[Token]

	mu       sync.Mutex
	timer    *clock.Timer
	deadline time.Time
	gen      uint64
	stopped  bool
}

func NewRenewer(src Source) *Renewer {
	return &Renewer{
		Source:  src,
		Advance: DefaultAdvance,
		Retry:   DefaultRetry,
		Clock:   clock.New(),
	}
}

func (r *Renewer) logger() *zap.SugaredLogger {
	return logger.L().Named("renewer").Sugar()
}

// Start records tok as current and arms the timer for it. Constant tokens arm nothing.
func (r *Renewer) Start(tok Token) {
	r.current.Store(&tok)
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()
	r.arm(tok.ExpiresAt, tok.Renewable(), 0)
}

// Stop disarms the timer. A renewal already in progress finishes but does not re-arm.
func (r *Renewer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.deadline = time.Time{}
}

// Current returns the most recent token.
func (r *Renewer) Current() Token {
	if t := r.current.Load(); t != nil {
		return *t
	}
	return Token{}
}

// Deadline returns when the timer fires; zero when nothing is armed.
func (r *Renewer) Deadline() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

// arm schedules the next renewal at expiresAt-Advance. When that instant is not
// in the future the timer fires after late instead.
func (r *Renewer) arm(expiresAt time.Time, renewable bool, late time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.deadline = time.Time{}
	if r.stopped || !renewable {
		return
	}
	now := r.Clock.Now()
	d := expiresAt.Add(-r.Advance).Sub(now)
	if d <= 0 {
		if late > 0 {
			r.logger().Warnw("renewal_token_inside_advance", "expires_at", expiresAt, "advance", r.Advance, "retry_in", late)
		}
		d = late
	}
	r.armAfterLocked(now, d)
}

func (r *Renewer) armAfterLocked(now time.Time, d time.Duration) {
	r.gen++
	gen := r.gen
	r.deadline = now.Add(d)
	r.timer = r.Clock.AfterFunc(d, func() { r.fire(gen) })
	r.logger().Debugw("renewal_armed", "at", r.deadline, "in", d)
}

func (r *Renewer) fire(gen uint64) {
	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.deadline = time.Time{}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
	tok, err := r.Source.Token(ctx)
	cancel()
	if err != nil {
		observe.IncTokenRenewal("error")
		r.retry(gen)
		r.report(&RenewalError{Stage: "acquire", Err: err})
		return
	}

	r.mu.Lock()
	if r.stopped || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	prev := r.Current()
	r.current.Store(&tok)
	// 新 token 已落在提前量窗口内时按 Retry 间隔再试，不立即重入
	r.arm(tok.ExpiresAt, tok.Renewable(), r.retryInterval())
	observe.IncTokenRenewal("ok")
	r.logger().Infow("token_renewed", "expires_at", tok.ExpiresAt)

	if r.Push == nil || tok.Value == prev.Value {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
		defer cancel()
		if err := r.Push(ctx, tok); err != nil {
			r.report(&RenewalError{Stage: "push", Err: err})
		}
	}()
}

func (r *Renewer) retryInterval() time.Duration {
	if r.Retry > 0 {
		return r.Retry
	}
	return DefaultRetry
}

// retry re-arms after Retry while the current token has not expired yet.
func (r *Renewer) retry(gen uint64) {
	cur := r.Current()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || gen != r.gen || r.Retry <= 0 {
		return
	}
	now := r.Clock.Now()
	if !cur.Valid(now.Add(r.Retry)) {
		return
	}
	r.armAfterLocked(now, r.Retry)
}

func (r *Renewer) report(err error) {
	r.logger().Warnw("token_renewal_failed", "err", err)
	if r.OnError != nil {
		r.OnError(err)
	}
}
