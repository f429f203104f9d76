package graphws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Results is the consumer side of one submitted request. Values arrive in the
// order the server sent them; the sequence ends with io.EOF or the request's error.
//
//	for v, err := range res.All(ctx) {
//		if err != nil {
//			return err
//		}
//		...
//	}
type Results struct {
	id    string
	entry *pendingEntry
}

func (r *Results) ID() string { return r.id }

// Done is closed once the server has completed the request or the connection failed.
// Buffered values may still be pending.
func (r *Results) Done() <-chan struct{} { return r.entry.done }

// Next blocks until the next value. It returns io.EOF after the last value, the
// server or protocol error at its position in the sequence, and a *ConnError as
// soon as the connection failed, regardless of buffered values.
func (r *Results) Next(ctx context.Context) (json.RawMessage, error) {
	return r.entry.next(ctx)
}

// All iterates the remaining values. A terminal error is yielded once; io.EOF is not.
func (r *Results) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			v, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Collect drains the sequence.
func (r *Results) Collect(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for v, err := range r.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// First returns the first value, or ErrEmpty when the request completed without one.
func (r *Results) First(ctx context.Context) (json.RawMessage, error) {
	v, err := r.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	return v, err
}

// Decode iterates the values of r unmarshalled into T.
func Decode[T any](ctx context.Context, r *Results) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for raw, err := range r.All(ctx) {
			var v T
			if err != nil {
				yield(v, err)
				return
			}
			if err := json.Unmarshal(raw, &v); err != nil {
				yield(v, fmt.Errorf("decode result of %s: %w", r.id, err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
