package graphws

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/hongjun500/graph-go/internal/protocol"
)

// SearchIndex runs a full-text index query over vertices.
func (c *Conn) SearchIndex(ctx context.Context, query string, q protocol.IndexQuery) (*Results, error) {
	req, err := protocol.NewIndexQueryRequest(query, q)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, req)
}

// SearchIndexByType lists vertices of one ogit type.
func (c *Conn) SearchIndexByType(ctx context.Context, ogitType string, q protocol.IndexQuery) (*Results, error) {
	return c.SearchIndex(ctx, protocol.TypeQuery(ogitType), q)
}

// SearchGraph runs a gremlin traversal starting at root.
func (c *Conn) SearchGraph(ctx context.Context, root, query string, q protocol.GraphQuery) (*Results, error) {
	return c.Submit(ctx, protocol.NewGraphQueryRequest(root, query, q))
}

// SearchConnected walks the edges of q.VertexID.
func (c *Conn) SearchConnected(ctx context.Context, q protocol.ConnectedQuery) (*Results, error) {
	req, err := protocol.NewConnectedQueryRequest(q)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, req)
}

// GetVertex fetches one vertex.
func (c *Conn) GetVertex(ctx context.Context, id string, q protocol.VertexGet) (map[string]any, error) {
	res, err := c.Submit(ctx, protocol.NewVertexGetRequest(id, q))
	if err != nil {
		return nil, err
	}
	return firstObject(ctx, res)
}

// History streams the versions of a vertex.
func (c *Conn) History(ctx context.Context, id string, q protocol.HistoryQuery) (*Results, error) {
	return c.Submit(ctx, protocol.NewVertexHistoryRequest(id, q))
}

// Me returns the identity behind the current token.
func (c *Conn) Me(ctx context.Context) (map[string]any, error) {
	res, err := c.Submit(ctx, protocol.NewIdentityRequest())
	if err != nil {
		return nil, err
	}
	return firstObject(ctx, res)
}

// TimeSeriesValues streams the values of a time-series vertex between from and to.
// Zero times leave the bound to the server.
func (c *Conn) TimeSeriesValues(ctx context.Context, id string, from, to time.Time, q protocol.TimeSeriesQuery) iter.Seq2[protocol.TimeSeriesValue, error] {
	return func(yield func(protocol.TimeSeriesValue, error) bool) {
		res, err := c.Submit(ctx, protocol.NewTimeSeriesGetRequest(id, from, to, q))
		if err != nil {
			yield(protocol.TimeSeriesValue{}, err)
			return
		}
		for v, err := range Decode[protocol.TimeSeriesValue](ctx, res) {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// AddTimeSeriesValues writes values and waits for the server to acknowledge them.
func (c *Conn) AddTimeSeriesValues(ctx context.Context, id string, values []protocol.TimeSeriesValue) error {
	res, err := c.Submit(ctx, protocol.NewTimeSeriesAddRequest(id, values))
	if err != nil {
		return err
	}
	_, err = res.Collect(ctx)
	return err
}

// UpdateToken presents a new credential on the open connection.
func (c *Conn) UpdateToken(ctx context.Context, token string) error {
	res, err := c.Submit(ctx, protocol.NewTokenRequest(token))
	if err != nil {
		return err
	}
	if _, err := res.Collect(ctx); err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}

func firstObject(ctx context.Context, res *Results) (map[string]any, error) {
	raw, err := res.First(ctx)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", res.ID(), err)
	}
	return out, nil
}
