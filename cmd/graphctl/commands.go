package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hongjun500/graph-go/client"
	"github.com/hongjun500/graph-go/internal/graphws"
	"github.com/hongjun500/graph-go/internal/protocol"
)

func newQueryCmd() *cobra.Command {
	var q protocol.IndexQuery
	cmd := &cobra.Command{
		Use:   "query <es-query>",
		Short: "Run an index (vertices) query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client.Client) error {
				res, err := c.Graph.SearchIndex(cmd.Context(), args[0], q)
				if err != nil {
					return err
				}
				return printResults(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum number of results (0 = all)")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "skip this many results")
	cmd.Flags().StringSliceVar(&q.Order, "order", nil, `sort expressions, e.g. "ogit/_modified-on desc"`)
	cmd.Flags().StringSliceVar(&q.Fields, "fields", nil, "only return these fields")
	cmd.Flags().BoolVar(&q.IncludeDeleted, "deleted", false, "include deleted vertices")
	return cmd
}

func newGremlinCmd() *cobra.Command {
	var q protocol.GraphQuery
	cmd := &cobra.Command{
		Use:   "gremlin <root> <query>",
		Short: "Run a gremlin traversal starting at root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client.Client) error {
				res, err := c.Graph.SearchGraph(cmd.Context(), args[0], args[1], q)
				if err != nil {
					return err
				}
				return printResults(cmd, res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&q.Fields, "fields", nil, "only return these fields")
	cmd.Flags().BoolVar(&q.IncludeDeleted, "deleted", false, "include deleted vertices")
	return cmd
}

func newGetCmd() *cobra.Command {
	var q protocol.VertexGet
	cmd := &cobra.Command{
		Use:   "get <vertex-id>",
		Short: "Fetch a single vertex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client.Client) error {
				v, err := c.Graph.GetVertex(cmd.Context(), args[0], q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&q.VersionID, "version", "", "fetch this version of the vertex")
	cmd.Flags().StringSliceVar(&q.Fields, "fields", nil, "only return these fields")
	cmd.Flags().BoolVar(&q.IncludeDeleted, "deleted", false, "include deleted vertices")
	return cmd
}

func newTimeSeriesCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "ts <vertex-id>",
		Short: "Stream time series values between --from and --to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(c *client.Client) error {
				for v, err := range c.Graph.TimeSeriesValues(cmd.Context(), args[0], start, end, protocol.TimeSeriesQuery{}) {
					if err != nil {
						return err
					}
					if err := printJSON(cmd.OutOrStdout(), v); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 start (default: one hour ago)")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 end (default: now)")
	return cmd
}

func newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the account behind the current token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client.Client) error {
				me, err := c.Graph.Me(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), me)
			})
		},
	}
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the tokens of the configured application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(c *client.Client) error {
				return c.Revoke(cmd.Context())
			})
		},
	}
}

func printResults(cmd *cobra.Command, res *graphws.Results) error {
	for v, err := range res.All(cmd.Context()) {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(v)); err != nil {
			return err
		}
	}
	return nil
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	end := time.Now()
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.Add(-time.Hour)
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from, to)
	}
	return start, end, nil
}
