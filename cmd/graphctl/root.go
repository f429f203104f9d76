package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hongjun500/graph-go/client"
	"github.com/hongjun500/graph-go/internal/config"
	"github.com/hongjun500/graph-go/internal/observe"
	"github.com/hongjun500/graph-go/pkg/logger"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath  string // 配置文件，空则按 GRAPH_CONFIG / 环境变量加载
	LogLevel    string
	MetricsAddr string
}

var globalFlags GlobalFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graphctl",
		Short: "Query a graph over its websocket API",
		Long: `graphctl talks to a graph endpoint over the multiplexed graph websocket.

Credentials come from the config file or GRAPH_* variables: either a static
token (GRAPH_TOKEN) or a password grant (GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET,
GRAPH_USERNAME, GRAPH_PASSWORD). Results are printed as JSON lines.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "debug|info|warn|error")
	root.PersistentFlags().StringVar(&globalFlags.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	root.AddCommand(newQueryCmd(), newGremlinCmd(), newGetCmd(), newTimeSeriesCmd(), newMeCmd(), newRevokeCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if globalFlags.ConfigPath != "" {
		return config.LoadFile(globalFlags.ConfigPath)
	}
	return config.Load()
}

// withClient 加载配置、初始化日志与指标，然后在 fn 返回后关闭连接
func withClient(ctx context.Context, fn func(c *client.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if globalFlags.LogLevel != "" {
		cfg.LogLevel = globalFlags.LogLevel
	}
	if globalFlags.MetricsAddr != "" {
		cfg.MetricsAddr = globalFlags.MetricsAddr
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Stderr: true})
	log := logger.L().Sugar()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := observe.StartHTTP(cfg.MetricsAddr); err != nil {
				log.Warnw("metrics_server_stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	c, err := client.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Debugw("close", "err", err)
		}
	}()
	return fn(c)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
