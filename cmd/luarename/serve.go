package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
	"luarename/internal/diag"
	"luarename/internal/pipeline"
	"luarename/internal/queue"
	"luarename/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动本地代理：/api/rename-batch、处理队列 /api/units 与 /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.validConfig(nil)
			if err != nil {
				return err
			}
			if a := strings.TrimSpace(addr); a != "" {
				cfg.Server.Addr = a
			}
			logger := newLogger(cfg)
			defer logger.Sync()

			srv, err := buildServer(cfg, logger)
			if err != nil {
				return configErr("装配失败: %v", err)
			}
			c.printf("listening on http://%s\n", cfg.Server.Addr)
			if err := srv.ListenAndServe(cmd.Context(), cfg.Server.Addr); err != nil {
				return &exitError{code: exitRun, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址（覆盖配置 server.addr）")
	return cmd
}

// buildServer 装配代理：同一套组件既服务单批代理，也驱动处理队列。
func buildServer(cfg cfgpkg.Config, logger *diag.Logger) (*server.Server, error) {
	comp, set, gate, key, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return nil, err
	}
	rn, err := pipeline.NewRenamer(comp, set, logger)
	if err != nil {
		return nil, err
	}
	q, err := queue.New(comp.Scanner, rn, queue.DefaultCapacity, logger)
	if err != nil {
		return nil, err
	}
	timeout := set.BatchTimeout
	if timeout <= 0 {
		timeout = pipeline.DefaultBatchTimeout
	}
	return server.New(comp.LLM, comp.Decoder, q, logger, server.Options{
		Gate:          gate,
		GateKey:       key,
		Timeout:       timeout + 5*time.Second,
		BytesPerToken: set.BytesPerToken,
	})
}

func (c *cli) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.stderr, format, a...)
}
