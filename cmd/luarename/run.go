package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
	"luarename/internal/diag"
)

func newRunCmd(c *cli) *cobra.Command {
	var skipSidecar bool
	cmd := &cobra.Command{
		Use:   "run [roots...]",
		Short: "重命名文件/目录中的 Lua 脚本（\"-\" 表示 STDIN）",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd.Context(), args, skipSidecar)
		},
	}
	cmd.Flags().BoolVar(&skipSidecar, "skip-sidecar", false, "不输出 <file>.jsonl 重命名记录")
	return cmd
}

func (c *cli) runPipeline(ctx context.Context, roots []string, skipSidecar bool) error {
	start := time.Now()
	cfg, err := c.validConfig(roots)
	if err != nil {
		return err
	}
	if skipSidecar {
		cfg.SkipSidecar = true
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	if len(cfg.Inputs) == 0 {
		return configErr("未指定输入（位置参数或配置 inputs）")
	}
	if err := preflightCheckOutputDir(cfg); err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr("输出目录不可写或无法创建: %v", err)
	}
	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return configErr("装配失败: %v", err)
	}
	logEffective(logger, cfg)

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(c.stderr, c.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.LLM)

	t := logger.Start("pipeline", "run")
	if err := pipelineRun(ctx, comp, set, logger); err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "run", "error")
		diag.IncError("pipeline", code)
		term.RunFinish(false, time.Since(start))
		return &exitError{code: exitRun, err: err}
	}
	t.Finish("run", int64(len(set.Inputs)))
	diag.IncOp("pipeline", "run", "success")
	term.RunFinish(true, time.Since(start))
	return nil
}
