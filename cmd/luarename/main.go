package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
	"luarename/internal/diag"
	"luarename/internal/pipeline"
)

// 测试替换点。
var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configErr(format string, a ...any) error {
	return &exitError{code: exitConfig, err: fmt.Errorf(format, a...)}
}

// cli 持有一次调用的全局旗标。
type cli struct {
	configPath  string
	envFile     string
	llm         string
	logLevel    string
	concurrency int
	batchSize   int
	maxTokens   int
	maxRetries  int
	cacheSize   int
	status      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行命令树并把错误映射为退出码。
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "错误: %v\n", ee.err)
		}
		return ee.code
	}
	// cobra 自身的用法错误
	fmt.Fprintf(stderr, "错误: %v\n", err)
	return exitConfig
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "luarename",
		Short:         "为混淆 Lua 脚本中的无意义标识符生成可读名称",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "配置文件路径（JSON 或 YAML）；缺省读取 ./config.json|yaml（若存在）")
	pf.StringVar(&c.envFile, "env-file", "", ".env 文件路径；缺省读取 ./.env（若存在）")
	pf.StringVar(&c.llm, "llm", "", "provider 名称（覆盖配置）")
	pf.StringVar(&c.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.IntVar(&c.concurrency, "concurrency", 0, "同时在途的批次数（覆盖配置）")
	pf.IntVar(&c.batchSize, "batch-size", 0, "每批标识符数（覆盖配置）")
	pf.IntVar(&c.maxTokens, "max-tokens", 0, "单请求 token 预算（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	pf.IntVar(&c.maxRetries, "max-retries", -1, "网络/限流错误的最大重试次数（0 表示不重试）")
	pf.IntVar(&c.cacheSize, "cache-size", 0, "LRU 响应缓存条数（覆盖配置）")
	pf.BoolVar(&c.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(
		newRunCmd(c),
		newScanCmd(c),
		newStripCmd(c),
		newApplyCmd(c),
		newServeCmd(c),
		newWatchCmd(c),
		newInitConfigCmd(c),
	)
	return root
}

// loadConfig 按 默认 < 文件 < ENV < CLI 合并配置；不做校验。
func (c *cli) loadConfig(inputs []string) (cfgpkg.Config, error) {
	// 在任何 ENV 读取前加载 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(c.envFile, c.envFile != ""); err != nil {
		return cfgpkg.Config{}, configErr("%v", err)
	}

	cfg := cfgpkg.Defaults()
	path := c.configPath
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	switch {
	case path != "":
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfgpkg.Config{}, configErr("配置解析失败: %v", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	case os.Getenv(cfgpkg.EnvPrefix+"CONFIG_JSON") != "":
		base, err := cfgpkg.LoadJSON("", []byte(os.Getenv(cfgpkg.EnvPrefix+"CONFIG_JSON")))
		if err != nil {
			return cfgpkg.Config{}, configErr("配置解析失败: %v", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfgpkg.Config{}, configErr("环境变量解析失败: %v", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	over := cfgpkg.Config{
		MaxRetries:  c.maxRetries,
		LLM:         c.llm,
		Concurrency: c.concurrency,
		BatchSize:   c.batchSize,
		MaxTokens:   c.maxTokens,
		CacheSize:   c.cacheSize,
		Logging:     cfgpkg.Logging{Level: c.logLevel},
		Inputs:      inputs,
	}
	return cfgpkg.Merge(cfg, over), nil
}

// validConfig 加载并校验配置；失败时把有效配置打印到 stderr 便于诊断。
func (c *cli) validConfig(inputs []string) (cfgpkg.Config, error) {
	cfg, err := c.loadConfig(inputs)
	if err != nil {
		return cfg, err
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = c.dumpConfig(cfg)
		return cfg, configErr("配置校验失败: %v", err)
	}
	return cfg, nil
}

func newLogger(cfg cfgpkg.Config) *diag.Logger {
	lv := strings.TrimSpace(cfg.Logging.Level)
	if lv == "" {
		lv = "info"
	}
	return diag.NewLogger(uuid.NewString(), lv)
}

// logEffective 以 debug 级别输出运行时配置（不含密钥）。
func logEffective(logger *diag.Logger, cfg cfgpkg.Config) {
	kv := map[string]string{
		"inputs_count":   fmt.Sprintf("%d", len(cfg.Inputs)),
		"concurrency":    fmt.Sprintf("%d", cfg.Concurrency),
		"batch_size":     fmt.Sprintf("%d", cfg.BatchSize),
		"max_tokens":     fmt.Sprintf("%d", cfg.MaxTokens),
		"llm":            cfg.LLM,
		"scanner":        cfg.Components.Scanner,
		"stripper":       cfg.Components.Stripper,
		"prompt_builder": cfg.Components.PromptBuilder,
		"writer":         cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			URL     string `json:"url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options.JSON(), &s)
		for k, v := range map[string]string{"base_url": s.BaseURL, "url": s.URL, "model": s.Model} {
			if v != "" {
				kv[k] = v
			}
		}
	}
	logger.DebugStart("config", "effective", "", "", kv)
}

func (c *cli) dumpConfig(cfg cfgpkg.Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stderr, "有效配置:\n%s\n", b)
	return err
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)且非原地写入时，启动前检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：检查父目录可写性。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
		InPlace   bool   `json:"in_place"`
	}
	_ = json.Unmarshal(cfg.Options.Writer.JSON(), &wopts)
	dir := strings.TrimSpace(wopts.OutputDir)
	if wopts.InPlace || dir == "" {
		// 未指定时无法可靠检查，让装配阶段按实现自行报错
		return nil
	}
	if st, err := os.Stat(dir); err == nil {
		if !st.IsDir() {
			return fmt.Errorf("路径存在但不是目录: %s", dir)
		}
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
