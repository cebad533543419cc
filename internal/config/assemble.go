package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"luarename/internal/pipeline"
	"luarename/internal/rate"
	"luarename/pkg/contract"
	"luarename/pkg/registry"
	"luarename/plugins/llmclient/cached"
)

var validLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// Validate 对最小必要边界做静态校验。
// inputs 不在此处强制：serve 等子命令无需输入，Run 入口自行检查。
func Validate(cfg Config) error {
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.BatchSize < 1 {
		return errors.New("config: batch_size must be >= 1")
	}
	if cfg.MaxTokens < 0 {
		return errors.New("config: max_tokens must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.BatchTimeoutSeconds < 0 || cfg.SingleTimeoutSeconds < 0 {
		return errors.New("config: timeouts must be >= 0")
	}
	if cfg.CacheSize < 0 {
		return errors.New("config: cache_size must be >= 0")
	}
	if lv := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lv != "" {
		if _, ok := validLevels[lv]; !ok {
			return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
		}
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if prov.Limits.MaxTokensPerReq > 0 && cfg.MaxTokens > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.MaxTokens, prov.Limits.MaxTokensPerReq)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	c := cfg.Components
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", effName(c.Reader, d.Reader), registry.Reader[effName(c.Reader, d.Reader)] != nil},
		{"scanner", effName(c.Scanner, d.Scanner), registry.Scanner[effName(c.Scanner, d.Scanner)] != nil},
		{"stripper", effName(c.Stripper, d.Stripper), registry.Stripper[effName(c.Stripper, d.Stripper)] != nil},
		{"batcher", effName(c.Batcher, d.Batcher), registry.Batcher[effName(c.Batcher, d.Batcher)] != nil},
		{"prompt_builder", effName(c.PromptBuilder, d.PromptBuilder), registry.PromptBuilder[effName(c.PromptBuilder, d.PromptBuilder)] != nil},
		{"decoder", effName(c.Decoder, d.Decoder), registry.Decoder[effName(c.Decoder, d.Decoder)] != nil},
		{"rewriter", effName(c.Rewriter, d.Rewriter), registry.Rewriter[effName(c.Rewriter, d.Rewriter)] != nil},
		{"writer", effName(c.Writer, d.Writer), registry.Writer[effName(c.Writer, d.Writer)] != nil},
		{"llm client", prov.Client, registry.LLMClient[prov.Client] != nil},
	}
	for _, ck := range checks {
		if !ck.ok {
			return fmt.Errorf("config: %s %q not registered", ck.kind, ck.name)
		}
	}
	return nil
}

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
	fail := func(err error) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	if err := Validate(cfg); err != nil {
		return fail(err)
	}

	// 有效名称
	d := Defaults().Components
	c := cfg.Components
	o := cfg.Options

	// 构造实例
	r, err := registry.Reader[effName(c.Reader, d.Reader)](o.Reader.JSON())
	if err != nil {
		return fail(fmt.Errorf("reader: %w", err))
	}
	sc, err := registry.Scanner[effName(c.Scanner, d.Scanner)](o.Scanner.JSON())
	if err != nil {
		return fail(fmt.Errorf("scanner: %w", err))
	}
	st, err := registry.Stripper[effName(c.Stripper, d.Stripper)](o.Stripper.JSON())
	if err != nil {
		return fail(fmt.Errorf("stripper: %w", err))
	}
	b, err := registry.Batcher[effName(c.Batcher, d.Batcher)](o.Batcher.JSON())
	if err != nil {
		return fail(fmt.Errorf("batcher: %w", err))
	}
	pb, err := registry.PromptBuilder[effName(c.PromptBuilder, d.PromptBuilder)](o.PromptBuilder.JSON())
	if err != nil {
		return fail(fmt.Errorf("prompt_builder: %w", err))
	}
	dec, err := registry.Decoder[effName(c.Decoder, d.Decoder)](o.Decoder.JSON())
	if err != nil {
		return fail(fmt.Errorf("decoder: %w", err))
	}
	rw, err := registry.Rewriter[effName(c.Rewriter, d.Rewriter)](o.Rewriter.JSON())
	if err != nil {
		return fail(fmt.Errorf("rewriter: %w", err))
	}
	w, err := registry.Writer[effName(c.Writer, d.Writer)](o.Writer.JSON())
	if err != nil {
		return fail(fmt.Errorf("writer: %w", err))
	}

	// LLM 客户端（可选 LRU 缓存包装）
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options.JSON())
	if err != nil {
		return fail(fmt.Errorf("llm %s: %w", cfg.LLM, err))
	}
	if cfg.CacheSize > 0 {
		cl, err := cached.Wrap(llm, cfg.CacheSize, cfg.LLM+"/"+prov.Client)
		if err != nil {
			return fail(err)
		}
		llm = cl
	}

	comp := pipeline.Components{
		Reader:        r,
		Scanner:       sc,
		Stripper:      st,
		Batcher:       b,
		PromptBuilder: pb,
		LLM:           llm,
		Decoder:       dec,
		Rewriter:      rw,
		Writer:        w,
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	// 默认使用 API Key 派生分组键（更稳定）；若失败则退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options.JSON())
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	set := pipeline.Settings{
		Inputs:        cloneStrings(cfg.Inputs),
		BatchSize:     cfg.BatchSize,
		Concurrency:   cfg.Concurrency,
		MaxTokens:     cfg.MaxTokens,
		MaxRetries:    cfg.MaxRetries,
		BatchTimeout:  seconds(cfg.BatchTimeoutSeconds),
		SingleTimeout: seconds(cfg.SingleTimeoutSeconds),
		Gate:          gate,
		GateKey:       key,
		SkipSidecar:   cfg.SkipSidecar,
	}
	return comp, set, gate, key, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

// 0 交由 Renamer 补默认值。
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// 离线子命令（scan/strip/apply）只需单个组件，不要求 LLM 配置有效。

// BuildScanner 按配置构造扫描器。
func BuildScanner(cfg Config) (contract.Scanner, error) {
	name := effName(cfg.Components.Scanner, Defaults().Components.Scanner)
	f := registry.Scanner[name]
	if f == nil {
		return nil, fmt.Errorf("config: scanner %q not registered", name)
	}
	return f(cfg.Options.Scanner.JSON())
}

// BuildStripper 按配置构造去注释器；"none" 返回 nil。
func BuildStripper(cfg Config) (contract.CommentStripper, error) {
	name := effName(cfg.Components.Stripper, Defaults().Components.Stripper)
	f := registry.Stripper[name]
	if f == nil {
		return nil, fmt.Errorf("config: stripper %q not registered", name)
	}
	return f(cfg.Options.Stripper.JSON())
}

// BuildRewriter 按配置构造改写器。
func BuildRewriter(cfg Config) (contract.Rewriter, error) {
	name := effName(cfg.Components.Rewriter, Defaults().Components.Rewriter)
	f := registry.Rewriter[name]
	if f == nil {
		return nil, fmt.Errorf("config: rewriter %q not registered", name)
	}
	return f(cfg.Options.Rewriter.JSON())
}
