package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"luarename/pkg/contract"
)

// 可编排的故障步骤。
const (
	StepRateLimited = "rate_limited"
	StepInvalidJSON = "invalid_json"
	StepEmpty       = "empty"
	StepTimeout     = "timeout"
	StepOK          = "ok"
)

var defaultScript = []string{StepRateLimited, StepInvalidJSON}

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	// Script: 前 N 次调用依次执行的步骤，耗尽后恒为 ok。
	// nil 时为 [rate_limited, invalid_json]。
	Script []string `json:"script,omitempty" yaml:"script,omitempty"`
	// LogPath: 调试用日志文件，每次调用追加一行步骤名（可选）。
	LogPath string `json:"log_path,omitempty" yaml:"log_path,omitempty"`
}

// Client 按脚本逐次注入故障，用于验证重试与兜底。
type Client struct {
	prefix  string
	logPath string
	script  []string

	mu    sync.Mutex
	calls int
}

// New 构造 Client。未知步骤名在构造期报错。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "flaky"
	}
	script := defaultScript
	if o.Script != nil {
		script = make([]string, len(o.Script))
		for i, s := range o.Script {
			s = strings.ToLower(strings.TrimSpace(s))
			switch s {
			case StepRateLimited, StepInvalidJSON, StepEmpty, StepTimeout, StepOK:
			default:
				return nil, fmt.Errorf("flaky: %w: unknown step %q", contract.ErrInvalidInput, s)
			}
			script[i] = s
		}
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, script: script}, nil
}

// next 取出本次调用的步骤并记日志；日志写入与计数在同一临界区内，保证行序。
func (c *Client) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := StepOK
	if c.calls < len(c.script) {
		step = c.script[c.calls]
	}
	c.calls++
	if c.logPath != "" {
		if f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			_, _ = f.WriteString(step + "\n")
			_ = f.Close()
		}
	}
	return step
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	switch c.next() {
	case StepRateLimited:
		return contract.Raw{}, contract.ErrRateLimited
	case StepInvalidJSON:
		return contract.Raw{Text: "I cannot help with that"}, nil
	case StepEmpty:
		return contract.Raw{Text: `{"mappings":{}}`}, nil
	case StepTimeout:
		<-ctx.Done()
		return contract.Raw{}, ctx.Err()
	}
	m := make(map[string]string, len(b.Identifiers))
	for _, name := range b.Names() {
		m[name] = c.prefix + "_" + name
	}
	bts, _ := json.Marshal(map[string]any{"mappings": m})
	return contract.Raw{Text: string(bts)}, nil
}

var _ contract.LLMClient = (*Client)(nil)
