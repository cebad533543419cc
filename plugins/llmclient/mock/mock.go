package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"luarename/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix" yaml:"prefix"` // 建议名前缀，默认 "renamed"
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key" yaml:"api_key"`
	// ResponseMode: 可选的响应模式（用于集成测试与无网络联调）。
	//  - "" / "mappings": {"mappings": {name: prefix_name}}，与 mapping 解码器即插即用；
	//  - "fenced": 同上，但包在 ```json 代码块与说明文字中；
	//  - "same": 所有标识符给出同一个名字（prefix），用于验证去重；
	//  - "empty": {"mappings": {}}，用于验证全量兜底；
	//  - "echo": 回显 Prompt 文本。
	ResponseMode string `json:"response_mode,omitempty" yaml:"response_mode,omitempty"`
}

type Client struct {
	prefix string
	mode   string
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "renamed"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "mappings"
	}
	return &Client{prefix: o.Prefix, mode: mode}, nil
}

func (c *Client) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	switch c.mode {
	case "mappings":
		return contract.Raw{Text: c.wrapped(b, func(name string) string { return c.prefix + "_" + name })}, nil
	case "fenced":
		body := c.wrapped(b, func(name string) string { return c.prefix + "_" + name })
		return contract.Raw{Text: "Here are the names:\n```json\n" + body + "\n```\n"}, nil
	case "same":
		return contract.Raw{Text: c.wrapped(b, func(string) string { return c.prefix })}, nil
	case "empty":
		return contract.Raw{Text: `{"mappings":{}}`}, nil
	case "echo":
		return contract.Raw{Text: contract.PromptText(p)}, nil
	}
	return contract.Raw{}, fmt.Errorf("mock: %w: unknown response mode %q", contract.ErrInvalidInput, c.mode)
}

func (c *Client) wrapped(b contract.Batch, name func(string) string) string {
	m := make(map[string]string, len(b.Identifiers))
	for _, id := range b.Identifiers {
		m[id.Name] = name(id.Name)
	}
	bts, _ := json.Marshal(map[string]any{"mappings": m})
	return string(bts)
}

var _ contract.LLMClient = (*Client)(nil)
